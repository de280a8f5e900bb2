// Package freshness samples last-modified timestamps for retained URLs.
package freshness

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"sub-hunter/pkg/models"
)

// Prober looks up when a resource last changed. A zero time means unknown.
type Prober interface {
	LastModified(ctx context.Context, url string) (time.Time, error)
}

type Options struct {
	Workers int
	Timeout time.Duration
	// TTL is how long a sampled timestamp stays valid.
	TTL time.Duration
}

type Sampler struct {
	prober Prober
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

func NewSampler(prober Prober, opts Options, logger *slog.Logger) *Sampler {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 8 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sampler{prober: prober, opts: opts, logger: logger, now: time.Now}
}

// stale reports whether key needs a fresh probe.
func (s *Sampler) stale(key models.ResourceKey, now time.Time) bool {
	if key.LastmodTS == nil {
		return true
	}
	return now.Sub(time.Unix(*key.LastmodTS, 0)) > s.opts.TTL
}

// Sample refreshes the freshness of urls whose cached sample is missing or
// older than the TTL. It returns the updated entries only; a failed probe
// leaves its URL out so that it ranks as unknown.
func (s *Sampler) Sample(ctx context.Context, urls []string, cache map[string]models.ResourceKey) map[string]models.ResourceKey {
	now := s.now()
	var (
		mu  sync.Mutex
		out = make(map[string]models.ResourceKey)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)
	for _, u := range urls {
		key := cache[u]
		if !s.stale(key, now) {
			continue
		}
		u := u
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, s.opts.Timeout)
			defer cancel()

			ts, err := s.prober.LastModified(pctx, u)
			if err != nil || ts.IsZero() {
				s.logger.Debug("Freshness unknown", "url", u, "error", err)
				return nil
			}
			lastmod, sampled := ts.Unix(), now.Unix()
			key.Lastmod = &lastmod
			key.LastmodTS = &sampled

			mu.Lock()
			out[u] = key
			mu.Unlock()
			return nil
		})
	}
	// Workers never return errors; failures degrade to unknown freshness.
	_ = g.Wait()
	return out
}
