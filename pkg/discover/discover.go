// Package discover walks seed pages and collects candidate subscription
// links.
package discover

import (
	"context"
	"log/slog"
	"net/url"
	"strings"

	"sub-hunter/pkg/fetch"
	"sub-hunter/pkg/models"
	"sub-hunter/pkg/resource"
)

type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Result, error)
}

type OwnerResolver interface {
	Resolve(rawURL, ownerHint string) models.ResourceKey
}

type Options struct {
	// MaxDepth is how many link hops are followed from a seed page.
	MaxDepth   int
	MaxVisited int
}

func DefaultOptions() Options {
	return Options{MaxDepth: 1, MaxVisited: 5000}
}

// visitedSet holds at most capacity URLs and refuses new ones once full.
type visitedSet struct {
	capacity int
	seen     map[string]struct{}
}

func newVisitedSet(capacity int) *visitedSet {
	return &visitedSet{capacity: capacity, seen: make(map[string]struct{})}
}

// Add returns true when u was recorded for the first time.
func (s *visitedSet) Add(u string) bool {
	if _, ok := s.seen[u]; ok {
		return false
	}
	if len(s.seen) >= s.capacity {
		return false
	}
	s.seen[u] = struct{}{}
	return true
}

func (s *visitedSet) Len() int {
	return len(s.seen)
}

type pageJob struct {
	url   string
	depth int
	owner string
}

type Discoverer struct {
	fetcher  Fetcher
	resolver OwnerResolver
	opts     Options
	logger   *slog.Logger
}

func New(fetcher Fetcher, resolver OwnerResolver, opts Options, logger *slog.Logger) *Discoverer {
	if opts.MaxDepth < 0 {
		opts.MaxDepth = 0
	}
	if opts.MaxVisited <= 0 {
		opts.MaxVisited = DefaultOptions().MaxVisited
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Discoverer{fetcher: fetcher, resolver: resolver, opts: opts, logger: logger}
}

// Discover fetches every seed page, and same-host pages linked from them up
// to MaxDepth hops, and returns the candidate links found in discovery
// order. A seed that is itself shaped like a candidate is emitted without
// being fetched. Fetch failures are logged and skipped.
func (d *Discoverer) Discover(ctx context.Context, seeds []Seed) ([]models.CandidateLink, error) {
	visited := newVisitedSet(d.opts.MaxVisited)
	found := make(map[string]struct{})
	var candidates []models.CandidateLink

	emit := func(link, owner, source string) {
		if _, ok := found[link]; ok {
			return
		}
		found[link] = struct{}{}
		u, _ := url.Parse(link)
		c := models.CandidateLink{URL: link, Owner: owner, SourceID: source, Score: Score(link)}
		if u != nil {
			c.Path = u.Path
		}
		candidates = append(candidates, c)
	}

	var queue []pageJob
	for _, s := range seeds {
		link := resource.Canonicalize(s.URL)
		if IsCandidate(link) {
			emit(link, d.owner(s.Owner, link), "seed")
			continue
		}
		if visited.Add(link) {
			queue = append(queue, pageJob{url: link, owner: s.Owner})
		}
	}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return candidates, err
		}
		job := queue[0]
		queue = queue[1:]

		res, err := d.fetcher.Fetch(ctx, job.url)
		if err != nil {
			d.logger.Warn("Error fetching page", "url", job.url, "error", err)
			continue
		}
		body := string(res.Body)
		ct := strings.ToLower(res.Response.Header.Get("Content-Type"))
		isHTML := strings.Contains(ct, "html") || strings.HasPrefix(strings.TrimSpace(strings.ToLower(body)), "<!doctype html")

		owner := d.owner(job.owner, job.url)
		links := ExtractLinks(job.url, body, isHTML)
		d.logger.Debug("Page scanned", "url", job.url, "depth", job.depth, "links", len(links))
		for _, raw := range links {
			link := resource.Canonicalize(raw)
			switch {
			case IsCandidate(link):
				emit(link, owner, job.url)
			case job.depth < d.opts.MaxDepth && followable(job.url, link):
				if visited.Add(link) {
					queue = append(queue, pageJob{url: link, depth: job.depth + 1, owner: job.owner})
				}
			}
		}
	}

	d.logger.Info("Discovery finished", "pages", visited.Len(), "candidates", len(candidates))
	return candidates, nil
}

func (d *Discoverer) owner(seedOwner, pageURL string) string {
	if seedOwner != "" {
		return seedOwner
	}
	if d.resolver == nil {
		return ""
	}
	return d.resolver.Resolve(pageURL, "").OwnerKey
}
