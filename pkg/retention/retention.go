// Package retention merges each run's verified links into the persisted
// history. It applies fail-threshold eviction, the daily admission cap and
// per-owner compaction by freshness.
package retention

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"sub-hunter/pkg/history"
	"sub-hunter/pkg/models"

	"github.com/samber/lo"
)

type Resolver interface {
	Resolve(url, ownerHint string) models.ResourceKey
}

// Sampler refreshes freshness for the given urls and returns the updated
// entries.
type Sampler interface {
	Sample(ctx context.Context, urls []string, cache map[string]models.ResourceKey) map[string]models.ResourceKey
}

type Policy struct {
	// DailyIncrement caps new admissions per run; <= 0 admits all.
	DailyIncrement int
	// FailThreshold is the number of consecutive misses that evicts a
	// link; values below 1 behave as 1.
	FailThreshold int
	// PerOwnerLimit caps links per owner; <= 0 disables compaction.
	PerOwnerLimit int
	// Hints maps a URL to a publisher hint for owner resolution.
	Hints map[string]string
}

type Outcome struct {
	// Active is the final ordered list for publication.
	Active  []string
	History models.History
	// Admitted lists new links accepted this run.
	Admitted []string
	// Deferred lists new links over the daily cap. They are not persisted.
	Deferred  []string
	Evictions []models.Eviction
	// SaveErr is set when the updated history could not be written.
	SaveErr error
}

type Engine struct {
	resolver Resolver
	sampler  Sampler
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine builds an engine. A nil sampler ranks every link by cached
// freshness only.
func NewEngine(resolver Resolver, sampler Sampler, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{resolver: resolver, sampler: sampler, logger: logger, now: time.Now}
}

// Run loads the store, reconciles it with valid and writes it back. Read
// and write failures are logged; the reconciled list is always returned.
func (e *Engine) Run(ctx context.Context, store history.Store, valid []string, p Policy) Outcome {
	prev, err := store.Load()
	if err != nil {
		e.logger.Warn("History unreadable, starting from empty defaults", "error", err)
	}

	out := e.Reconcile(ctx, valid, prev, p)

	if err := store.Save(out.History); err != nil {
		e.logger.Error("Failed to save history", "error", err)
		out.SaveErr = err
	}
	if path, err := store.ExportReserve(out.History.Reserve); err != nil {
		e.logger.Warn("Failed to export reserve", "error", err)
	} else if path != "" {
		e.logger.Info("Reserve exported", "path", path, "entries", len(out.History.Reserve))
	}
	return out
}

// Reconcile computes the next history from prev and this run's valid
// links. prev is not modified.
func (e *Engine) Reconcile(ctx context.Context, valid []string, prev models.History, p Policy) Outcome {
	h := prev.Clone()
	if h.Fail == nil {
		h.Fail = map[string]int{}
	}
	if h.ResourceKeys == nil {
		h.ResourceKeys = map[string]models.ResourceKey{}
	}
	threshold := max(p.FailThreshold, 1)

	validList := lo.Uniq(lo.Filter(valid, func(u string, _ int) bool { return u != "" }))
	validSet := toSet(validList)
	reserved := toSet(h.Reserve)

	var out Outcome
	evict := func(u string, cause models.EvictionCause) {
		delete(h.Fail, u)
		if !reserved[u] {
			reserved[u] = true
			h.Reserve = append(h.Reserve, u)
		}
		out.Evictions = append(out.Evictions, models.Eviction{URL: u, OwnerKey: h.ResourceKeys[u].OwnerKey, Cause: cause})
	}

	active := make([]string, 0, len(h.Active)+len(validList))
	for _, u := range h.Active {
		if validSet[u] {
			delete(h.Fail, u)
			active = append(active, u)
			continue
		}
		h.Fail[u]++
		if h.Fail[u] < threshold {
			active = append(active, u)
			continue
		}
		evict(u, models.CauseFailThreshold)
	}

	known := toSet(active)
	for _, u := range validList {
		if known[u] || reserved[u] {
			continue
		}
		if p.DailyIncrement > 0 && len(out.Admitted) >= p.DailyIncrement {
			out.Deferred = append(out.Deferred, u)
			continue
		}
		known[u] = true
		active = append(active, u)
		out.Admitted = append(out.Admitted, u)
	}

	for _, u := range active {
		h.ResourceKeys[u] = e.identity(u, h.ResourceKeys[u], p.Hints[u])
	}

	if p.PerOwnerLimit > 0 {
		dropped := e.compact(ctx, active, h.ResourceKeys, p.PerOwnerLimit)
		if len(dropped) > 0 {
			for _, u := range active {
				if dropped[u] {
					evict(u, models.CauseOwnerQuota)
				}
			}
			active = lo.Filter(active, func(u string, _ int) bool { return !dropped[u] })
			e.logger.Info("Per-owner compaction moved links to reserve", "limit", p.PerOwnerLimit, "moved", len(dropped))
		}
	}

	inActive := toSet(active)
	for u := range h.Fail {
		if !inActive[u] {
			delete(h.Fail, u)
		}
	}
	for u := range h.ResourceKeys {
		if !inActive[u] && !reserved[u] {
			delete(h.ResourceKeys, u)
		}
	}

	h.Active = active
	h.LastTotal = len(active)
	h.UpdatedAt = e.now().Unix()

	out.Active = append([]string{}, active...)
	out.History = h
	e.logger.Debug("Reconciled history",
		"active", len(active),
		"admitted", len(out.Admitted),
		"deferred", len(out.Deferred),
		"evicted", len(out.Evictions))
	return out
}

// identity returns the cached key when it names an owner, and resolves
// the URL otherwise. Cached freshness is kept either way.
func (e *Engine) identity(u string, cached models.ResourceKey, hint string) models.ResourceKey {
	if cached.OwnerKey != "" {
		return cached
	}
	key := e.resolver.Resolve(u, hint)
	key.Lastmod = cached.Lastmod
	key.LastmodTS = cached.LastmodTS
	return key
}

// compact returns the links to drop so that no owner keeps more than limit
// links. keys is updated in place with freshly sampled timestamps.
func (e *Engine) compact(ctx context.Context, active []string, keys map[string]models.ResourceKey, limit int) map[string]bool {
	var owners []string
	groups := map[string][]string{}
	for _, u := range active {
		owner := keys[u].OwnerKey
		if _, ok := groups[owner]; !ok {
			owners = append(owners, owner)
		}
		groups[owner] = append(groups[owner], u)
	}

	var crowded []string
	for _, owner := range owners {
		if len(groups[owner]) > limit {
			crowded = append(crowded, groups[owner]...)
		}
	}
	if len(crowded) == 0 {
		return nil
	}

	if e.sampler != nil {
		for u, key := range e.sampler.Sample(ctx, crowded, keys) {
			keys[u] = key
		}
	}

	dropped := map[string]bool{}
	for _, owner := range owners {
		members := groups[owner]
		if len(members) <= limit {
			continue
		}
		ranked := append([]string{}, members...)
		sort.SliceStable(ranked, func(i, j int) bool {
			return keys[ranked[i]].Freshness() > keys[ranked[j]].Freshness()
		})
		for _, u := range ranked[limit:] {
			dropped[u] = true
		}
	}
	return dropped
}

func toSet(list []string) map[string]bool {
	set := make(map[string]bool, len(list))
	for _, u := range list {
		set[u] = true
	}
	return set
}
