package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"sub-hunter/pkg/discover"
	"sub-hunter/pkg/history"
	"sub-hunter/pkg/models"
	"sub-hunter/pkg/retention"
	"sub-hunter/pkg/tester"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

type Discoverer interface {
	Discover(ctx context.Context, seeds []discover.Seed) ([]models.CandidateLink, error)
}

type Canonicalizer interface {
	ChooseCanonical(links []models.CandidateLink) []models.CandidateLink
}

type Tester interface {
	Test(ctx context.Context, links []models.CandidateLink) tester.Report
}

type Reconciler interface {
	Run(ctx context.Context, store history.Store, valid []string, p retention.Policy) retention.Outcome
}

type Publisher interface {
	Publish(ctx context.Context, content string) error
}

// AuditSink records a finished run. *database.DB implements it.
type AuditSink interface {
	RecordRun(ctx context.Context, run *models.Run, evictions []models.Eviction, removals []models.Removal) error
}

// Deps holds the collaborators of a Service. Canonical, Sink and Audit may
// be nil.
type Deps struct {
	Discoverer Discoverer
	Canonical  Canonicalizer
	Tester     Tester
	Reconciler Reconciler
	Store      history.Store
	Sink       Publisher
	Audit      AuditSink
}

type Settings struct {
	Policy         retention.Policy
	RemovalLogPath string
}

// Result summarizes one run.
type Result struct {
	RunID      string
	Candidates int
	Report     tester.Report
	Outcome    retention.Outcome
	Published  bool
}

type Service struct {
	deps     Deps
	settings Settings
	logger   *slog.Logger
	now      func() time.Time
}

func NewService(deps Deps, settings Settings, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{deps: deps, settings: settings, logger: logger, now: time.Now}
}

// Run executes discovery, testing, reconciliation and publication once.
// Only a discovery failure is returned as an error.
func (s *Service) Run(ctx context.Context, seeds []discover.Seed) (*Result, error) {
	result := &Result{RunID: uuid.NewString()}
	started := s.now()
	logger := s.logger.With("run", result.RunID)

	candidates, err := s.deps.Discoverer.Discover(ctx, seeds)
	if err != nil {
		return nil, fmt.Errorf("discovery failed: %w", err)
	}
	result.Candidates = len(candidates)
	if len(candidates) == 0 {
		logger.Warn("No candidates discovered, skipping reconcile and publication")
		return result, nil
	}

	links := candidates
	if s.deps.Canonical != nil {
		links = s.deps.Canonical.ChooseCanonical(candidates)
	}
	logger.Info("Candidates discovered", "total", len(candidates), "canonical", len(links))

	result.Report = s.deps.Tester.Test(ctx, links)

	policy := s.settings.Policy
	policy.Hints = hints(result.Report.Valid, policy.Hints)
	result.Outcome = s.deps.Reconciler.Run(ctx, s.deps.Store, tester.URLs(result.Report.Valid), policy)
	logger.Info("History reconciled",
		"active", len(result.Outcome.Active),
		"admitted", len(result.Outcome.Admitted),
		"deferred", len(result.Outcome.Deferred),
		"evicted", len(result.Outcome.Evictions))

	switch {
	case len(result.Outcome.Active) == 0:
		logger.Warn("Final list is empty, skipping publication")
	case s.deps.Sink != nil:
		content := strings.Join(result.Outcome.Active, "\n") + "\n"
		if err := s.deps.Sink.Publish(ctx, content); err != nil {
			logger.Error("Publication failed", "error", err)
		} else {
			result.Published = true
		}
	}

	if s.settings.RemovalLogPath != "" {
		if err := tester.WriteRemovalLog(s.settings.RemovalLogPath, result.Report.Removed); err != nil {
			logger.Error("Failed to write removal log", "error", err)
		}
	}

	if s.deps.Audit != nil {
		run := &models.Run{
			ID:         result.RunID,
			StartedAt:  started,
			FinishedAt: s.now(),
			Candidates: len(candidates),
			Valid:      len(result.Report.Valid),
			Admitted:   len(result.Outcome.Admitted),
			Deferred:   len(result.Outcome.Deferred),
			Evicted:    len(result.Outcome.Evictions),
			Active:     len(result.Outcome.Active),
		}
		if err := s.deps.Audit.RecordRun(ctx, run, result.Outcome.Evictions, result.Report.Removed); err != nil {
			logger.Error("Failed to record run", "error", err)
		}
	}

	return result, nil
}

// hints maps each valid URL to the owner it was discovered under. Explicit
// entries in base win.
func hints(valid []models.CandidateLink, base map[string]string) map[string]string {
	owned := lo.Filter(valid, func(l models.CandidateLink, _ int) bool { return l.Owner != "" })
	return lo.Assign(lo.Associate(owned, func(l models.CandidateLink) (string, string) {
		return l.URL, l.Owner
	}), base)
}
