// Package tester fetches candidate links and keeps those whose payload is a
// subscription.
package tester

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"sub-hunter/pkg/fetch"
	"sub-hunter/pkg/history"
	"sub-hunter/pkg/models"

	"github.com/samber/lo"
)

type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*fetch.Result, error)
}

type Classifier interface {
	Classify(rawURL, body string) models.Verdict
}

const (
	ReasonFetchError     = "fetch_error"
	ReasonBadContentType = "bad_content_type"
	reasonClassifyPrefix = "classify:"
	reasonHTTPCodePrefix = "http_"
)

var binaryTypes = []string{"image/", "video/", "audio/", "font/"}

// Report lists the valid candidates and the removed ones, both in input
// order.
type Report struct {
	Valid   []models.CandidateLink
	Removed []models.Removal
}

type Tester struct {
	fetcher    Fetcher
	classifier Classifier
	workers    int
	logger     *slog.Logger
}

func New(fetcher Fetcher, classifier Classifier, workers int, logger *slog.Logger) *Tester {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tester{fetcher: fetcher, classifier: classifier, workers: workers, logger: logger}
}

type job struct {
	index int
	link  models.CandidateLink
}

type result struct {
	index  int
	reason string
}

// Test checks every candidate with a pool of workers.
func (t *Tester) Test(ctx context.Context, links []models.CandidateLink) Report {
	jobs := make(chan job, len(links))
	results := make(chan result, len(links))

	// Start worker pool
	var wg sync.WaitGroup
	for i := 0; i < t.workers; i++ {
		wg.Add(1)
		go t.worker(ctx, &wg, jobs, results)
	}

	// Send jobs to workers
	for i, link := range links {
		jobs <- job{index: i, link: link}
	}
	close(jobs)

	// Wait for all workers to finish
	go func() {
		wg.Wait()
		close(results)
	}()

	reasons := make([]string, len(links))
	for r := range results {
		reasons[r.index] = r.reason
	}

	var report Report
	for i, link := range links {
		if reasons[i] == "" {
			report.Valid = append(report.Valid, link)
			continue
		}
		report.Removed = append(report.Removed, models.Removal{URL: link.URL, Reason: reasons[i]})
	}
	t.logger.Info("Candidates tested", "total", len(links), "valid", len(report.Valid), "removed", len(report.Removed))
	return report
}

func (t *Tester) worker(ctx context.Context, wg *sync.WaitGroup, jobs <-chan job, results chan<- result) {
	defer wg.Done()
	for j := range jobs {
		reason := t.check(ctx, j.link.URL)
		if reason != "" {
			t.logger.Debug("Candidate rejected", "url", j.link.URL, "reason", reason)
		}
		results <- result{index: j.index, reason: reason}
	}
}

// check returns the removal reason for rawURL, or "" when it is valid.
func (t *Tester) check(ctx context.Context, rawURL string) string {
	if ctx.Err() != nil {
		return ReasonFetchError
	}
	res, err := t.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		var statusErr *fetch.StatusError
		if errors.As(err, &statusErr) {
			return fmt.Sprintf("%s%d", reasonHTTPCodePrefix, statusErr.Code)
		}
		t.logger.Debug("Error fetching", "url", rawURL, "error", err)
		return ReasonFetchError
	}
	ct := strings.ToLower(res.Response.Header.Get("Content-Type"))
	for _, prefix := range binaryTypes {
		if strings.HasPrefix(ct, prefix) {
			return ReasonBadContentType
		}
	}
	verdict := t.classifier.Classify(rawURL, string(res.Body))
	if !verdict.Accepted {
		return reasonClassifyPrefix + string(verdict.Reason)
	}
	return ""
}

// URLs returns the URL of every link.
func URLs(links []models.CandidateLink) []string {
	return lo.Map(links, func(l models.CandidateLink, _ int) string {
		return l.URL
	})
}

// WriteRemovalLog writes one "url<TAB>reason" line per removal.
func WriteRemovalLog(path string, removed []models.Removal) error {
	var b strings.Builder
	for _, r := range removed {
		fmt.Fprintf(&b, "%s\t%s\n", r.URL, r.Reason)
	}
	if err := history.WriteAtomic(path, []byte(b.String())); err != nil {
		return fmt.Errorf("failed to write removal log: %w", err)
	}
	return nil
}
