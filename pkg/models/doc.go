/*
Package models defines the data structures shared across sub-hunter. It covers
the links that flow through a run, the verdicts produced by the classifier,
the durable history carried between runs and the rows written to the audit
database.

Core Types:

CandidateLink is a URL handed over by discovery:

	type CandidateLink struct {
		URL      string // Candidate subscription URL
		Owner    string // Publisher hint (account or domain), optional
		SourceID string // Page the link was found on, optional
		Path     string // URL path, optional
		Score    int    // Format preference (yaml 3, txt 2, sub 1)
	}

Verdict is the classifier outcome. It is either Valid(check) or
Rejected(reason):

	v := models.Rejected(models.ReasonHTMLPage)
	if !v.Accepted {
		log.Println(v.Reason) // html_page
	}

History is the persisted store:

	type History struct {
		Active       []string               // Retained links, admission order
		Fail         map[string]int         // Consecutive misses per active link
		Reserve      []string               // Append-only ledger of evicted links
		ResourceKeys map[string]ResourceKey // Cached identity and freshness
		LastTotal    int                    // len(Active) at last save
		UpdatedAt    int64                  // Unix seconds of last save
	}

A URL appears in at most one of Active and Reserve, and Active never holds
duplicates. Only the retention engine mutates a History, and it always works
on a Clone.

ResourceKey caches the grouping identity of a URL:

	type ResourceKey struct {
		OwnerKey  string // "{owner}/{repo}" or host
		BasePath  string // In-repo path without extension
		Lastmod   *int64 // Last-Modified of the resource, unix seconds
		LastmodTS *int64 // When Lastmod was sampled
	}

Audit Models:

Run, LedgerEntry and RemovalEntry are bun models for the optional Postgres
audit sink. A Run owns the ledger entries and removals written during it:

	runs            one row per pipeline execution (uuid primary key)
	ledger_entries  reserve appends with their eviction cause
	removals        links dropped at the liveness/content stage

Eviction causes:

	fail_threshold  link missed FAIL_THRESHOLD consecutive runs
	owner_quota     link trimmed by per-owner compaction
*/
package models
