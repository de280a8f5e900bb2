package database

import (
	"net"
	"testing"

	"sub-hunter/pkg/config"
	"sub-hunter/pkg/models"

	"github.com/google/go-cmp/cmp"
)

func TestEntries(t *testing.T) {
	evictions := []models.Eviction{
		{URL: "https://a/1.txt", OwnerKey: "alice/repo", Cause: models.CauseFailThreshold},
		{URL: "https://a/2.txt", OwnerKey: "alice/repo", Cause: models.CauseOwnerQuota},
	}
	removals := []models.Removal{{URL: "https://b/x.yaml", Reason: "http_404"}}

	ledger, removed := entries("run-1", evictions, removals)

	wantLedger := []models.LedgerEntry{
		{RunID: "run-1", URL: "https://a/1.txt", OwnerKey: "alice/repo", Cause: "fail_threshold"},
		{RunID: "run-1", URL: "https://a/2.txt", OwnerKey: "alice/repo", Cause: "owner_quota"},
	}
	wantRemoved := []models.RemovalEntry{{RunID: "run-1", URL: "https://b/x.yaml", Reason: "http_404"}}

	if diff := cmp.Diff(wantLedger, ledger); diff != "" {
		t.Errorf("ledger mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(wantRemoved, removed); diff != "" {
		t.Errorf("removals mismatch (-want +got):\n%s", diff)
	}
}

func TestEntriesEmpty(t *testing.T) {
	ledger, removed := entries("run-1", nil, nil)
	if len(ledger) != 0 || len(removed) != 0 {
		t.Errorf("entries() = %v, %v, want empty", ledger, removed)
	}
}

func TestNewDBUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	db, err := NewDB(config.DatabaseConfig{
		User: "u", Password: "p", Host: "127.0.0.1", Port: port, DBName: "audit", SSLMode: "disable",
	})
	if err == nil {
		db.Close()
		t.Fatal("NewDB() error = nil, want ping failure")
	}
	if db != nil {
		t.Errorf("NewDB() = %v, want nil on ping failure", db)
	}
}
