package database

import (
	"context"
	"database/sql"
	"fmt"

	"sub-hunter/pkg/config"
	"sub-hunter/pkg/models"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

type DB struct {
	*bun.DB
}

func NewDB(cfg config.DatabaseConfig) (*DB, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN())))

	db := bun.NewDB(sqldb, pgdialect.New())

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db}, nil
}

// InitSchema creates the audit tables if they don't exist
func (db *DB) InitSchema(ctx context.Context) error {
	_, err := db.NewCreateTable().
		Model((*models.Run)(nil)).
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}

	for _, model := range []any{(*models.LedgerEntry)(nil), (*models.RemovalEntry)(nil)} {
		_, err := db.NewCreateTable().
			Model(model).
			IfNotExists().
			ForeignKey(`("run_id") REFERENCES runs ("id") ON DELETE CASCADE`).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	_, err = db.Exec(`
		CREATE INDEX IF NOT EXISTS ledger_entries_run_id_idx ON ledger_entries (run_id);
		CREATE INDEX IF NOT EXISTS ledger_entries_url_idx ON ledger_entries (url);
		CREATE INDEX IF NOT EXISTS removals_run_id_idx ON removals (run_id);
	`)
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	return nil
}

// entries converts one run's evictions and removals into rows.
func entries(runID string, evictions []models.Eviction, removals []models.Removal) ([]models.LedgerEntry, []models.RemovalEntry) {
	ledger := make([]models.LedgerEntry, 0, len(evictions))
	for _, e := range evictions {
		ledger = append(ledger, models.LedgerEntry{
			RunID:    runID,
			URL:      e.URL,
			OwnerKey: e.OwnerKey,
			Cause:    string(e.Cause),
		})
	}
	removed := make([]models.RemovalEntry, 0, len(removals))
	for _, r := range removals {
		removed = append(removed, models.RemovalEntry{RunID: runID, URL: r.URL, Reason: r.Reason})
	}
	return ledger, removed
}

// RecordRun stores run together with its reserve ledger appends and
// removals in one transaction.
func (db *DB) RecordRun(ctx context.Context, run *models.Run, evictions []models.Eviction, removals []models.Removal) error {
	ledger, removed := entries(run.ID, evictions, removals)

	return db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(run).Exec(ctx); err != nil {
			return fmt.Errorf("error inserting run: %w", err)
		}
		if len(ledger) > 0 {
			if _, err := tx.NewInsert().Model(&ledger).Exec(ctx); err != nil {
				return fmt.Errorf("error inserting ledger entries: %w", err)
			}
		}
		if len(removed) > 0 {
			if _, err := tx.NewInsert().Model(&removed).Exec(ctx); err != nil {
				return fmt.Errorf("error inserting removals: %w", err)
			}
		}
		return nil
	})
}

// LedgerFor returns every ledger entry recorded for url, oldest first.
func (db *DB) LedgerFor(ctx context.Context, url string) ([]models.LedgerEntry, error) {
	var ledger []models.LedgerEntry
	err := db.NewSelect().
		Model(&ledger).
		Where("url = ?", url).
		Order("id ASC").
		Scan(ctx)

	if err != nil {
		return nil, fmt.Errorf("error getting ledger entries: %w", err)
	}

	return ledger, nil
}
