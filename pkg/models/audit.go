package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Run is one pipeline execution as recorded in the audit database.
type Run struct {
	bun.BaseModel `bun:"table:runs,alias:r"`

	ID         string    `bun:",pk"`
	StartedAt  time.Time `bun:",notnull"`
	FinishedAt time.Time `bun:",notnull"`
	Candidates int
	Valid      int
	Admitted   int
	Deferred   int
	Evicted    int
	Active     int
	CreatedAt  time.Time `bun:",nullzero,notnull,default:current_timestamp"`
}

// LedgerEntry mirrors one reserve ledger append.
type LedgerEntry struct {
	bun.BaseModel `bun:"table:ledger_entries,alias:le"`

	ID        int64  `bun:",pk,autoincrement"`
	RunID     string `bun:",notnull"`
	URL       string `bun:",notnull"`
	OwnerKey  string
	Cause     string    `bun:",notnull"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`

	Run *Run `bun:"rel:belongs-to,join:run_id=id"`
}

type RemovalEntry struct {
	bun.BaseModel `bun:"table:removals,alias:rm"`

	ID        int64     `bun:",pk,autoincrement"`
	RunID     string    `bun:",notnull"`
	URL       string    `bun:",notnull"`
	Reason    string    `bun:",notnull"`
	CreatedAt time.Time `bun:",nullzero,notnull,default:current_timestamp"`

	Run *Run `bun:"rel:belongs-to,join:run_id=id"`
}

// Define indexes and foreign keys
type _ struct {
	_ struct{} `bun:"index:ledger_entries_run_id_idx,column:run_id"`
	_ struct{} `bun:"index:removals_run_id_idx,column:run_id"`
	_ struct{} `bun:"fk:run_id,references:runs(id) on delete cascade on update cascade"`
}
