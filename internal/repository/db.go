// Package repository persists batches, vendors and invoices in
// Postgres over database/sql with the pgx stdlib driver.
package repository

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/invoiceflow/pipeline/internal/common"
)

// OpenDB opens and verifies a Postgres pool.
func OpenDB(ctx context.Context, cfg common.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.HealthTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

const schemaLockKey = int64(2026072201)

// EnsureSchema bootstraps the tables. DDL is serialized across api and
// worker startups with an advisory lock.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, schemaLockKey); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS batches (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS vendors (
	id UUID PRIMARY KEY,
	name TEXT NOT NULL,
	gstin TEXT NOT NULL DEFAULT '',
	address TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	UNIQUE (name, gstin)
);

CREATE TABLE IF NOT EXISTS invoices (
	id UUID PRIMARY KEY,
	batch_id UUID NOT NULL REFERENCES batches(id),
	vendor_id UUID REFERENCES vendors(id),
	file_name TEXT NOT NULL,
	stage TEXT NOT NULL,
	version INT NOT NULL DEFAULT 0,
	structure JSONB,
	metadata JSONB,
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS invoice_versions (
	id UUID PRIMARY KEY,
	invoice_id UUID NOT NULL REFERENCES invoices(id),
	version INT NOT NULL,
	structure JSONB NOT NULL,
	edited_by TEXT NOT NULL,
	note TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	UNIQUE (invoice_id, version)
);

CREATE INDEX IF NOT EXISTS idx_invoices_batch ON invoices(batch_id);
CREATE INDEX IF NOT EXISTS idx_invoices_stage ON invoices(stage);
CREATE INDEX IF NOT EXISTS idx_invoices_created_at ON invoices(created_at DESC);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// notFound wraps sql.ErrNoRows-style misses into the common taxonomy.
func notFound(what string) error {
	return common.NewAppError("NOT_FOUND", what, common.ErrNotFound)
}
