// Package migrations applies the fundwatch schema. Statements are ordered
// and idempotent so Apply can run on every startup.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

var statements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id            TEXT PRIMARY KEY,
		name          TEXT NOT NULL,
		email         TEXT NOT NULL UNIQUE,
		password_hash TEXT NOT NULL,
		role          TEXT NOT NULL,
		department    TEXT NOT NULL DEFAULT '',
		active        BOOLEAN NOT NULL DEFAULT TRUE,
		created_at    TIMESTAMPTZ NOT NULL,
		updated_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS transactions (
		id              TEXT PRIMARY KEY,
		reference       TEXT NOT NULL UNIQUE,
		title           TEXT NOT NULL,
		description     TEXT NOT NULL,
		amount          DOUBLE PRECISION NOT NULL CHECK (amount >= 0),
		from_department TEXT NOT NULL,
		to_department   TEXT NOT NULL,
		category        TEXT NOT NULL,
		status          TEXT NOT NULL DEFAULT 'pending',
		created_by      TEXT NOT NULL REFERENCES users(id),
		approvals       INTEGER NOT NULL DEFAULT 0 CHECK (approvals >= 0),
		flags           INTEGER NOT NULL DEFAULT 0 CHECK (flags >= 0),
		fiscal_year     TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL,
		updated_at      TIMESTAMPTZ NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS reports (
		id             TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL REFERENCES transactions(id),
		reported_by    TEXT NOT NULL REFERENCES users(id),
		type           TEXT NOT NULL,
		reason         TEXT NOT NULL DEFAULT '',
		description    TEXT NOT NULL DEFAULT '',
		created_at     TIMESTAMPTZ NOT NULL,
		CONSTRAINT reports_transaction_reporter_key UNIQUE (transaction_id, reported_by)
	)`,
	`CREATE TABLE IF NOT EXISTS comments (
		id             TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL REFERENCES transactions(id),
		user_id        TEXT NOT NULL REFERENCES users(id),
		user_name      TEXT NOT NULL,
		text           TEXT NOT NULL,
		hidden         BOOLEAN NOT NULL DEFAULT FALSE,
		moderated      BOOLEAN NOT NULL DEFAULT FALSE,
		created_at     TIMESTAMPTZ NOT NULL,
		updated_at     TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS comments_transaction_created_idx
		ON comments (transaction_id, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS comments_user_created_idx
		ON comments (user_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS transactions_status_idx ON transactions (status)`,
	`CREATE INDEX IF NOT EXISTS transactions_category_idx ON transactions (category)`,
}

// Apply executes all migration statements in order.
func Apply(ctx context.Context, db *sql.DB) error {
	for i, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
	}
	return nil
}
