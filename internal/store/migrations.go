package store

import (
	"context"
	"fmt"
)

// migration is one step of the schema ladder. Steps run strictly forward in
// ascending version order. Each step commits its structural change and the
// version bump in the same transaction, so a crash mid-migration re-runs
// only the steps that never committed, never a completed one.
type migration struct {
	version    int
	statements []string
}

// migrations unifies the historical store generations behind one ladder.
// Append new steps at the end; never edit a shipped step.
var migrations = []migration{
	{
		// Generation 1: items keyed by a time-based integer (stored as TEXT
		// so later key policies need no rekeying), absolute expiry only,
		// settings as a singleton JSON document.
		version: 1,
		statements: []string{
			`CREATE TABLE IF NOT EXISTS items (
				id         TEXT PRIMARY KEY,
				name       TEXT NOT NULL DEFAULT '',
				category   TEXT NOT NULL DEFAULT 'Autre',
				location   TEXT NOT NULL DEFAULT 'Frigo',
				opened_at  INTEGER NOT NULL,
				expires_at INTEGER,
				status     TEXT NOT NULL DEFAULT 'active',
				barcode    TEXT,
				image_url  TEXT
			)`,
			`CREATE TABLE IF NOT EXISTS settings (
				id  TEXT PRIMARY KEY,
				doc TEXT NOT NULL
			)`,
		},
	},
	{
		// Generation 2: relative expiry (target_days against opened_at) and
		// an explicit creation instant distinct from opening.
		version: 2,
		statements: []string{
			`ALTER TABLE items ADD COLUMN target_days INTEGER`,
			`ALTER TABLE items ADD COLUMN created_at INTEGER NOT NULL DEFAULT 0`,
			`UPDATE items SET created_at = opened_at WHERE created_at = 0`,
		},
	},
	{
		// Generation 3: lookup indexes for the status filter and the
		// creation-time ordering. New ids switch to the random-string key
		// policy (see Store.NewID); existing integer keys are untouched.
		version: 3,
		statements: []string{
			`CREATE INDEX IF NOT EXISTS idx_items_status ON items(status)`,
			`CREATE INDEX IF NOT EXISTS idx_items_created_at ON items(created_at)`,
		},
	},
}

// SchemaVersion is the version a fully migrated store reports.
const SchemaVersion = 3

// migrate brings the store to the current schema version. Idempotent under
// crash: the version marker is read first, and every step updates it inside
// the step's own transaction.
func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return storageErr("migrate: version table", err)
	}
	if _, err := s.conn.ExecContext(ctx,
		`INSERT INTO schema_version (version)
		 SELECT 0 WHERE NOT EXISTS (SELECT 1 FROM schema_version)`); err != nil {
		return storageErr("migrate: seed version", err)
	}

	current, err := s.Version(ctx)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		tx, err := s.conn.BeginTx(ctx, nil)
		if err != nil {
			return storageErr(fmt.Sprintf("migration %d: begin", m.version), err)
		}
		for _, stmt := range m.statements {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return storageErr(fmt.Sprintf("migration %d", m.version), err)
			}
		}
		// Version bump rides the same transaction as the structural change
		// it guards; committing one without the other is impossible.
		if _, err := tx.ExecContext(ctx,
			`UPDATE schema_version SET version = ?`, m.version); err != nil {
			_ = tx.Rollback()
			return storageErr(fmt.Sprintf("migration %d: bump version", m.version), err)
		}
		if err := tx.Commit(); err != nil {
			return storageErr(fmt.Sprintf("migration %d: commit", m.version), err)
		}
		current = m.version
	}

	return nil
}

// Version returns the stored schema version.
func (s *Store) Version(ctx context.Context) (int, error) {
	conn, err := s.db()
	if err != nil {
		return 0, err
	}
	var v int
	if err := conn.QueryRowContext(ctx,
		`SELECT version FROM schema_version`).Scan(&v); err != nil {
		return 0, storageErr("read schema version", err)
	}
	return v, nil
}
