// Package index persists sync run history and first-sync checkpoints in a
// local SQLite database.
package index

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

type DB struct {
	db *sql.DB
}

// Open creates or opens the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	instance := &DB{db: db}
	if err := instance.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return instance, nil
}

func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, schemaSQL)
	return err
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS sync_runs (
	id TEXT PRIMARY KEY,
	remote TEXT NOT NULL,
	local_root TEXT NOT NULL,
	mode TEXT NOT NULL,
	state TEXT NOT NULL,
	dry_run INTEGER NOT NULL DEFAULT 0,
	bytes_transferred INTEGER NOT NULL DEFAULT 0,
	files_transferred INTEGER NOT NULL DEFAULT 0,
	error_count INTEGER NOT NULL DEFAULT 0,
	reason TEXT,
	started_at INTEGER NOT NULL,
	ended_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at);
CREATE INDEX IF NOT EXISTS idx_sync_runs_pair ON sync_runs(remote, local_root);

CREATE TABLE IF NOT EXISTS policy_checkpoints (
	remote TEXT NOT NULL,
	local_root TEXT NOT NULL,
	fingerprint TEXT NOT NULL,
	completed_at INTEGER NOT NULL,
	PRIMARY KEY (remote, local_root, fingerprint)
);
`
