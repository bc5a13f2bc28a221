// Package history keeps a log of sync ticks in a local SQLite database.
package history

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// FileName is the database file kept in the state directory
const FileName = "history.db"

type DB struct {
	db *sql.DB
}

// Open creates or opens the history database at path
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
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
CREATE TABLE IF NOT EXISTS sync_ticks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id TEXT NOT NULL,
	provider TEXT NOT NULL,
	started INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	outcome TEXT NOT NULL,
	reset INTEGER NOT NULL DEFAULT 0,
	applied INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	skipped INTEGER NOT NULL DEFAULT 0,
	bytes INTEGER NOT NULL DEFAULT 0,
	cursor_advanced INTEGER NOT NULL DEFAULT 0,
	notified INTEGER NOT NULL DEFAULT 0,
	error TEXT
);

CREATE INDEX IF NOT EXISTS idx_ticks_provider ON sync_ticks(provider, started);
`
