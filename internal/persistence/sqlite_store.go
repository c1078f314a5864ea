package persistence

import (
	"context"
	"database/sql"

	// Registers the "sqlite" driver.
	_ "modernc.org/sqlite"
)

var sqliteDialect = sqlDialect{
	name: "sqlite",
	schema: `
		CREATE TABLE IF NOT EXISTS %[1]s (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			stage TEXT NOT NULL,
			command TEXT NOT NULL,
			ts INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS %[1]s_stage_idx ON %[1]s (stage, command);`,
	bind: func(int) string { return "?" },
}

// SQLiteStore is an EnvelopeStore backed by SQLite (modernc.org/sqlite,
// no cgo). It owns the *sql.DB and closes it on Close.
type SQLiteStore struct {
	*sqlStore
}

var _ EnvelopeStore = (*SQLiteStore)(nil)

// NewSQLiteStore creates the table if needed and returns the store.
func NewSQLiteStore(ctx context.Context, db *sql.DB, table string) (*SQLiteStore, error) {
	// A single connection keeps ":memory:" databases alive and serializes
	// writers.
	db.SetMaxOpenConns(1)

	s, err := newSQLStore(ctx, db, table, sqliteDialect)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{s}, nil
}

// OpenSQLite opens dsn with the sqlite driver, e.g. "file:run.db" or
// ":memory:".
func OpenSQLite(ctx context.Context, dsn, table string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	s, err := NewSQLiteStore(ctx, db, table)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
