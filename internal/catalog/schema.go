// Package catalog provides the SQLite-backed file catalog: one row per known
// file (with a stable uid) plus its editable metadata record.
package catalog

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS files (
	uid         INTEGER PRIMARY KEY AUTOINCREMENT,
	storage_uid INTEGER NOT NULL,
	identifier  TEXT NOT NULL,
	name        TEXT NOT NULL,
	size        INTEGER NOT NULL DEFAULT 0,
	mime_type   TEXT NOT NULL DEFAULT '',
	extension   TEXT NOT NULL DEFAULT '',
	checksum    TEXT NOT NULL DEFAULT '',
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	modified_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	UNIQUE(storage_uid, identifier)
);

CREATE TABLE IF NOT EXISTS file_metadata (
	file_uid    INTEGER PRIMARY KEY REFERENCES files(uid) ON DELETE CASCADE,
	title       TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	alternative TEXT NOT NULL DEFAULT '',
	keywords    TEXT NOT NULL DEFAULT '',
	copyright   TEXT NOT NULL DEFAULT '',
	updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_files_storage ON files(storage_uid);
`

// DB wraps a sql.DB with catalog-specific operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("catalog: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("catalog: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("catalog: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// PingContext checks that the database is reachable.
func (db *DB) PingContext(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}
