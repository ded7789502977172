// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// The database holds the provider credential cache. It lives in a single
// file next to the user's config (or ":memory:" in tests), with no server to run.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so the client builds
// without a C toolchain on every platform the terminal app targets.
package sqlite

import (
	"database/sql"
	"fmt"

	// Side-effect import: registers the "sqlite" driver with database/sql.
	_ "modernc.org/sqlite"
)

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
}

// New opens (or creates) the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "~/.config/framez/credentials.db" → file-based cache (persistent)
//   - ":memory:"                        → in-memory database (tests)
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// ONE CONNECTION:
	// Every ":memory:" connection is its own empty database, and the cache is
	// written by a single process anyway. Pinning the pool to one connection
	// keeps both cases correct.
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close releases the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the schema. Statements are idempotent (IF NOT EXISTS), so
// this runs on every start.
//
// Timestamps are unix milliseconds in INTEGER columns; the cache never needs
// SQL date arithmetic, and integers round-trip exactly.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id            TEXT PRIMARY KEY,
			storage_key   TEXT NOT NULL UNIQUE,
			access_token  TEXT NOT NULL,
			refresh_token TEXT NOT NULL,
			token_type    TEXT NOT NULL DEFAULT 'bearer',
			expires_at    INTEGER NOT NULL,
			user_json     TEXT NOT NULL,
			created_at    INTEGER NOT NULL,
			updated_at    INTEGER NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("creating sessions table: %w", err)
	}

	return nil
}
