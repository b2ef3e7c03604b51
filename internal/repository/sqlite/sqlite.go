// Package sqlite implements repository.AccountRepository on SQLite.
//
// WHY modernc.org/sqlite?
// It is a pure Go translation of SQLite, so the binary builds without a C
// toolchain and ":memory:" databases make the store tests self-contained.
//
// CONCURRENCY:
// The pool is capped at a single connection. SQLite allows one writer at a
// time anyway; funnelling every statement through one connection turns
// "database is locked" errors into ordinary queueing, and it keeps an
// in-memory database shared across goroutines (each new connection to
// ":memory:" would otherwise see its own empty database).
//
// The consequence: code running inside a transaction must use the *sql.Tx,
// never db.conn, or it waits forever for the connection it already holds.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/sakif/plausch/internal/repository"
)

// DB is the SQLite account store.
type DB struct {
	conn      *sql.DB
	hasher    repository.PasswordHasher
	allocator repository.SequenceAllocator // nil: use the account_sequence table
}

// Option configures optional collaborators of the store.
type Option func(*DB)

// WithAllocator makes Create draw identifiers from an external allocator
// (e.g. redisseq) instead of the account_sequence table.
func WithAllocator(a repository.SequenceAllocator) Option {
	return func(db *DB) { db.allocator = a }
}

// New opens (or creates) the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/plausch.db"  → file-based database
//   - ":memory:"         → in-memory database, used by the tests
func New(dbPath string, hasher repository.PasswordHasher, opts ...Option) (*DB, error) {
	if hasher == nil {
		return nil, fmt.Errorf("sqlite: password hasher is required")
	}

	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers in other processes (backups, the sqlite3 shell) work
	// while the server writes. A no-op for ":memory:".
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}

	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting busy timeout: %w", err)
	}

	db := &DB{conn: conn, hasher: hasher}
	for _, opt := range opts {
		opt(db)
	}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the schema. Every statement is idempotent, so it runs
// on each start.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS accounts (
			id              INTEGER PRIMARY KEY,
			email           TEXT NOT NULL UNIQUE,
			password_hash   TEXT NOT NULL,
			display_name    TEXT NOT NULL,
			bio             TEXT NOT NULL DEFAULT '',
			status          TEXT NOT NULL DEFAULT 'online',
			profile_picture TEXT NOT NULL DEFAULT '',
			is_confirmed    INTEGER NOT NULL DEFAULT 0,
			created_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at      DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating accounts table: %w", err)
	}

	// One row per sequence. Create bumps it inside the insert transaction.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS account_sequence (
			name  TEXT PRIMARY KEY,
			value INTEGER NOT NULL
		);
		INSERT OR IGNORE INTO account_sequence (name, value) VALUES ('accounts', 0);
	`)
	if err != nil {
		return fmt.Errorf("creating account_sequence table: %w", err)
	}

	return nil
}
