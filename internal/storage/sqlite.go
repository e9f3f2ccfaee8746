// Package storage provides persistence for WorkTrail: a single SQLite file
// holding an encrypted key/value table, plus typed stores over it.
package storage

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// BusyTimeoutMillis lets the CLI and the daemon share the file.
const BusyTimeoutMillis = 5000

// DB is the SQLite file behind the key/value table.
type DB struct {
	conn *sql.DB
	path string // empty for in-memory databases
}

// Config for database initialization
type Config struct {
	Path     string // Path to database file
	InMemory bool   // Use in-memory database (for testing)
}

func dsn(cfg Config) string {
	if cfg.InMemory {
		return ":memory:"
	}
	q := url.Values{}
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(FULL)") // a committed write survives a crash
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", BusyTimeoutMillis))
	return "file:" + filepath.ToSlash(cfg.Path) + "?" + q.Encode()
}

// Open opens or creates the database. The single connection serializes
// writes and keeps an in-memory database alive for the handle's lifetime.
func Open(cfg Config) (*DB, error) {
	if !cfg.InMemory {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", dsn(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxIdleTime(0)

	// sql.Open is lazy; touch the file so a damaged header fails here.
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db := &DB{conn: conn}
	if !cfg.InMemory {
		db.path = cfg.Path
		// Personal data; owner-only.
		_ = os.Chmod(cfg.Path, 0600)
	}
	return db, nil
}

// Check runs SQLite's quick integrity check.
func (db *DB) Check() error {
	rows, err := db.conn.Query("PRAGMA quick_check")
	if err != nil {
		return err
	}
	defer rows.Close()

	var problems []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return err
		}
		if line != "ok" {
			problems = append(problems, line)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(problems) > 0 {
		return fmt.Errorf("integrity check: %s", strings.Join(problems, "; "))
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying sql.DB for direct access
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Path returns the database file path, empty for in-memory databases.
func (db *DB) Path() string {
	return db.path
}

// inTx runs fn in a transaction, rolling back when it fails.
func (db *DB) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
