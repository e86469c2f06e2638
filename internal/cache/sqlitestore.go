package cache

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

var unsafeTableChars = regexp.MustCompile(`[^a-z0-9_]+`)

// SQLiteStore keeps each cache in its own table of a shared SQLite file.
type SQLiteStore struct {
	db    *sql.DB
	path  string
	table string
}

// OpenSQLiteStore opens (creating if needed) the database at path and the
// table for the named cache.
func OpenSQLiteStore(path, name string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db, path: path, table: "cache_" + unsafeTableChars.ReplaceAllString(name, "_")}
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("initialize pragmas: %w", err)
		}
	}
	schema := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		seq        INTEGER NOT NULL,
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		created_at INTEGER NOT NULL,
		expires_at INTEGER NOT NULL
	)`, s.table)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create cache table: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Location() string { return s.path + "#" + s.table }

// Save replaces the table contents in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM "+s.table); err != nil {
		return fmt.Errorf("clear cache table: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO "+s.table+" (seq, key, value, created_at, expires_at) VALUES (?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for i, r := range records {
		if _, err := stmt.ExecContext(ctx, i, r.Key, []byte(r.Value), r.CreatedAt.UnixNano(), r.ExpiresAt.UnixNano()); err != nil {
			return fmt.Errorf("insert %s: %w", r.Key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, value, created_at, expires_at FROM "+s.table+" ORDER BY seq")
	if err != nil {
		return nil, fmt.Errorf("query cache table: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                  Record
			value              []byte
			created, expiresAt int64
		)
		if err := rows.Scan(&r.Key, &value, &created, &expiresAt); err != nil {
			return nil, fmt.Errorf("scan cache row: %w", err)
		}
		r.Value = value
		r.CreatedAt = time.Unix(0, created)
		r.ExpiresAt = time.Unix(0, expiresAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error { return s.db.Close() }
