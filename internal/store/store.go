package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite data access layer for the impls index: files,
// extracted directives, check runs and their verdicts.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use in transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates all tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	_, err := s.db.Exec(schemaDDL)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
-- Extraction tables

CREATE TABLE IF NOT EXISTS files (
  id              INTEGER PRIMARY KEY,
  path            TEXT NOT NULL UNIQUE,
  package_dir     TEXT NOT NULL,
  hash            TEXT,
  line_count      INTEGER,
  last_indexed    TIMESTAMP
);

CREATE TABLE IF NOT EXISTS directives (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id),
  kind            TEXT NOT NULL,
  name            TEXT,
  subject         TEXT NOT NULL,
  expr            TEXT NOT NULL,
  line            INTEGER,
  col             INTEGER,
  byte_offset     INTEGER,
  func_name       TEXT,
  hash            TEXT
);

-- Check tables

CREATE TABLE IF NOT EXISTS runs (
  id              TEXT PRIMARY KEY,
  root            TEXT NOT NULL,
  started_at      TIMESTAMP NOT NULL,
  finished_at     TIMESTAMP,
  passed          INTEGER DEFAULT 0,
  failed          INTEGER DEFAULT 0,
  errored         INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS verdicts (
  id              INTEGER PRIMARY KEY,
  run_id          TEXT NOT NULL REFERENCES runs(id),
  directive_id    INTEGER REFERENCES directives(id),
  directive_hash  TEXT,
  result          BOOLEAN,
  error           TEXT
);

CREATE TABLE IF NOT EXISTS violations (
  id              INTEGER PRIMARY KEY,
  run_id          TEXT NOT NULL REFERENCES runs(id),
  rule            TEXT NOT NULL,
  package         TEXT,
  message         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS metadata (
  key             TEXT PRIMARY KEY,
  value           TEXT
);

-- Indexes

CREATE INDEX IF NOT EXISTS idx_files_package_dir ON files(package_dir);
CREATE INDEX IF NOT EXISTS idx_directives_file ON directives(file_id);
CREATE INDEX IF NOT EXISTS idx_directives_kind ON directives(kind);
CREATE INDEX IF NOT EXISTS idx_verdicts_run ON verdicts(run_id);
CREATE INDEX IF NOT EXISTS idx_verdicts_directive ON verdicts(directive_id);
CREATE INDEX IF NOT EXISTS idx_verdicts_hash ON verdicts(directive_hash);
CREATE INDEX IF NOT EXISTS idx_violations_run ON violations(run_id);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`

// DeleteFileData transactionally removes a file's directives. Verdicts
// recorded against them are detached (directive_id set to NULL) but keep
// their directive hash, so history follows a directive across re-indexing.
// The files row itself is left in place.
func (s *Store) DeleteFileData(fileID int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query("SELECT id FROM directives WHERE file_id = ?", fileID)
	if err != nil {
		return fmt.Errorf("query directives: %w", err)
	}
	var directiveIDs []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan directive id: %w", err)
		}
		directiveIDs = append(directiveIDs, id)
	}
	rows.Close()

	if len(directiveIDs) > 0 {
		placeholders := placeholderList(len(directiveIDs))
		if _, err := tx.Exec(
			"UPDATE verdicts SET directive_id = NULL WHERE directive_id IN ("+placeholders+")",
			int64sToArgs(directiveIDs)...,
		); err != nil {
			return fmt.Errorf("detach verdicts for file: %w", err)
		}
	}

	if _, err := tx.Exec("DELETE FROM directives WHERE file_id = ?", fileID); err != nil {
		return fmt.Errorf("delete directives: %w", err)
	}

	return tx.Commit()
}

// DeleteFile removes a file and all data derived from it.
func (s *Store) DeleteFile(fileID int64) error {
	if err := s.DeleteFileData(fileID); err != nil {
		return err
	}
	if _, err := s.db.Exec("DELETE FROM files WHERE id = ?", fileID); err != nil {
		return fmt.Errorf("delete file record: %w", err)
	}
	return nil
}

// GetMetadata returns the value stored under key, or "" if unset.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get metadata %s: %w", key, err)
	}
	return value, nil
}

// SetMetadata stores value under key, replacing any previous value.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set metadata %s: %w", key, err)
	}
	return nil
}
