// Package store persists build results in SQLite: the parse and analysis
// result caches, diagnostics and the build log.
package store

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite data access layer.
type Store struct {
	db *sql.DB
}

// NewStore opens a SQLite database at dbPath with WAL mode enabled.
// Transactions take the write lock up front so concurrent builds wait on
// the busy timeout instead of failing on lock upgrades.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000&_txlock=immediate")
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
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS files (
  id              INTEGER PRIMARY KEY,
  path            TEXT NOT NULL UNIQUE,
  language        TEXT NOT NULL,
  hash            TEXT,
  last_indexed    TIMESTAMP
);

-- Result caches. state is one of valid, invalid, error.

CREATE TABLE IF NOT EXISTS parse_results (
  file_id         INTEGER PRIMARY KEY REFERENCES files(id),
  state           TEXT NOT NULL,
  dialect         TEXT,
  success         BOOLEAN DEFAULT FALSE,
  ast             BLOB,
  error           TEXT,
  duration_us     INTEGER DEFAULT 0,
  updated_at      TIMESTAMP
);

CREATE TABLE IF NOT EXISTS analysis_results (
  file_id         INTEGER PRIMARY KEY REFERENCES files(id),
  state           TEXT NOT NULL,
  context_id      TEXT,
  success         BOOLEAN DEFAULT FALSE,
  parsed          BOOLEAN DEFAULT FALSE,
  ast             BLOB,
  error           TEXT,
  duration_us     INTEGER DEFAULT 0,
  updated_at      TIMESTAMP
);

-- Diagnostics are keyed by path so top-level messages (path '') need no file.

CREATE TABLE IF NOT EXISTS diagnostics (
  id              INTEGER PRIMARY KEY,
  path            TEXT NOT NULL,
  stage           TEXT NOT NULL,
  build_id        TEXT,
  severity        TEXT NOT NULL,
  kind            TEXT NOT NULL,
  message         TEXT NOT NULL,
  start_line      INTEGER,
  start_col       INTEGER,
  end_line        INTEGER,
  end_col         INTEGER
);

CREATE TABLE IF NOT EXISTS builds (
  id              TEXT PRIMARY KEY,
  location        TEXT NOT NULL,
  started_at      TIMESTAMP NOT NULL,
  finished_at     TIMESTAMP,
  changed         INTEGER DEFAULT 0,
  removed         INTEGER DEFAULT 0,
  errors          INTEGER DEFAULT 0,
  warnings        INTEGER DEFAULT 0,
  interrupted     BOOLEAN DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS metadata (
  key             TEXT PRIMARY KEY,
  value           TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_files_language ON files(language);
CREATE INDEX IF NOT EXISTS idx_parse_results_state ON parse_results(state);
CREATE INDEX IF NOT EXISTS idx_analysis_results_state ON analysis_results(state);
CREATE INDEX IF NOT EXISTS idx_analysis_results_context ON analysis_results(context_id);
CREATE INDEX IF NOT EXISTS idx_diagnostics_path ON diagnostics(path, stage);
CREATE INDEX IF NOT EXISTS idx_diagnostics_build ON diagnostics(build_id);
CREATE INDEX IF NOT EXISTS idx_builds_started ON builds(started_at);
`

// withTx runs fn in a transaction, committing when it returns nil.
func (s *Store) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteFileData transactionally removes all data for a file. Deletes in
// reverse-dependency order to respect FK constraints.
func (s *Store) DeleteFileData(path string) error {
	return s.withTx(func(tx *sql.Tx) error { return deleteFileTx(tx, path) })
}

func deleteFileTx(tx *sql.Tx, path string) error {
	var fileID int64
	err := tx.QueryRow("SELECT id FROM files WHERE path = ?", path).Scan(&fileID)
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("lookup file %s: %w", path, err)
	}
	for _, q := range []string{
		"DELETE FROM parse_results WHERE file_id = ?",
		"DELETE FROM analysis_results WHERE file_id = ?",
		"DELETE FROM files WHERE id = ?",
	} {
		if _, err := tx.Exec(q, fileID); err != nil {
			return fmt.Errorf("delete file data: %w", err)
		}
	}
	if _, err := tx.Exec("DELETE FROM diagnostics WHERE path = ?", path); err != nil {
		return fmt.Errorf("delete diagnostics: %w", err)
	}
	return nil
}
