package store

import (
	"database/sql"
	"fmt"
	"time"
)

// DataStore is the write side of the result caches. Both Store (direct
// SQLite) and BatchedStore (in-memory buffering committed in one
// transaction) implement it.
type DataStore interface {
	PutParse(rec *ParseRecord) error
	SetParseState(path string, state State, errText string) error
	RemoveParse(path string) error

	PutAnalysis(rec *AnalysisRecord) error
	SetAnalysisState(path string, state State, errText string) error
	RemoveAnalysis(path string) error

	ReplaceDiagnostics(path string, stage Stage, buildID string, ds []Diagnostic) error
	DeleteFileData(path string) error
}

// Compile-time check: *Store satisfies DataStore.
var _ DataStore = (*Store)(nil)

func (s *Store) PutParse(rec *ParseRecord) error {
	return s.withTx(func(tx *sql.Tx) error { return putParseTx(tx, rec) })
}

func (s *Store) SetParseState(path string, state State, errText string) error {
	return s.withTx(func(tx *sql.Tx) error { return setStateTx(tx, "parse_results", path, state, errText) })
}

func (s *Store) RemoveParse(path string) error {
	return s.withTx(func(tx *sql.Tx) error { return removeResultTx(tx, "parse_results", path) })
}

func (s *Store) PutAnalysis(rec *AnalysisRecord) error {
	return s.withTx(func(tx *sql.Tx) error { return putAnalysisTx(tx, rec) })
}

func (s *Store) SetAnalysisState(path string, state State, errText string) error {
	return s.withTx(func(tx *sql.Tx) error { return setStateTx(tx, "analysis_results", path, state, errText) })
}

func (s *Store) RemoveAnalysis(path string) error {
	return s.withTx(func(tx *sql.Tx) error { return removeResultTx(tx, "analysis_results", path) })
}

// ReplaceDiagnostics replaces the diagnostics of path for one stage.
func (s *Store) ReplaceDiagnostics(path string, stage Stage, buildID string, ds []Diagnostic) error {
	return s.withTx(func(tx *sql.Tx) error { return replaceDiagnosticsTx(tx, path, stage, buildID, ds) })
}

// --- Transaction-scoped helpers ---
// Shared by the Store methods above and BatchedStore commits.

// ensureFileTx returns the id of path's files row, creating it when needed.
// Empty language and hash leave the stored values unchanged.
func ensureFileTx(tx *sql.Tx, path, language, hash string) (int64, error) {
	_, err := tx.Exec(
		`INSERT INTO files (path, language, hash, last_indexed) VALUES (?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
		   language = COALESCE(NULLIF(excluded.language, ''), files.language),
		   hash = COALESCE(NULLIF(excluded.hash, ''), files.hash),
		   last_indexed = excluded.last_indexed`,
		path, language, hash, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("upsert file %s: %w", path, err)
	}
	var id int64
	if err := tx.QueryRow("SELECT id FROM files WHERE path = ?", path).Scan(&id); err != nil {
		return 0, fmt.Errorf("file id %s: %w", path, err)
	}
	return id, nil
}

func putParseTx(tx *sql.Tx, rec *ParseRecord) error {
	fileID, err := ensureFileTx(tx, rec.Path, rec.Language, rec.Hash)
	if err != nil {
		return err
	}
	state := rec.State
	if state == "" {
		state = StateValid
	}
	_, err = tx.Exec(
		`INSERT INTO parse_results (file_id, state, dialect, success, ast, error, duration_us, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(file_id) DO UPDATE SET
		   state = excluded.state, dialect = excluded.dialect, success = excluded.success,
		   ast = excluded.ast, error = excluded.error, duration_us = excluded.duration_us,
		   updated_at = excluded.updated_at`,
		fileID, string(state), rec.Dialect, rec.Success, rec.AST, rec.Error,
		rec.Duration.Microseconds(), stamp(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put parse result %s: %w", rec.Path, err)
	}
	return nil
}

func putAnalysisTx(tx *sql.Tx, rec *AnalysisRecord) error {
	fileID, err := ensureFileTx(tx, rec.Path, rec.Language, "")
	if err != nil {
		return err
	}
	state := rec.State
	if state == "" {
		state = StateValid
	}
	_, err = tx.Exec(
		`INSERT INTO analysis_results (file_id, state, context_id, success, parsed, ast, error, duration_us, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(file_id) DO UPDATE SET
		   state = excluded.state, context_id = excluded.context_id, success = excluded.success,
		   parsed = excluded.parsed, ast = excluded.ast, error = excluded.error,
		   duration_us = excluded.duration_us, updated_at = excluded.updated_at`,
		fileID, string(state), rec.ContextID, rec.Success, rec.Parsed, rec.AST, rec.Error,
		rec.Duration.Microseconds(), stamp(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put analysis result %s: %w", rec.Path, err)
	}
	return nil
}

// setStateTx marks an entry invalid or erroneous, keeping its last result.
func setStateTx(tx *sql.Tx, table, path string, state State, errText string) error {
	fileID, err := ensureFileTx(tx, path, "", "")
	if err != nil {
		return err
	}
	_, err = tx.Exec(
		`INSERT INTO `+table+` (file_id, state, error, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(file_id) DO UPDATE SET
		   state = excluded.state, error = excluded.error, updated_at = excluded.updated_at`,
		fileID, string(state), errText, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set %s state %s: %w", table, path, err)
	}
	return nil
}

func removeResultTx(tx *sql.Tx, table, path string) error {
	_, err := tx.Exec(`DELETE FROM `+table+` WHERE file_id = (SELECT id FROM files WHERE path = ?)`, path)
	if err != nil {
		return fmt.Errorf("remove %s %s: %w", table, path, err)
	}
	return nil
}

func replaceDiagnosticsTx(tx *sql.Tx, path string, stage Stage, buildID string, ds []Diagnostic) error {
	if _, err := tx.Exec("DELETE FROM diagnostics WHERE path = ? AND stage = ?", path, string(stage)); err != nil {
		return fmt.Errorf("clear diagnostics %s: %w", path, err)
	}
	for i := range ds {
		d := &ds[i]
		_, err := tx.Exec(
			`INSERT INTO diagnostics (path, stage, build_id, severity, kind, message, start_line, start_col, end_line, end_col)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			path, string(stage), buildID, d.Severity, d.Kind, d.Message,
			d.StartLine, d.StartCol, d.EndLine, d.EndCol,
		)
		if err != nil {
			return fmt.Errorf("insert diagnostic %s: %w", path, err)
		}
	}
	return nil
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}
