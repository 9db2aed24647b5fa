package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

func (s *Store) FileByPath(path string) (*File, error) {
	f := &File{}
	var hash sql.NullString
	var last sql.NullTime
	err := s.db.QueryRow(
		"SELECT id, path, language, hash, last_indexed FROM files WHERE path = ?", path,
	).Scan(&f.ID, &f.Path, &f.Language, &hash, &last)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file by path: %w", err)
	}
	f.Hash = hash.String
	f.LastIndexed = last.Time
	return f, nil
}

// Files returns every tracked file ordered by path.
func (s *Store) Files() ([]*File, error) {
	rows, err := s.db.Query("SELECT id, path, language, hash, last_indexed FROM files ORDER BY path")
	if err != nil {
		return nil, fmt.Errorf("files: %w", err)
	}
	defer rows.Close()
	var files []*File
	for rows.Next() {
		f := &File{}
		var hash sql.NullString
		var last sql.NullTime
		if err := rows.Scan(&f.ID, &f.Path, &f.Language, &hash, &last); err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		f.Hash = hash.String
		f.LastIndexed = last.Time
		files = append(files, f)
	}
	return files, rows.Err()
}

const parseColumns = `f.path, f.language, COALESCE(f.hash, ''), p.state, COALESCE(p.dialect, ''),
	COALESCE(p.success, FALSE), p.ast, COALESCE(p.error, ''), COALESCE(p.duration_us, 0), p.updated_at`

func scanParse(scanner interface{ Scan(...any) error }) (*ParseRecord, error) {
	r := &ParseRecord{}
	var state string
	var us int64
	var updated sql.NullTime
	if err := scanner.Scan(&r.Path, &r.Language, &r.Hash, &state, &r.Dialect,
		&r.Success, &r.AST, &r.Error, &us, &updated); err != nil {
		return nil, err
	}
	r.State = State(state)
	r.Duration = time.Duration(us) * time.Microsecond
	r.UpdatedAt = updated.Time
	return r, nil
}

// ParseResult returns the parse cache entry of path, or nil.
func (s *Store) ParseResult(path string) (*ParseRecord, error) {
	r, err := scanParse(s.db.QueryRow(
		"SELECT "+parseColumns+" FROM parse_results p JOIN files f ON f.id = p.file_id WHERE f.path = ?", path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("parse result: %w", err)
	}
	return r, nil
}

const analysisColumns = `f.path, f.language, COALESCE(a.context_id, ''), a.state,
	COALESCE(a.success, FALSE), COALESCE(a.parsed, FALSE), a.ast, COALESCE(a.error, ''),
	COALESCE(a.duration_us, 0), a.updated_at`

func scanAnalysis(scanner interface{ Scan(...any) error }) (*AnalysisRecord, error) {
	r := &AnalysisRecord{}
	var state string
	var us int64
	var updated sql.NullTime
	if err := scanner.Scan(&r.Path, &r.Language, &r.ContextID, &state,
		&r.Success, &r.Parsed, &r.AST, &r.Error, &us, &updated); err != nil {
		return nil, err
	}
	r.State = State(state)
	r.Duration = time.Duration(us) * time.Microsecond
	r.UpdatedAt = updated.Time
	return r, nil
}

// AnalysisResult returns the analysis cache entry of path, or nil.
func (s *Store) AnalysisResult(path string) (*AnalysisRecord, error) {
	r, err := scanAnalysis(s.db.QueryRow(
		"SELECT "+analysisColumns+" FROM analysis_results a JOIN files f ON f.id = a.file_id WHERE f.path = ?", path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("analysis result: %w", err)
	}
	return r, nil
}

// AnalysisResults returns all analysis cache entries, optionally filtered
// by state ("" for all), ordered by path.
func (s *Store) AnalysisResults(state State) ([]*AnalysisRecord, error) {
	q := "SELECT " + analysisColumns + " FROM analysis_results a JOIN files f ON f.id = a.file_id"
	var args []any
	if state != "" {
		q += " WHERE a.state = ?"
		args = append(args, string(state))
	}
	rows, err := s.db.Query(q+" ORDER BY f.path", args...)
	if err != nil {
		return nil, fmt.Errorf("analysis results: %w", err)
	}
	defer rows.Close()
	var out []*AnalysisRecord
	for rows.Next() {
		r, err := scanAnalysis(rows)
		if err != nil {
			return nil, fmt.Errorf("scan analysis result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DiagnosticFilter selects diagnostics. Zero fields match everything.
type DiagnosticFilter struct {
	Path     string
	Stage    Stage
	BuildID  string
	Severity string
}

// Diagnostics returns the diagnostics matching f ordered by path and line.
func (s *Store) Diagnostics(f DiagnosticFilter) ([]*Diagnostic, error) {
	q := `SELECT id, path, stage, COALESCE(build_id, ''), severity, kind, message,
		start_line, start_col, end_line, end_col FROM diagnostics WHERE 1 = 1`
	var args []any
	for _, c := range []struct {
		col, val string
	}{
		{"path", f.Path},
		{"stage", string(f.Stage)},
		{"build_id", f.BuildID},
		{"severity", f.Severity},
	} {
		if c.val != "" {
			q += " AND " + c.col + " = ?"
			args = append(args, c.val)
		}
	}
	rows, err := s.db.Query(q+" ORDER BY path, COALESCE(start_line, 0), id", args...)
	if err != nil {
		return nil, fmt.Errorf("diagnostics: %w", err)
	}
	defer rows.Close()
	var out []*Diagnostic
	for rows.Next() {
		d := &Diagnostic{}
		var stage string
		var sl, sc, el, ec sql.NullInt64
		if err := rows.Scan(&d.ID, &d.Path, &stage, &d.BuildID, &d.Severity, &d.Kind, &d.Message,
			&sl, &sc, &el, &ec); err != nil {
			return nil, fmt.Errorf("scan diagnostic: %w", err)
		}
		d.Stage = Stage(stage)
		d.StartLine, d.StartCol, d.EndLine, d.EndCol = intPtr(sl), intPtr(sc), intPtr(el), intPtr(ec)
		out = append(out, d)
	}
	return out, rows.Err()
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
