package arbor

import (
	"fmt"

	"github.com/jward/arbor/internal/store"
	"github.com/jward/arbor/internal/term"
)

// QueryBuilder reads the results persisted by past builds.
type QueryBuilder struct {
	store *store.Store
}

// FileStatus is the persisted state of one file.
type FileStatus struct {
	Path     string          `json:"path"`
	Language string          `json:"language"`
	Parse    State           `json:"parse,omitempty"`
	Analysis State           `json:"analysis,omitempty"`
	Success  bool            `json:"success"`
	Error    string          `json:"error,omitempty"`
	Errors   int             `json:"errors"`
	Warnings int             `json:"warnings"`
	Context  string          `json:"context,omitempty"`
	AST      *term.Term      `json:"-"`
	Record   *AnalysisRecord `json:"-"`
}

// Status returns the status of every file with a persisted result, ordered
// by path. A non-empty state keeps only analysis results in that state.
func (q *QueryBuilder) Status(state State) ([]*FileStatus, error) {
	recs, err := q.store.AnalysisResults(state)
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	counts, err := q.severityCounts()
	if err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}
	out := make([]*FileStatus, 0, len(recs))
	for _, r := range recs {
		fs := &FileStatus{
			Path:     r.Path,
			Language: r.Language,
			Analysis: r.State,
			Success:  r.Success,
			Error:    r.Error,
			Context:  r.ContextID,
			Record:   r,
		}
		if pr, err := q.store.ParseResult(r.Path); err != nil {
			return nil, fmt.Errorf("status: %w", err)
		} else if pr != nil {
			fs.Parse = pr.State
		}
		c := counts[r.Path]
		fs.Errors, fs.Warnings = c.errors, c.warnings
		out = append(out, fs)
	}
	return out, nil
}

type severityCount struct{ errors, warnings int }

func (q *QueryBuilder) severityCounts() (map[string]severityCount, error) {
	rows, err := q.store.DB().Query(
		`SELECT path,
		   SUM(CASE WHEN severity = 'error' THEN 1 ELSE 0 END),
		   SUM(CASE WHEN severity = 'warning' THEN 1 ELSE 0 END)
		 FROM diagnostics GROUP BY path`)
	if err != nil {
		return nil, fmt.Errorf("count diagnostics: %w", err)
	}
	defer rows.Close()
	out := make(map[string]severityCount)
	for rows.Next() {
		var path string
		var c severityCount
		if err := rows.Scan(&path, &c.errors, &c.warnings); err != nil {
			return nil, fmt.Errorf("scan diagnostic count: %w", err)
		}
		out[path] = c
	}
	return out, rows.Err()
}

// Result returns the persisted analysis of path with its analyzed AST
// decoded, or nil when the file has no analysis result.
func (q *QueryBuilder) Result(path string) (*FileStatus, error) {
	r, err := q.store.AnalysisResult(path)
	if err != nil {
		return nil, fmt.Errorf("result: %w", err)
	}
	if r == nil {
		return nil, nil
	}
	fs := &FileStatus{
		Path:     r.Path,
		Language: r.Language,
		Analysis: r.State,
		Success:  r.Success,
		Error:    r.Error,
		Context:  r.ContextID,
		Record:   r,
	}
	if len(r.AST) > 0 {
		t, err := term.Unmarshal(r.AST)
		if err != nil {
			return nil, fmt.Errorf("result: %s: %w", path, err)
		}
		fs.AST = &t
	}
	return fs, nil
}

// MessageFilter selects persisted diagnostics. Zero fields match everything.
type MessageFilter = store.DiagnosticFilter

// Messages returns the persisted diagnostics matching f. Messages of the
// build itself have an empty path.
func (q *QueryBuilder) Messages(f MessageFilter) ([]*StoredDiagnostic, error) {
	ds, err := q.store.Diagnostics(f)
	if err != nil {
		return nil, fmt.Errorf("messages: %w", err)
	}
	return ds, nil
}

// Builds returns the build log, most recent first. limit <= 0 returns all.
func (q *QueryBuilder) Builds(limit int) ([]*Build, error) {
	bs, err := q.store.Builds(limit)
	if err != nil {
		return nil, fmt.Errorf("builds: %w", err)
	}
	return bs, nil
}

// Files returns every file the store knows about.
func (q *QueryBuilder) Files() ([]*File, error) {
	fs, err := q.store.Files()
	if err != nil {
		return nil, fmt.Errorf("files: %w", err)
	}
	return fs, nil
}
