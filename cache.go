package arbor

import (
	"strings"

	"github.com/jward/arbor/internal/analysis"
	"github.com/jward/arbor/internal/diag"
	"github.com/jward/arbor/internal/resource"
	"github.com/jward/arbor/internal/store"
	"github.com/jward/arbor/internal/syntax"
	"github.com/jward/arbor/internal/term"
)

// ParseCache receives the outcome of the parse stage.
type ParseCache interface {
	Invalidate(id resource.ID) error
	Update(id resource.ID, pu *syntax.ParseUnit) error
	Error(id resource.ID, err error) error
	Remove(id resource.ID) error
}

// AnalysisCache receives the outcome of the analysis stage. Update gets the
// id of the context the file was analyzed in.
type AnalysisCache interface {
	Invalidate(id resource.ID) error
	Update(id resource.ID, contextID string, fr *analysis.FileResult) error
	Error(id resource.ID, err error) error
	Remove(id resource.ID) error
}

// parseStore writes parse results and parse diagnostics to a DataStore.
type parseStore struct {
	ds      store.DataStore
	buildID string
}

var _ ParseCache = (*parseStore)(nil)

func (c *parseStore) Invalidate(id resource.ID) error {
	return c.ds.SetParseState(string(id), store.StateInvalid, "")
}

func (c *parseStore) Update(id resource.ID, pu *syntax.ParseUnit) error {
	ast, err := term.Marshal(pu.AST)
	if err != nil {
		return err
	}
	rec := &store.ParseRecord{
		Path:     string(id),
		Language: pu.Language,
		Dialect:  pu.Dialect,
		State:    store.StateValid,
		Success:  pu.Success,
		AST:      ast,
		Duration: pu.Duration,
	}
	if err := c.ds.PutParse(rec); err != nil {
		return err
	}
	return c.ds.ReplaceDiagnostics(string(id), store.StageParse, c.buildID, storedDiagnostics(pu.Messages, nil))
}

func (c *parseStore) Error(id resource.ID, err error) error {
	if err := c.ds.SetParseState(string(id), store.StateError, err.Error()); err != nil {
		return err
	}
	d := diag.AtTop(string(id), diag.Error, diag.KindParse, err.Error(), nil)
	return c.ds.ReplaceDiagnostics(string(id), store.StageParse, c.buildID, storedDiagnostics(diag.Messages{d}, nil))
}

// Remove drops everything stored for id; the resource no longer exists.
func (c *parseStore) Remove(id resource.ID) error {
	return c.ds.DeleteFileData(string(id))
}

// analysisStore writes analysis results and analysis diagnostics to a DataStore.
type analysisStore struct {
	ds      store.DataStore
	buildID string
}

var _ AnalysisCache = (*analysisStore)(nil)

func (c *analysisStore) Invalidate(id resource.ID) error {
	return c.ds.SetAnalysisState(string(id), store.StateInvalid, "")
}

func (c *analysisStore) Update(id resource.ID, contextID string, fr *analysis.FileResult) error {
	ast, err := term.Marshal(fr.AST)
	if err != nil {
		return err
	}
	rec := &store.AnalysisRecord{
		Path:      string(id),
		ContextID: contextID,
		State:     store.StateValid,
		Success:   fr.Success,
		Parsed:    fr.Parsed,
		AST:       ast,
		Duration:  fr.Timing.Total,
	}
	if fr.Parse != nil {
		rec.Language = fr.Parse.Language
	}
	if fr.Err != nil {
		rec.Error = fr.Err.Error()
	}
	if err := c.ds.PutAnalysis(rec); err != nil {
		return err
	}
	// Parse diagnostics are merged into the file's messages but stored
	// under the parse stage already.
	keep := func(d diag.Diagnostic) bool { return d.Kind != diag.KindParse }
	return c.ds.ReplaceDiagnostics(string(id), store.StageAnalysis, c.buildID, storedDiagnostics(fr.Messages, keep))
}

func (c *analysisStore) Error(id resource.ID, err error) error {
	return c.ds.SetAnalysisState(string(id), store.StateError, err.Error())
}

func (c *analysisStore) Remove(id resource.ID) error {
	if err := c.ds.RemoveAnalysis(string(id)); err != nil {
		return err
	}
	return c.ds.ReplaceDiagnostics(string(id), store.StageAnalysis, c.buildID, nil)
}

// nopCache is used when the Builder has no store.
type nopCache struct{}

func (nopCache) Invalidate(resource.ID) error { return nil }
func (nopCache) Update(resource.ID, *syntax.ParseUnit) error { return nil }
func (nopCache) Error(resource.ID, error) error { return nil }
func (nopCache) Remove(resource.ID) error { return nil }

type nopAnalysisCache struct{ nopCache }

func (nopAnalysisCache) Update(resource.ID, string, *analysis.FileResult) error { return nil }

// storedDiagnostics converts messages for persistence. A nil keep keeps all.
func storedDiagnostics(ms diag.Messages, keep func(diag.Diagnostic) bool) []store.Diagnostic {
	var out []store.Diagnostic
	for _, d := range ms {
		if keep != nil && !keep(d) {
			continue
		}
		msg := d.Message
		if d.Cause != nil {
			msg += ": " + d.Cause.Error()
		}
		sd := store.Diagnostic{
			Path:     d.Resource,
			Severity: strings.ToLower(d.Severity.String()),
			Kind:     string(d.Kind),
			Message:  msg,
		}
		if r := d.Region; r != nil {
			sd.StartLine, sd.StartCol, sd.EndLine, sd.EndCol = &r.StartLine, &r.StartCol, &r.EndLine, &r.EndCol
		}
		out = append(out, sd)
	}
	return out
}
