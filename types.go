package arbor

import (
	"github.com/jward/arbor/internal/analysis"
	"github.com/jward/arbor/internal/diag"
	"github.com/jward/arbor/internal/langctx"
	"github.com/jward/arbor/internal/resource"
	"github.com/jward/arbor/internal/store"
	"github.com/jward/arbor/internal/syntax"
	"github.com/jward/arbor/internal/transform"
)

// Public type aliases for internal types used in the Builder and QueryBuilder
// APIs. External consumers use these names; no conversion is needed.

type (
	ResourceID = resource.ID
	Change     = resource.Change
	ChangeKind = resource.ChangeKind

	Diagnostic = diag.Diagnostic
	Messages   = diag.Messages
	Severity   = diag.Severity

	Context         = langctx.Context
	ParseUnit       = syntax.ParseUnit
	FileResult      = analysis.FileResult
	TransformResult = transform.Result

	Store            = store.Store
	State            = store.State
	File             = store.File
	ParseRecord      = store.ParseRecord
	AnalysisRecord   = store.AnalysisRecord
	StoredDiagnostic = store.Diagnostic
	Build            = store.Build
)

const (
	Add    = resource.Add
	Modify = resource.Modify
	Delete = resource.Delete
)
