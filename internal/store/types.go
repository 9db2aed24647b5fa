package store

import "time"

// State is the state of a cache entry.
type State string

const (
	// StateValid entries hold the result of the last build.
	StateValid State = "valid"
	// StateInvalid entries are being rebuilt; their result is stale.
	StateInvalid State = "invalid"
	// StateError entries failed to build; Error holds the reason.
	StateError State = "error"
)

type File struct {
	ID          int64
	Path        string
	Language    string
	Hash        string
	LastIndexed time.Time
}

// ParseRecord is a parse cache entry. AST is a msgpack-encoded term.
type ParseRecord struct {
	Path      string
	Language  string
	Dialect   string
	State     State
	Success   bool
	AST       []byte
	Error     string
	Hash      string
	Duration  time.Duration
	UpdatedAt time.Time
}

// AnalysisRecord is an analysis cache entry. AST is a msgpack-encoded term.
type AnalysisRecord struct {
	Path      string
	Language  string
	ContextID string
	State     State
	Success   bool
	Parsed    bool
	AST       []byte
	Error     string
	Duration  time.Duration
	UpdatedAt time.Time
}

// Stage names the pipeline stage a diagnostic came from.
type Stage string

const (
	StageParse     Stage = "parse"
	StageAnalysis  Stage = "analysis"
	StageTransform Stage = "transform"
	StageBuilder   Stage = "builder"
)

// Diagnostic is a persisted message. Region fields are nil for messages
// attached to the top of a file or to the build itself.
type Diagnostic struct {
	ID        int64
	Path      string
	Stage     Stage
	BuildID   string
	Severity  string
	Kind      string
	Message   string
	StartLine *int
	StartCol  *int
	EndLine   *int
	EndCol    *int
}

// Build is one entry of the build log.
type Build struct {
	ID          string
	Location    string
	StartedAt   time.Time
	FinishedAt  *time.Time
	Changed     int
	Removed     int
	Errors      int
	Warnings    int
	Interrupted bool
}
