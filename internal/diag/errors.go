package diag

import "fmt"

// ParseError is a recoverable failure to parse one resource.
type ParseError struct {
	Resource string
	Language string
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s (%s): %v", e.Resource, e.Language, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ContextError means no analysis context could be resolved for a resource.
type ContextError struct {
	Resource string
	Language string
	Err      error
}

func (e *ContextError) Error() string {
	return fmt.Sprintf("no context for %s (%s): %v", e.Resource, e.Language, e.Err)
}

func (e *ContextError) Unwrap() error { return e.Err }

// PhaseError is a failure inside one analysis phase for one file.
type PhaseError struct {
	Resource string
	Phase    string
	Err      error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s phase failed for %s: %v", e.Phase, e.Resource, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// FatalError aborts the analysis of a whole context.
type FatalError struct {
	Context string
	Err     error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("analysis of context %s failed: %v", e.Context, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// TransformError is a failure to compile one analyzed file.
type TransformError struct {
	Resource string
	Goal     string
	Err      error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s (%s): %v", e.Resource, e.Goal, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }
