package analysis

import (
	"context"

	"github.com/jward/arbor/internal/dataflow"
	"github.com/jward/arbor/internal/langctx"
	"github.com/jward/arbor/internal/resource"
	"github.com/jward/arbor/internal/term"
)

// Phase names an analysis phase.
type Phase uint8

const (
	PhaseInitial Phase = iota
	PhaseUnit
	PhaseSolve
	PhaseFinal
)

func (p Phase) String() string {
	switch p {
	case PhaseInitial:
		return "initial"
	case PhaseUnit:
		return "unit"
	case PhaseSolve:
		return "solve"
	case PhaseFinal:
		return "final"
	}
	return "unknown"
}

// Call is the input of an action.
//
//	Initial:       Args = [ast]
//	Unit:          Args = [ast, initial args]
//	Final:         Args = [analyzed ast, initial args]
//	CustomInitial: Args = [ast]
//	CustomUnit:    Args = [desugared ast, custom initial result]
//	CustomFinal:   Args = [custom initial result, custom unit result]
//
// Absent custom results are passed as the empty tuple.
type Call struct {
	Phase  Phase
	Custom bool
	Source resource.ID
	Args   []term.Term
	// Fresh allocates names unique within the context.
	Fresh func(base string) string
}

// Action computes the result term of one phase.
type Action func(ctx context.Context, call Call) (term.Term, error)

// TransferFunc builds the dataflow properties of a language. It is only
// called for files whose control-flow graph is not empty.
type TransferFunc func(ctx context.Context, source resource.ID) ([]dataflow.Property, error)

// Actions are the pluggable actions of one language. Initial, Unit and Final
// are required; the custom variants and Transfers may be nil.
type Actions struct {
	Initial Action
	Unit    Action
	Final   Action

	CustomInitial Action
	CustomUnit    Action
	CustomFinal   Action

	Transfers TransferFunc
}

// ActionsProvider supplies the actions for a context's language.
type ActionsProvider interface {
	Actions(ctx context.Context, lctx *langctx.Context) (*Actions, error)
}

// ActionsFunc adapts a function to ActionsProvider.
type ActionsFunc func(ctx context.Context, lctx *langctx.Context) (*Actions, error)

func (f ActionsFunc) Actions(ctx context.Context, lctx *langctx.Context) (*Actions, error) {
	return f(ctx, lctx)
}
