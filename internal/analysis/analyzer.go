// Package analysis is the constraint-based analyzer: for every changed file
// of a context it runs the Initial, Unit, Solve and Final phases and merges
// the diagnostics into one result per file.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jward/arbor/internal/constraint"
	"github.com/jward/arbor/internal/diag"
	"github.com/jward/arbor/internal/langctx"
	"github.com/jward/arbor/internal/resource"
	"github.com/jward/arbor/internal/solver"
	"github.com/jward/arbor/internal/syntax"
	"github.com/jward/arbor/internal/term"
)

// FailedMessage is attached to the top of a file whose analysis threw.
const FailedMessage = "File analysis failed."

// ErrMissingAction is returned when a required phase action is nil.
var ErrMissingAction = errors.New("missing required action")

// Timing splits the time spent on one file.
type Timing struct {
	Total      time.Duration
	Collection time.Duration
	Solve      time.Duration
	Finalize   time.Duration
}

// FileResult is the analysis outcome of one file. It is replaced wholesale
// by the next analysis of the file.
type FileResult struct {
	Source  resource.ID
	Success bool
	// Parsed is the parse success of the analyzed parse unit.
	Parsed   bool
	AST      term.Term
	Messages diag.Messages
	Parse    *syntax.ParseUnit
	Timing   Timing
	// Err is set when a phase failed; AST is then the parsed AST.
	Err error
}

// Results is the outcome of analyzing one context.
type Results struct {
	Context *langctx.Context
	Files   []*FileResult
	Removed []resource.ID
	// Interrupted is set when cancellation stopped the batch early. Files
	// holds the results completed before that.
	Interrupted bool
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the logger for phase and timing reports.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// Analyzer runs the four analysis phases over the parse units of a context.
type Analyzer struct {
	provider ActionsProvider
	logger   *slog.Logger
}

// New creates an Analyzer that gets its phase actions from provider.
func New(provider ActionsProvider, opts ...Option) *Analyzer {
	a := &Analyzer{
		provider: provider,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze evicts removed files from lctx and analyzes every changed parse
// unit. The caller must hold lctx's lock. Per-file failures are reported in
// the file's result; a *diag.FatalError means no file of the context could
// be analyzed.
func (a *Analyzer) Analyze(ctx context.Context, changed []*syntax.ParseUnit, removed []resource.ID, lctx *langctx.Context) (*Results, error) {
	res := &Results{Context: lctx, Removed: removed}
	debug := lctx.Config().Debug

	for _, id := range removed {
		lctx.RemoveUnit(id)
	}
	if len(changed) == 0 {
		return res, nil
	}

	actions, err := a.provider.Actions(ctx, lctx)
	if err == nil {
		err = actions.validate()
	}
	if err != nil {
		return nil, &diag.FatalError{Context: lctx.Location() + " (" + lctx.Language() + ")", Err: err}
	}

	if debug.Analysis {
		a.logger.Info("analyzing context", "language", lctx.Language(), "location", lctx.Location(),
			"changed", len(changed), "removed", len(removed))
	}

	for _, pu := range changed {
		if ctx.Err() != nil {
			res.Interrupted = true
			break
		}
		if debug.Files {
			a.logger.Info("analyzing file", "source", pu.Source)
		}
		fr, err := a.analyzeFile(ctx, pu, lctx, actions)
		if err != nil {
			// Only cancellation gets here: drop the partial state of this file.
			lctx.Unit(pu.Source).Clear()
			res.Interrupted = true
			break
		}
		if debug.Timing {
			a.logger.Info("file timing", "source", pu.Source, "total", fr.Timing.Total,
				"collection", fr.Timing.Collection, "solve", fr.Timing.Solve, "finalize", fr.Timing.Finalize)
		}
		res.Files = append(res.Files, fr)
	}
	return res, nil
}

func (a *Actions) validate() error {
	switch {
	case a == nil:
		return fmt.Errorf("%w: no actions", ErrMissingAction)
	case a.Initial == nil:
		return fmt.Errorf("%w: initial", ErrMissingAction)
	case a.Unit == nil:
		return fmt.Errorf("%w: unit", ErrMissingAction)
	case a.Final == nil:
		return fmt.Errorf("%w: final", ErrMissingAction)
	}
	return nil
}

// analyzeFile returns an error only on cancellation. Any other failure
// becomes a failed FileResult.
func (a *Analyzer) analyzeFile(ctx context.Context, pu *syntax.ParseUnit, lctx *langctx.Context, actions *Actions) (*FileResult, error) {
	start := time.Now()
	unit := lctx.Unit(pu.Source)
	unit.Clear()

	fr, err := a.runPhases(ctx, pu, lctx, actions, unit)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		a.logger.Warn("file analysis failed", "source", pu.Source, "error", err)
		fr = &FileResult{
			Source: pu.Source,
			Parsed: pu.Success,
			AST:    pu.AST,
			Parse:  pu,
			Err:    err,
		}
		fr.Messages = diag.Messages{diag.AtTop(string(pu.Source), diag.Error, diag.KindAnalysis, FailedMessage, err)}
	}
	fr.Timing.Total = time.Since(start)
	return fr, nil
}

func (a *Analyzer) runPhases(ctx context.Context, pu *syntax.ParseUnit, lctx *langctx.Context, actions *Actions, unit *langctx.Unit) (fr *FileResult, err error) {
	debug := lctx.Config().Debug
	src := pu.Source
	var current Phase
	call := func(p Phase, custom bool, act Action, args ...term.Term) (term.Term, error) {
		current = p
		t, err := act(ctx, Call{Phase: p, Custom: custom, Source: src, Args: args, Fresh: lctx.Fresh})
		if err != nil {
			return term.Term{}, &diag.PhaseError{Resource: string(src), Phase: p.String(), Err: err}
		}
		return t, nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = &diag.PhaseError{Resource: string(src), Phase: current.String(), Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	fr = &FileResult{Source: src, Parsed: pu.Success, Parse: pu}
	collect := time.Now()

	// Initial
	t, err := call(PhaseInitial, false, actions.Initial, pu.AST)
	if err != nil {
		return nil, err
	}
	initial, err := constraint.ParseInitial(t)
	if err != nil {
		return nil, &diag.PhaseError{Resource: string(src), Phase: PhaseInitial.String(), Err: err}
	}
	if actions.CustomInitial != nil {
		c, err := call(PhaseInitial, true, actions.CustomInitial, pu.AST)
		if err != nil {
			return nil, err
		}
		initial.Custom = &c
	}

	// Unit
	t, err = call(PhaseUnit, false, actions.Unit, pu.AST, initial.Args)
	if err != nil {
		return nil, err
	}
	ur, err := constraint.ParseUnit(t)
	if err != nil {
		return nil, &diag.PhaseError{Resource: string(src), Phase: PhaseUnit.String(), Err: err}
	}
	if actions.CustomUnit != nil {
		c, err := call(PhaseUnit, true, actions.CustomUnit, ur.AST, orEmpty(initial.Custom))
		if err != nil {
			return nil, err
		}
		ur.Custom = &c
	}
	unit.UnitResult = ur
	fr.Timing.Collection = time.Since(collect)

	// Solve
	current = PhaseSolve
	solveStart := time.Now()
	cs := constraint.Union(initial.Constraints, ur.Constraints)
	if debug.Collection {
		a.logger.Info("collected constraints", "source", src, "initial", len(initial.Constraints),
			"unit", len(ur.Constraints), "total", len(cs))
	}
	s := solver.New(string(src), initial.Labels, cs,
		solver.WithFresh(lctx.Fresh),
		solver.WithLogger(a.logger),
		solver.WithTrace(debug.Resolution))
	sol, err := s.Run(ctx)
	if err != nil {
		return nil, err
	}
	if !sol.CFG.Empty() {
		if err := a.flow(ctx, s, actions, src); err != nil {
			return nil, err
		}
	}
	unit.Solution = sol
	fr.Timing.Solve = time.Since(solveStart)

	// Final
	finalStart := time.Now()
	ast := sol.Unifier.Apply(ur.AST)
	t, err = call(PhaseFinal, false, actions.Final, ast, initial.Args)
	if err != nil {
		return nil, err
	}
	final, err := constraint.ParseFinal(t)
	if err != nil {
		return nil, &diag.PhaseError{Resource: string(src), Phase: PhaseFinal.String(), Err: err}
	}
	if actions.CustomFinal != nil {
		c, err := call(PhaseFinal, true, actions.CustomFinal, orEmpty(initial.Custom), orEmpty(ur.Custom))
		if err != nil {
			return nil, err
		}
		final.Custom = &c
		cust, ok, err := constraint.MatchCustomSolution(c)
		if err != nil {
			return nil, &diag.PhaseError{Resource: string(src), Phase: PhaseFinal.String(), Err: err}
		}
		if ok {
			unit.CustomSolution = cust
		}
	}
	unit.FinalResult = final
	fr.Timing.Finalize = time.Since(finalStart)

	// Merge: parse diagnostics, solution messages (unsolved constraints
	// included), then custom solution messages.
	var own diag.Messages
	for _, m := range sol.Messages {
		own = append(own, toDiagnostic(src, m))
	}
	if unit.CustomSolution != nil {
		for _, m := range unit.CustomSolution.Messages {
			own = append(own, toDiagnostic(src, m))
		}
	}
	fr.Messages = append(fr.Messages, pu.Messages...)
	fr.Messages = append(fr.Messages, own...)
	fr.Success = !own.HasErrors()
	fr.AST = ast
	return fr, nil
}

func (a *Analyzer) flow(ctx context.Context, s *solver.Solver, actions *Actions, src resource.ID) error {
	if actions.Transfers == nil {
		return nil
	}
	props, err := actions.Transfers(ctx, src)
	if err != nil {
		return &diag.PhaseError{Resource: string(src), Phase: PhaseSolve.String(), Err: err}
	}
	return s.Flow(ctx, props)
}

func orEmpty(t *term.Term) term.Term {
	if t == nil {
		return term.Empty()
	}
	return *t
}

func toDiagnostic(src resource.ID, m constraint.Message) diag.Diagnostic {
	d := diag.Diagnostic{Resource: string(src), Severity: m.Severity, Kind: diag.KindAnalysis, Message: m.Text}
	if o := m.Origin; o != nil {
		if o.Resource != "" {
			d.Resource = o.Resource
		}
		d.Region = &diag.Region{StartLine: o.StartLine, StartCol: o.StartCol, EndLine: o.EndLine, EndCol: o.EndCol}
	}
	return d
}
