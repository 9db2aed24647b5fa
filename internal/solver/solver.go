// Package solver resolves scope-graph constraints and unifies the rest.
//
// A file is solved in four steps, each a method on Solver:
//
//  1. SolveGraph builds the scope graph and resolves references.
//  2. ReportUnsolvedGraphConstraints turns failed resolutions into messages.
//  3. Solve unifies the residual constraints, retrying deferred graph work.
//  4. ReportUnsolvedConstraints turns whatever is left into messages.
//
// No step fails because a constraint is unsatisfiable; only cancellation
// stops the solver early.
package solver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jward/arbor/internal/constraint"
	"github.com/jward/arbor/internal/dataflow"
	"github.com/jward/arbor/internal/diag"
	"github.com/jward/arbor/internal/term"
)

var errFalse = errors.New("constraint is false")

// Solution is the outcome of solving one file.
type Solution struct {
	Labels     []string
	Unifier    *Unifier
	Graph      *ScopeGraph
	Properties map[string]term.Term
	CFG        *ControlFlowGraph
	// Residual holds the constraints that were never solved.
	Residual []constraint.Constraint
	Messages []constraint.Message
	// Flow is set by the dataflow pass when the CFG is not empty.
	Flow dataflow.Result
}

// Successful reports whether no message has Error severity.
func (s *Solution) Successful() bool {
	for _, m := range s.Messages {
		if m.Severity >= diag.Error {
			return false
		}
	}
	return true
}

// FreshFunc returns a name that was never returned before.
type FreshFunc func(base string) string

type Option func(*Solver)

// WithFresh sets the fresh-name generator used for CNew.
func WithFresh(f FreshFunc) Option {
	return func(s *Solver) { s.fresh = f }
}

// WithLogger sets the logger for resolution tracing.
func WithLogger(l *slog.Logger) Option {
	return func(s *Solver) { s.logger = l }
}

// WithTrace logs every resolution at Info level.
func WithTrace(on bool) Option {
	return func(s *Solver) { s.trace = on }
}

type failure struct {
	c   constraint.Constraint
	err error
}

// Solver holds the state of solving one file.
type Solver struct {
	source string
	fresh  FreshFunc
	logger *slog.Logger
	trace  bool

	sol      *Solution
	pending  []constraint.Constraint
	failures []failure
}

// New creates a solver for source with the scope-graph label order labels
// and the unioned constraint set cs.
func New(source string, labels []string, cs []constraint.Constraint, opts ...Option) *Solver {
	if len(labels) == 0 {
		labels = constraint.DefaultLabels
	}
	s := &Solver{
		source: source,
		logger: slog.New(slog.DiscardHandler),
		sol: &Solution{
			Labels:     labels,
			Unifier:    NewUnifier(),
			Graph:      NewScopeGraph(),
			Properties: make(map[string]term.Term),
			CFG:        NewControlFlowGraph(),
		},
		pending: cs,
	}
	var counter int
	s.fresh = func(base string) string {
		counter++
		return fmt.Sprintf("%s-%d", base, counter)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Solution returns the current solution.
func (s *Solver) Solution() *Solution { return s.sol }

// SolveGraph adds every ground scope-graph fact and resolves references
// until no more progress is made. References that still fail once no
// pending fact can change the graph are recorded as failures.
func (s *Solver) SolveGraph(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		progress := s.newScopes()
		progress = s.addFacts() || progress
		factsPending := s.hasPendingFacts()

		var rest []constraint.Constraint
		for _, c := range s.pending {
			if c.Kind != constraint.KindResolve {
				rest = append(rest, c)
				continue
			}
			ok, err := s.resolve(c)
			switch {
			case ok:
				progress = true
			case err != nil && !factsPending:
				s.failures = append(s.failures, failure{c: c, err: err})
				progress = true
			default:
				rest = append(rest, c)
			}
		}
		s.pending = rest
		if !progress {
			return nil
		}
	}
}

// ReportUnsolvedGraphConstraints converts resolution failures into messages.
func (s *Solver) ReportUnsolvedGraphConstraints() {
	for _, f := range s.failures {
		s.report(f.c, f.err.Error())
	}
	s.failures = nil
}

// Solve runs every remaining constraint to a fixpoint. Unsatisfiable
// constraints become messages; stuck constraints stay in the residual set.
func (s *Solver) Solve(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		progress := s.addFacts()
		factsPending := s.hasPendingFacts()

		var rest []constraint.Constraint
		for _, c := range s.pending {
			done, err := s.step(c, factsPending)
			if err != nil {
				s.report(c, err.Error())
			}
			if done || err != nil {
				progress = true
				continue
			}
			rest = append(rest, c)
		}
		s.pending = rest
		if !progress {
			s.sol.Residual = s.pending
			return nil
		}
	}
}

// ReportUnsolvedConstraints turns the residual set into messages.
func (s *Solver) ReportUnsolvedConstraints() {
	for _, c := range s.sol.Residual {
		s.report(c, "unsolved constraint "+s.sol.Unifier.Apply(c.Term).String())
	}
}

// step tries one constraint. It returns done when c is solved and an error
// when c can never be solved.
func (s *Solver) step(c constraint.Constraint, factsPending bool) (bool, error) {
	u := s.sol.Unifier
	switch c.Kind {
	case constraint.KindTrue:
		return true, nil
	case constraint.KindFalse:
		return false, errFalse
	case constraint.KindEqual:
		if err := u.Unify(c.Args[0], c.Args[1]); err != nil {
			return false, err
		}
		return true, nil
	case constraint.KindNew:
		return true, s.newScope(c)
	case constraint.KindResolve:
		ok, err := s.resolve(c)
		if err != nil && !factsPending {
			return false, err
		}
		return ok, nil
	case constraint.KindDeclProperty:
		decl := u.Apply(c.Args[0])
		key := u.Apply(c.Args[1])
		if !decl.IsGround() || !key.IsGround() {
			return false, nil
		}
		k := decl.Key() + "." + key.Key()
		if prev, ok := s.sol.Properties[k]; ok {
			if err := u.Unify(prev, c.Args[2]); err != nil {
				return false, fmt.Errorf("property %s of %s: %w", key, decl, err)
			}
			return true, nil
		}
		s.sol.Properties[k] = c.Args[2]
		return true, nil
	}
	return false, nil
}

// newScopes solves every CNew in the pending set.
func (s *Solver) newScopes() bool {
	progress := false
	var rest []constraint.Constraint
	for _, c := range s.pending {
		if c.Kind != constraint.KindNew {
			rest = append(rest, c)
			continue
		}
		if err := s.newScope(c); err != nil {
			s.report(c, err.Error())
		}
		progress = true
	}
	s.pending = rest
	return progress
}

// newScope binds the variable of CNew(v) to a scope named by the fresh-name generator.
func (s *Solver) newScope(c constraint.Constraint) error {
	u := s.sol.Unifier
	v := u.Find(c.Args[0])
	if !v.IsVar() {
		return fmt.Errorf("new scope for bound term %s", v)
	}
	return u.Unify(v, term.Appl("Scope", term.String(s.source), term.String(s.fresh("s"))))
}

// addFacts moves every ground graph fact and CFG edge out of the pending set.
func (s *Solver) addFacts() bool {
	u := s.sol.Unifier
	added := false
	var rest []constraint.Constraint
	for _, c := range s.pending {
		args := make([]term.Term, len(c.Args))
		ground := true
		for i, a := range c.Args {
			args[i] = u.Apply(a)
			ground = ground && args[i].IsGround()
		}
		if !isFact(c.Kind) || !ground {
			rest = append(rest, c)
			continue
		}
		switch c.Kind {
		case constraint.KindGDecl:
			s.sol.Graph.AddDecl(args[0], args[1])
		case constraint.KindGRef:
			s.sol.Graph.AddRef(args[0], args[1])
		case constraint.KindGEdge:
			if args[1].Kind != term.KindString {
				s.report(c, "edge label must be a string")
				break
			}
			s.sol.Graph.AddEdge(args[0], args[1].Str, args[2])
		case constraint.KindCFGEdge:
			s.sol.CFG.AddEdge(args[0], args[1])
		}
		added = true
	}
	s.pending = rest
	return added
}

func (s *Solver) hasPendingFacts() bool {
	for _, c := range s.pending {
		if c.Kind == constraint.KindGDecl || c.Kind == constraint.KindGRef || c.Kind == constraint.KindGEdge {
			return true
		}
	}
	return false
}

func isFact(k constraint.Kind) bool {
	switch k {
	case constraint.KindGDecl, constraint.KindGRef, constraint.KindGEdge, constraint.KindCFGEdge:
		return true
	}
	return false
}

// resolve returns true when the reference resolved and unified with its
// declaration, and an error when resolution or unification failed. A
// non-ground reference is neither.
func (s *Solver) resolve(c constraint.Constraint) (bool, error) {
	u := s.sol.Unifier
	ref := u.Apply(c.Args[0])
	if !ref.IsGround() {
		return false, nil
	}
	decl, err := s.sol.Graph.Resolve(ref, s.sol.Labels)
	if err != nil {
		return false, err
	}
	if s.trace {
		s.logger.Info("resolved", "source", s.source, "ref", ref.String(), "decl", decl.String())
	}
	if err := u.Unify(c.Args[1], decl); err != nil {
		return false, err
	}
	return true, nil
}

// report records a message for c, preferring the constraint's own message.
func (s *Solver) report(c constraint.Constraint, detail string) {
	m := constraint.Message{Severity: diag.Error, Text: detail, Origin: c.Origin()}
	if c.Message != nil {
		m.Severity = c.Message.Severity
		m.Text = c.Message.Text
	}
	s.sol.Messages = append(s.sol.Messages, m)
}

// Run performs all four steps.
func (s *Solver) Run(ctx context.Context) (*Solution, error) {
	if err := s.SolveGraph(ctx); err != nil {
		return nil, err
	}
	s.ReportUnsolvedGraphConstraints()
	if err := s.Solve(ctx); err != nil {
		return nil, err
	}
	s.ReportUnsolvedConstraints()
	return s.sol, nil
}

// Flow runs props over the control-flow graph and stores the values on the
// solution. Callers skip it when the graph is empty. A failing analysis is
// reported as a message; only cancellation is returned.
func (s *Solver) Flow(ctx context.Context, props []dataflow.Property) error {
	res, err := dataflow.Solve(ctx, s.sol.CFG, props)
	s.sol.Flow = res
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.sol.Messages = append(s.sol.Messages, constraint.Message{Severity: diag.Error, Text: err.Error()})
	}
	return nil
}
