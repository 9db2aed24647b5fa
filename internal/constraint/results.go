package constraint

import (
	"fmt"

	"github.com/jward/arbor/internal/term"
)

// DefaultLabels is the scope-graph label order used when an initial result
// carries no Config.
var DefaultLabels = []string{"P", "I"}

// InitialResult is the outcome of the Initial phase:
// InitialResult(args, constraints, config).
type InitialResult struct {
	Args        term.Term
	Constraints []Constraint
	Labels      []string
	// Custom is the result of the custom initial action, if any.
	Custom *term.Term
}

// UnitResult is the outcome of the Unit phase: UnitResult(ast, constraints).
type UnitResult struct {
	AST         term.Term
	Constraints []Constraint
	Custom      *term.Term
}

// FinalResult is the outcome of the Final phase. Its arguments are opaque.
type FinalResult struct {
	Term   term.Term
	Custom *term.Term
}

// CustomSolution is a custom final result carrying extra messages:
// CustomSolution([Message(...), ...]).
type CustomSolution struct {
	Messages []Message
}

// ParseInitial decodes an Initial action result. The config argument is
// optional; without it DefaultLabels apply.
func ParseInitial(t term.Term) (*InitialResult, error) {
	if !t.IsAppl("InitialResult", 2) && !t.IsAppl("InitialResult", 3) {
		return nil, fmt.Errorf("%w: expected InitialResult(args, constraints, config), got %s", ErrMalformed, shape(t))
	}
	cs, err := FromList(t.Args[1])
	if err != nil {
		return nil, err
	}
	r := &InitialResult{Args: t.Args[0], Constraints: cs, Labels: DefaultLabels}
	if len(t.Args) == 3 {
		labels, err := parseConfig(t.Args[2])
		if err != nil {
			return nil, err
		}
		if labels != nil {
			r.Labels = labels
		}
	}
	return r, nil
}

func parseConfig(t term.Term) ([]string, error) {
	if t.IsEmpty() {
		return nil, nil
	}
	if !t.IsAppl("Config", 1) {
		return nil, fmt.Errorf("%w: expected Config(labels), got %s", ErrMalformed, shape(t))
	}
	var labels []string
	for _, l := range t.Args[0].Args {
		if l.Kind != term.KindString {
			return nil, fmt.Errorf("%w: label must be a string, got %s", ErrMalformed, l)
		}
		labels = append(labels, l.Str)
	}
	return labels, nil
}

// ParseUnit decodes a Unit action result.
func ParseUnit(t term.Term) (*UnitResult, error) {
	if !t.IsAppl("UnitResult", 2) {
		return nil, fmt.Errorf("%w: expected UnitResult(ast, constraints), got %s", ErrMalformed, shape(t))
	}
	cs, err := FromList(t.Args[1])
	if err != nil {
		return nil, err
	}
	return &UnitResult{AST: t.Args[0], Constraints: cs}, nil
}

// ParseFinal decodes a Final action result.
func ParseFinal(t term.Term) (*FinalResult, error) {
	if !t.IsAppl("FinalResult", -1) {
		return nil, fmt.Errorf("%w: expected FinalResult(...), got %s", ErrMalformed, shape(t))
	}
	return &FinalResult{Term: t}, nil
}

// MatchCustomSolution reports whether t has the custom solution shape and decodes it.
func MatchCustomSolution(t term.Term) (*CustomSolution, bool, error) {
	if !t.IsAppl("CustomSolution", 1) {
		return nil, false, nil
	}
	cs := &CustomSolution{}
	for _, mt := range t.Args[0].Args {
		m, err := MessageFromTerm(mt)
		if err != nil {
			return nil, true, err
		}
		if m != nil {
			cs.Messages = append(cs.Messages, *m)
		}
	}
	return cs, true, nil
}

// shape renders just the constructor so huge ASTs stay out of error strings.
func shape(t term.Term) string {
	if t.Kind == term.KindAppl {
		return fmt.Sprintf("%s/%d", t.Op, len(t.Args))
	}
	return t.Kind.String()
}
