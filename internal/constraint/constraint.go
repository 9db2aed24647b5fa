// Package constraint decodes the constraint terms emitted by analysis actions
// and the result shapes of each analysis phase.
package constraint

import (
	"errors"
	"fmt"

	"github.com/jward/arbor/internal/diag"
	"github.com/jward/arbor/internal/term"
)

type Kind uint8

const (
	KindTrue Kind = iota
	KindFalse
	KindEqual
	KindGDecl
	KindGRef
	KindGEdge
	KindResolve
	KindDeclProperty
	KindCFGEdge
	KindNew
)

var kindNames = [...]string{
	KindTrue:         "CTrue",
	KindFalse:        "CFalse",
	KindEqual:        "CEqual",
	KindGDecl:        "CGDecl",
	KindGRef:         "CGRef",
	KindGEdge:        "CGEdge",
	KindResolve:      "CResolve",
	KindDeclProperty: "CDeclProperty",
	KindCFGEdge:      "CFGEdge",
	KindNew:          "CNew",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// arity is the number of non-message arguments, and whether a trailing
// message argument is accepted.
var arity = map[string]struct {
	kind    Kind
	args    int
	message bool
}{
	"CTrue":         {KindTrue, 0, false},
	"CFalse":        {KindFalse, 0, true},
	"CEqual":        {KindEqual, 2, true},
	"CGDecl":        {KindGDecl, 2, false},
	"CGRef":         {KindGRef, 2, false},
	"CGEdge":        {KindGEdge, 3, false},
	"CResolve":      {KindResolve, 2, true},
	"CDeclProperty": {KindDeclProperty, 3, true},
	"CFGEdge":       {KindCFGEdge, 2, false},
	"CNew":          {KindNew, 1, false},
}

var ErrMalformed = errors.New("malformed constraint")

// Message is the diagnostic reported when a constraint cannot be solved.
type Message struct {
	Severity diag.Severity
	Text     string
	Origin   *term.Origin
}

// Constraint is one decoded constraint. Term keeps the original for messages.
type Constraint struct {
	Kind    Kind
	Args    []term.Term
	Message *Message
	Term    term.Term
}

// IsGraph reports whether c is a scope-graph fact or query.
func (c Constraint) IsGraph() bool {
	switch c.Kind {
	case KindGDecl, KindGRef, KindGEdge, KindResolve:
		return true
	}
	return false
}

func (c Constraint) String() string { return c.Term.String() }

// Origin returns the message origin, falling back to the first argument carrying one.
func (c Constraint) Origin() *term.Origin {
	if c.Message != nil && c.Message.Origin != nil {
		return c.Message.Origin
	}
	if c.Term.Origin != nil {
		return c.Term.Origin
	}
	for _, a := range c.Args {
		if a.Origin != nil {
			return a.Origin
		}
	}
	return nil
}

// FromTerm decodes a single constraint.
func FromTerm(t term.Term) (Constraint, error) {
	if t.Kind != term.KindAppl {
		return Constraint{}, fmt.Errorf("%w: %s", ErrMalformed, t)
	}
	spec, ok := arity[t.Op]
	if !ok {
		return Constraint{}, fmt.Errorf("%w: unknown constraint %s", ErrMalformed, t.Op)
	}
	n := len(t.Args)
	if n != spec.args && !(spec.message && n == spec.args+1) {
		return Constraint{}, fmt.Errorf("%w: %s takes %d arguments, got %d", ErrMalformed, t.Op, spec.args, n)
	}
	c := Constraint{Kind: spec.kind, Args: t.Args[:spec.args], Term: t}
	if n > spec.args {
		m, err := MessageFromTerm(t.Args[spec.args])
		if err != nil {
			return Constraint{}, err
		}
		c.Message = m
	}
	return c, nil
}

// FromList decodes a constraint set: a list or tuple of constraints, with
// nested lists and CConj(...) flattened. The empty tuple is the empty set.
func FromList(t term.Term) ([]Constraint, error) {
	var out []Constraint
	var walk func(term.Term) error
	walk = func(t term.Term) error {
		if t.Kind == term.KindList || t.Kind == term.KindTuple || t.IsAppl("CConj", -1) {
			for _, e := range t.Args {
				if err := walk(e); err != nil {
					return err
				}
			}
			return nil
		}
		c, err := FromTerm(t)
		if err != nil {
			return err
		}
		out = append(out, c)
		return nil
	}
	if err := walk(t); err != nil {
		return nil, err
	}
	return out, nil
}

// MessageFromTerm decodes Message(severity, text, origin). The empty tuple
// decodes to nil. The origin argument may be any term; its origin is used.
func MessageFromTerm(t term.Term) (*Message, error) {
	if t.IsEmpty() {
		return nil, nil
	}
	if !t.IsAppl("Message", 3) && !t.IsAppl("Message", 2) {
		return nil, fmt.Errorf("%w: expected Message, got %s", ErrMalformed, t)
	}
	sev, text := t.Args[0], t.Args[1]
	if sev.Kind != term.KindString || text.Kind != term.KindString {
		return nil, fmt.Errorf("%w: bad message %s", ErrMalformed, t)
	}
	s, ok := diag.ParseSeverity(sev.Str)
	if !ok {
		return nil, fmt.Errorf("%w: unknown severity %q", ErrMalformed, sev.Str)
	}
	m := &Message{Severity: s, Text: text.Str, Origin: t.Origin}
	if len(t.Args) == 3 && t.Args[2].Origin != nil {
		m.Origin = t.Args[2].Origin
	}
	return m, nil
}

// MessageTerm is the inverse of MessageFromTerm.
func MessageTerm(m Message) term.Term {
	anchor := term.Empty().WithOrigin(m.Origin)
	return term.Appl("Message", term.String(m.Severity.String()), term.String(m.Text), anchor)
}

// Union concatenates constraint sets, dropping structural duplicates.
func Union(sets ...[]Constraint) []Constraint {
	seen := make(map[string]bool)
	var out []Constraint
	for _, set := range sets {
		for _, c := range set {
			k := c.Term.Key()
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, c)
		}
	}
	return out
}
