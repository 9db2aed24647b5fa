// Package term is the tree model shared by the parser, the analysis actions
// and the solver. ASTs, constraints and phase results are all terms.
package term

import (
	"strconv"
	"strings"
)

// Kind discriminates the shape of a Term.
type Kind uint8

const (
	KindAppl Kind = iota
	KindString
	KindInt
	KindList
	KindTuple
	KindVar
)

func (k Kind) String() string {
	switch k {
	case KindAppl:
		return "appl"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindList:
		return "list"
	case KindTuple:
		return "tuple"
	case KindVar:
		return "var"
	default:
		return "unknown"
	}
}

// Origin is the source region a term was built from. Lines and columns are 1-based.
type Origin struct {
	Resource  string `msgpack:"r" json:"resource"`
	StartLine int    `msgpack:"sl" json:"start_line"`
	StartCol  int    `msgpack:"sc" json:"start_col"`
	EndLine   int    `msgpack:"el" json:"end_line"`
	EndCol    int    `msgpack:"ec" json:"end_col"`
}

// Term is an immutable tree value.
//
// For KindAppl, Op is the constructor name. For KindVar, Op is the variable
// name and Str the resource the variable was allocated for, so two files can
// use the same name without colliding.
type Term struct {
	Kind   Kind    `msgpack:"k"`
	Op     string  `msgpack:"o,omitempty"`
	Str    string  `msgpack:"s,omitempty"`
	Int    int64   `msgpack:"i,omitempty"`
	Args   []Term  `msgpack:"a,omitempty"`
	Origin *Origin `msgpack:"p,omitempty"`
}

func Appl(op string, args ...Term) Term {
	return Term{Kind: KindAppl, Op: op, Args: args}
}

func String(s string) Term {
	return Term{Kind: KindString, Str: s}
}

func Int(i int64) Term {
	return Term{Kind: KindInt, Int: i}
}

func List(elems ...Term) Term {
	return Term{Kind: KindList, Args: elems}
}

func Tuple(elems ...Term) Term {
	return Term{Kind: KindTuple, Args: elems}
}

// Var returns a variable scoped to resource.
func Var(resource, name string) Term {
	return Term{Kind: KindVar, Op: name, Str: resource}
}

// Empty is the empty tuple, used as the AST of removed files.
func Empty() Term {
	return Tuple()
}

// WithOrigin returns a copy of t carrying o.
func (t Term) WithOrigin(o *Origin) Term {
	t.Origin = o
	return t
}

// IsAppl reports whether t is an application of op with the given arity.
// A negative arity matches any.
func (t Term) IsAppl(op string, arity int) bool {
	if t.Kind != KindAppl || t.Op != op {
		return false
	}
	return arity < 0 || len(t.Args) == arity
}

func (t Term) IsVar() bool { return t.Kind == KindVar }

// IsEmpty reports whether t is the empty tuple.
func (t Term) IsEmpty() bool {
	return t.Kind == KindTuple && len(t.Args) == 0
}

// IsGround reports whether t contains no variables.
func (t Term) IsGround() bool {
	if t.Kind == KindVar {
		return false
	}
	for _, a := range t.Args {
		if !a.IsGround() {
			return false
		}
	}
	return true
}

// Vars appends the variables of t to dst in depth-first order.
func (t Term) Vars(dst []Term) []Term {
	if t.Kind == KindVar {
		return append(dst, t)
	}
	for _, a := range t.Args {
		dst = a.Vars(dst)
	}
	return dst
}

// Elems returns the elements of a list or tuple and the arguments of an application.
func (t Term) Elems() []Term {
	return t.Args
}

// Equal compares structure, ignoring origins.
func (t Term) Equal(o Term) bool {
	if t.Kind != o.Kind || t.Op != o.Op || t.Str != o.Str || t.Int != o.Int || len(t.Args) != len(o.Args) {
		return false
	}
	for i := range t.Args {
		if !t.Args[i].Equal(o.Args[i]) {
			return false
		}
	}
	return true
}

// String renders t for messages. Variables print as ?name.
func (t Term) String() string {
	var b strings.Builder
	t.write(&b, false)
	return b.String()
}

// Key is a canonical rendering usable as a map key. Unlike String it keeps
// the resource of each variable.
func (t Term) Key() string {
	var b strings.Builder
	t.write(&b, true)
	return b.String()
}

func (t Term) write(b *strings.Builder, keyed bool) {
	switch t.Kind {
	case KindAppl:
		b.WriteString(t.Op)
		writeElems(b, "(", ")", t.Args, keyed)
	case KindString:
		b.WriteString(strconv.Quote(t.Str))
	case KindInt:
		b.WriteString(strconv.FormatInt(t.Int, 10))
	case KindList:
		writeElems(b, "[", "]", t.Args, keyed)
	case KindTuple:
		writeElems(b, "(", ")", t.Args, keyed)
	case KindVar:
		b.WriteByte('?')
		if keyed {
			b.WriteString(t.Str)
			b.WriteByte('#')
		}
		b.WriteString(t.Op)
	}
}

func writeElems(b *strings.Builder, open, close string, elems []Term, keyed bool) {
	b.WriteString(open)
	for i, e := range elems {
		if i > 0 {
			b.WriteString(", ")
		}
		e.write(b, keyed)
	}
	b.WriteString(close)
}

// Map rebuilds t bottom-up, applying fn to every subterm after its children.
func (t Term) Map(fn func(Term) Term) Term {
	if len(t.Args) > 0 {
		args := make([]Term, len(t.Args))
		for i, a := range t.Args {
			args[i] = a.Map(fn)
		}
		t.Args = args
	}
	return fn(t)
}
