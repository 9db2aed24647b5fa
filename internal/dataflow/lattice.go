package dataflow

import (
	"cmp"
	"slices"

	"github.com/jward/arbor/internal/term"
)

// Union is the may-analysis set lattice over lists of terms.
type Union struct{}

func (Union) Bottom() term.Term { return term.List() }

func (Union) Join(a, b term.Term) term.Term {
	return sorted(unionOf(a.Args, b.Args))
}

// Intersection is the must-analysis set lattice. Its bottom is the
// universal set, represented by the Top term, so the first join yields the
// other operand.
type Intersection struct{}

// Top stands for the set of everything.
var Top = term.Appl("Top")

func (Intersection) Bottom() term.Term { return Top }

func (Intersection) Join(a, b term.Term) term.Term {
	switch {
	case a.Equal(Top):
		return b
	case b.Equal(Top):
		return a
	}
	keep := make(map[string]bool, len(b.Args))
	for _, t := range b.Args {
		keep[t.Key()] = true
	}
	var out []term.Term
	for _, t := range a.Args {
		if keep[t.Key()] {
			out = append(out, t)
		}
	}
	return sorted(out)
}

// LatticeByName returns "union"/"may" or "intersection"/"must".
func LatticeByName(name string) (Lattice, bool) {
	switch name {
	case "union", "may", "":
		return Union{}, true
	case "intersection", "must":
		return Intersection{}, true
	}
	return nil, false
}

func unionOf(a, b []term.Term) []term.Term {
	seen := make(map[string]bool, len(a)+len(b))
	var out []term.Term
	for _, set := range [][]term.Term{a, b} {
		for _, t := range set {
			if k := t.Key(); !seen[k] {
				seen[k] = true
				out = append(out, t)
			}
		}
	}
	return out
}

func sorted(ts []term.Term) term.Term {
	ts = slices.Clone(ts)
	slices.SortFunc(ts, func(x, y term.Term) int { return cmp.Compare(x.Key(), y.Key()) })
	return term.List(ts...)
}
