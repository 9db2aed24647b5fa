package solver

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"gonum.org/v1/gonum/graph/simple"

	"github.com/jward/arbor/internal/term"
)

var (
	ErrUnresolved = errors.New("unresolved reference")
	ErrAmbiguous  = errors.New("ambiguous reference")
	ErrNoScope    = errors.New("reference has no scope")
)

// ScopeGraph is a name-binding graph: scopes connected by labelled edges,
// declarations attached to scopes, and references placed in scopes. Each
// label gets its own directed graph.
type ScopeGraph struct {
	ids   map[string]int64
	terms []term.Term
	edges map[string]*simple.DirectedGraph
	decls map[int64][]term.Term
	refs  map[string]int64
}

func NewScopeGraph() *ScopeGraph {
	return &ScopeGraph{
		ids:   make(map[string]int64),
		edges: make(map[string]*simple.DirectedGraph),
		decls: make(map[int64][]term.Term),
		refs:  make(map[string]int64),
	}
}

func (g *ScopeGraph) scope(t term.Term) int64 {
	k := t.Key()
	if id, ok := g.ids[k]; ok {
		return id
	}
	id := int64(len(g.terms))
	g.ids[k] = id
	g.terms = append(g.terms, t)
	return id
}

// Scopes returns every scope in insertion order.
func (g *ScopeGraph) Scopes() []term.Term { return g.terms }

// AddDecl declares occ in scope.
func (g *ScopeGraph) AddDecl(scope, occ term.Term) {
	id := g.scope(scope)
	for _, d := range g.decls[id] {
		if d.Equal(occ) {
			return
		}
	}
	g.decls[id] = append(g.decls[id], occ)
}

// AddRef places reference occ in scope.
func (g *ScopeGraph) AddRef(occ, scope term.Term) {
	g.refs[occ.Key()] = g.scope(scope)
}

// AddEdge adds a labelled edge between two scopes. Self edges are ignored.
func (g *ScopeGraph) AddEdge(from term.Term, label string, to term.Term) {
	f, t := g.scope(from), g.scope(to)
	if f == t {
		return
	}
	dg, ok := g.edges[label]
	if !ok {
		dg = simple.NewDirectedGraph()
		g.edges[label] = dg
	}
	for _, id := range []int64{f, t} {
		if dg.Node(id) == nil {
			dg.AddNode(simple.Node(id))
		}
	}
	dg.SetEdge(dg.NewEdge(simple.Node(f), simple.Node(t)))
}

// HasEdge reports whether a labelled edge exists.
func (g *ScopeGraph) HasEdge(from term.Term, label string, to term.Term) bool {
	dg, ok := g.edges[label]
	if !ok {
		return false
	}
	f, fok := g.ids[from.Key()]
	t, tok := g.ids[to.Key()]
	return fok && tok && dg.HasEdgeFromTo(f, t)
}

// Resolve finds the declaration ref refers to. Declarations in the
// reference's own scope win. Otherwise scopes are searched breadth-first:
// at each depth the labels are tried in the given order, and the first
// label reaching a declaration ends the search. More than one distinct
// declaration reached that way is ambiguous.
func (g *ScopeGraph) Resolve(ref term.Term, labels []string) (term.Term, error) {
	start, ok := g.refs[ref.Key()]
	if !ok {
		return term.Term{}, fmt.Errorf("%w: %s", ErrNoScope, ref)
	}
	found := g.visible(start, ref, labels)
	switch len(found) {
	case 0:
		return term.Term{}, fmt.Errorf("%w: %s", ErrUnresolved, describe(ref))
	case 1:
		return found[0], nil
	}
	names := make([]string, len(found))
	for i, f := range found {
		names[i] = f.String()
	}
	slices.Sort(names)
	return term.Term{}, fmt.Errorf("%w: %s matches %s", ErrAmbiguous, describe(ref), strings.Join(names, ", "))
}

func (g *ScopeGraph) visible(start int64, ref term.Term, labels []string) []term.Term {
	if found := g.declsIn([]int64{start}, ref); len(found) > 0 {
		return found
	}
	seen := map[int64]bool{start: true}
	frontier := []int64{start}
	for len(frontier) > 0 {
		var next []int64
		for _, label := range labels {
			reached := g.step(frontier, label, seen)
			if found := g.declsIn(reached, ref); len(found) > 0 {
				return found
			}
			next = append(next, reached...)
		}
		frontier = next
	}
	return nil
}

// step returns the unseen scopes one label edge away from frontier, in
// ascending id order, and marks them seen.
func (g *ScopeGraph) step(frontier []int64, label string, seen map[int64]bool) []int64 {
	dg, ok := g.edges[label]
	if !ok {
		return nil
	}
	var reached []int64
	for _, s := range frontier {
		if dg.Node(s) == nil {
			continue
		}
		targets := dg.From(s)
		for targets.Next() {
			t := targets.Node().ID()
			if !seen[t] {
				seen[t] = true
				reached = append(reached, t)
			}
		}
	}
	slices.Sort(reached)
	return reached
}

func (g *ScopeGraph) declsIn(scopes []int64, ref term.Term) []term.Term {
	var found []term.Term
	for _, s := range scopes {
		for _, d := range g.decls[s] {
			if sameName(ref, d) {
				found = appendUnique(found, d)
			}
		}
	}
	return found
}

// sameName compares occurrences Occurrence(ns, name, pos) without their
// position. Other terms compare structurally.
func sameName(ref, decl term.Term) bool {
	if ref.IsAppl("Occurrence", 3) && decl.IsAppl("Occurrence", 3) {
		return ref.Args[0].Equal(decl.Args[0]) && ref.Args[1].Equal(decl.Args[1])
	}
	return ref.Equal(decl)
}

func describe(occ term.Term) string {
	if occ.IsAppl("Occurrence", 3) && occ.Args[1].Kind == term.KindString {
		return fmt.Sprintf("%s %q", occ.Args[0].Str, occ.Args[1].Str)
	}
	return occ.String()
}

func appendUnique(ts []term.Term, t term.Term) []term.Term {
	for _, x := range ts {
		if x.Equal(t) {
			return ts
		}
	}
	return append(ts, t)
}
