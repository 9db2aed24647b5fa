package solver

import (
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/jward/arbor/internal/term"
)

// ControlFlowGraph is the graph collected from CFGEdge constraints. Nodes are
// ground terms.
type ControlFlowGraph struct {
	*simple.DirectedGraph
	ids   map[string]int64
	terms []term.Term
}

func NewControlFlowGraph() *ControlFlowGraph {
	return &ControlFlowGraph{
		DirectedGraph: simple.NewDirectedGraph(),
		ids:           make(map[string]int64),
	}
}

func (g *ControlFlowGraph) node(t term.Term) graph.Node {
	k := t.Key()
	if id, ok := g.ids[k]; ok {
		return simple.Node(id)
	}
	id := int64(len(g.terms))
	g.ids[k] = id
	g.terms = append(g.terms, t)
	n := simple.Node(id)
	g.AddNode(n)
	return n
}

// AddEdge records a control-flow edge. A self loop only adds the node.
func (g *ControlFlowGraph) AddEdge(from, to term.Term) {
	f, t := g.node(from), g.node(to)
	if f.ID() == t.ID() {
		return
	}
	g.SetEdge(g.NewEdge(f, t))
}

// Empty reports whether no node was ever added.
func (g *ControlFlowGraph) Empty() bool { return len(g.terms) == 0 }

// Len returns the number of nodes.
func (g *ControlFlowGraph) Len() int { return len(g.terms) }

// Term returns the term of node id.
func (g *ControlFlowGraph) Term(id int64) term.Term { return g.terms[id] }

// ID returns the node id of t.
func (g *ControlFlowGraph) ID(t term.Term) (int64, bool) {
	id, ok := g.ids[t.Key()]
	return id, ok
}
