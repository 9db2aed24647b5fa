// Package dataflow runs monotone fixpoint analyses over a control-flow graph.
package dataflow

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"gonum.org/v1/gonum/graph"

	"github.com/jward/arbor/internal/term"
)

// Graph is a control-flow graph whose nodes carry terms.
type Graph interface {
	graph.Directed
	Term(id int64) term.Term
}

type Direction uint8

const (
	Forward Direction = iota
	Backward
)

// Lattice combines values flowing into a node.
type Lattice interface {
	Bottom() term.Term
	Join(a, b term.Term) term.Term
}

// TransferFunc computes the value leaving node from the value entering it.
type TransferFunc func(ctx context.Context, node, in term.Term) (term.Term, error)

// Property is one dataflow analysis.
type Property struct {
	Name      string
	Direction Direction
	Lattice   Lattice
	// Initial is the value entering entry nodes (exit nodes for backward
	// analyses). The lattice bottom is used when it is the zero Term.
	Initial  term.Term
	Transfer TransferFunc
}

// Values holds the in and out value of every node, by node id.
type Values struct {
	In  map[int64]term.Term
	Out map[int64]term.Term
}

// Result maps property names to their values.
type Result map[string]Values

var ErrNoConvergence = errors.New("dataflow did not converge")

// MaxVisits bounds node visits per property as a multiple of the node count.
const MaxVisits = 64

// Solve computes every property to a fixpoint.
func Solve(ctx context.Context, g Graph, props []Property) (Result, error) {
	res := make(Result, len(props))
	for _, p := range props {
		v, err := solveOne(ctx, g, p)
		if err != nil {
			return res, fmt.Errorf("dataflow: %s: %w", p.Name, err)
		}
		res[p.Name] = v
	}
	return res, nil
}

func solveOne(ctx context.Context, g Graph, p Property) (Values, error) {
	ids := nodeIDs(g)
	preds, succs := g.To, g.From
	if p.Direction == Backward {
		preds, succs = g.From, g.To
		slices.Reverse(ids)
	}

	bottom := p.Lattice.Bottom()
	initial := p.Initial
	if initial.Kind == term.KindAppl && initial.Op == "" {
		initial = bottom
	}

	v := Values{In: make(map[int64]term.Term, len(ids)), Out: make(map[int64]term.Term, len(ids))}
	for _, id := range ids {
		v.Out[id] = bottom
	}

	work := slices.Clone(ids)
	queued := make(map[int64]bool, len(ids))
	for _, id := range ids {
		queued[id] = true
	}

	budget := MaxVisits * max(len(ids), 1)
	for len(work) > 0 {
		if err := ctx.Err(); err != nil {
			return v, err
		}
		if budget == 0 {
			return v, ErrNoConvergence
		}
		budget--

		id := work[0]
		work = work[1:]
		queued[id] = false

		in := bottom
		entry := true
		it := preds(id)
		for it.Next() {
			entry = false
			in = p.Lattice.Join(in, v.Out[it.Node().ID()])
		}
		if entry {
			in = p.Lattice.Join(in, initial)
		}
		v.In[id] = in

		out, err := p.Transfer(ctx, g.Term(id), in)
		if err != nil {
			return v, fmt.Errorf("transfer at %s: %w", g.Term(id), err)
		}
		if out.Equal(v.Out[id]) {
			continue
		}
		v.Out[id] = out
		next := succs(id)
		for next.Next() {
			s := next.Node().ID()
			if !queued[s] {
				queued[s] = true
				work = append(work, s)
			}
		}
	}
	return v, nil
}

func nodeIDs(g graph.Graph) []int64 {
	var ids []int64
	nodes := g.Nodes()
	for nodes.Next() {
		ids = append(ids, nodes.Node().ID())
	}
	slices.Sort(ids)
	return ids
}
