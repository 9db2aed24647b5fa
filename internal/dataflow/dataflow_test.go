package dataflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/graph/simple"

	"github.com/jward/arbor/internal/term"
)

type testGraph struct {
	*simple.DirectedGraph
	names []string
}

func newTestGraph(names []string, edges [][2]int64) *testGraph {
	g := &testGraph{DirectedGraph: simple.NewDirectedGraph(), names: names}
	for i := range names {
		g.AddNode(simple.Node(int64(i)))
	}
	for _, e := range edges {
		g.SetEdge(g.NewEdge(simple.Node(e[0]), simple.Node(e[1])))
	}
	return g
}

func (g *testGraph) Term(id int64) term.Term { return term.String(g.names[id]) }

// gen adds the node's own name: a reaching-names analysis.
func gen(_ context.Context, node, in term.Term) (term.Term, error) {
	return Union{}.Join(in, term.List(node)), nil
}

func TestForwardUnionWithLoop(t *testing.T) {
	// a -> b -> c, c -> b
	g := newTestGraph([]string{"a", "b", "c"}, [][2]int64{{0, 1}, {1, 2}, {2, 1}})
	res, err := Solve(context.Background(), g, []Property{{Name: "reach", Lattice: Union{}, Transfer: gen}})
	require.NoError(t, err)

	v := res["reach"]
	assert.Equal(t, `["a"]`, v.Out[0].String())
	assert.Equal(t, `["a", "b", "c"]`, v.In[1].String())
	assert.Equal(t, `["a", "b", "c"]`, v.Out[2].String())
}

func TestBackward(t *testing.T) {
	g := newTestGraph([]string{"a", "b", "c"}, [][2]int64{{0, 1}, {1, 2}})
	res, err := Solve(context.Background(), g, []Property{{
		Name: "live", Direction: Backward, Lattice: Union{}, Transfer: gen,
		Initial: term.List(term.String("exit")),
	}})
	require.NoError(t, err)
	assert.Equal(t, `["c", "exit"]`, res["live"].Out[2].String())
	assert.Equal(t, `["a", "b", "c", "exit"]`, res["live"].Out[0].String())
}

func TestIntersectionAtJoin(t *testing.T) {
	// a -> b, a -> c, b -> d, c -> d
	g := newTestGraph([]string{"a", "b", "c", "d"}, [][2]int64{{0, 1}, {0, 2}, {1, 3}, {2, 3}})
	res, err := Solve(context.Background(), g, []Property{{
		Name: "must", Lattice: Intersection{}, Initial: term.List(), Transfer: gen,
	}})
	require.NoError(t, err)
	assert.Equal(t, `["a"]`, res["must"].In[3].String())
}

func TestTransferErrorAndNoConvergence(t *testing.T) {
	g := newTestGraph([]string{"a", "b"}, [][2]int64{{0, 1}, {1, 0}})
	boom := errors.New("boom")
	_, err := Solve(context.Background(), g, []Property{{
		Name: "p", Lattice: Union{},
		Transfer: func(context.Context, term.Term, term.Term) (term.Term, error) { return term.Term{}, boom },
	}})
	assert.ErrorIs(t, err, boom)

	n := int64(0)
	_, err = Solve(context.Background(), g, []Property{{
		Name: "grow", Lattice: Union{},
		Transfer: func(_ context.Context, _ term.Term, in term.Term) (term.Term, error) {
			n++
			return Union{}.Join(in, term.List(term.Int(n))), nil
		},
	}})
	assert.ErrorIs(t, err, ErrNoConvergence)
}

func TestCancelled(t *testing.T) {
	g := newTestGraph([]string{"a"}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Solve(ctx, g, []Property{{Name: "p", Lattice: Union{}, Transfer: gen}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestLatticeByName(t *testing.T) {
	l, ok := LatticeByName("must")
	require.True(t, ok)
	assert.IsType(t, Intersection{}, l)
	_, ok = LatticeByName("weird")
	assert.False(t, ok)
}
