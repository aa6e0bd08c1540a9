package planner_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agvfleet/control-plane/internal/graph"
	"github.com/agvfleet/control-plane/internal/planner"
)

// grid builds an n x n 4-connected grid, unit edge cost in both directions.
func grid(n int) *graph.Store {
	src := graph.Source{}
	id := func(x, y int) graph.NodeID { return graph.NodeID(y*n + x) }
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			src.Nodes = append(src.Nodes, graph.Node{ID: id(x, y), X: float64(x), Y: float64(y), Open: true})
		}
	}
	addEdge := func(a, b graph.NodeID) {
		src.Edges = append(src.Edges,
			struct {
				From, To graph.NodeID
				Weight   graph.Cost
			}{From: a, To: b, Weight: 1},
			struct {
				From, To graph.NodeID
				Weight   graph.Cost
			}{From: b, To: a, Weight: 1},
		)
	}
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			if x < n-1 {
				addEdge(id(x, y), id(x+1, y))
			}
			if y < n-1 {
				addEdge(id(x, y), id(x, y+1))
			}
		}
	}
	st, err := graph.Load(src)
	if err != nil {
		panic(err)
	}
	return st
}

func TestPlanSingle_StraightLine(t *testing.T) {
	g := grid(5)
	p, err := planner.PlanSingle(g, 0, 4, 50)
	require.NoError(t, err)
	require.Equal(t, []graph.NodeID{0, 1, 2, 3, 4}, p.NodePath())
}

func TestPlanSingle_NoPathWhenGoalClosed(t *testing.T) {
	src := graph.Source{
		Nodes: []graph.Node{
			{ID: 0, X: 0, Y: 0, Open: true},
			{ID: 1, X: 1, Y: 0, Open: false},
		},
		Edges: []struct {
			From, To graph.NodeID
			Weight   graph.Cost
		}{{From: 0, To: 1, Weight: 1}},
	}
	g, err := graph.Load(src)
	require.NoError(t, err)
	_, err = planner.PlanSingle(g, 0, 1, 10)
	require.ErrorIs(t, err, planner.ErrNoPath)
}

func TestPlanPrioritized_PathsShareNoTimedState(t *testing.T) {
	g := grid(3)
	// Robot 0 crosses left-to-right through the middle row, occupying node 4 at t=1.
	// Robot 1 starts on node 4, which is also its goal, so its path is the single
	// state (4, 0). The check is that no (node, t) state appears in both paths.
	reqs := []planner.Request{
		{Start: 3, Goal: 5}, // row 1: 3 -> 4 -> 5
		{Start: 4, Goal: 4}, // already at its goal at t=0
	}
	paths, err := planner.PlanPrioritized(g, reqs, 2, 20)
	require.NoError(t, err)
	require.Len(t, paths, 2)

	occupied := make(map[planner.TimedNode]graph.NodeID)
	for ri, p := range paths {
		for _, tn := range p {
			if other, ok := occupied[tn]; ok {
				t.Fatalf("robots %d and %v both occupy %+v", ri, other, tn)
			}
			occupied[tn] = graph.NodeID(ri)
		}
	}
}

func TestPlanPrioritized_AbortsWholeBatchOnFailure(t *testing.T) {
	src := graph.Source{
		Nodes: []graph.Node{
			{ID: 0, X: 0, Y: 0, Open: true},
			{ID: 1, X: 1, Y: 0, Open: true},
			{ID: 2, X: 2, Y: 0, Open: false},
		},
		Edges: []struct {
			From, To graph.NodeID
			Weight   graph.Cost
		}{{From: 0, To: 1, Weight: 1}},
	}
	g, err := graph.Load(src)
	require.NoError(t, err)

	reqs := []planner.Request{
		{Start: 0, Goal: 1},
		{Start: 0, Goal: 2}, // unreachable: node 2 is closed
	}
	_, err = planner.PlanPrioritized(g, reqs, 1, 10)
	require.ErrorIs(t, err, planner.ErrBatchFailed)
}

func TestNodePath_CollapsesWaits(t *testing.T) {
	p := planner.Path{
		{Node: 1, T: 0},
		{Node: 1, T: 1},
		{Node: 2, T: 2},
		{Node: 2, T: 3},
	}
	require.Equal(t, []graph.NodeID{1, 2}, p.NodePath())
}
