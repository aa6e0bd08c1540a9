package graph_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agvfleet/control-plane/internal/graph"
)

func smallGrid() graph.Source {
	src := graph.Source{
		Nodes: []graph.Node{
			{ID: 1, X: 0, Y: 0, Open: true},
			{ID: 2, X: 1, Y: 0, Open: true},
			{ID: 3, X: 2, Y: 0, Open: true},
			{ID: 4, X: 1, Y: 0, Open: false},
		},
	}
	src.Edges = []struct {
		From, To graph.NodeID
		Weight   graph.Cost
	}{
		{From: 1, To: 2, Weight: 1},
		{From: 2, To: 1, Weight: 1},
		{From: 2, To: 3, Weight: 1},
		{From: 3, To: 2, Weight: 1},
	}
	return src
}

func TestLoad_BuildsTraversableTopology(t *testing.T) {
	st, err := graph.Load(smallGrid())
	require.NoError(t, err)
	require.Equal(t, 4, st.Len())

	neigh, costs, err := st.Neighbors(1)
	require.NoError(t, err)
	require.Equal(t, []graph.NodeID{2}, neigh)
	require.Equal(t, []graph.Cost{1}, costs)
}

func TestLoad_RejectsDuplicateNode(t *testing.T) {
	src := smallGrid()
	src.Nodes = append(src.Nodes, graph.Node{ID: 1, X: 9, Y: 9, Open: true})
	_, err := graph.Load(src)
	require.ErrorIs(t, err, graph.ErrDuplicateNode)
}

func TestLoad_RejectsDanglingEdge(t *testing.T) {
	src := smallGrid()
	src.Edges = append(src.Edges, struct {
		From, To graph.NodeID
		Weight   graph.Cost
	}{From: 1, To: 99, Weight: 1})
	_, err := graph.Load(src)
	require.ErrorIs(t, err, graph.ErrNodeNotFound)
}

func TestIsValid_ExcludesClosedNode(t *testing.T) {
	st, err := graph.Load(smallGrid())
	require.NoError(t, err)
	require.True(t, st.IsValid(1))
	require.False(t, st.IsValid(4))
}

func TestNeighbors_FiltersClosedDestinations(t *testing.T) {
	src := smallGrid()
	src.Edges = append(src.Edges, struct {
		From, To graph.NodeID
		Weight   graph.Cost
	}{From: 1, To: 4, Weight: 1})
	st, err := graph.Load(src)
	require.NoError(t, err)

	neigh, _, err := st.Neighbors(1)
	require.NoError(t, err)
	require.NotContains(t, neigh, graph.NodeID(4))
}

func TestHeuristic_IsEuclideanAndAdmissible(t *testing.T) {
	st, err := graph.Load(smallGrid())
	require.NoError(t, err)
	require.InDelta(t, 2.0, st.Heuristic(1, 3), 1e-9)
	require.InDelta(t, 0.0, st.Heuristic(1, 1), 1e-9)
}

func TestNeighbors_UnknownNode(t *testing.T) {
	st, err := graph.Load(smallGrid())
	require.NoError(t, err)
	_, _, err = st.Neighbors(999)
	require.ErrorIs(t, err, graph.ErrNodeNotFound)
}
