package robotreg_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agvfleet/control-plane/internal/graph"
	"github.com/agvfleet/control-plane/internal/robotreg"
	"github.com/agvfleet/control-plane/internal/taskstore"
)

func testGraph(t *testing.T) *graph.Store {
	t.Helper()
	src := graph.Source{Nodes: []graph.Node{
		{ID: 1, X: 0, Y: 0, Open: true},
		{ID: 37, X: 20, Y: 0, Open: true},
		{ID: 9, X: 1, Y: 0, Open: true},
	}}
	g, err := graph.Load(src)
	require.NoError(t, err)
	return g
}

func TestNearestIdle_PicksClosestByHeuristic(t *testing.T) {
	g := testGraph(t)
	r := robotreg.NewRegistry()
	r.Add(1, "AGV-1", 1)
	r.Add(2, "AGV-2", 37)

	id, err := r.NearestIdle(g, 9)
	require.NoError(t, err)
	require.Equal(t, robotreg.RobotID(1), id)
}

func TestAssignTask_QueuesWhenBusy(t *testing.T) {
	r := robotreg.NewRegistry()
	r.Add(1, "AGV-1", 1)

	started, err := r.AssignTask(1, "T1")
	require.NoError(t, err)
	require.True(t, started)

	started, err = r.AssignTask(1, "T2")
	require.NoError(t, err)
	require.False(t, started)

	rb, err := r.Get(1)
	require.NoError(t, err)
	require.Equal(t, robotreg.MovingToShelf, rb.Status)
}

func TestCompleteTask_PopsQueueOrGoesIdle(t *testing.T) {
	r := robotreg.NewRegistry()
	r.Add(1, "AGV-1", 1)
	_, err := r.AssignTask(1, "T1")
	require.NoError(t, err)
	_, err = r.AssignTask(1, "T2")
	require.NoError(t, err)

	completed, err := r.CompleteTask(1)
	require.NoError(t, err)
	require.Equal(t, taskstore.TaskID("T1"), completed)

	cur, ok := r.CurrentTask(1)
	require.True(t, ok)
	require.Equal(t, taskstore.TaskID("T2"), cur)

	completed, err = r.CompleteTask(1)
	require.NoError(t, err)
	require.Equal(t, taskstore.TaskID("T2"), completed)

	rb, err := r.Get(1)
	require.NoError(t, err)
	require.Equal(t, robotreg.Idle, rb.Status)
}

func TestRobotCarrying_TracksShelfAssignment(t *testing.T) {
	r := robotreg.NewRegistry()
	r.Add(1, "AGV-1", 1)
	require.NoError(t, r.SetCarrying(1, 5, true))

	id, ok := r.RobotCarrying(5)
	require.True(t, ok)
	require.Equal(t, robotreg.RobotID(1), id)

	require.NoError(t, r.SetCarrying(1, 0, false))
	_, ok = r.RobotCarrying(5)
	require.False(t, ok)
}

func TestGetIdle_NoneAvailable(t *testing.T) {
	r := robotreg.NewRegistry()
	r.Add(1, "AGV-1", 1)
	require.NoError(t, r.SetStatus(1, robotreg.MovingToShelf))

	_, err := r.GetIdle()
	require.ErrorIs(t, err, robotreg.ErrNoIdleRobot)
}
