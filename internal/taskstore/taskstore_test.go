package taskstore_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agvfleet/control-plane/internal/graph"
	"github.com/agvfleet/control-plane/internal/shelfreg"
	"github.com/agvfleet/control-plane/internal/taskstore"
)

func setup(t *testing.T) (*graph.Store, *shelfreg.Registry) {
	t.Helper()
	src := graph.Source{Nodes: []graph.Node{
		{ID: 9, X: 0, Y: 0, Open: true},
		{ID: 15, X: 10, Y: 0, Open: true},
		{ID: 50, X: 1, Y: 0, Open: true},
		{ID: 51, X: 9, Y: 0, Open: true},
	}}
	g, err := graph.Load(src)
	require.NoError(t, err)

	shelves := shelfreg.NewRegistry([]graph.NodeID{9, 15})
	shelves.Add(shelfreg.Shelf{ID: 1, Items: []string{"A", "B"}, HomeNode: 9})
	shelves.Add(shelfreg.Shelf{ID: 2, Items: []string{"C"}, HomeNode: 15})
	return g, shelves
}

func TestCreateTask_OrdersShelvesByDistanceToWorkstation(t *testing.T) {
	g, shelves := setup(t)
	s := taskstore.NewStore(shelves, g)

	task, err := s.CreateTask("T1", 50, []string{"C", "A"})
	require.NoError(t, err)
	require.Equal(t, []shelfreg.ShelfID{1, 2}, task.ShelfOrder)
	require.Len(t, task.SubTasks, 10)
	require.Equal(t, taskstore.GoToShelf, task.SubTasks[0].Type)
	require.Equal(t, taskstore.WaitPick, task.SubTasks[3].Type)
}

func TestCreateTask_NoShelvesFound(t *testing.T) {
	g, shelves := setup(t)
	s := taskstore.NewStore(shelves, g)

	_, err := s.CreateTask("T1", 50, []string{"Z"})
	require.ErrorIs(t, err, taskstore.ErrNoShelvesFound)
}

func TestHandleItemPicked_ContinuesThenResolvesShelf(t *testing.T) {
	g, shelves := setup(t)
	s := taskstore.NewStore(shelves, g)

	task, err := s.CreateTask("T1", 50, []string{"A", "B"})
	require.NoError(t, err)
	_, err = s.StartTask(task.ID, 7)
	require.NoError(t, err)

	// advance through GO_TO_SHELF, LIFT, DELIVER to reach WAIT_PICK
	_, err = s.HandleSubTaskComplete(task.ID)
	require.NoError(t, err)
	_, err = s.HandleSubTaskComplete(task.ID)
	require.NoError(t, err)
	act, err := s.HandleSubTaskComplete(task.ID)
	require.NoError(t, err)
	require.Equal(t, "wait_picking", act.Kind)

	act, err = s.HandleItemPicked(task.ID, "A")
	require.NoError(t, err)
	require.Equal(t, "continue_picking", act.Kind)
	require.Contains(t, act.Remaining, "B")

	act, err = s.HandleItemPicked(task.ID, "B")
	require.NoError(t, err)
	require.Equal(t, "shelf_done", act.Kind)
	require.Equal(t, "return", act.NextAction)
}

func TestHandleItemPicked_ForwardsWhenAnotherTaskStillNeedsShelf(t *testing.T) {
	g, shelves := setup(t)
	s := taskstore.NewStore(shelves, g)

	t1, err := s.CreateTask("T1", 50, []string{"A"})
	require.NoError(t, err)
	t2, err := s.CreateTask("T2", 51, []string{"B"})
	require.NoError(t, err)
	require.Equal(t, t1.ShelfOrder[0], t2.ShelfOrder[0]) // both need shelf 1

	_, err = s.StartTask(t1.ID, 7)
	require.NoError(t, err)
	_, err = s.HandleSubTaskComplete(t1.ID)
	require.NoError(t, err)
	_, err = s.HandleSubTaskComplete(t1.ID)
	require.NoError(t, err)
	_, err = s.HandleSubTaskComplete(t1.ID)
	require.NoError(t, err)

	act, err := s.HandleItemPicked(t1.ID, "A")
	require.NoError(t, err)
	require.Equal(t, "shelf_done", act.Kind)
	require.Equal(t, "forward", act.NextAction)
	require.Equal(t, graph.NodeID(51), act.ForwardTo)
}

func TestHandleSubTaskComplete_ReturnCompletesTask(t *testing.T) {
	g, shelves := setup(t)
	s := taskstore.NewStore(shelves, g)

	task, err := s.CreateTask("T1", 50, []string{"A", "B"})
	require.NoError(t, err)
	_, err = s.StartTask(task.ID, 7)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = s.HandleSubTaskComplete(task.ID)
		require.NoError(t, err)
	}
	_, err = s.HandleItemPicked(task.ID, "A")
	require.NoError(t, err)
	act, err := s.HandleItemPicked(task.ID, "B")
	require.NoError(t, err)
	require.Equal(t, "return", act.NextAction)

	act, err = s.HandleSubTaskComplete(task.ID)
	require.NoError(t, err)
	require.Equal(t, "task_complete", act.Kind)
}
