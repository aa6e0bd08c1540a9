// Package robotreg tracks each robot's position, lifecycle status, and
// per-robot task queue.
//
// Grounded on the original fleet's robot manager: robots are looked up by
// id through a registry, status starts as a plain idle/busy/error
// tri-state, and a FIFO queue holds tasks assigned while the robot is
// already busy. The richer in-transit status vocabulary (moving to shelf,
// picking up, delivering, waiting for pick, returning) comes from how the
// request handler actually drives a robot through a task's sub-task chain
// — those states never appear in the base robot manager's enum, only at
// the point status transitions are issued.
package robotreg

import (
	"errors"
	"fmt"
	"sort"

	"github.com/agvfleet/control-plane/internal/graph"
	"github.com/agvfleet/control-plane/internal/shelfreg"
	"github.com/agvfleet/control-plane/internal/taskstore"
)

// Status is a robot's lifecycle/motion state.
type Status int

const (
	Idle Status = iota
	MovingToShelf
	PickingUpShelf
	DeliveringToWorkstation
	WaitingForPick
	ReturningShelf
	Error
)

func (s Status) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case MovingToShelf:
		return "MOVING_TO_SHELF"
	case PickingUpShelf:
		return "PICKING_UP_SHELF"
	case DeliveringToWorkstation:
		return "DELIVERING_TO_WS"
	case WaitingForPick:
		return "WAITING_FOR_PICK"
	case ReturningShelf:
		return "RETURNING_SHELF"
	case Error:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Busy reports whether this status means the robot cannot accept a new task
// directly (it must queue instead).
func (s Status) Busy() bool {
	return s != Idle
}

// RobotID identifies a robot.
type RobotID int64

// Robot is one fleet vehicle's tracked state.
type Robot struct {
	ID             RobotID
	Name           string
	HomeNode       graph.NodeID
	CurrentNode    graph.NodeID
	Status         Status
	CurrentTask    taskstore.TaskID
	hasCurrentTask bool
	CarryingShelf  shelfreg.ShelfID
	hasShelf       bool
	Queue          []taskstore.TaskID
}

var (
	// ErrNotFound is returned when an operation references an unknown robot.
	ErrNotFound = errors.New("robotreg: robot not found")
	// ErrNoIdleRobot is returned by GetIdle when every robot is busy or errored.
	ErrNoIdleRobot = errors.New("robotreg: no idle robot available")
)

// Registry is the robot registry.
type Registry struct {
	robots map[RobotID]*Robot
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{robots: make(map[RobotID]*Robot)}
}

// Add registers a robot at its home node, idle.
func (r *Registry) Add(id RobotID, name string, home graph.NodeID) {
	r.robots[id] = &Robot{ID: id, Name: name, HomeNode: home, CurrentNode: home, Status: Idle}
}

// Get returns a copy of a robot's current state.
func (r *Registry) Get(id RobotID) (Robot, error) {
	rb, ok := r.robots[id]
	if !ok {
		return Robot{}, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	return *rb, nil
}

// All returns every robot, ordered by ascending id.
func (r *Registry) All() []Robot {
	ids := make([]RobotID, 0, len(r.robots))
	for id := range r.robots {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]Robot, 0, len(ids))
	for _, id := range ids {
		out = append(out, *r.robots[id])
	}
	return out
}

// GetIdle returns the first idle robot, by ascending id, or ErrNoIdleRobot.
func (r *Registry) GetIdle() (RobotID, error) {
	ids := make([]RobotID, 0, len(r.robots))
	for id, rb := range r.robots {
		if rb.Status == Idle {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return 0, ErrNoIdleRobot
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids[0], nil
}

// NearestIdle returns the idle robot whose current node is closest (by g's
// heuristic) to target, tie-broken by lower robot id.
func (r *Registry) NearestIdle(g *graph.Store, target graph.NodeID) (RobotID, error) {
	var best RobotID
	bestDist := -1.0
	found := false
	ids := make([]RobotID, 0, len(r.robots))
	for id := range r.robots {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		rb := r.robots[id]
		if rb.Status != Idle {
			continue
		}
		d := g.Heuristic(rb.CurrentNode, target)
		if !found || d < bestDist {
			found = true
			bestDist = d
			best = id
		}
	}
	if !found {
		return 0, ErrNoIdleRobot
	}
	return best, nil
}

// UpdatePosition records a robot's latest observed node.
func (r *Registry) UpdatePosition(id RobotID, node graph.NodeID) error {
	rb, ok := r.robots[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	rb.CurrentNode = node
	return nil
}

// SetStatus sets a robot's lifecycle status directly.
func (r *Registry) SetStatus(id RobotID, status Status) error {
	rb, ok := r.robots[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	rb.Status = status
	return nil
}

// SetCarrying records which shelf a robot currently has lifted; pass 0 with
// carrying=false to clear it.
func (r *Registry) SetCarrying(id RobotID, shelf shelfreg.ShelfID, carrying bool) error {
	rb, ok := r.robots[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	rb.hasShelf = carrying
	if carrying {
		rb.CarryingShelf = shelf
	} else {
		rb.CarryingShelf = 0
	}
	return nil
}

// RobotCarrying returns the robot currently carrying shelf, if any.
func (r *Registry) RobotCarrying(shelf shelfreg.ShelfID) (RobotID, bool) {
	for id, rb := range r.robots {
		if rb.hasShelf && rb.CarryingShelf == shelf {
			return id, true
		}
	}
	return 0, false
}

// AssignTask starts task on the robot immediately if it is idle, otherwise
// enqueues it for when the robot's current task finishes.
func (r *Registry) AssignTask(id RobotID, task taskstore.TaskID) (startedNow bool, err error) {
	rb, ok := r.robots[id]
	if !ok {
		return false, fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	if rb.Status == Idle {
		rb.CurrentTask = task
		rb.hasCurrentTask = true
		rb.Status = MovingToShelf
		return true, nil
	}
	rb.Queue = append(rb.Queue, task)
	return false, nil
}

// CompleteTask clears the robot's current task and, if its queue is
// non-empty, pops the next task into CurrentTask without changing status
// (the caller decides how to resume it); otherwise marks the robot idle.
// Returns the task id that just completed.
//
// The queue-pop branch is currently unreachable: the orchestrator only ever
// assigns a task to an idle robot, so Queue never fills, matching the
// original fleet's own dispatch pattern. Left in place as the registry's own
// enqueue contract in case a future caller assigns to a busy robot.
func (r *Registry) CompleteTask(id RobotID) (taskstore.TaskID, error) {
	rb, ok := r.robots[id]
	if !ok {
		return "", fmt.Errorf("%w: %d", ErrNotFound, id)
	}
	completed := rb.CurrentTask
	rb.CurrentTask = ""
	rb.hasCurrentTask = false

	if len(rb.Queue) > 0 {
		rb.CurrentTask = rb.Queue[0]
		rb.hasCurrentTask = true
		rb.Queue = rb.Queue[1:]
	} else {
		rb.Status = Idle
	}
	return completed, nil
}

// CurrentTask returns the robot's in-flight task id, if any.
func (r *Registry) CurrentTask(id RobotID) (taskstore.TaskID, bool) {
	rb, ok := r.robots[id]
	if !ok {
		return "", false
	}
	return rb.CurrentTask, rb.hasCurrentTask
}
