// Package orchestrator runs the fleet's single-threaded cooperative event
// loop: every mutation to tasks, shelves, robots, and transient planning
// state funnels through one goroutine that drains a fanned-in event
// channel, so no locks are needed in the core.
//
// Event sources (operator requests, robot arrivals, pick-complete reports,
// status pings, and the periodic tick) are merged with
// github.com/niceyeti/channerics/channels.Merge the same way the
// reinforcement-learning worker pool in the example pack fans in
// independent episode-producing goroutines to one consumer. The per-robot
// transition table is grounded directly on the original fleet's request
// handler: GO_TO_SHELF/LIFT/DELIVER/WAIT_PICK/RETURN(or FORWARD), each
// advancing through taskstore and emitting a plan-and-publish side effect.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	channerics "github.com/niceyeti/channerics/channels"

	"github.com/agvfleet/control-plane/internal/graph"
	"github.com/agvfleet/control-plane/internal/planner"
	"github.com/agvfleet/control-plane/internal/robotreg"
	"github.com/agvfleet/control-plane/internal/shelfreg"
	"github.com/agvfleet/control-plane/internal/taskstore"
)

// EventKind names one member of the event alphabet.
type EventKind int

const (
	BatchSubmit EventKind = iota
	LegacyTaskRequest
	Arrived
	ItemPicked
	StatusUpdate
	Tick
	Snapshot
)

// TaskRequest is one entry of a batch_submit event.
type TaskRequest struct {
	ID          taskstore.TaskID
	Workstation graph.NodeID
	Items       []string
}

// Event is the single envelope every source produces; the loop switches on
// Kind to decide which fields are meaningful.
type Event struct {
	Kind EventKind

	// BatchSubmit
	Tasks []TaskRequest

	// Arrived / StatusUpdate / LegacyTaskRequest (Robot doubles as worker_id,
	// Node as worker_marker/workstation, Shelf as shelf_marker — the worker
	// and its robot share one id space, per the fleet's original convention)
	Robot  robotreg.RobotID
	Node   graph.NodeID
	Status string

	// ItemPicked
	Task taskstore.TaskID
	Item string

	// Snapshot: Query selects what to read ("fleet_status", "task_status",
	// "shelf_status"); Task names the task for task_status and is required
	// there; Shelf narrows shelf_status to one shelf, zero value means "all".
	Query string
	Shelf shelfreg.ShelfID

	// Reply, if non-nil, receives a human-readable outcome for request/response
	// transports (the websocket layer uses this; MQTT and tick events leave it nil).
	Reply chan<- Result
}

// Result is what a Reply channel receives once an event has been processed.
// Data carries a query's payload for Snapshot events; other event kinds
// leave it nil.
type Result struct {
	Action  string
	Message string
	Data    interface{}
	Err     error
}

// MotionCommand is a plan-and-publish side effect the loop wants the
// transport layer to carry out: move a robot along node_path, or issue a
// shelf lift/lower at the robot's current position.
type MotionCommand struct {
	Robot         robotreg.RobotID
	NodePath      []graph.NodeID
	TimedPath     planner.Path // full space-time path backing NodePath, empty for a tick re-publish
	ShelfCmd      string       // "pickup", "putdown", or "" for a plain move
	ShelfID       shelfreg.ShelfID
	TargetSeq     int64
	CorrelationID string // unique per publish, survives a process restart unlike TargetSeq
}

// Config parameterizes the loop.
type Config struct {
	MaxTime      planner.Tick
	StayAtGoal   planner.Tick
	ArrivalGrace time.Duration // per-step arrival allowance; no code reads it, so no arrival deadline is enforced
}

// DefaultConfig mirrors the specification's stated defaults.
func DefaultConfig() Config {
	return Config{MaxTime: 50, StayAtGoal: 3, ArrivalGrace: 10 * time.Second}
}

// Orchestrator owns all fleet mutable state and drains events from a single
// merged channel. It is not safe to call any exported state method outside
// Run's goroutine; all external interaction happens by sending an Event.
type Orchestrator struct {
	log *zap.Logger
	cfg Config

	g        *graph.Store
	shelves  *shelfreg.Registry
	robots   *robotreg.Registry
	tasks    *taskstore.Store
	commands chan<- MotionCommand

	seq    int64
	notify func(Event, Result)
}

// SetNotifier registers a hook invoked after every event is handled,
// regardless of whether the event itself carried a Reply channel. The
// websocket transport uses this to broadcast outcomes (a task completing,
// a shelf reaching a station) that originated from an MQTT-side report
// rather than a direct operator request, so every connected operator sees
// it rather than just whoever happened to ask.
func (o *Orchestrator) SetNotifier(fn func(Event, Result)) {
	o.notify = fn
}

// New constructs an Orchestrator. commands receives every motion/shelf side
// effect the loop produces; the caller is expected to drain it into the
// motion-fabric transport.
func New(log *zap.Logger, cfg Config, g *graph.Store, shelves *shelfreg.Registry, robots *robotreg.Registry, tasks *taskstore.Store, commands chan<- MotionCommand) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{log: log, cfg: cfg, g: g, shelves: shelves, robots: robots, tasks: tasks, commands: commands}
}

// Run merges the given event sources and drains them until ctx is
// cancelled. Each event is processed synchronously by this goroutine; no
// other goroutine may touch the orchestrator's registries while Run is
// active.
func (o *Orchestrator) Run(ctx context.Context, sources ...<-chan Event) {
	done := ctx.Done()
	merged := channerics.Merge(done, sources...)
	for {
		select {
		case <-done:
			return
		case ev, ok := <-merged:
			if !ok {
				return
			}
			o.handle(ev)
		}
	}
}

func (o *Orchestrator) handle(ev Event) {
	var res Result
	defer func() {
		if r := recover(); r != nil {
			o.log.Error("event handling panicked, converting to error response", zap.Any("recover", r))
			res = Result{Action: "error", Err: fmt.Errorf("orchestrator: internal error: %v", r)}
		}
		if ev.Reply != nil {
			ev.Reply <- res
		}
		if o.notify != nil {
			o.notify(ev, res)
		}
	}()

	switch ev.Kind {
	case BatchSubmit:
		res = o.handleBatchSubmit(ev.Tasks)
	case LegacyTaskRequest:
		res = o.handleLegacyTaskRequest(ev.Robot, ev.Node, ev.Shelf)
	case Arrived:
		res = o.handleArrived(ev.Robot, ev.Node)
	case ItemPicked:
		res = o.handleItemPicked(ev.Task, ev.Item)
	case StatusUpdate:
		res = o.handleStatusUpdate(ev.Robot, ev.Node, ev.Status)
	case Tick:
		res = o.handleTick()
	case Snapshot:
		res = o.handleSnapshot(ev)
	default:
		res = Result{Action: "error", Err: fmt.Errorf("orchestrator: unknown event kind %v", ev.Kind)}
	}
}

func (o *Orchestrator) handleBatchSubmit(reqs []TaskRequest) Result {
	converted := make([]struct {
		ID          taskstore.TaskID
		Workstation graph.NodeID
		Items       []string
	}, len(reqs))
	for i, r := range reqs {
		converted[i] = struct {
			ID          taskstore.TaskID
			Workstation graph.NodeID
			Items       []string
		}{ID: r.ID, Workstation: r.Workstation, Items: r.Items}
	}

	created, failed := o.tasks.CreateBatch(converted)
	assigned := o.tryAssignPending()

	if len(failed) > 0 {
		o.log.Warn("some tasks had no shelf for their items", zap.Any("failed", failed))
	}
	return Result{Action: "batch_task_response", Message: fmt.Sprintf("created=%d assigned=%d failed=%d", len(created), assigned, len(failed))}
}

// handleLegacyTaskRequest services the single-task compatibility message:
// a worker (sharing its id space with a robot, per the fleet's original
// convention) names its station by worker_marker and a shelf by
// shelf_marker. There is no item list in this legacy shape, so the task
// requests every item currently on the named shelf, then dispatches
// directly to the worker's own robot rather than through NearestIdle —
// unlike a batch submission, the legacy request already names its robot.
func (o *Orchestrator) handleLegacyTaskRequest(rid robotreg.RobotID, workstation graph.NodeID, shelfID shelfreg.ShelfID) Result {
	rb, err := o.robots.Get(rid)
	if err != nil {
		return Result{Action: "error", Err: fmt.Errorf("orchestrator: no robot for worker_id %d: %w", rid, err)}
	}
	if rb.Status.Busy() {
		return Result{Action: "error", Err: fmt.Errorf("orchestrator: worker_id %d's robot is busy", rid)}
	}

	shelf, err := o.shelves.Get(shelfID)
	if err != nil {
		return Result{Action: "error", Err: fmt.Errorf("orchestrator: unknown shelf_marker %d: %w", shelfID, err)}
	}

	taskID := taskstore.TaskID(fmt.Sprintf("legacy-%s", uuid.NewString()))
	task, err := o.tasks.CreateTask(taskID, workstation, shelf.Items)
	if err != nil {
		return Result{Action: "error", Err: err}
	}

	first, err := o.tasks.StartTask(task.ID, int64(rid))
	if err != nil || first == nil {
		return Result{Action: "error", Err: fmt.Errorf("orchestrator: legacy task %s has no first sub-task", task.ID)}
	}
	if _, err := o.robots.AssignTask(rid, task.ID); err != nil {
		return Result{Action: "error", Err: err}
	}
	_ = o.robots.SetStatus(rid, robotreg.MovingToShelf)
	o.planAndPublish(rid, first.Target)

	return Result{Action: "task_response", Message: fmt.Sprintf("task_id=%s", task.ID)}
}

// tryAssignPending takes pending tasks in ascending task-id order (the order
// taskstore.NextPending returns them, which is not necessarily the order
// they were submitted) and binds each to a newly-available robot, repeating
// until no idle robot or no pending task remains.
func (o *Orchestrator) tryAssignPending() int {
	assigned := 0
	for {
		task := o.tasks.NextPending()
		if task == nil {
			break
		}
		var target graph.NodeID
		if len(task.ShelfOrder) > 0 {
			shelf, err := o.shelves.Get(task.ShelfOrder[0])
			if err == nil {
				target = shelf.HomeNode
			}
		}
		robot, err := o.robots.NearestIdle(o.g, target)
		if err != nil {
			break
		}

		first, err := o.tasks.StartTask(task.ID, int64(robot))
		if err != nil || first == nil {
			break
		}
		if _, err := o.robots.AssignTask(robot, task.ID); err != nil {
			break
		}
		_ = o.robots.SetStatus(robot, robotreg.MovingToShelf)
		o.planAndPublish(robot, first.Target)
		assigned++
	}
	return assigned
}

func (o *Orchestrator) handleArrived(rid robotreg.RobotID, node graph.NodeID) Result {
	if err := o.robots.UpdatePosition(rid, node); err != nil {
		return Result{Action: "error", Err: err}
	}

	taskID, ok := o.robots.CurrentTask(rid)
	if !ok {
		return Result{Action: "no_task"}
	}
	task, err := o.tasks.Get(taskID)
	if err != nil {
		return Result{Action: "task_not_found"}
	}
	cur := task.CurrentSubTask()
	if cur == nil {
		return Result{Action: "no_subtask"}
	}

	return o.processArrival(rid, task, *cur)
}

// processArrival mirrors the original fleet's _process_arrival: the
// sub-operation the robot just finished decides the next status, the next
// sub-operation, and which motion/shelf command to emit.
func (o *Orchestrator) processArrival(rid robotreg.RobotID, task *taskstore.Task, cur taskstore.SubTask) Result {
	switch cur.Type {
	case taskstore.GoToShelf:
		if _, err := o.tasks.HandleSubTaskComplete(task.ID); err != nil {
			return Result{Action: "error", Err: err}
		}
		next := task.CurrentSubTask()
		if next == nil || next.Type != taskstore.Lift {
			return Result{Action: "unknown_state"}
		}
		_ = o.robots.SetStatus(rid, robotreg.PickingUpShelf)
		if err := o.shelves.MarkPickedUp(next.Shelf, shelfreg.RobotID(rid)); err != nil {
			return Result{Action: "error", Err: err}
		}
		_ = o.robots.SetCarrying(rid, next.Shelf, true)
		o.publishShelfCmd(rid, "pickup", next.Shelf)

		// LIFT completes synchronously with the same arrived event.
		if _, err := o.tasks.HandleSubTaskComplete(task.ID); err != nil {
			return Result{Action: "error", Err: err}
		}
		deliver := task.CurrentSubTask()
		if deliver == nil || deliver.Type != taskstore.Deliver {
			return Result{Action: "unknown_state"}
		}
		_ = o.robots.SetStatus(rid, robotreg.DeliveringToWorkstation)
		o.planAndPublish(rid, deliver.Target)
		return Result{Action: "delivering_to_ws"}

	case taskstore.Deliver:
		if err := o.shelves.MarkAtStation(cur.Shelf, cur.Target); err != nil {
			return Result{Action: "error", Err: err}
		}
		if _, err := o.tasks.HandleSubTaskComplete(task.ID); err != nil {
			return Result{Action: "error", Err: err}
		}
		next := task.CurrentSubTask()
		if next == nil || next.Type != taskstore.WaitPick {
			return Result{Action: "unknown_state"}
		}
		_ = o.robots.SetStatus(rid, robotreg.WaitingForPick)
		return Result{Action: "wait_picking"}

	case taskstore.Return, taskstore.Forward:
		return o.processReturnOrForward(rid, task, cur)

	default:
		return Result{Action: "unknown_state"}
	}
}

func (o *Orchestrator) processReturnOrForward(rid robotreg.RobotID, task *taskstore.Task, cur taskstore.SubTask) Result {
	if cur.Type == taskstore.Return {
		if err := o.shelves.MarkReturned(cur.Shelf, cur.Target); err != nil {
			return Result{Action: "error", Err: err}
		}
		_ = o.robots.SetCarrying(rid, 0, false)

		act, err := o.tasks.HandleSubTaskComplete(task.ID)
		if err != nil {
			return Result{Action: "error", Err: err}
		}
		switch act.Kind {
		case "task_complete":
			_, _ = o.robots.CompleteTask(rid)
			o.tryAssignPending()
			return Result{Action: "task_complete"}
		case "next_subtask":
			next := task.CurrentSubTask()
			if next == nil {
				return Result{Action: "unknown_state"}
			}
			_ = o.robots.SetStatus(rid, robotreg.MovingToShelf)
			o.planAndPublish(rid, next.Target)
			return Result{Action: "moving_to_next_shelf"}
		}
		return Result{Action: "unknown_state"}
	}

	// FORWARD_SHELF: arrived at the other workstation.
	if err := o.shelves.MarkAtStation(cur.Shelf, cur.Target); err != nil {
		return Result{Action: "error", Err: err}
	}
	if _, err := o.tasks.HandleSubTaskComplete(task.ID); err != nil {
		return Result{Action: "error", Err: err}
	}
	next := task.CurrentSubTask()
	if next == nil || next.Type != taskstore.WaitPick {
		return Result{Action: "unknown_state"}
	}
	_ = o.robots.SetStatus(rid, robotreg.WaitingForPick)
	return Result{Action: "wait_picking_at_forward_ws"}
}

func (o *Orchestrator) handleItemPicked(taskID taskstore.TaskID, item string) Result {
	act, err := o.tasks.HandleItemPicked(taskID, item)
	if err != nil {
		return Result{Action: "error", Err: err}
	}

	switch act.Kind {
	case "continue_picking":
		return Result{Action: "continue_picking", Message: fmt.Sprintf("remaining=%v", act.Remaining)}
	case "shelf_done":
		rid, ok := o.robots.RobotCarrying(act.ShelfID)
		if !ok {
			return Result{Action: "shelf_done_no_robot"}
		}
		o.publishShelfCmd(rid, "putdown", act.ShelfID)
		if act.NextAction == "return" {
			_ = o.robots.SetStatus(rid, robotreg.ReturningShelf)
			o.planAndPublish(rid, act.ReturnTo)
			return Result{Action: "shelf_done", Message: "return_shelf"}
		}
		// Forwarding reuses DeliveringToWorkstation rather than a dedicated
		// FORWARDING status: the robot is doing exactly the same thing (carrying
		// a shelf to a workstation), just on behalf of a different task.
		_ = o.robots.SetStatus(rid, robotreg.DeliveringToWorkstation)
		o.planAndPublish(rid, act.ForwardTo)
		return Result{Action: "shelf_done", Message: "forward_shelf"}
	}
	return Result{Action: "error", Message: "unexpected shelf action"}
}

func (o *Orchestrator) handleStatusUpdate(rid robotreg.RobotID, node graph.NodeID, status string) Result {
	if err := o.robots.UpdatePosition(rid, node); err != nil {
		return Result{Action: "error", Err: err}
	}
	if status != "" {
		if s, ok := parseStatus(status); ok {
			_ = o.robots.SetStatus(rid, s)
		}
	}
	return Result{Action: "robot_status_ack"}
}

// handleTick re-emits the current motion target for every in-flight robot,
// since the motion controller is idempotent on a repeated target.
func (o *Orchestrator) handleTick() Result {
	n := 0
	for _, rb := range o.robots.All() {
		if rb.Status == robotreg.Idle || rb.Status == robotreg.Error {
			continue
		}
		if o.commands == nil {
			continue
		}
		o.seq++
		select {
		case o.commands <- MotionCommand{Robot: rb.ID, NodePath: []graph.NodeID{rb.CurrentNode}, TargetSeq: o.seq, CorrelationID: uuid.NewString()}:
			n++
		default:
		}
	}
	return Result{Action: "tick_ack", Message: fmt.Sprintf("refreshed=%d", n)}
}

// handleSnapshot answers a read-only status query. Routing these through
// the event loop, rather than letting the transport layer read the
// registries directly, keeps the single-writer invariant: every read of
// mutable fleet state happens on this goroutine too.
func (o *Orchestrator) handleSnapshot(ev Event) Result {
	switch ev.Query {
	case "fleet_status":
		return Result{Action: "fleet_status_response", Data: o.robots.All()}
	case "task_status":
		if ev.Task == "" {
			return Result{Action: "error", Err: fmt.Errorf("orchestrator: task_status requires a task id")}
		}
		t, err := o.tasks.Get(ev.Task)
		if err != nil {
			return Result{Action: "error", Err: err}
		}
		return Result{Action: "task_status_response", Data: *t}
	case "shelf_status":
		if ev.Shelf != 0 {
			s, err := o.shelves.Get(ev.Shelf)
			if err != nil {
				return Result{Action: "error", Err: err}
			}
			return Result{Action: "shelf_status_response", Data: s}
		}
		return Result{Action: "shelf_status_response", Data: o.shelves.All()}
	default:
		return Result{Action: "error", Err: fmt.Errorf("orchestrator: unknown query %q", ev.Query)}
	}
}

// planAndPublish runs a single-robot plan from the robot's current node to
// target (no reservation table: simultaneous dispatch uses
// planner.PlanPrioritized instead, but per-event movement never does) and
// emits the resulting node path on the commands channel.
func (o *Orchestrator) planAndPublish(rid robotreg.RobotID, target graph.NodeID) {
	rb, err := o.robots.Get(rid)
	if err != nil {
		o.log.Error("plan_and_publish: robot lookup failed", zap.Error(err))
		return
	}

	path, err := planner.PlanSingle(o.g, rb.CurrentNode, target, o.cfg.MaxTime)
	if err != nil {
		o.log.Warn("no path found", zap.Int64("robot", int64(rid)), zap.Int64("from", int64(rb.CurrentNode)), zap.Int64("to", int64(target)), zap.Error(err))
		return
	}

	o.publish(MotionCommand{Robot: rid, NodePath: path.NodePath(), TimedPath: path})
}

// publishShelfCmd emits a standalone shelf lift/lower command, with no
// accompanying node path: the robot issues this in place, between arriving
// at a shelf or station and moving on.
func (o *Orchestrator) publishShelfCmd(rid robotreg.RobotID, cmd string, shelf shelfreg.ShelfID) {
	o.publish(MotionCommand{Robot: rid, ShelfCmd: cmd, ShelfID: shelf})
}

func (o *Orchestrator) publish(cmd MotionCommand) {
	if o.commands == nil {
		return
	}
	o.seq++
	cmd.TargetSeq = o.seq
	cmd.CorrelationID = uuid.NewString()
	select {
	case o.commands <- cmd:
	default:
		o.log.Warn("motion command dropped: commands channel full", zap.Int64("robot", int64(cmd.Robot)))
	}
}

func parseStatus(s string) (robotreg.Status, bool) {
	switch s {
	case "IDLE":
		return robotreg.Idle, true
	case "MOVING_TO_SHELF":
		return robotreg.MovingToShelf, true
	case "PICKING_UP_SHELF":
		return robotreg.PickingUpShelf, true
	case "DELIVERING_TO_WS":
		return robotreg.DeliveringToWorkstation, true
	case "WAITING_FOR_PICK":
		return robotreg.WaitingForPick, true
	case "RETURNING_SHELF":
		return robotreg.ReturningShelf, true
	case "ERROR":
		return robotreg.Error, true
	default:
		return 0, false
	}
}
