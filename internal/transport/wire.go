// Package transport carries fleet events across the wire: an operator
// websocket for task submission and status queries, and an MQTT motion
// fabric for commanding and observing the robots themselves.
//
// Both halves are thin translators. Neither holds fleet state; they turn
// wire messages into orchestrator.Event values and orchestrator.Result /
// orchestrator.MotionCommand values back into wire messages. All state
// lives behind the orchestrator's single event loop, per its own
// single-writer design.
package transport

import (
	"encoding/json"
	"fmt"

	"github.com/agvfleet/control-plane/internal/graph"
	"github.com/agvfleet/control-plane/internal/orchestrator"
	"github.com/agvfleet/control-plane/internal/robotreg"
	"github.com/agvfleet/control-plane/internal/shelfreg"
	"github.com/agvfleet/control-plane/internal/taskstore"
)

// inboundEnvelope is the shape every operator message is decoded against
// first; unused fields for a given type are simply left zero. Field names
// match the wire contract exactly per message type (robot_arrived's "node"
// vs robot_status's "current_node" are genuinely different fields on the
// original fleet's wire, not a naming inconsistency to paper over).
type inboundEnvelope struct {
	Type          string           `json:"type"`
	TaskID        taskstore.TaskID `json:"task_id"`
	WorkstationID int64            `json:"workstation_id"`
	Items         []string         `json:"items"`
	Tasks         []taskEntry      `json:"tasks"`
	RID           int64            `json:"rid"`
	Node          int64            `json:"node"`
	CurrentNode   int64            `json:"current_node"`
	Status        string           `json:"status"`
	Item          string           `json:"item"`
	ShelfID       int64            `json:"shelf_id"`
	WorkerID      int64            `json:"worker_id"`
	WorkerMarker  int64            `json:"worker_marker"`
	ShelfMarker   int64            `json:"shelf_marker"`
}

type taskEntry struct {
	TaskID        taskstore.TaskID `json:"task_id"`
	WorkstationID int64            `json:"workstation_id"`
	Items         []string         `json:"items"`
}

// ErrUnknownMessageType is returned by decodeInbound for a "type" field
// this system does not understand.
var ErrUnknownMessageType = fmt.Errorf("transport: unknown message type")

// decodeInbound parses one operator websocket frame into an
// orchestrator.Event. reply is attached by the caller once the event has a
// destination channel; decodeInbound never sets it.
func decodeInbound(raw []byte) (orchestrator.Event, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return orchestrator.Event{}, fmt.Errorf("transport: decode message: %w", err)
	}

	switch env.Type {
	case "batch_task_request":
		reqs := make([]orchestrator.TaskRequest, 0, len(env.Tasks))
		for _, t := range env.Tasks {
			reqs = append(reqs, orchestrator.TaskRequest{
				ID:          t.TaskID,
				Workstation: graph.NodeID(t.WorkstationID),
				Items:       t.Items,
			})
		}
		return orchestrator.Event{Kind: orchestrator.BatchSubmit, Tasks: reqs}, nil

	case "task_request":
		return orchestrator.Event{
			Kind:  orchestrator.LegacyTaskRequest,
			Robot: robotreg.RobotID(env.WorkerID),
			Node:  graph.NodeID(env.WorkerMarker),
			Shelf: shelfreg.ShelfID(env.ShelfMarker),
		}, nil

	case "pick_complete":
		return orchestrator.Event{Kind: orchestrator.ItemPicked, Task: env.TaskID, Item: env.Item}, nil

	case "robot_arrived":
		return orchestrator.Event{Kind: orchestrator.Arrived, Robot: robotreg.RobotID(env.RID), Node: graph.NodeID(env.Node)}, nil

	case "robot_status":
		return orchestrator.Event{
			Kind:   orchestrator.StatusUpdate,
			Robot:  robotreg.RobotID(env.RID),
			Node:   graph.NodeID(env.CurrentNode),
			Status: env.Status,
		}, nil

	case "status_request":
		return orchestrator.Event{Kind: orchestrator.Snapshot, Query: "fleet_status"}, nil

	case "task_status_request":
		return orchestrator.Event{Kind: orchestrator.Snapshot, Query: "task_status", Task: env.TaskID}, nil

	case "shelf_status_request":
		return orchestrator.Event{Kind: orchestrator.Snapshot, Query: "shelf_status", Shelf: shelfreg.ShelfID(env.ShelfID)}, nil

	default:
		return orchestrator.Event{}, fmt.Errorf("%w: %q", ErrUnknownMessageType, env.Type)
	}
}

// outboundResult is the wire shape of an orchestrator.Result sent back to
// whichever operator requested it.
type outboundResult struct {
	Action  string      `json:"action"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func encodeResult(res orchestrator.Result) ([]byte, error) {
	out := outboundResult{Action: res.Action, Message: res.Message, Data: res.Data}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return json.Marshal(out)
}

// broadcast is an unsolicited push the orchestrator side effects produce
// (a shelf arriving at a station, a task finishing) rather than a reply to
// one specific request.
type broadcast struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func encodeBroadcast(kind string, data interface{}) ([]byte, error) {
	return json.Marshal(broadcast{Type: kind, Data: data})
}
