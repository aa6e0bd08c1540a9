package transport

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agvfleet/control-plane/internal/graph"
	"github.com/agvfleet/control-plane/internal/orchestrator"
	"github.com/agvfleet/control-plane/internal/planner"
	"github.com/agvfleet/control-plane/internal/robotreg"
)

func TestDefaultMQTTConfig_UsesOriginalFleetTopics(t *testing.T) {
	cfg := DefaultMQTTConfig("broker.local", 1883)
	require.Equal(t, "/agv/plan", cfg.TopicPlan)
	require.Equal(t, "/agv/shelf_cmd", cfg.TopicShelfCmd)
	require.Equal(t, "/agv/state", cfg.TopicState)
	require.Equal(t, "/agv/arrived", cfg.TopicArrived)
}

func TestPublishCommand_FailsFastWhenNotConnected(t *testing.T) {
	events := make(chan orchestrator.Event, 1)
	m := NewMotionFabric(nil, DefaultMQTTConfig("broker.local", 1883), events)

	err := m.PublishCommand(orchestrator.MotionCommand{
		Robot:    robotreg.RobotID(1),
		NodePath: []graph.NodeID{1, 2, 3},
	})
	require.Error(t, err)
}

func TestBuildPlanPayload_CarriesTimedPathAlongsideNodePath(t *testing.T) {
	cmd := orchestrator.MotionCommand{
		Robot:    robotreg.RobotID(7),
		NodePath: []graph.NodeID{1, 2, 3},
		TimedPath: planner.Path{
			{Node: 1, T: 0},
			{Node: 2, T: 1},
			{Node: 3, T: 2},
		},
		CorrelationID: "job-1",
	}

	payload := buildPlanPayload(cmd)
	require.Len(t, payload.Robots, 1)
	robot := payload.Robots[0]
	require.Equal(t, int64(7), robot.RID)
	require.Equal(t, int64(1), robot.Start)
	require.Equal(t, int64(3), robot.Goal)
	require.Equal(t, []int64{1, 2, 3}, robot.NodePath)
	require.Equal(t, []timedNodeEntry{{Node: 1, T: 0}, {Node: 2, T: 1}, {Node: 3, T: 2}}, robot.TimedPath)
}

func TestPublishCommand_ShelfCommandRoutesToShelfTopic(t *testing.T) {
	events := make(chan orchestrator.Event, 1)
	m := NewMotionFabric(nil, DefaultMQTTConfig("broker.local", 1883), events)

	err := m.PublishCommand(orchestrator.MotionCommand{
		Robot:    robotreg.RobotID(1),
		ShelfCmd: "pickup",
	})
	require.Error(t, err) // still not connected, but exercises the shelf_cmd branch
}
