package transport

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/agvfleet/control-plane/internal/graph"
	"github.com/agvfleet/control-plane/internal/orchestrator"
	"github.com/agvfleet/control-plane/internal/robotreg"
)

// MQTTConfig names the broker and topic layout for the motion fabric.
// Defaults match the original fleet's publisher.
type MQTTConfig struct {
	Host          string
	Port          int
	ClientID      string
	TopicPlan     string
	TopicShelfCmd string
	TopicState    string
	TopicArrived  string
}

// DefaultMQTTConfig mirrors the topic names the original fleet's publisher
// and Webots bridge agree on.
func DefaultMQTTConfig(host string, port int) MQTTConfig {
	return MQTTConfig{
		Host:          host,
		Port:          port,
		ClientID:      "agv-control-plane",
		TopicPlan:     "/agv/plan",
		TopicShelfCmd: "/agv/shelf_cmd",
		TopicState:    "/agv/state",
		TopicArrived:  "/agv/arrived",
	}
}

// MotionFabric is the robots' half of the wire: it publishes plans and
// shelf commands the orchestrator produces, and turns state/arrival
// reports the robots publish back into orchestrator.Events.
//
// Grounded on the original fleet's MQTTPublisher: a single client
// connection, publish-only plan/shelf_cmd topics, and an is-connected
// guard before every publish.
type MotionFabric struct {
	log    *zap.Logger
	cfg    MQTTConfig
	client mqtt.Client
	events chan<- orchestrator.Event
}

// NewMotionFabric builds a disconnected client; call Connect to dial the
// broker. events receives every translated state/arrival report.
func NewMotionFabric(log *zap.Logger, cfg MQTTConfig, events chan<- orchestrator.Event) *MotionFabric {
	if log == nil {
		log = zap.NewNop()
	}
	return &MotionFabric{log: log, cfg: cfg, events: events}
}

// Connect dials the broker and subscribes to the state/arrival topics.
func (m *MotionFabric) Connect() error {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", m.cfg.Host, m.cfg.Port)).
		SetClientID(m.cfg.ClientID).
		SetAutoReconnect(true).
		SetOnConnectHandler(func(mqtt.Client) { m.log.Info("transport: mqtt connected", zap.String("broker", m.cfg.Host)) }).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) { m.log.Warn("transport: mqtt disconnected", zap.Error(err)) })

	m.client = mqtt.NewClient(opts)
	tok := m.client.Connect()
	if tok.WaitTimeout(10*time.Second) && tok.Error() != nil {
		return fmt.Errorf("transport: mqtt connect: %w", tok.Error())
	}
	if !tok.Done() {
		return fmt.Errorf("transport: mqtt connect: timed out")
	}

	if err := m.subscribe(m.cfg.TopicState, m.handleState); err != nil {
		return err
	}
	if err := m.subscribe(m.cfg.TopicArrived, m.handleArrived); err != nil {
		return err
	}
	return nil
}

// Disconnect closes the broker connection.
func (m *MotionFabric) Disconnect() {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(uint(closeGracePeriod / time.Millisecond))
	}
}

// IsConnected reports broker connectivity.
func (m *MotionFabric) IsConnected() bool {
	return m.client != nil && m.client.IsConnected()
}

func (m *MotionFabric) subscribe(topic string, handler mqtt.MessageHandler) error {
	tok := m.client.Subscribe(topic, 0, handler)
	if tok.WaitTimeout(5*time.Second) && tok.Error() != nil {
		return fmt.Errorf("transport: mqtt subscribe %s: %w", topic, tok.Error())
	}
	return nil
}

type statePayload struct {
	RobotID int64  `json:"rid"`
	Node    int64  `json:"node"`
	Status  string `json:"status"`
}

type arrivedPayload struct {
	RobotID int64 `json:"rid"`
	Node    int64 `json:"node"`
}

func (m *MotionFabric) handleState(_ mqtt.Client, msg mqtt.Message) {
	var p statePayload
	if err := json.Unmarshal(msg.Payload(), &p); err != nil {
		m.log.Warn("transport: malformed state message", zap.Error(err))
		return
	}
	m.events <- orchestrator.Event{
		Kind:   orchestrator.StatusUpdate,
		Robot:  robotreg.RobotID(p.RobotID),
		Node:   graph.NodeID(p.Node),
		Status: p.Status,
	}
}

func (m *MotionFabric) handleArrived(_ mqtt.Client, msg mqtt.Message) {
	var p arrivedPayload
	if err := json.Unmarshal(msg.Payload(), &p); err != nil {
		m.log.Warn("transport: malformed arrived message", zap.Error(err))
		return
	}
	m.events <- orchestrator.Event{Kind: orchestrator.Arrived, Robot: robotreg.RobotID(p.RobotID), Node: graph.NodeID(p.Node)}
}

// planPayload is the wire shape the original fleet's publish_plan sends:
// one job per publish, one robot entry per robot whose plan changed.
type planPayload struct {
	JobID   string      `json:"job_id"`
	Planner string      `json:"planner"`
	Robots  []planRobot `json:"robots"`
	Speed   float64     `json:"speed"`
}

type planRobot struct {
	RID       int64            `json:"rid"`
	Start     int64            `json:"start"`
	Goal      int64            `json:"goal"`
	NodePath  []int64          `json:"node_path"`
	TimedPath []timedNodeEntry `json:"timed_path"`
}

type timedNodeEntry struct {
	Node int64 `json:"node"`
	T    int64 `json:"t"`
}

type shelfCmdPayload struct {
	RID       int64  `json:"rid"`
	Command   string `json:"command"`
	ShelfID   int64  `json:"shelf_id"`
	Timestamp int64  `json:"timestamp"`
}

// PublishCommand translates one orchestrator.MotionCommand into either a
// plan publish (plain move) or a shelf_cmd publish (pickup/putdown),
// mirroring publish_single_robot_plan/publish_shelf_command.
func (m *MotionFabric) PublishCommand(cmd orchestrator.MotionCommand) error {
	if cmd.ShelfCmd != "" {
		return m.publishShelfCmd(cmd)
	}
	return m.publishPlan(cmd)
}

func (m *MotionFabric) publishPlan(cmd orchestrator.MotionCommand) error {
	return m.publishJSON(m.cfg.TopicPlan, buildPlanPayload(cmd))
}

func buildPlanPayload(cmd orchestrator.MotionCommand) planPayload {
	nodePath := make([]int64, len(cmd.NodePath))
	for i, n := range cmd.NodePath {
		nodePath[i] = int64(n)
	}
	timedPath := make([]timedNodeEntry, len(cmd.TimedPath))
	for i, tn := range cmd.TimedPath {
		timedPath[i] = timedNodeEntry{Node: int64(tn.Node), T: int64(tn.T)}
	}
	var start, goal int64
	if len(cmd.NodePath) > 0 {
		start = int64(cmd.NodePath[0])
		goal = int64(cmd.NodePath[len(cmd.NodePath)-1])
	}
	return planPayload{
		JobID:   cmd.CorrelationID,
		Planner: "prioritized_astar_with_time_on_graph",
		Speed:   0.3,
		Robots: []planRobot{{
			RID:       int64(cmd.Robot),
			Start:     start,
			Goal:      goal,
			NodePath:  nodePath,
			TimedPath: timedPath,
		}},
	}
}

func (m *MotionFabric) publishShelfCmd(cmd orchestrator.MotionCommand) error {
	payload := shelfCmdPayload{
		RID:       int64(cmd.Robot),
		Command:   cmd.ShelfCmd,
		ShelfID:   int64(cmd.ShelfID),
		Timestamp: time.Now().Unix(),
	}
	return m.publishJSON(m.cfg.TopicShelfCmd, payload)
}

func (m *MotionFabric) publishJSON(topic string, v interface{}) error {
	if m.client == nil || !m.client.IsConnected() {
		return fmt.Errorf("transport: mqtt not connected, dropping publish to %s", topic)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("transport: marshal publish to %s: %w", topic, err)
	}
	tok := m.client.Publish(topic, 0, false, raw)
	tok.Wait()
	return tok.Error()
}

// Run drains commands and publishes each one, until commands is closed or
// ctx-driven cancellation is handled by the caller closing commands.
func (m *MotionFabric) Run(commands <-chan orchestrator.MotionCommand) {
	for cmd := range commands {
		if err := m.PublishCommand(cmd); err != nil {
			m.log.Warn("transport: motion command publish failed", zap.Int64("robot", int64(cmd.Robot)), zap.Error(err))
		}
	}
}
