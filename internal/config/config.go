// Package config loads the server's JSON configuration files: the broker
// and listener settings, the warehouse map, the robot roster, and the
// shelf/workstation layout.
//
// Grounded on the original fleet's Config dataclass and its three loader
// methods (PathPlanner._load_map, RobotManager._load_robot_config,
// ShelfManager._load_config): the same four files, the same field names,
// the same defaults. Unlike the original, a missing or malformed map, robot
// or shelf file here is reported to the caller rather than silently falling
// back to a built-in default — the command-line entry point needs to tell a
// configuration mistake apart from a clean start so it can exit with the
// right status code. Only the server settings file falls back to defaults
// when it is absent.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"github.com/agvfleet/control-plane/internal/graph"
	"github.com/agvfleet/control-plane/internal/orchestrator"
	"github.com/agvfleet/control-plane/internal/planner"
)

// ServerConfig holds broker/listener settings and the default planning
// parameters, mirroring the original fleet's Config dataclass.
type ServerConfig struct {
	MQTTHost      string `json:"mqtt_host"`
	MQTTPort      int    `json:"mqtt_port"`
	WebsocketHost string `json:"websocket_host"`
	WebsocketPort int    `json:"websocket_port"`

	MapFile         string `json:"map_file"`
	RobotConfigFile string `json:"robot_config_file"`
	ShelfConfigFile string `json:"shelf_config_file"`

	MaxTime        int64   `json:"max_time"`
	StayTimeAtGoal int64   `json:"stay_time_at_goal"`
	DefaultSpeed   float64 `json:"default_speed"`
}

// DefaultServerConfig mirrors the original fleet's dataclass defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		MQTTHost:        "localhost",
		MQTTPort:        1883,
		WebsocketHost:   "0.0.0.0",
		WebsocketPort:   8765,
		MapFile:         "map.json",
		RobotConfigFile: "robot_config.json",
		ShelfConfigFile: "shelf_config.json",
		MaxTime:         50,
		StayTimeAtGoal:  3,
		DefaultSpeed:    0.3,
	}
}

// LoadServerConfig reads path over top of DefaultServerConfig, so a config
// file only needs to name the fields it overrides. A missing file is not
// an error: the defaults stand. A malformed one is.
func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return ServerConfig{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return ServerConfig{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// OrchestratorConfig translates the planning-related fields into the
// orchestrator's own Config shape.
func (c ServerConfig) OrchestratorConfig() orchestrator.Config {
	cfg := orchestrator.DefaultConfig()
	if c.MaxTime > 0 {
		cfg.MaxTime = planner.Tick(c.MaxTime)
	}
	if c.StayTimeAtGoal > 0 {
		cfg.StayAtGoal = planner.Tick(c.StayTimeAtGoal)
	}
	return cfg
}

// mapFile is the on-disk shape of the warehouse graph, matching
// PathPlanner._load_map's expected JSON: a flat node list with planar
// coordinates and a directed edge list with per-edge cost.
type mapFile struct {
	Nodes []mapNode `json:"nodes"`
	Edges []mapEdge `json:"edges"`
}

type mapNode struct {
	ID int64   `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

type mapEdge struct {
	From int64 `json:"from"`
	To   int64 `json:"to"`
	Cost int64 `json:"cost"`
}

// LoadMap reads a warehouse map file into a graph.Source ready for
// graph.Load. All loaded nodes are open: the map file format has no field
// for closing a node, and the graph store offers no way to close one after
// Load.
func LoadMap(path string) (graph.Source, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return graph.Source{}, fmt.Errorf("config: read map %s: %w", path, err)
	}
	var mf mapFile
	if err := json.Unmarshal(data, &mf); err != nil {
		return graph.Source{}, fmt.Errorf("config: parse map %s: %w", path, err)
	}

	src := graph.Source{Nodes: make([]graph.Node, 0, len(mf.Nodes))}
	for _, n := range mf.Nodes {
		src.Nodes = append(src.Nodes, graph.Node{ID: graph.NodeID(n.ID), X: n.X, Y: n.Y, Open: true})
	}
	for _, e := range mf.Edges {
		src.Edges = append(src.Edges, struct {
			From, To graph.NodeID
			Weight   graph.Cost
		}{From: graph.NodeID(e.From), To: graph.NodeID(e.To), Weight: graph.Cost(e.Cost)})
	}
	return src, nil
}

// RobotSpec is one configured robot: identity plus its home/parking node.
type RobotSpec struct {
	ID       int64
	Name     string
	HomeNode graph.NodeID
}

type robotsFile struct {
	Robots map[string]robotEntry `json:"robots"`
}

type robotEntry struct {
	Name     string `json:"name"`
	HomeNode int64  `json:"home_node"`
}

// LoadRobots reads the robot roster, matching RobotManager._load_robot_config's
// expected shape: a "robots" object keyed by decimal robot id. Results are
// sorted by ascending id so callers get a deterministic registration order.
func LoadRobots(path string) ([]RobotSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read robot config %s: %w", path, err)
	}
	var rf robotsFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("config: parse robot config %s: %w", path, err)
	}

	out := make([]RobotSpec, 0, len(rf.Robots))
	for idStr, entry := range rf.Robots {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: robot config %s: invalid robot id %q: %w", path, idStr, err)
		}
		name := entry.Name
		if name == "" {
			name = fmt.Sprintf("AGV-%d", id)
		}
		out = append(out, RobotSpec{ID: id, Name: name, HomeNode: graph.NodeID(entry.HomeNode)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ShelfSpec is one configured shelf. Per the original fleet's convention,
// a shelf's home/parking node id IS its shelf id: there is one shelf per
// storage slot, not an independent shelf identity that happens to start
// somewhere.
type ShelfSpec struct {
	ID       int64
	Label    string
	Items    []string
	HomeNode graph.NodeID
}

type shelvesFile struct {
	Shelves      map[string]shelfEntry  `json:"shelves"`
	Workstations map[string]interface{} `json:"workstations"`
}

type shelfEntry struct {
	Label string   `json:"label"`
	Items []string `json:"items"`
}

// LoadShelves reads the shelf/workstation layout, matching
// ShelfManager._load_config's expected shape. It returns the configured
// shelves and the sorted list of workstation node ids. The command-line
// entry point discards the workstation list; incoming task requests'
// workstation field is not checked against it.
func LoadShelves(path string) ([]ShelfSpec, []graph.NodeID, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("config: read shelf config %s: %w", path, err)
	}
	var sf shelvesFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, nil, fmt.Errorf("config: parse shelf config %s: %w", path, err)
	}

	shelves := make([]ShelfSpec, 0, len(sf.Shelves))
	for idStr, entry := range sf.Shelves {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("config: shelf config %s: invalid shelf id %q: %w", path, idStr, err)
		}
		label := entry.Label
		if label == "" {
			label = fmt.Sprintf("S%d", id)
		}
		shelves = append(shelves, ShelfSpec{ID: id, Label: label, Items: entry.Items, HomeNode: graph.NodeID(id)})
	}
	sort.Slice(shelves, func(i, j int) bool { return shelves[i].ID < shelves[j].ID })

	workstations := make([]graph.NodeID, 0, len(sf.Workstations))
	for idStr := range sf.Workstations {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			return nil, nil, fmt.Errorf("config: shelf config %s: invalid workstation id %q: %w", path, idStr, err)
		}
		workstations = append(workstations, graph.NodeID(id))
	}
	sort.Slice(workstations, func(i, j int) bool { return workstations[i] < workstations[j] })

	return shelves, workstations, nil
}

