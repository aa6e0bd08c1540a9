package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agvfleet/control-plane/internal/config"
	"github.com/agvfleet/control-plane/internal/graph"
	"github.com/agvfleet/control-plane/internal/orchestrator"
	"github.com/agvfleet/control-plane/internal/robotreg"
	"github.com/agvfleet/control-plane/internal/shelfreg"
	"github.com/agvfleet/control-plane/internal/taskstore"
	"github.com/agvfleet/control-plane/internal/transport"
)

var (
	serveConfigFile string
	serveMapFile    string
	serveRobotsFile string
	serveShelfFile  string
	serveNoMQTT     bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the fleet control plane",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveConfigFile, "config", "", "server settings JSON (optional, defaults apply)")
	serveCmd.Flags().StringVar(&serveMapFile, "map", "", "warehouse map JSON (overrides --config's map_file, default map.json)")
	serveCmd.Flags().StringVar(&serveRobotsFile, "robots", "", "robot roster JSON (overrides --config's robot_config_file, default robot_config.json)")
	serveCmd.Flags().StringVar(&serveShelfFile, "shelves", "", "shelf/workstation layout JSON (overrides --config's shelf_config_file, default shelf_config.json)")
	serveCmd.Flags().BoolVar(&serveNoMQTT, "no-mqtt", false, "skip the motion-fabric MQTT connection (for dry runs)")
}

func runServe(cmd *cobra.Command, args []string) error {
	log, err := zap.NewProduction()
	if err != nil {
		log = zap.NewNop()
	}
	defer log.Sync()

	cfg, err := config.LoadServerConfig(serveConfigFile)
	if err != nil {
		return &configError{err}
	}
	cfg.MapFile = orDefault(serveMapFile, cfg.MapFile)
	cfg.RobotConfigFile = orDefault(serveRobotsFile, cfg.RobotConfigFile)
	cfg.ShelfConfigFile = orDefault(serveShelfFile, cfg.ShelfConfigFile)

	g, shelves, robots, err := buildFleet(cfg)
	if err != nil {
		return &configError{err}
	}
	tasks := taskstore.NewStore(shelves, g)

	commands := make(chan orchestrator.MotionCommand, 256)
	orch := orchestrator.New(log, cfg.OrchestratorConfig(), g, shelves, robots, tasks, commands)

	wsEvents := make(chan orchestrator.Event, 64)
	ws := transport.NewWSServer(log, fmt.Sprintf("%s:%d", cfg.WebsocketHost, cfg.WebsocketPort), wsEvents)
	orch.SetNotifier(func(_ orchestrator.Event, res orchestrator.Result) {
		switch res.Action {
		case "task_complete", "shelf_done", "wait_picking", "wait_picking_at_forward_ws":
			ws.Notify(res.Action, res.Data)
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wsErr := make(chan error, 1)
	go func() { wsErr <- ws.Serve(ctx) }()

	var fabric *transport.MotionFabric
	mqttEvents := make(chan orchestrator.Event, 64)
	if !serveNoMQTT {
		fabric = transport.NewMotionFabric(log, transport.DefaultMQTTConfig(cfg.MQTTHost, cfg.MQTTPort), mqttEvents)
		if err := fabric.Connect(); err != nil {
			cancel()
			return &transportError{err}
		}
		defer fabric.Disconnect()
		go fabric.Run(commands)
	} else {
		go drainCommands(ctx, commands, log)
	}

	select {
	case err := <-wsErr:
		if err != nil {
			cancel()
			return &transportError{err}
		}
	case <-time.After(200 * time.Millisecond):
		// Listener came up cleanly; hand wsErr off to be logged if it fails later.
		go func() {
			if err := <-wsErr; err != nil {
				log.Error("transport: websocket server stopped", zap.Error(err))
			}
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	tick := time.NewTicker(time.Second)
	defer tick.Stop()
	tickEvents := make(chan orchestrator.Event)
	go func() {
		for {
			select {
			case <-ctx.Done():
				close(tickEvents)
				return
			case <-tick.C:
				select {
				case tickEvents <- orchestrator.Event{Kind: orchestrator.Tick}:
				case <-ctx.Done():
				}
			}
		}
	}()

	loopDone := make(chan struct{})
	go func() {
		orch.Run(ctx, wsEvents, mqttEvents, tickEvents)
		close(loopDone)
	}()

	log.Info("agvctl: serving",
		zap.String("websocket", fmt.Sprintf("ws://%s:%d/ws", cfg.WebsocketHost, cfg.WebsocketPort)),
		zap.Bool("mqtt_enabled", !serveNoMQTT))

	<-sig
	log.Info("agvctl: shutting down")
	cancel()
	<-loopDone
	return nil
}

func buildFleet(cfg config.ServerConfig) (*graph.Store, *shelfreg.Registry, *robotreg.Registry, error) {
	mapSrc, err := config.LoadMap(cfg.MapFile)
	if err != nil {
		return nil, nil, nil, err
	}
	g, err := graph.Load(mapSrc)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("config: building graph from %s: %w", cfg.MapFile, err)
	}

	shelfSpecs, _, err := config.LoadShelves(cfg.ShelfConfigFile)
	if err != nil {
		return nil, nil, nil, err
	}
	parking := make([]graph.NodeID, 0, len(shelfSpecs))
	for _, s := range shelfSpecs {
		parking = append(parking, s.HomeNode)
	}
	shelves := shelfreg.NewRegistry(parking)
	for _, s := range shelfSpecs {
		shelves.Add(shelfreg.Shelf{ID: shelfreg.ShelfID(s.ID), Items: s.Items, HomeNode: s.HomeNode})
	}

	robotSpecs, err := config.LoadRobots(cfg.RobotConfigFile)
	if err != nil {
		return nil, nil, nil, err
	}
	robots := robotreg.NewRegistry()
	for _, r := range robotSpecs {
		robots.Add(robotreg.RobotID(r.ID), r.Name, r.HomeNode)
	}

	return g, shelves, robots, nil
}

func drainCommands(ctx context.Context, commands <-chan orchestrator.MotionCommand, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-commands:
			log.Info("agvctl: motion command (no-mqtt dry run)", zap.Int64("robot", int64(cmd.Robot)), zap.Any("node_path", cmd.NodePath))
		}
	}
}

func orDefault(flagVal, existing string) string {
	if flagVal != "" {
		return flagVal
	}
	return existing
}
