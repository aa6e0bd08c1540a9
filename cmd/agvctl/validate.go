package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agvfleet/control-plane/internal/config"
)

var (
	validateConfigFile string
	validateMapFile    string
	validateRobotsFile string
	validateShelfFile  string
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that the configured map, robot roster, and shelf layout load cleanly",
	RunE:  runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateConfigFile, "config", "", "server settings JSON (optional, defaults apply)")
	validateCmd.Flags().StringVar(&validateMapFile, "map", "", "warehouse map JSON (overrides --config's map_file, default map.json)")
	validateCmd.Flags().StringVar(&validateRobotsFile, "robots", "", "robot roster JSON (overrides --config's robot_config_file, default robot_config.json)")
	validateCmd.Flags().StringVar(&validateShelfFile, "shelves", "", "shelf/workstation layout JSON (overrides --config's shelf_config_file, default shelf_config.json)")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadServerConfig(validateConfigFile)
	if err != nil {
		return &configError{err}
	}
	cfg.MapFile = orDefault(validateMapFile, cfg.MapFile)
	cfg.RobotConfigFile = orDefault(validateRobotsFile, cfg.RobotConfigFile)
	cfg.ShelfConfigFile = orDefault(validateShelfFile, cfg.ShelfConfigFile)

	g, shelves, robots, err := buildFleet(cfg)
	if err != nil {
		return &configError{err}
	}

	for _, r := range robots.All() {
		if !g.IsValid(r.HomeNode) {
			return &configError{fmt.Errorf("config: robot %d's home node %d is not in the map", r.ID, r.HomeNode)}
		}
	}
	for _, s := range shelves.All() {
		if !g.IsValid(s.HomeNode) {
			return &configError{fmt.Errorf("config: shelf %d's home node %d is not in the map", s.ID, s.HomeNode)}
		}
	}

	fmt.Printf("map: %d nodes\n", g.Len())
	fmt.Printf("robots: %d\n", len(robots.All()))
	fmt.Printf("shelves: %d\n", len(shelves.All()))
	fmt.Println("OK")
	return nil
}
