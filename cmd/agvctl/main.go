// Command agvctl runs the AGV fleet control plane: it loads the warehouse
// map and fleet configuration, wires the planner, task store, and
// registries into an orchestrator, and serves the operator websocket and
// motion-fabric MQTT connection until interrupted.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}
