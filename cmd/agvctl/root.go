package main

import (
	"errors"

	"github.com/spf13/cobra"
)

// configError marks a failure to load or validate configuration/map/
// roster/shelf files: exit code 1.
type configError struct{ err error }

func (e *configError) Error() string { return e.err.Error() }
func (e *configError) Unwrap() error { return e.err }

// transportError marks a failure to stand up the websocket listener or the
// MQTT broker connection at startup: exit code 2.
type transportError struct{ err error }

func (e *transportError) Error() string { return e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var cfgErr *configError
	if errors.As(err, &cfgErr) {
		return 1
	}
	var transErr *transportError
	if errors.As(err, &transErr) {
		return 2
	}
	return 1
}

var rootCmd = &cobra.Command{
	Use:   "agvctl",
	Short: "AGV warehouse fleet control plane",
	Long: `agvctl loads a warehouse map and fleet configuration and runs the
single-threaded event loop that plans robot paths, decomposes picking
tasks across mobile shelves, and drives the fleet to completion.`,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
}
