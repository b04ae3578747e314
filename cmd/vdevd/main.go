// Gray Logic Virtual Devices - Action Chain Service
//
// vdevd hosts virtual devices whose transitions drive real datapoints
// through ordered action chains. A chain writes values over the MQTT state
// bus, optionally pausing before a step for a fixed delay or until another
// datapoint reports an expected value.
//
// Subcommands:
//   - serve:    run the service (REST API, WebSocket events, chain executor)
//   - migrate:  apply, roll back or list database migrations
//   - validate: check a device seed file without starting the service
//   - token:    mint an API access token for a role
//   - version:  print build information
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

func main() {
	// Cancel on Ctrl+C or SIGTERM so serve can shut down gracefully.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}
