/*
main.go - Application entry point

PURPOSE:

	Command-line entry point of the rental engine. Serves the HTTP API
	and exposes the revenue maintenance jobs as one-shot commands.

COMMANDS:

	serve          Start the HTTP server and the monthly revenue scheduler
	recalculate    Recalculate and persist a month range
	refresh        Recalculate every month that has agreements

STARTUP SEQUENCE (serve):
 1. Load configuration (flags > env > YAML > defaults)
 2. Build the zap logger
 3. Open the store (SQLite, or in-memory when storage.sqlite_path is empty)
 4. Open the cache (Redis when redis.address is set, in-process otherwise)
 5. Create the API handler and router
 6. Start the revenue scheduler and the HTTP server

GRACEFUL SHUTDOWN:

	On SIGINT/SIGTERM:
	1. Stop accepting new connections
	2. Wait for active requests to complete (30s timeout)
	3. Stop the scheduler, waiting for a running recalculation
	4. Close cache and store

EXAMPLES:

	rental-engine serve --config ./config.yaml
	RENTAL_SQLITE_PATH="" rental-engine serve
	rental-engine recalculate --from 2025-01 --to 2025-03
	rental-engine refresh

SEE ALSO:
  - config/config.go: Settings and environment variables
  - api/server.go: Router configuration
  - api/scheduler.go: Monthly recalculation job
*/
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "rental-engine",
		Short:         "Rental unit availability and revenue engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults to $CONFIG_PATH)")

	rootCmd.AddCommand(
		serveCmd(&configPath),
		recalculateCmd(&configPath),
		refreshCmd(&configPath),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
