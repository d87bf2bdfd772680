// Command daemonkitctl is a thin operator CLI over a running daemonkit
// daemon's read-only statistics HTTP plugin, plus offline config
// validation. Grounded on loykin-provisr's cmd/provisr package (main.go's
// buildRoot wiring a cobra root command with flag structs decoupled from
// the command logic, client.go's small http.Client wrapper) generalized
// from "start/stop/register named managed processes over an authenticated
// API" to "read stats from, and validate the config of, a daemonkit
// daemon" — daemonkitctl never starts or stops anything itself, matching
// the core's own "no RPC to remote hosts" non-goal: every subcommand here
// either reads local state or talks to the localhost stats plugin, which
// is an external collaborator, not the core.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}

	root := &cobra.Command{
		Use:   "daemonkitctl",
		Short: "Operate and inspect daemonkit daemons",
	}
	root.PersistentFlags().StringVar(&globalFlags.APIUrl, "api-url", "http://127.0.0.1:8090", "base URL of a daemon's stats plugin")
	root.PersistentFlags().DurationVar(&globalFlags.Timeout, "timeout", defaultTimeout, "HTTP request timeout")

	root.AddCommand(
		createStatsCommand(globalFlags),
		createHealthCommand(globalFlags),
		createValidateCommand(),
	)
	return root
}
