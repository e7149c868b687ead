// Package main provides the entry point for the luminal CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luminal-data/luminal/cmd/luminal/commands"
	"github.com/luminal-data/luminal/pkg/version"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "luminal",
		Short: "Luminal - streaming customer data engine",
		Long: `Luminal resolves identities, maintains profiles, and evaluates
segment membership over a stream of IDENTIFY, TRACK, and ALIAS events.

Commands:
  run       Stream events through the engine and emit segment transitions
  profiles  Summarize the profiles produced by an event stream`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewProfilesCommand())
	rootCmd.AddCommand(versionCmd())

	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Fprintf(os.Stdout, "luminal %s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}
