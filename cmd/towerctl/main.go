// Package main provides the towerctl command: the tower controller daemon and
// its operator client.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.binVersion=...".
var binVersion = "dev"

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "towerctl",
		Short:         "towerctl runs and inspects the water tower controller",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "Path to a YAML configuration file")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
