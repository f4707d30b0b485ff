package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/narvanalabs/tower-controller/internal/protocol"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Prints the version of the binary.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "towerctl %s (wire v%d, %s %s/%s)\n",
				binVersion, protocol.WireVersion, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}
}
