package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	logs "github.com/danmuck/blockgate/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "blockgate",
		Short: "Game protocol gateway",
		Long: `blockgate accepts game client connections, joins the backing cluster
over the message fabric, and delivers packets produced anywhere in the
cluster to the players connected to this node.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logs.ConfigureRuntime()
		},
	}
	rootCmd.AddCommand(
		runCmd(),
		configCmd(),
		versionCmd(),
	)
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "blockgate: %v\n", err)
		os.Exit(1)
	}
}
