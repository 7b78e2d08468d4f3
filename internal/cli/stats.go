package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store, sync and preload statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	e := openEngine(cmd.Context())
	defer closeEngine(e)

	stats, err := e.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}
	printJSON(cmd, stats)
}
