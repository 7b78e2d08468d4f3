package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete all local data (logout)",
		Long:  "Destroy and recreate the local store, clear the behavior profile and drop queued preloads. Irreversible without --backup.",
		Run:   runReset,
	}

	cmd.Flags().Bool("yes", false, "Confirm the reset (required)")
	cmd.Flags().String("backup", "", "Export a snapshot to this file first")

	RootCmd.AddCommand(cmd)
}

func runReset(cmd *cobra.Command, args []string) {
	yes, _ := cmd.Flags().GetBool("yes")
	backup, _ := cmd.Flags().GetString("backup")

	if !yes {
		exitErr("reset", fmt.Errorf("refusing to delete local data without --yes"))
	}

	e := openEngine(cmd.Context())
	defer closeEngine(e)

	if backup != "" {
		snap, err := e.Store().Export(cmd.Context())
		if err != nil {
			exitErr("backup", err)
		}
		if err := writeSnapshot(backup, snap); err != nil {
			exitErr("backup", err)
		}
	}

	if err := e.Reset(cmd.Context()); err != nil {
		exitErr("reset", err)
	}
	printJSON(cmd, map[string]any{"ok": true, "backup": backup})
}
