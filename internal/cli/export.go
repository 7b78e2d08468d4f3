package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rcliao/learnsync/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export every collection as JSON",
		Long:  "Export a full snapshot of the local store as JSON, to stdout or a file. Use before reset to keep a backup.",
		Run:   runExport,
	}

	cmd.Flags().StringP("out", "o", "", "Write to this file instead of stdout")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	out, _ := cmd.Flags().GetString("out")

	e := openEngine(cmd.Context())
	defer closeEngine(e)

	snap, err := e.Store().Export(cmd.Context())
	if err != nil {
		exitErr("export", err)
	}
	if out == "" {
		printJSON(cmd, snap)
		return
	}
	if err := writeSnapshot(out, snap); err != nil {
		exitErr("export", err)
	}
	printJSON(cmd, map[string]any{"ok": true, "file": out})
}

func writeSnapshot(path string, snap *store.Snapshot) error {
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, b, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
