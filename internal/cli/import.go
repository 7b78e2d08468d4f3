package cli

import (
	"encoding/json"
	"io"
	"os"

	"github.com/rcliao/learnsync/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import a snapshot produced by export",
		Long:  "Import a snapshot (file or stdin). Records are appended; offline data entries overwrite matching keys.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runImport,
	}

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	var (
		data []byte
		err  error
	)
	if len(args) == 1 {
		data, err = os.ReadFile(args[0])
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		exitErr("read snapshot", err)
	}

	var snap store.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		exitErr("parse json", err)
	}

	e := openEngine(cmd.Context())
	defer closeEngine(e)

	imported, err := e.Store().Import(cmd.Context(), &snap)
	if err != nil {
		exitErr("import", err)
	}
	printJSON(cmd, map[string]any{"ok": true, "imported": imported})
}
