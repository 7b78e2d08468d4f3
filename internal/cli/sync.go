package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/learnsync/internal/apperr"
	"github.com/rcliao/learnsync/internal/engine"
	"github.com/rcliao/learnsync/internal/hostlink"
)

func init() {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay queued actions now",
		Long: "Replay pending actions and sync queue items against the remote API, ignoring retry backoff. " +
			"With --host the request is handed to the background host served by 'learnsync serve' instead.",
		Run: runSync,
	}

	cmd.Flags().Bool("auto", false, "Respect retry backoff like an automatic sync")
	cmd.Flags().String("host", "", "Signal a running hub (e.g. http://localhost:7420) instead of syncing here")
	cmd.Flags().Duration("timeout", 2*time.Minute, "Give up after this long")

	RootCmd.AddCommand(cmd)
}

func runSync(cmd *cobra.Command, args []string) {
	auto, _ := cmd.Flags().GetBool("auto")
	hostURL, _ := cmd.Flags().GetString("host")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	if hostURL != "" {
		e := openEngine(ctx, engine.WithHost(hostlink.NewRemoteHost(hostURL, nil)))
		defer closeEngine(e)
		if err := e.SyncNow(ctx); err != nil {
			exitErr("sync", err)
		}
		printJSON(cmd, map[string]any{"ok": true, "signaled": hostURL, "last_sync": e.Trigger().LastSync()})
		return
	}

	e := openEngine(ctx)
	defer closeEngine(e)
	if !e.Available() {
		exitErr("sync", apperr.New(apperr.StorageUnavailable, "offline features unavailable"))
	}

	res, err := e.Flush(ctx, !auto)
	if err != nil {
		exitErr("sync", err)
	}
	sizes, err := e.Queue().Sizes(ctx)
	if err != nil {
		exitErr("sync", err)
	}
	printJSON(cmd, map[string]any{"ok": true, "result": res, "remaining": sizes})
}
