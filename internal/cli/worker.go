package cli

import (
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/learnsync/internal/hostlink"
)

func init() {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Run a background replay worker attached to a hub",
		Long:  "Register with the hub started by 'learnsync serve' and replay queued actions whenever it signals a sync.",
		Run:   runWorker,
	}

	cmd.Flags().String("hub", "", "Hub URL (default: $LEARNSYNC_HOST_URL or http://localhost:7420)")
	cmd.Flags().Duration("retry", 5*time.Second, "Reconnect delay when the hub is unreachable")
	cmd.Flags().Bool("flush-on-start", true, "Run an automatic sync before waiting for signals")

	RootCmd.AddCommand(cmd)
}

func runWorker(cmd *cobra.Command, args []string) {
	hubURL, _ := cmd.Flags().GetString("hub")
	retry, _ := cmd.Flags().GetDuration("retry")
	flushOnStart, _ := cmd.Flags().GetBool("flush-on-start")
	if hubURL == "" {
		hubURL = cfg.HostURL
	}
	if hubURL == "" {
		hubURL = "http://localhost:7420"
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e := openEngine(ctx)
	defer closeEngine(e)

	if flushOnStart {
		res, err := e.Flush(ctx, false)
		if err != nil {
			slog.Warn("startup sync failed", "err", err)
		} else {
			slog.Info("startup sync finished", "delivered", res.Delivered, "failed", res.Failed, "backed_off", res.BackedOff)
		}
	}

	slog.Info("worker following hub", "hub", hubURL)
	hostlink.Follow(ctx, hubURL, e.Worker().HandleMessage, retry, slog.Default())
	slog.Info("worker stopped")
}
