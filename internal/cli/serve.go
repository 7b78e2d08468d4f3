package cli

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/learnsync/internal/engine"
	"github.com/rcliao/learnsync/internal/hostlink"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the sync hub: watch connectivity and signal background workers",
		Long: "Serve the background-host hub. Workers register over WebSocket at /host; the hub probes the remote API " +
			"and broadcasts TRIGGER_SYNC when it comes back online. Other processes can request a sync with POST /signal.",
		Run: runServe,
	}

	cmd.Flags().StringP("listen", "l", "", "Listen address (default: $LEARNSYNC_LISTEN or :7420)")
	cmd.Flags().Bool("embedded-worker", false, "Also run a replay worker inside this process")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	listen, _ := cmd.Flags().GetString("listen")
	embedded, _ := cmd.Flags().GetBool("embedded-worker")
	if listen == "" {
		listen = cfg.ListenAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var e *engine.Engine
	hub := hostlink.NewHub(func(ctx context.Context) (any, error) {
		return e.Stats(ctx)
	}, slog.Default())
	e = openEngine(ctx, engine.WithHost(hub))
	defer closeEngine(e)

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		exitErr("listen", err)
	}
	srv := &http.Server{
		Handler:           hub.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("hub starting", "addr", ln.Addr().String(), "api", e.Remote().BaseURL())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	go e.RunProbe(ctx)
	if embedded {
		go hostlink.Follow(ctx, "http://"+ln.Addr().String(), e.Worker().HandleMessage, 5*time.Second, slog.Default())
	}

	<-ctx.Done()
	slog.Info("shutting down hub")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("hub forced shutdown", "err", err)
	}
	hub.Close()
	slog.Info("hub stopped")
}
