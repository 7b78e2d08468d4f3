// Package cli implements the learnsync CLI commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/learnsync/internal/config"
	"github.com/rcliao/learnsync/internal/engine"
	"github.com/rcliao/learnsync/internal/logging"
)

var (
	dbPath       string
	baseURL      string
	envFile      string
	logLevel     string
	startOffline bool
	prettyOut    bool

	cfg config.Config

	// active is the engine opened by the running command, closed by exitErr
	// before the process exits.
	active *engine.Engine
	exit   = os.Exit
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "learnsync",
	Short: "Offline-first sync and content preload for the learning platform",
	Long: "Keeps learner progress, quiz submissions and cached content in a local SQLite store, " +
		"replays captured mutations when the API is reachable and warms content the learner is likely to open next.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = loadConfig(cmd)
		logging.Setup(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	},
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $LEARNSYNC_DB or ~/.learnsync/offline.db)")
	RootCmd.PersistentFlags().StringVarP(&baseURL, "base-url", "u", "", "Remote API base URL (default: $LEARNSYNC_BASE_URL)")
	RootCmd.PersistentFlags().StringVar(&envFile, "env", "", "Load settings from this .env file instead of ./.env")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	RootCmd.PersistentFlags().BoolVar(&startOffline, "offline", false, "Start offline: capture instead of delivering")
	RootCmd.PersistentFlags().BoolVar(&prettyOut, "pretty", false, "Indent JSON output")
}

func loadConfig(cmd *cobra.Command) config.Config {
	var c config.Config
	if envFile != "" {
		c = config.Load(envFile)
	} else {
		c = config.Load()
	}
	if dbPath != "" {
		c.DBPath = dbPath
	}
	if baseURL != "" {
		c.BaseURL = baseURL
	}
	if logLevel != "" {
		c.LogLevel = logLevel
	}
	if cmd.Flags().Changed("offline") {
		c.InitiallyOnline = !startOffline
	}
	return c
}

func openEngine(ctx context.Context, opts ...engine.Option) *engine.Engine {
	e, err := engine.New(cfg, opts...)
	if err != nil {
		exitErr("open engine", err)
	}
	e.Start(ctx)
	active = e
	return e
}

func closeEngine(e *engine.Engine) {
	if active == e {
		active = nil
	}
	if err := e.Close(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "warning: close: %v\n", err)
	}
}

// readInput returns the positional args joined, or stdin when it is piped.
func readInput(args []string) string {
	if len(args) > 0 {
		return strings.Join(args, " ")
	}
	stat, _ := os.Stdin.Stat()
	if (stat.Mode() & os.ModeCharDevice) == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			exitErr("read stdin", err)
		}
		return string(b)
	}
	return ""
}

// readJSON reads a JSON document from args or stdin.
func readJSON(args []string, what string) json.RawMessage {
	in := strings.TrimSpace(readInput(args))
	if in == "" {
		exitErr(what, fmt.Errorf("JSON payload is required (positional arg or stdin)"))
	}
	if !json.Valid([]byte(in)) {
		exitErr(what, fmt.Errorf("payload is not valid JSON"))
	}
	return json.RawMessage(in)
}

func printJSON(cmd *cobra.Command, v any) {
	var (
		b   []byte
		err error
	)
	if prettyOut {
		b, err = json.MarshalIndent(v, "", "  ")
	} else {
		b, err = json.Marshal(v)
	}
	if err != nil {
		exitErr("encode output", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
}

// exitErr reports err and exits. Deferred calls do not run on exit, so the
// active engine is closed here to persist the behavior profile and release
// the store.
func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	if active != nil {
		closeEngine(active)
	}
	exit(1)
}
