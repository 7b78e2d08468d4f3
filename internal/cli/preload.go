package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/learnsync/internal/preload"
)

func init() {
	preloadCmd := &cobra.Command{
		Use:   "preload",
		Short: "Warm content the learner is likely to open next",
	}

	addCmd := &cobra.Command{
		Use:   "add [url...]",
		Short: "Queue urls for preloading and run the queue",
		Args:  cobra.MinimumNArgs(1),
		Run:   runPreloadAdd,
	}
	addCmd.Flags().StringP("type", "t", string(preload.Page), "Content type: course, lesson, quiz, image, api, page")
	addCmd.Flags().StringP("priority", "p", "", "Priority: high, normal, low (default: from the type's strategy)")
	addCmd.Flags().Float64P("weight", "w", 0, "Rank within the priority")
	addCmd.Flags().StringSlice("dep", nil, "Dependency url checked before the item (repeatable)")
	addCmd.Flags().Int64("size", 0, "Estimated size in bytes")
	addCmd.Flags().Bool("queue-only", false, "Queue and print without fetching")
	addCmd.Flags().Duration("timeout", time.Minute, "Give up waiting after this long")

	navCmd := &cobra.Command{
		Use:   "navigate <from> <to>",
		Short: "Record a navigation and preload the pages that usually follow",
		Args:  cobra.ExactArgs(2),
		Run:   runPreloadNavigate,
	}
	navCmd.Flags().Duration("timeout", time.Minute, "Give up waiting after this long")

	strategiesCmd := &cobra.Command{
		Use:   "strategies",
		Short: "Print the effective per-type strategy table",
		Run:   runPreloadStrategies,
	}

	behaviorCmd := &cobra.Command{
		Use:   "behavior",
		Short: "Print the learner's behavior profile summary",
		Run:   runPreloadBehavior,
	}
	behaviorCmd.Flags().IntP("limit", "l", 10, "Max urls and edges")

	preloadCmd.AddCommand(addCmd, navCmd, strategiesCmd, behaviorCmd)
	RootCmd.AddCommand(preloadCmd)
}

func runPreloadAdd(cmd *cobra.Command, args []string) {
	typ, _ := cmd.Flags().GetString("type")
	prio, _ := cmd.Flags().GetString("priority")
	weight, _ := cmd.Flags().GetFloat64("weight")
	deps, _ := cmd.Flags().GetStringSlice("dep")
	size, _ := cmd.Flags().GetInt64("size")
	queueOnly, _ := cmd.Flags().GetBool("queue-only")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	if !preload.ContentType(typ).Valid() {
		exitErr("preload", fmt.Errorf("invalid content type %q", typ))
	}
	if prio != "" {
		if _, err := preload.ParsePriority(prio); err != nil {
			exitErr("preload", err)
		}
	}
	if queueOnly {
		cfg.InitiallyOnline = false
	}

	e := openEngine(cmd.Context())
	defer closeEngine(e)

	for _, u := range args {
		if _, err := e.Preloader().Add(preload.Item{
			URL:           u,
			Type:          preload.ContentType(typ),
			Priority:      preload.Priority(prio),
			Weight:        weight,
			Dependencies:  deps,
			EstimatedSize: size,
		}); err != nil {
			exitErr("preload", err)
		}
	}
	if queueOnly {
		printJSON(cmd, e.Preloader().Queue())
		return
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	if err := e.Preloader().Wait(ctx); err != nil {
		exitErr("preload", err)
	}
	printJSON(cmd, e.Preloader().Stats())
}

func runPreloadNavigate(cmd *cobra.Command, args []string) {
	timeout, _ := cmd.Flags().GetDuration("timeout")

	e := openEngine(cmd.Context())
	defer closeEngine(e)

	n := e.Preloader().Navigate(args[0], args[1])

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	if err := e.Preloader().Wait(ctx); err != nil {
		exitErr("preload navigate", err)
	}
	printJSON(cmd, map[string]any{"ok": true, "predicted": n, "stats": e.Preloader().Stats()})
}

func runPreloadStrategies(cmd *cobra.Command, args []string) {
	s, err := preload.LoadStrategies(cfg.StrategiesFile)
	if err != nil {
		exitErr("load strategies", err)
	}
	printJSON(cmd, s)
}

func runPreloadBehavior(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")

	e := openEngine(cmd.Context())
	defer closeEngine(e)

	printJSON(cmd, e.Behavior().Summary(limit))
}
