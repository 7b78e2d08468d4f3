package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List queued actions awaiting sync",
		Run:   runPending,
	}

	cmd.Flags().Bool("sync-queue", false, "List generic sync queue items instead of pending actions")
	cmd.Flags().Bool("count", false, "Only output queue sizes")
	cmd.Flags().Bool("ids-only", false, "Only output id and type per line")

	RootCmd.AddCommand(cmd)
}

func runPending(cmd *cobra.Command, args []string) {
	syncQueue, _ := cmd.Flags().GetBool("sync-queue")
	countOnly, _ := cmd.Flags().GetBool("count")
	idsOnly, _ := cmd.Flags().GetBool("ids-only")

	e := openEngine(cmd.Context())
	defer closeEngine(e)

	if countOnly {
		sizes, err := e.Queue().Sizes(cmd.Context())
		if err != nil {
			exitErr("pending", err)
		}
		printJSON(cmd, sizes)
		return
	}

	if syncQueue {
		items, err := e.Store().GetSyncQueue(cmd.Context())
		if err != nil {
			exitErr("pending", err)
		}
		if idsOnly {
			for _, it := range items {
				fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", it.ID, it.Type)
			}
			return
		}
		printJSON(cmd, items)
		return
	}

	actions, err := e.Queue().Pending(cmd.Context())
	if err != nil {
		exitErr("pending", err)
	}
	if idsOnly {
		for _, a := range actions {
			fmt.Fprintf(cmd.OutOrStdout(), "%d %s\n", a.ID, a.Type)
		}
		return
	}
	printJSON(cmd, actions)
}
