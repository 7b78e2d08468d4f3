package cli

import (
	"net/http"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/learnsync/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "capture [json-payload]",
		Short: "Send an API mutation, queueing it when the API is unreachable",
		Long: "Send a mutation to the remote API. If the client is offline or delivery fails the action is " +
			"stored in the pending queue and replayed on the next sync. Payload is a positional arg or stdin.",
		Run: runCapture,
	}

	cmd.Flags().StringP("type", "t", "", "Action type (required), e.g. progress-update")
	cmd.Flags().StringP("endpoint", "e", "", "API endpoint (required), e.g. /api/progress")
	cmd.Flags().StringP("method", "m", http.MethodPost, "HTTP method")
	cmd.Flags().IntP("priority", "p", 1, "Replay priority")
	cmd.Flags().Bool("queue-only", false, "Queue without trying to deliver")

	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("endpoint")

	RootCmd.AddCommand(cmd)
}

func runCapture(cmd *cobra.Command, args []string) {
	typ, _ := cmd.Flags().GetString("type")
	endpoint, _ := cmd.Flags().GetString("endpoint")
	method, _ := cmd.Flags().GetString("method")
	priority, _ := cmd.Flags().GetInt("priority")
	queueOnly, _ := cmd.Flags().GetBool("queue-only")

	action := &model.PendingAction{
		Type:     typ,
		Endpoint: endpoint,
		Method:   strings.ToUpper(method),
		Priority: priority,
		Payload:  readJSON(args, "capture"),
	}

	e := openEngine(cmd.Context())
	defer closeEngine(e)

	if queueOnly {
		id, err := e.Queue().Capture(cmd.Context(), action)
		if err != nil {
			exitErr("capture", err)
		}
		printJSON(cmd, map[string]any{"ok": true, "delivered": false, "id": id})
		return
	}

	delivered, err := e.Submit(cmd.Context(), action)
	if err != nil {
		exitErr("capture", err)
	}
	out := map[string]any{"ok": true, "delivered": delivered}
	if !delivered {
		out["id"] = action.ID
		out["idempotency_key"] = action.IdempotencyKey
	}
	printJSON(cmd, out)
}
