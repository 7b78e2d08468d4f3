package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/learnsync/internal/model"
)

func init() {
	recordCmd := &cobra.Command{
		Use:   "record",
		Short: "Record learner activity locally and queue it for upload",
	}

	progressCmd := &cobra.Command{
		Use:   "progress",
		Short: "Record course progress for a module",
		Run:   runRecordProgress,
	}
	progressCmd.Flags().StringP("course", "c", "", "Course id (required)")
	progressCmd.Flags().String("user", "", "User id (required)")
	progressCmd.Flags().StringP("module", "m", "", "Module id (required)")
	progressCmd.Flags().Bool("completed", false, "Mark the module completed")
	progressCmd.Flags().Float64("score", 0, "Module score")
	progressCmd.Flags().Int64("time-spent", 0, "Seconds spent")
	progressCmd.MarkFlagRequired("course")
	progressCmd.MarkFlagRequired("user")
	progressCmd.MarkFlagRequired("module")

	quizCmd := &cobra.Command{
		Use:   "quiz [answers-json]",
		Short: "Record a quiz submission",
		Long:  "Record a quiz submission. Answers are a JSON array given as a positional arg or stdin.",
		Run:   runRecordQuiz,
	}
	quizCmd.Flags().StringP("quiz", "q", "", "Quiz id (required)")
	quizCmd.Flags().String("user", "", "User id (required)")
	quizCmd.Flags().Float64("score", 0, "Score")
	quizCmd.Flags().Int64("time-spent", 0, "Seconds spent")
	quizCmd.MarkFlagRequired("quiz")
	quizCmd.MarkFlagRequired("user")

	eventCmd := &cobra.Command{
		Use:   "event [json]",
		Short: "Queue a learning analytics event for upload",
		Long:  "Queue a learning analytics event. The JSON event is a positional arg or stdin; it is uploaded on the next sync.",
		Run:   runRecordEvent,
	}

	recordCmd.AddCommand(progressCmd, quizCmd, eventCmd)
	RootCmd.AddCommand(recordCmd)
}

func runRecordProgress(cmd *cobra.Command, args []string) {
	course, _ := cmd.Flags().GetString("course")
	user, _ := cmd.Flags().GetString("user")
	module, _ := cmd.Flags().GetString("module")
	completed, _ := cmd.Flags().GetBool("completed")

	p := &model.CourseProgress{CourseID: course, UserID: user, ModuleID: module, Completed: completed}
	if cmd.Flags().Changed("score") {
		score, _ := cmd.Flags().GetFloat64("score")
		p.Score = &score
	}
	if cmd.Flags().Changed("time-spent") {
		spent, _ := cmd.Flags().GetInt64("time-spent")
		p.TimeSpent = &spent
	}

	e := openEngine(cmd.Context())
	defer closeEngine(e)

	actionID, err := e.Queue().RecordProgress(cmd.Context(), p)
	if err != nil {
		exitErr("record progress", err)
	}
	printJSON(cmd, map[string]any{"ok": true, "progress": p, "pending_action_id": actionID})
}

func runRecordQuiz(cmd *cobra.Command, args []string) {
	quiz, _ := cmd.Flags().GetString("quiz")
	user, _ := cmd.Flags().GetString("user")
	score, _ := cmd.Flags().GetFloat64("score")
	spent, _ := cmd.Flags().GetInt64("time-spent")

	var answers []json.RawMessage
	if raw := readInput(args); raw != "" {
		if err := json.Unmarshal([]byte(raw), &answers); err != nil {
			exitErr("record quiz", fmt.Errorf("answers must be a JSON array: %w", err))
		}
	}

	s := &model.QuizSubmission{QuizID: quiz, UserID: user, Answers: answers, Score: score, TimeSpent: spent}

	e := openEngine(cmd.Context())
	defer closeEngine(e)

	actionID, err := e.Queue().RecordQuiz(cmd.Context(), s)
	if err != nil {
		exitErr("record quiz", err)
	}
	printJSON(cmd, map[string]any{"ok": true, "submission": s, "pending_action_id": actionID})
}

func runRecordEvent(cmd *cobra.Command, args []string) {
	event := readJSON(args, "record event")

	e := openEngine(cmd.Context())
	defer closeEngine(e)

	id, err := e.Queue().RecordEvent(cmd.Context(), event)
	if err != nil {
		exitErr("record event", err)
	}
	printJSON(cmd, map[string]any{"ok": true, "sync_queue_id": id})
}
