package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/rcliao/learnsync/internal/model"
)

// Snapshot is a full copy of every collection.
type Snapshot struct {
	SchemaVersion   int                    `json:"schema_version"`
	ExportedAt      time.Time              `json:"exported_at"`
	PendingActions  []model.PendingAction  `json:"pending_actions"`
	CourseProgress  []model.CourseProgress `json:"course_progress"`
	QuizSubmissions []model.QuizSubmission `json:"quiz_submissions"`
	OfflineData     []model.OfflineEntry   `json:"offline_data"`
	SyncQueue       []model.SyncQueueItem  `json:"sync_queue"`
}

// Export returns a snapshot of the whole store.
func (s *SQLiteStore) Export(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{SchemaVersion: SchemaVersion, ExportedAt: s.stamp()}
	var err error

	if snap.PendingActions, err = s.GetPendingActions(ctx); err != nil {
		return nil, err
	}
	if snap.CourseProgress, err = s.GetStoredCourseProgress(ctx); err != nil {
		return nil, err
	}
	if snap.QuizSubmissions, err = s.GetStoredQuizSubmissions(ctx); err != nil {
		return nil, err
	}
	if snap.OfflineData, err = s.queryOffline(ctx, "export offline data",
		`SELECT key, data, encoding, type, timestamp FROM offline_data ORDER BY key`); err != nil {
		return nil, err
	}
	if snap.SyncQueue, err = s.GetSyncQueue(ctx); err != nil {
		return nil, err
	}
	return snap, nil
}

// Import appends a snapshot in one transaction. Event-like records get new
// local ids; offline data entries are upserted by key. Timestamps, retry
// counts and idempotency keys are preserved.
func (s *SQLiteStore) Import(ctx context.Context, snap *Snapshot) (int, error) {
	imported := 0
	err := s.withTx(ctx, "import snapshot", func(tx *sql.Tx) error {
		for i := range snap.PendingActions {
			a := snap.PendingActions[i]
			if _, err := insertPendingAction(ctx, tx, &a); err != nil {
				return err
			}
			imported++
		}
		for i := range snap.CourseProgress {
			p := snap.CourseProgress[i]
			if _, err := insertCourseProgress(ctx, tx, &p); err != nil {
				return err
			}
			imported++
		}
		for i := range snap.QuizSubmissions {
			q := snap.QuizSubmissions[i]
			if _, err := insertQuizSubmission(ctx, tx, &q); err != nil {
				return err
			}
			imported++
		}
		for _, e := range snap.OfflineData {
			if err := s.upsertOfflineEntry(ctx, tx, e); err != nil {
				return err
			}
			imported++
		}
		for i := range snap.SyncQueue {
			item := snap.SyncQueue[i]
			if _, err := insertSyncQueueItem(ctx, tx, &item); err != nil {
				return err
			}
			imported++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return imported, nil
}
