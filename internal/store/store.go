// Package store provides the durable local store: five schema-versioned
// collections persisted in SQLite and usable before any network call succeeds.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rcliao/learnsync/internal/model"
)

// Store defines the durable local store.
type Store interface {
	// Initialize opens or creates the store. Every other method calls it lazily.
	Initialize(ctx context.Context) error

	AddPendingAction(ctx context.Context, a *model.PendingAction) (int64, error)
	GetPendingActions(ctx context.Context) ([]model.PendingAction, error)
	RemovePendingAction(ctx context.Context, id int64) error
	MarkPendingAttempt(ctx context.Context, id int64, at time.Time) error

	StoreCourseProgress(ctx context.Context, p *model.CourseProgress) (int64, error)
	GetStoredCourseProgress(ctx context.Context) ([]model.CourseProgress, error)
	LatestCourseProgress(ctx context.Context, userID, courseID string) ([]model.CourseProgress, error)

	StoreQuizSubmission(ctx context.Context, q *model.QuizSubmission) (int64, error)
	GetStoredQuizSubmissions(ctx context.Context) ([]model.QuizSubmission, error)
	QuizSubmissionsByUser(ctx context.Context, userID string) ([]model.QuizSubmission, error)

	// StoreOfflineData upserts: re-storing a key overwrites its prior content.
	StoreOfflineData(ctx context.Context, key string, data json.RawMessage, typ string) error
	GetOfflineData(ctx context.Context, key string) (*model.OfflineEntry, error)
	GetOfflineDataByType(ctx context.Context, typ string) ([]model.OfflineEntry, error)
	DeleteOfflineData(ctx context.Context, key string) error

	AddToSyncQueue(ctx context.Context, item *model.SyncQueueItem) (int64, error)
	GetSyncQueue(ctx context.Context) ([]model.SyncQueueItem, error)
	RemoveFromSyncQueue(ctx context.Context, id int64) error
	MarkSyncQueueAttempt(ctx context.Context, id int64, at time.Time) error

	Counts(ctx context.Context) (Counts, error)
	// GetDatabaseSize is best effort and returns 0 when unsupported.
	GetDatabaseSize(ctx context.Context) int64
	// ClearAll destroys and recreates the store.
	ClearAll(ctx context.Context) error

	Close() error
}

var _ Store = (*SQLiteStore)(nil)
