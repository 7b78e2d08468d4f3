package offline

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"

	"github.com/rcliao/learnsync/internal/logging"
	"github.com/rcliao/learnsync/internal/model"
	"github.com/rcliao/learnsync/internal/store"
)

// Default endpoints used by the progress, quiz and event convenience wrappers.
const (
	ProgressEndpoint = "/api/progress"
	QuizEndpoint     = "/api/quiz-submissions"
	EventsEndpoint   = "/api/events"
)

// EventType is the sync queue type for learning analytics events.
const EventType = "learning-event"

// Sender delivers a pending action to the remote API.
type Sender interface {
	Deliver(ctx context.Context, a model.PendingAction) error
}

// Sizes are queue lengths read from the store, never cached.
type Sizes struct {
	PendingActions int `json:"pending_actions"`
	SyncQueue      int `json:"sync_queue"`
}

// Queue is the durable FIFO of captured mutations. Items stay queued, in
// insertion order, until acknowledged.
type Queue struct {
	store  store.Store
	logger *slog.Logger
}

// NewQueue returns a queue backed by s.
func NewQueue(s store.Store, logger *slog.Logger) *Queue {
	return &Queue{store: s, logger: logging.OrDefault(logger)}
}

// Capture persists a for later delivery and returns its id.
func (q *Queue) Capture(ctx context.Context, a *model.PendingAction) (int64, error) {
	id, err := q.store.AddPendingAction(ctx, a)
	if err != nil {
		q.logger.Error("capture pending action failed", "type", a.Type, "endpoint", a.Endpoint, "err", err)
		return 0, err
	}
	q.logger.Debug("pending action captured", "id", id, "type", a.Type, "endpoint", a.Endpoint)
	return id, nil
}

// Pending returns queued actions in insertion order.
func (q *Queue) Pending(ctx context.Context) ([]model.PendingAction, error) {
	return q.store.GetPendingActions(ctx)
}

// Ack removes a delivered action.
func (q *Queue) Ack(ctx context.Context, id int64) error {
	return q.store.RemovePendingAction(ctx, id)
}

// Defer queues generic work for a replay handler registered under typ.
func (q *Queue) Defer(ctx context.Context, typ string, data json.RawMessage, priority int) (int64, error) {
	item := &model.SyncQueueItem{Type: typ, Data: data, Priority: priority}
	return q.store.AddToSyncQueue(ctx, item)
}

// RecordEvent queues a learning analytics event for upload to EventsEndpoint.
func (q *Queue) RecordEvent(ctx context.Context, data json.RawMessage) (int64, error) {
	id, err := q.Defer(ctx, EventType, data, model.DefaultPriority)
	if err != nil {
		q.logger.Error("queue learning event failed", "err", err)
		return 0, err
	}
	return id, nil
}

// Sizes reads the current queue lengths.
func (q *Queue) Sizes(ctx context.Context) (Sizes, error) {
	c, err := q.store.Counts(ctx)
	if err != nil {
		return Sizes{}, err
	}
	return Sizes{PendingActions: c.PendingActions, SyncQueue: c.SyncQueue}, nil
}

// Submit tries to deliver a immediately when online. When offline, or when
// delivery fails, the action is captured instead. delivered reports which
// path was taken; err is only set when capturing failed too.
func (q *Queue) Submit(ctx context.Context, sender Sender, online bool, a *model.PendingAction) (delivered bool, err error) {
	if a.IdempotencyKey == "" {
		a.IdempotencyKey = uuid.NewString()
	}
	if online && sender != nil {
		derr := sender.Deliver(ctx, *a)
		if derr == nil {
			return true, nil
		}
		q.logger.Info("delivery failed, queueing for sync", "endpoint", a.Endpoint, "err", derr)
	}
	if _, err := q.Capture(ctx, a); err != nil {
		return false, err
	}
	return false, nil
}

// RecordProgress stores a progress record locally and queues its upload.
func (q *Queue) RecordProgress(ctx context.Context, p *model.CourseProgress) (int64, error) {
	if _, err := q.store.StoreCourseProgress(ctx, p); err != nil {
		return 0, err
	}
	payload, err := json.Marshal(p)
	if err != nil {
		return 0, err
	}
	return q.Capture(ctx, &model.PendingAction{
		Type:     "progress-update",
		Endpoint: ProgressEndpoint,
		Method:   "POST",
		Payload:  payload,
	})
}

// RecordQuiz stores a quiz submission locally and queues its upload.
func (q *Queue) RecordQuiz(ctx context.Context, s *model.QuizSubmission) (int64, error) {
	if _, err := q.store.StoreQuizSubmission(ctx, s); err != nil {
		return 0, err
	}
	payload, err := json.Marshal(s)
	if err != nil {
		return 0, err
	}
	return q.Capture(ctx, &model.PendingAction{
		Type:     "quiz-submission",
		Endpoint: QuizEndpoint,
		Method:   "POST",
		Priority: 2,
		Payload:  payload,
	})
}
