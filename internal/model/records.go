// Package model defines the records persisted by the offline store.
package model

import (
	"encoding/json"
	"time"
)

// PendingAction is a mutation awaiting delivery to the remote API.
type PendingAction struct {
	ID             int64           `json:"id"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	Endpoint       string          `json:"endpoint"`
	Method         string          `json:"method"`
	Priority       int             `json:"priority"`
	Timestamp      time.Time       `json:"timestamp"`
	RetryCount     int             `json:"retry_count"`
	LastAttemptAt  *time.Time      `json:"last_attempt_at,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// CourseProgress is a locally observed progress event. Later records for the
// same module supersede earlier ones; records are never updated in place.
type CourseProgress struct {
	ID        int64     `json:"id"`
	CourseID  string    `json:"course_id"`
	UserID    string    `json:"user_id"`
	ModuleID  string    `json:"module_id"`
	Completed bool      `json:"completed"`
	Score     *float64  `json:"score,omitempty"`
	TimeSpent *int64    `json:"time_spent,omitempty"` // seconds
	Timestamp time.Time `json:"timestamp"`
}

// QuizSubmission is a locally captured quiz attempt.
type QuizSubmission struct {
	ID        int64             `json:"id"`
	QuizID    string            `json:"quiz_id"`
	UserID    string            `json:"user_id"`
	Answers   []json.RawMessage `json:"answers"`
	Score     float64           `json:"score"`
	TimeSpent int64             `json:"time_spent"` // seconds
	Timestamp time.Time         `json:"timestamp"`
}

// OfflineEntry is a generic cache slot keyed by a caller-chosen string.
type OfflineEntry struct {
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
}

// SyncQueueItem is generic deferred work, distinct from REST replays.
type SyncQueueItem struct {
	ID            int64           `json:"id"`
	Type          string          `json:"type"`
	Data          json.RawMessage `json:"data,omitempty"`
	Priority      int             `json:"priority"`
	Timestamp     time.Time       `json:"timestamp"`
	RetryCount    int             `json:"retry_count"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
}

// DefaultPriority is assigned to queued work that does not set one.
const DefaultPriority = 1

// ValidMethods are the HTTP methods a pending action may replay with.
var ValidMethods = map[string]bool{
	"POST":   true,
	"PUT":    true,
	"PATCH":  true,
	"DELETE": true,
}
