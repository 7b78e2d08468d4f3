package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/golang/snappy"
	"github.com/google/uuid"

	"github.com/rcliao/learnsync/internal/apperr"
	"github.com/rcliao/learnsync/internal/model"
)

const (
	encodingRaw    = "raw"
	encodingSnappy = "snappy"
)

// --- pending actions ---

func (s *SQLiteStore) AddPendingAction(ctx context.Context, a *model.PendingAction) (int64, error) {
	if a == nil {
		return 0, apperr.New(apperr.InvalidInput, "pending action is nil")
	}
	a.Method = strings.ToUpper(strings.TrimSpace(a.Method))
	if a.Endpoint == "" {
		return 0, apperr.New(apperr.InvalidInput, "pending action endpoint is required")
	}
	if !model.ValidMethods[a.Method] {
		return 0, apperr.New(apperr.InvalidInput, fmt.Sprintf("invalid method %q (valid: POST, PUT, PATCH, DELETE)", a.Method))
	}
	if a.Priority == 0 {
		a.Priority = model.DefaultPriority
	}
	if a.IdempotencyKey == "" {
		a.IdempotencyKey = uuid.NewString()
	}
	a.Timestamp = s.stamp()
	a.RetryCount = 0
	a.LastAttemptAt = nil

	err := s.withTx(ctx, "add pending action", func(tx *sql.Tx) error {
		id, err := insertPendingAction(ctx, tx, a)
		if err != nil {
			return err
		}
		a.ID = id
		return nil
	})
	if err != nil {
		return 0, err
	}
	return a.ID, nil
}

func insertPendingAction(ctx context.Context, ex execer, a *model.PendingAction) (int64, error) {
	res, err := ex.ExecContext(ctx,
		`INSERT INTO pending_actions (type, payload, endpoint, method, priority, timestamp, retry_count, last_attempt_at, idempotency_key)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Type, nullBytes(a.Payload), a.Endpoint, a.Method, a.Priority,
		toMillis(a.Timestamp), a.RetryCount, nullMillis(a.LastAttemptAt), a.IdempotencyKey)
	if err != nil {
		return 0, fmt.Errorf("insert pending action: %w", err)
	}
	return res.LastInsertId()
}

// GetPendingActions returns every pending action in insertion order.
func (s *SQLiteStore) GetPendingActions(ctx context.Context) ([]model.PendingAction, error) {
	var out []model.PendingAction
	err := s.read(ctx, "get pending actions", func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx,
			`SELECT id, type, payload, endpoint, method, priority, timestamp, retry_count, last_attempt_at, idempotency_key
			 FROM pending_actions ORDER BY id`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var a model.PendingAction
			var payload []byte
			var ts int64
			var last sql.NullInt64
			if err := rows.Scan(&a.ID, &a.Type, &payload, &a.Endpoint, &a.Method, &a.Priority,
				&ts, &a.RetryCount, &last, &a.IdempotencyKey); err != nil {
				return err
			}
			if payload != nil {
				a.Payload = json.RawMessage(payload)
			}
			a.Timestamp = fromMillis(ts)
			a.LastAttemptAt = fromNullMillis(last)
			out = append(out, a)
		}
		return rows.Err()
	})
	return out, err
}

func (s *SQLiteStore) RemovePendingAction(ctx context.Context, id int64) error {
	return s.withTx(ctx, "remove pending action", func(tx *sql.Tx) error {
		return deleteByID(ctx, tx, "pending_actions", "pending action", id)
	})
}

// MarkPendingAttempt records a failed delivery attempt.
func (s *SQLiteStore) MarkPendingAttempt(ctx context.Context, id int64, at time.Time) error {
	return s.withTx(ctx, "mark pending attempt", func(tx *sql.Tx) error {
		return markAttempt(ctx, tx, "pending_actions", "pending action", id, at)
	})
}

// --- course progress ---

func (s *SQLiteStore) StoreCourseProgress(ctx context.Context, p *model.CourseProgress) (int64, error) {
	if p == nil || p.CourseID == "" || p.UserID == "" || p.ModuleID == "" {
		return 0, apperr.New(apperr.InvalidInput, "course progress requires course, user and module ids")
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = s.stamp()
	}

	err := s.withTx(ctx, "store course progress", func(tx *sql.Tx) error {
		id, err := insertCourseProgress(ctx, tx, p)
		if err != nil {
			return err
		}
		p.ID = id
		return nil
	})
	if err != nil {
		return 0, err
	}
	return p.ID, nil
}

func insertCourseProgress(ctx context.Context, ex execer, p *model.CourseProgress) (int64, error) {
	var score sql.NullFloat64
	if p.Score != nil {
		score = sql.NullFloat64{Float64: *p.Score, Valid: true}
	}
	var spent sql.NullInt64
	if p.TimeSpent != nil {
		spent = sql.NullInt64{Int64: *p.TimeSpent, Valid: true}
	}
	res, err := ex.ExecContext(ctx,
		`INSERT INTO course_progress (course_id, user_id, module_id, completed, score, time_spent, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.CourseID, p.UserID, p.ModuleID, p.Completed, score, spent, toMillis(p.Timestamp))
	if err != nil {
		return 0, fmt.Errorf("insert course progress: %w", err)
	}
	return res.LastInsertId()
}

const progressColumns = `id, course_id, user_id, module_id, completed, score, time_spent, timestamp`

func (s *SQLiteStore) GetStoredCourseProgress(ctx context.Context) ([]model.CourseProgress, error) {
	return s.queryProgress(ctx, "get course progress",
		`SELECT `+progressColumns+` FROM course_progress ORDER BY id`)
}

// LatestCourseProgress returns, per module, the most recent record for the
// user in the course.
func (s *SQLiteStore) LatestCourseProgress(ctx context.Context, userID, courseID string) ([]model.CourseProgress, error) {
	return s.queryProgress(ctx, "get latest course progress",
		`SELECT `+progressColumns+` FROM course_progress p
		 WHERE p.user_id = ? AND p.course_id = ?
		   AND p.id = (SELECT MAX(q.id) FROM course_progress q
		               WHERE q.user_id = p.user_id AND q.course_id = p.course_id AND q.module_id = p.module_id)
		 ORDER BY p.module_id`, userID, courseID)
}

func (s *SQLiteStore) queryProgress(ctx context.Context, op, query string, args ...any) ([]model.CourseProgress, error) {
	var out []model.CourseProgress
	err := s.read(ctx, op, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var p model.CourseProgress
			var score sql.NullFloat64
			var spent sql.NullInt64
			var ts int64
			if err := rows.Scan(&p.ID, &p.CourseID, &p.UserID, &p.ModuleID, &p.Completed, &score, &spent, &ts); err != nil {
				return err
			}
			if score.Valid {
				p.Score = &score.Float64
			}
			if spent.Valid {
				p.TimeSpent = &spent.Int64
			}
			p.Timestamp = fromMillis(ts)
			out = append(out, p)
		}
		return rows.Err()
	})
	return out, err
}

// --- quiz submissions ---

func (s *SQLiteStore) StoreQuizSubmission(ctx context.Context, q *model.QuizSubmission) (int64, error) {
	if q == nil || q.QuizID == "" || q.UserID == "" {
		return 0, apperr.New(apperr.InvalidInput, "quiz submission requires quiz and user ids")
	}
	if q.Timestamp.IsZero() {
		q.Timestamp = s.stamp()
	}

	err := s.withTx(ctx, "store quiz submission", func(tx *sql.Tx) error {
		id, err := insertQuizSubmission(ctx, tx, q)
		if err != nil {
			return err
		}
		q.ID = id
		return nil
	})
	if err != nil {
		return 0, err
	}
	return q.ID, nil
}

func insertQuizSubmission(ctx context.Context, ex execer, q *model.QuizSubmission) (int64, error) {
	answers := q.Answers
	if answers == nil {
		answers = []json.RawMessage{}
	}
	b, err := json.Marshal(answers)
	if err != nil {
		return 0, apperr.Wrap(apperr.InvalidInput, "encode quiz answers", err)
	}
	res, err := ex.ExecContext(ctx,
		`INSERT INTO quiz_submissions (quiz_id, user_id, answers, score, time_spent, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		q.QuizID, q.UserID, string(b), q.Score, q.TimeSpent, toMillis(q.Timestamp))
	if err != nil {
		return 0, fmt.Errorf("insert quiz submission: %w", err)
	}
	return res.LastInsertId()
}

const quizColumns = `id, quiz_id, user_id, answers, score, time_spent, timestamp`

func (s *SQLiteStore) GetStoredQuizSubmissions(ctx context.Context) ([]model.QuizSubmission, error) {
	return s.queryQuiz(ctx, "get quiz submissions",
		`SELECT `+quizColumns+` FROM quiz_submissions ORDER BY id`)
}

func (s *SQLiteStore) QuizSubmissionsByUser(ctx context.Context, userID string) ([]model.QuizSubmission, error) {
	return s.queryQuiz(ctx, "get quiz submissions by user",
		`SELECT `+quizColumns+` FROM quiz_submissions WHERE user_id = ? ORDER BY id`, userID)
}

func (s *SQLiteStore) queryQuiz(ctx context.Context, op, query string, args ...any) ([]model.QuizSubmission, error) {
	var out []model.QuizSubmission
	err := s.read(ctx, op, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var q model.QuizSubmission
			var answers string
			var ts int64
			if err := rows.Scan(&q.ID, &q.QuizID, &q.UserID, &answers, &q.Score, &q.TimeSpent, &ts); err != nil {
				return err
			}
			if err := json.Unmarshal([]byte(answers), &q.Answers); err != nil {
				return fmt.Errorf("decode answers for submission %d: %w", q.ID, err)
			}
			q.Timestamp = fromMillis(ts)
			out = append(out, q)
		}
		return rows.Err()
	})
	return out, err
}

// --- offline data ---

func (s *SQLiteStore) StoreOfflineData(ctx context.Context, key string, data json.RawMessage, typ string) error {
	if key == "" {
		return apperr.New(apperr.InvalidInput, "offline data key is required")
	}
	if !json.Valid(data) {
		return apperr.New(apperr.InvalidInput, fmt.Sprintf("offline data for %q is not valid JSON", key))
	}
	e := model.OfflineEntry{Key: key, Data: data, Type: typ, Timestamp: s.stamp()}
	return s.withTx(ctx, "store offline data", func(tx *sql.Tx) error {
		return s.upsertOfflineEntry(ctx, tx, e)
	})
}

func (s *SQLiteStore) upsertOfflineEntry(ctx context.Context, ex execer, e model.OfflineEntry) error {
	blob, encoding := []byte(e.Data), encodingRaw
	if s.compressAt > 0 && len(blob) >= s.compressAt {
		blob, encoding = snappy.Encode(nil, blob), encodingSnappy
	}
	_, err := ex.ExecContext(ctx,
		`INSERT INTO offline_data (key, data, encoding, type, timestamp) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		   data = excluded.data, encoding = excluded.encoding,
		   type = excluded.type, timestamp = excluded.timestamp`,
		e.Key, blob, encoding, e.Type, toMillis(e.Timestamp))
	if err != nil {
		return fmt.Errorf("upsert offline data %q: %w", e.Key, err)
	}
	return nil
}

func (s *SQLiteStore) GetOfflineData(ctx context.Context, key string) (*model.OfflineEntry, error) {
	entries, err := s.queryOffline(ctx, "get offline data",
		`SELECT key, data, encoding, type, timestamp FROM offline_data WHERE key = ?`, key)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, apperr.New(apperr.NotFound, fmt.Sprintf("offline data not found: %s", key))
	}
	return &entries[0], nil
}

func (s *SQLiteStore) GetOfflineDataByType(ctx context.Context, typ string) ([]model.OfflineEntry, error) {
	return s.queryOffline(ctx, "get offline data by type",
		`SELECT key, data, encoding, type, timestamp FROM offline_data WHERE type = ? ORDER BY key`, typ)
}

func (s *SQLiteStore) DeleteOfflineData(ctx context.Context, key string) error {
	return s.withTx(ctx, "delete offline data", func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM offline_data WHERE key = ?`, key)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.New(apperr.NotFound, fmt.Sprintf("offline data not found: %s", key))
		}
		return nil
	})
}

func (s *SQLiteStore) queryOffline(ctx context.Context, op, query string, args ...any) ([]model.OfflineEntry, error) {
	var out []model.OfflineEntry
	err := s.read(ctx, op, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var e model.OfflineEntry
			var blob []byte
			var encoding string
			var ts int64
			if err := rows.Scan(&e.Key, &blob, &encoding, &e.Type, &ts); err != nil {
				return err
			}
			if encoding == encodingSnappy {
				if blob, err = snappy.Decode(nil, blob); err != nil {
					return fmt.Errorf("decode offline data %q: %w", e.Key, err)
				}
			}
			e.Data = json.RawMessage(blob)
			e.Timestamp = fromMillis(ts)
			out = append(out, e)
		}
		return rows.Err()
	})
	return out, err
}

// --- generic sync queue ---

func (s *SQLiteStore) AddToSyncQueue(ctx context.Context, item *model.SyncQueueItem) (int64, error) {
	if item == nil || item.Type == "" {
		return 0, apperr.New(apperr.InvalidInput, "sync queue item type is required")
	}
	if item.Priority == 0 {
		item.Priority = model.DefaultPriority
	}
	item.Timestamp = s.stamp()
	item.RetryCount = 0
	item.LastAttemptAt = nil

	err := s.withTx(ctx, "add to sync queue", func(tx *sql.Tx) error {
		id, err := insertSyncQueueItem(ctx, tx, item)
		if err != nil {
			return err
		}
		item.ID = id
		return nil
	})
	if err != nil {
		return 0, err
	}
	return item.ID, nil
}

func insertSyncQueueItem(ctx context.Context, ex execer, item *model.SyncQueueItem) (int64, error) {
	res, err := ex.ExecContext(ctx,
		`INSERT INTO sync_queue (type, data, priority, timestamp, retry_count, last_attempt_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		item.Type, nullBytes(item.Data), item.Priority, toMillis(item.Timestamp),
		item.RetryCount, nullMillis(item.LastAttemptAt))
	if err != nil {
		return 0, fmt.Errorf("insert sync queue item: %w", err)
	}
	return res.LastInsertId()
}

// GetSyncQueue returns queued items in insertion order.
func (s *SQLiteStore) GetSyncQueue(ctx context.Context) ([]model.SyncQueueItem, error) {
	var out []model.SyncQueueItem
	err := s.read(ctx, "get sync queue", func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx,
			`SELECT id, type, data, priority, timestamp, retry_count, last_attempt_at
			 FROM sync_queue ORDER BY id`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var item model.SyncQueueItem
			var data []byte
			var ts int64
			var last sql.NullInt64
			if err := rows.Scan(&item.ID, &item.Type, &data, &item.Priority, &ts, &item.RetryCount, &last); err != nil {
				return err
			}
			if data != nil {
				item.Data = json.RawMessage(data)
			}
			item.Timestamp = fromMillis(ts)
			item.LastAttemptAt = fromNullMillis(last)
			out = append(out, item)
		}
		return rows.Err()
	})
	return out, err
}

func (s *SQLiteStore) RemoveFromSyncQueue(ctx context.Context, id int64) error {
	return s.withTx(ctx, "remove from sync queue", func(tx *sql.Tx) error {
		return deleteByID(ctx, tx, "sync_queue", "sync queue item", id)
	})
}

func (s *SQLiteStore) MarkSyncQueueAttempt(ctx context.Context, id int64, at time.Time) error {
	return s.withTx(ctx, "mark sync queue attempt", func(tx *sql.Tx) error {
		return markAttempt(ctx, tx, "sync_queue", "sync queue item", id, at)
	})
}

// --- helpers ---

func deleteByID(ctx context.Context, tx *sql.Tx, table, what string, id int64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.NotFound, fmt.Sprintf("%s not found: %d", what, id))
	}
	return nil
}

func markAttempt(ctx context.Context, tx *sql.Tx, table, what string, id int64, at time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE `+table+` SET retry_count = retry_count + 1, last_attempt_at = ? WHERE id = ?`,
		toMillis(at), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.NotFound, fmt.Sprintf("%s not found: %d", what, id))
	}
	return nil
}

func nullBytes(b []byte) any {
	if b == nil {
		return nil
	}
	return []byte(b)
}
