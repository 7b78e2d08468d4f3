package store

import (
	"context"
	"database/sql"
)

// Counts holds per-collection row counts. They are always read from the
// database, never cached.
type Counts struct {
	PendingActions  int `json:"pending_actions"`
	CourseProgress  int `json:"course_progress"`
	QuizSubmissions int `json:"quiz_submissions"`
	OfflineData     int `json:"offline_data"`
	SyncQueue       int `json:"sync_queue"`
}

// Stats holds database statistics.
type Stats struct {
	DBPath        string `json:"db_path"`
	DBSizeBytes   int64  `json:"db_size_bytes"`
	SchemaVersion int    `json:"schema_version"`
	Counts        Counts `json:"counts"`
}

func (s *SQLiteStore) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.read(ctx, "count collections", func(db *sql.DB) error {
		return db.QueryRowContext(ctx, `SELECT
			(SELECT COUNT(*) FROM pending_actions),
			(SELECT COUNT(*) FROM course_progress),
			(SELECT COUNT(*) FROM quiz_submissions),
			(SELECT COUNT(*) FROM offline_data),
			(SELECT COUNT(*) FROM sync_queue)`).
			Scan(&c.PendingActions, &c.CourseProgress, &c.QuizSubmissions, &c.OfflineData, &c.SyncQueue)
	})
	return c, err
}

func (s *SQLiteStore) GetDatabaseSize(ctx context.Context) int64 {
	db, err := s.conn(ctx)
	if err != nil {
		return 0
	}
	var pages, pageSize int64
	if err := db.QueryRowContext(ctx, `PRAGMA page_count`).Scan(&pages); err != nil {
		return 0
	}
	if err := db.QueryRowContext(ctx, `PRAGMA page_size`).Scan(&pageSize); err != nil {
		return 0
	}
	return pages * pageSize
}

// Stats returns database statistics.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{DBPath: s.path}

	err := s.read(ctx, "read schema version", func(db *sql.DB) error {
		return db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&st.SchemaVersion)
	})
	if err != nil {
		return nil, err
	}

	counts, err := s.Counts(ctx)
	if err != nil {
		return nil, err
	}
	st.Counts = counts
	st.DBSizeBytes = s.GetDatabaseSize(ctx)
	return st, nil
}
