package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/rcliao/learnsync/internal/apperr"
	"github.com/rcliao/learnsync/internal/logging"
)

// SchemaVersion is the schema the store migrates to on open.
const SchemaVersion = 2

// DefaultCompressThreshold is the payload size at which offline data is
// stored snappy-compressed.
const DefaultCompressThreshold = 1024

// ErrNoLocation is the cause reported when no database path is configured.
var ErrNoLocation = errors.New("no persistent storage location configured")

// SQLiteStore implements Store using SQLite. It opens lazily; an open failure
// is remembered and returned as StorageUnavailable by every later call.
type SQLiteStore struct {
	path       string
	compressAt int
	logger     *slog.Logger
	now        func() time.Time

	mu      sync.Mutex
	db      *sql.DB
	initErr error
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *SQLiteStore) { s.logger = l }
}

// WithCompressThreshold sets the offline-data compression threshold in bytes.
// Zero or negative disables compression.
func WithCompressThreshold(n int) Option {
	return func(s *SQLiteStore) { s.compressAt = n }
}

// WithClock overrides the time source used to stamp records.
func WithClock(now func() time.Time) Option {
	return func(s *SQLiteStore) { s.now = now }
}

// NewSQLiteStore returns a store for the database at dbPath. Nothing is
// opened until the first call.
func NewSQLiteStore(dbPath string, opts ...Option) *SQLiteStore {
	s := &SQLiteStore{
		path:       dbPath,
		compressAt: DefaultCompressThreshold,
		now:        time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = logging.OrDefault(s.logger)
	return s
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return s.path
}

func (s *SQLiteStore) Initialize(ctx context.Context) error {
	_, err := s.conn(ctx)
	return err
}

func (s *SQLiteStore) conn(ctx context.Context) (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db, nil
	}
	if s.initErr != nil {
		return nil, s.initErr
	}

	db, err := s.open(ctx)
	if err != nil {
		s.initErr = apperr.Wrap(apperr.StorageUnavailable, "offline storage unavailable", err)
		s.logger.Error("offline storage unavailable", "path", s.path, "err", err)
		return nil, s.initErr
	}
	s.db = db
	return db, nil
}

func (s *SQLiteStore) open(ctx context.Context) (*sql.DB, error) {
	if s.path == "" {
		return nil, ErrNoLocation
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", s.path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// One connection: SQLite has a single writer and every write runs in its
	// own transaction.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := migrate(ctx, db, SchemaVersion); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

var migrations = []struct {
	version int
	stmts   []string
}{
	{1, []string{
		`CREATE TABLE IF NOT EXISTS pending_actions (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			type            TEXT NOT NULL DEFAULT '',
			payload         BLOB,
			endpoint        TEXT NOT NULL,
			method          TEXT NOT NULL,
			priority        INTEGER NOT NULL DEFAULT 1,
			timestamp       INTEGER NOT NULL,
			retry_count     INTEGER NOT NULL DEFAULT 0,
			idempotency_key TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_type ON pending_actions(type)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_timestamp ON pending_actions(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_priority ON pending_actions(priority)`,

		`CREATE TABLE IF NOT EXISTS course_progress (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			course_id  TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			module_id  TEXT NOT NULL,
			completed  INTEGER NOT NULL DEFAULT 0,
			score      REAL,
			time_spent INTEGER,
			timestamp  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_progress_course ON course_progress(course_id)`,
		`CREATE INDEX IF NOT EXISTS idx_progress_user ON course_progress(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_progress_timestamp ON course_progress(timestamp)`,

		`CREATE TABLE IF NOT EXISTS quiz_submissions (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			quiz_id    TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			answers    TEXT NOT NULL DEFAULT '[]',
			score      REAL NOT NULL DEFAULT 0,
			time_spent INTEGER NOT NULL DEFAULT 0,
			timestamp  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_quiz_quiz ON quiz_submissions(quiz_id)`,
		`CREATE INDEX IF NOT EXISTS idx_quiz_user ON quiz_submissions(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_quiz_timestamp ON quiz_submissions(timestamp)`,

		`CREATE TABLE IF NOT EXISTS offline_data (
			key       TEXT PRIMARY KEY,
			data      BLOB NOT NULL,
			encoding  TEXT NOT NULL DEFAULT 'raw',
			type      TEXT NOT NULL,
			timestamp INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_offline_type ON offline_data(type)`,
		`CREATE INDEX IF NOT EXISTS idx_offline_timestamp ON offline_data(timestamp)`,

		`CREATE TABLE IF NOT EXISTS sync_queue (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			type        TEXT NOT NULL,
			data        BLOB,
			priority    INTEGER NOT NULL DEFAULT 1,
			timestamp   INTEGER NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_syncq_type ON sync_queue(type)`,
		`CREATE INDEX IF NOT EXISTS idx_syncq_priority ON sync_queue(priority)`,
		`CREATE INDEX IF NOT EXISTS idx_syncq_timestamp ON sync_queue(timestamp)`,
	}},
	{2, []string{
		`ALTER TABLE pending_actions ADD COLUMN last_attempt_at INTEGER`,
		`ALTER TABLE sync_queue ADD COLUMN last_attempt_at INTEGER`,
	}},
}

// migrate applies every step above the database's user_version up to target.
// Steps are additive only.
func migrate(ctx context.Context, db *sql.DB, target int) error {
	var current int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if current > SchemaVersion {
		return fmt.Errorf("database schema v%d is newer than supported v%d", current, SchemaVersion)
	}

	for _, m := range migrations {
		if m.version <= current || m.version > target {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		for _, stmt := range m.stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("apply v%d: %w", m.version, err)
			}
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`PRAGMA user_version = %d`, m.version)); err != nil {
			tx.Rollback()
			return fmt.Errorf("record v%d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit v%d: %w", m.version, err)
		}
	}
	return nil
}

// ClearAll closes the database, deletes its files and recreates it at the
// current schema. Used for logout and reset flows.
func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	if _, err := s.conn(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	if s.db != nil {
		s.db.Close()
		s.db = nil
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(s.path + suffix); err != nil && !os.IsNotExist(err) {
			s.mu.Unlock()
			return apperr.Wrap(apperr.TransactionFailed, "remove database file", err)
		}
	}
	s.mu.Unlock()

	s.logger.Info("offline store cleared", "path", s.path)
	return s.Initialize(ctx)
}

// Close releases the database handle. The store may be reopened lazily.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// withTx runs fn inside a transaction scoped to this call.
func (s *SQLiteStore) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.TransactionFailed, op, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		if apperr.CodeOf(err) != "" {
			return err
		}
		return apperr.Wrap(apperr.TransactionFailed, op, err)
	}
	if err := tx.Commit(); err != nil {
		return apperr.Wrap(apperr.TransactionFailed, op, err)
	}
	return nil
}

// read runs fn against the open database.
func (s *SQLiteStore) read(ctx context.Context, op string, fn func(db *sql.DB) error) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	if err := fn(db); err != nil {
		if apperr.CodeOf(err) != "" {
			return err
		}
		return apperr.Wrap(apperr.TransactionFailed, op, err)
	}
	return nil
}

func (s *SQLiteStore) stamp() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*t), Valid: true}
}

func fromNullMillis(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMillis(n.Int64)
	return &t
}
