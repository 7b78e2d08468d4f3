package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/learnsync/internal/behavior"
	"github.com/rcliao/learnsync/internal/config"
	"github.com/rcliao/learnsync/internal/engine"
	"github.com/rcliao/learnsync/internal/logging"
	"github.com/rcliao/learnsync/internal/store"
)

func run(t *testing.T, args ...string) []byte {
	t.Helper()
	var out bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetArgs(args)
	require.NoError(t, RootCmd.Execute())
	return out.Bytes()
}

func TestRecordThenSync(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LEARNSYNC_DATA_DIR", dir)
	t.Setenv("LEARNSYNC_LOG_LEVEL", "error")

	var delivered atomic.Int32
	r := chi.NewRouter()
	r.Post("/api/progress", func(w http.ResponseWriter, r *http.Request) {
		delivered.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	r.Post("/api/quiz-submissions", func(w http.ResponseWriter, r *http.Request) {
		delivered.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	db := filepath.Join(dir, "cli.db")
	common := []string{"--db", db, "--base-url", srv.URL, "--offline"}

	run(t, append([]string{"record", "progress", "-c", "c1", "--user", "u1", "-m", "m1", "--completed"}, common...)...)
	run(t, append([]string{"record", "quiz", "-q", "q1", "--user", "u1", "--score", "0.8", `["a","c"]`}, common...)...)

	var sizes struct {
		PendingActions int `json:"pending_actions"`
	}
	require.NoError(t, json.Unmarshal(run(t, append([]string{"pending", "--count"}, common...)...), &sizes))
	assert.Equal(t, 2, sizes.PendingActions)

	var synced struct {
		OK     bool `json:"ok"`
		Result struct {
			Delivered int `json:"delivered"`
		} `json:"result"`
		Remaining struct {
			PendingActions int `json:"pending_actions"`
		} `json:"remaining"`
	}
	require.NoError(t, json.Unmarshal(run(t, append([]string{"sync"}, common...)...), &synced))
	assert.True(t, synced.OK)
	assert.Equal(t, 2, synced.Result.Delivered)
	assert.Zero(t, synced.Remaining.PendingActions)
	assert.Equal(t, int32(2), delivered.Load())

	var stats struct {
		Available bool `json:"available"`
		Store     struct {
			Counts struct {
				CourseProgress  int `json:"course_progress"`
				QuizSubmissions int `json:"quiz_submissions"`
			} `json:"counts"`
		} `json:"store"`
	}
	require.NoError(t, json.Unmarshal(run(t, append([]string{"stats"}, common...)...), &stats))
	assert.True(t, stats.Available)
	assert.Equal(t, 1, stats.Store.Counts.CourseProgress)
	assert.Equal(t, 1, stats.Store.Counts.QuizSubmissions)
}

func TestDataPutGet(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LEARNSYNC_DATA_DIR", dir)
	t.Setenv("LEARNSYNC_LOG_LEVEL", "error")
	common := []string{"--db", filepath.Join(dir, "data.db"), "--offline"}

	run(t, append([]string{"data", "put", "-t", "course", "-i", "42", `{"title":"Go"}`}, common...)...)

	var entry struct {
		Key  string          `json:"key"`
		Type string          `json:"type"`
		ID   string          `json:"id"`
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(run(t, append([]string{"data", "get", "-t", "course", "-i", "42"}, common...)...), &entry))
	assert.Equal(t, "course_42", entry.Key)
	assert.Equal(t, "42", entry.ID)
	assert.JSONEq(t, `{"title":"Go"}`, string(entry.Data))

	ids := run(t, append([]string{"data", "list", "-t", "course", "--ids-only"}, common...)...)
	assert.Equal(t, "42\n", string(ids))
}

func TestRecordEventUploadsOnSync(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LEARNSYNC_DATA_DIR", dir)
	t.Setenv("LEARNSYNC_LOG_LEVEL", "error")

	var events atomic.Int32
	r := chi.NewRouter()
	r.Post("/api/events", func(w http.ResponseWriter, r *http.Request) {
		events.Add(1)
		w.WriteHeader(http.StatusAccepted)
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	common := []string{"--db", filepath.Join(dir, "events.db"), "--base-url", srv.URL, "--offline"}
	run(t, append([]string{"record", "event", `{"event":"lesson-opened","lesson":"l2"}`}, common...)...)

	var sizes struct {
		SyncQueue int `json:"sync_queue"`
	}
	require.NoError(t, json.Unmarshal(run(t, append([]string{"pending", "--count"}, common...)...), &sizes))
	assert.Equal(t, 1, sizes.SyncQueue)

	var synced struct {
		Remaining struct {
			SyncQueue int `json:"sync_queue"`
		} `json:"remaining"`
	}
	require.NoError(t, json.Unmarshal(run(t, append([]string{"sync"}, common...)...), &synced))
	assert.Zero(t, synced.Remaining.SyncQueue)
	assert.Equal(t, int32(1), events.Load())
}

func TestExitErrClosesActiveEngine(t *testing.T) {
	dir := t.TempDir()
	prevCfg, prevExit := cfg, exit
	t.Cleanup(func() { cfg, exit = prevCfg, prevExit })

	cfg = config.Config{
		DBPath:           filepath.Join(dir, "exit.db"),
		SyncInfoPath:     filepath.Join(dir, "lastsync"),
		BaseURL:          "http://127.0.0.1:1",
		MaxConcurrent:    1,
		MaxQueueSize:     10,
		BehaviorDebounce: time.Hour,
		ProbeInterval:    time.Hour,
		RequestTimeout:   time.Second,
	}
	var code int
	exit = func(c int) { code = c }

	e := openEngine(context.Background(), engine.WithLogger(logging.Discard()))
	require.True(t, e.Available())
	e.Behavior().Record("/courses/7")

	exitErr("data get", errors.New("not found"))
	assert.Equal(t, 1, code)
	assert.Nil(t, active)

	s := store.NewSQLiteStore(cfg.DBPath, store.WithLogger(logging.Discard()))
	defer s.Close()
	entry, err := s.GetOfflineData(context.Background(), behavior.ProfileKey)
	require.NoError(t, err)
	assert.Contains(t, string(entry.Data), "/courses/7")
}
