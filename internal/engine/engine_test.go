package engine

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/learnsync/internal/apperr"
	"github.com/rcliao/learnsync/internal/config"
	"github.com/rcliao/learnsync/internal/logging"
	"github.com/rcliao/learnsync/internal/model"
	"github.com/rcliao/learnsync/internal/offline"
	"github.com/rcliao/learnsync/internal/preload"
)

type fakeAPI struct {
	mu       sync.Mutex
	progress []string
	keys     []string
	fetched  []string
	pages    int
	events   []string
}

func (f *fakeAPI) routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/api/progress", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.progress = append(f.progress, r.Header.Get("X-Action-Type"))
		f.keys = append(f.keys, r.Header.Get("Idempotency-Key"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	r.Get("/img/*", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.fetched = append(f.fetched, r.URL.Path)
		f.mu.Unlock()
		w.Write([]byte("png"))
	})
	r.Post("/api/events", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.events = append(f.events, r.Header.Get("Idempotency-Key"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	})
	r.Get("/pages/*", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.pages++
		f.mu.Unlock()
	})
	r.Head("/*", func(w http.ResponseWriter, r *http.Request) {})
	return r
}

func (f *fakeAPI) received() (progress, keys, fetched []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.progress...), append([]string(nil), f.keys...), append([]string(nil), f.fetched...)
}

func (f *fakeAPI) pageHits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pages
}

func (f *fakeAPI) eventKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func testConfig(t *testing.T, baseURL string) config.Config {
	t.Helper()
	dir := t.TempDir()
	return config.Config{
		DBPath:           filepath.Join(dir, "offline.db"),
		SyncInfoPath:     filepath.Join(dir, "lastsync"),
		BaseURL:          baseURL,
		MaxConcurrent:    2,
		MaxQueueSize:     10,
		PreloadDelay:     time.Millisecond,
		SettleDelay:      10 * time.Millisecond,
		BehaviorDebounce: time.Hour,
		ProbeInterval:    time.Hour,
		InitiallyOnline:  false,
		ReplayRPS:        100,
		HintRPS:          100,
		HintGrace:        5 * time.Second,
		BackoffBase:      time.Minute,
		BackoffMax:       time.Hour,
		RequestTimeout:   5 * time.Second,
	}
}

func newTestEngine(t *testing.T, cfg config.Config, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	e, err := New(cfg, opts...)
	require.NoError(t, err)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { e.Close(context.Background()) })
	return e
}

func waitIdle(t *testing.T, e *Engine) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.Wait(ctx))
}

func TestReconnectReplaysCapturedProgress(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api.routes())
	defer srv.Close()

	e := newTestEngine(t, testConfig(t, srv.URL))
	ctx := context.Background()
	require.True(t, e.Available())
	require.False(t, e.Trigger().Online())

	for _, mod := range []string{"m1", "m2"} {
		_, err := e.Queue().RecordProgress(ctx, &model.CourseProgress{
			CourseID: "c1", UserID: "u1", ModuleID: mod, Completed: true,
		})
		require.NoError(t, err)
	}
	sizes, err := e.Queue().Sizes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sizes.PendingActions)

	before := time.Now().Add(-time.Second)
	e.SetOnline(ctx, true)
	waitIdle(t, e)

	progress, keys, _ := api.received()
	assert.Equal(t, []string{"progress-update", "progress-update"}, progress)
	assert.NotEqual(t, keys[0], keys[1])

	pending, err := e.Queue().Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.True(t, e.Trigger().LastSync().After(before))

	stored, err := e.Store().GetStoredCourseProgress(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestPreloadPausedWhileOffline(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api.routes())
	defer srv.Close()

	var mu sync.Mutex
	outcomes := map[string]preload.Outcome{}
	e := newTestEngine(t, testConfig(t, srv.URL), WithPreloadObserver(func(it preload.Item, out preload.Outcome, _ error) {
		mu.Lock()
		outcomes[it.URL] = out
		mu.Unlock()
	}))
	ctx := context.Background()

	_, err := e.Preloader().Add(preload.Item{URL: "/img/a.png", Type: preload.Image})
	require.NoError(t, err)
	assert.Len(t, e.Preloader().Queue(), 1)
	assert.True(t, e.Preloader().Stats().Paused)

	e.SetOnline(ctx, true)
	waitIdle(t, e)

	_, _, fetched := api.received()
	assert.Equal(t, []string{"/img/a.png"}, fetched)
	mu.Lock()
	assert.Equal(t, preload.Succeeded, outcomes["/img/a.png"])
	mu.Unlock()
	assert.Equal(t, 1, e.Behavior().Snapshot().FrequentlyAccessed["/img/a.png"])

	e.SetOnline(ctx, false)
	assert.True(t, e.Preloader().Stats().Paused)
}

func TestSubmitDeliversWhenOnline(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api.routes())
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	cfg.InitiallyOnline = true
	e := newTestEngine(t, cfg)
	ctx := context.Background()

	delivered, err := e.Submit(ctx, &model.PendingAction{
		Type: "progress-update", Endpoint: offline.ProgressEndpoint, Method: http.MethodPost, Payload: []byte(`{}`),
	})
	require.NoError(t, err)
	assert.True(t, delivered)

	pending, err := e.Queue().Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestStorageUnavailableKeepsRunning(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.DBPath = ""
	e := newTestEngine(t, cfg)
	ctx := context.Background()

	assert.False(t, e.Available())

	_, err := e.Queue().RecordProgress(ctx, &model.CourseProgress{CourseID: "c", UserID: "u", ModuleID: "m"})
	assert.True(t, apperr.Is(err, apperr.StorageUnavailable))

	st, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.False(t, st.Available)
	assert.Nil(t, st.Store)
	assert.Equal(t, "local", st.Host)

	_, err = e.Preloader().Add(preload.Item{URL: "/pages/home", Type: preload.Page})
	assert.NoError(t, err)
}

type silentHost struct{}

func (silentHost) Controlling() bool                                  { return false }
func (silentHost) PostMessage(context.Context, offline.Message) error { return nil }

func TestSyncNowWithoutControllingHost(t *testing.T) {
	e := newTestEngine(t, testConfig(t, "http://127.0.0.1:1"), WithHost(silentHost{}))

	err := e.SyncNow(context.Background())
	assert.True(t, apperr.Is(err, apperr.SyncSignalUnavailable))
	assert.False(t, e.Trigger().LastSync().IsZero())

	st, err := e.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "external", st.Host)
	require.NotNil(t, st.LastSync)
}

func TestResetClearsEverything(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api.routes())
	defer srv.Close()

	e := newTestEngine(t, testConfig(t, srv.URL))
	ctx := context.Background()

	_, err := e.Queue().RecordQuiz(ctx, &model.QuizSubmission{QuizID: "q1", UserID: "u1", Score: 0.9})
	require.NoError(t, err)
	e.Behavior().Record("/courses/1")
	_, err = e.Preloader().Add(preload.Item{URL: "/courses/1", Type: preload.Course})
	require.NoError(t, err)

	require.NoError(t, e.Reset(ctx))

	counts, err := e.Store().Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.PendingActions)
	assert.Zero(t, counts.QuizSubmissions)
	assert.Empty(t, e.Preloader().Queue())
	assert.Empty(t, e.Behavior().Snapshot().FrequentlyAccessed)
}

func TestCloseSendsPendingPrefetches(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api.routes())
	defer srv.Close()

	cfg := testConfig(t, srv.URL)
	cfg.InitiallyOnline = true
	cfg.HintRPS = 5
	e := newTestEngine(t, cfg)

	for i := 0; i < 6; i++ {
		_, err := e.Preloader().Add(preload.Item{URL: fmt.Sprintf("/pages/%d", i), Type: preload.Page})
		require.NoError(t, err)
	}
	waitIdle(t, e)
	require.NoError(t, e.Close(context.Background()))

	assert.Equal(t, 6, api.pageHits())
}

func TestQueuedEventsUploadOnReconnect(t *testing.T) {
	api := &fakeAPI{}
	srv := httptest.NewServer(api.routes())
	defer srv.Close()

	e := newTestEngine(t, testConfig(t, srv.URL))
	ctx := context.Background()

	_, err := e.Queue().RecordEvent(ctx, []byte(`{"event":"video-watched","lesson":"l1"}`))
	require.NoError(t, err)
	_, err = e.Queue().Defer(ctx, "unknown-kind", []byte(`{}`), 1)
	require.NoError(t, err)

	e.SetOnline(ctx, true)
	waitIdle(t, e)

	keys := api.eventKeys()
	require.Len(t, keys, 1)
	assert.NotEmpty(t, keys[0])

	items, err := e.Store().GetSyncQueue(ctx)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "unknown-kind", items[0].Type)

	st, err := e.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/", st.API)
}
