package offline

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/learnsync/internal/apperr"
	"github.com/rcliao/learnsync/internal/logging"
	"github.com/rcliao/learnsync/internal/model"
	"github.com/rcliao/learnsync/internal/store"
	"github.com/rcliao/learnsync/internal/syncinfo"
)

type fakeHost struct {
	mu          sync.Mutex
	controlling bool
	fail        error
	messages    []Message
}

func (h *fakeHost) Controlling() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.controlling
}

func (h *fakeHost) PostMessage(_ context.Context, m Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail != nil {
		return h.fail
	}
	h.messages = append(h.messages, m)
	return nil
}

func (h *fakeHost) sent() []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Message(nil), h.messages...)
}

type fakeSender struct {
	err       error
	delivered []model.PendingAction
}

func (s *fakeSender) Deliver(_ context.Context, a model.PendingAction) error {
	if s.err != nil {
		return s.err
	}
	s.delivered = append(s.delivered, a)
	return nil
}

type fixture struct {
	store   *store.SQLiteStore
	queue   *Queue
	slot    *syncinfo.Slot
	trigger *Trigger
}

func newFixture(t *testing.T, opts ...TriggerOption) *fixture {
	t.Helper()
	dir := t.TempDir()
	s := store.NewSQLiteStore(filepath.Join(dir, "offline.db"), store.WithLogger(logging.Discard()))
	t.Cleanup(func() { s.Close() })

	q := NewQueue(s, logging.Discard())
	slot := syncinfo.NewSlot(filepath.Join(dir, "lastsync"))
	opts = append([]TriggerOption{WithTriggerLogger(logging.Discard()), WithSettleDelay(10 * time.Millisecond)}, opts...)
	tr := NewTrigger(q, slot, opts...)
	t.Cleanup(tr.Close)
	return &fixture{store: s, queue: q, slot: slot, trigger: tr}
}

func TestOfflineCaptureThenSync(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, WithInitiallyOnline(false))
	host := &fakeHost{controlling: true}
	f.trigger.SetHost(host)

	a := &model.PendingAction{
		Type:     "progress-update",
		Endpoint: "/api/progress",
		Method:   "POST",
		Payload:  json.RawMessage(`{"courseId":"c1","moduleId":"m3","completed":true}`),
	}
	id, err := f.queue.Capture(ctx, a)
	require.NoError(t, err)

	pending, err := f.queue.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)
	assert.Equal(t, "progress-update", pending[0].Type)
	assert.Empty(t, host.sent())

	reconnectedAt := time.Now().UTC().Truncate(time.Second)
	f.trigger.SetOnline(ctx, true)
	f.trigger.SetOnline(ctx, true)

	sent := host.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, TriggerSync, sent[0].Type)

	last, err := syncinfo.NewSlot(f.slot.Path()).Load()
	require.NoError(t, err)
	assert.False(t, last.Before(reconnectedAt))

	pending, err = f.queue.Pending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestGoingOfflineDoesNotSignal(t *testing.T) {
	f := newFixture(t)
	host := &fakeHost{controlling: true}
	f.trigger.SetHost(host)

	var changes []bool
	f.trigger.OnConnectivity(func(online bool) { changes = append(changes, online) })

	f.trigger.SetOnline(context.Background(), false)
	assert.Empty(t, host.sent())
	assert.False(t, f.trigger.Online())
	assert.Equal(t, []bool{false}, changes)

	f.trigger.SetOnline(context.Background(), true)
	assert.Len(t, host.sent(), 1)
	assert.Equal(t, []bool{false, true}, changes)
}

func TestSyncNow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	err := f.trigger.SyncNow(ctx)
	assert.True(t, apperr.Is(err, apperr.SyncSignalUnavailable))
	assert.False(t, f.trigger.LastSync().IsZero())

	host := &fakeHost{controlling: false}
	f.trigger.SetHost(host)
	assert.True(t, apperr.Is(f.trigger.SyncNow(ctx), apperr.SyncSignalUnavailable))

	host.controlling = true
	require.NoError(t, f.trigger.SyncNow(ctx))
	sent := host.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, ManualSync, sent[0].Type)

	host.fail = errors.New("pipe closed")
	err = f.trigger.SyncNow(ctx)
	assert.True(t, apperr.Is(err, apperr.SyncSignalUnavailable))
}

func TestSignalStampsMessageAndSlot(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	f := newFixture(t, WithTriggerClock(func() time.Time { return at }))
	host := &fakeHost{controlling: true}
	f.trigger.SetHost(host)

	require.NoError(t, f.trigger.SyncNow(context.Background()))

	sent := host.sent()
	require.Len(t, sent, 1)
	assert.True(t, sent[0].At.Equal(at))
	assert.True(t, f.trigger.LastSync().Equal(at))

	last, err := syncinfo.NewSlot(f.slot.Path()).Load()
	require.NoError(t, err)
	assert.True(t, last.Equal(at))
}

func TestSizesPublishedAfterSettle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.trigger.SetHost(&fakeHost{controlling: true})

	_, err := f.queue.Capture(ctx, &model.PendingAction{Endpoint: "/api/x", Method: "POST"})
	require.NoError(t, err)
	_, err = f.queue.Defer(ctx, "analytics", json.RawMessage(`{}`), 0)
	require.NoError(t, err)

	got := make(chan Sizes, 1)
	f.trigger.OnSizes(func(s Sizes) { got <- s })
	require.NoError(t, f.trigger.SyncNow(ctx))

	select {
	case s := <-got:
		assert.Equal(t, Sizes{PendingActions: 1, SyncQueue: 1}, s)
	case <-time.After(2 * time.Second):
		t.Fatal("sizes not published")
	}
}

func TestSubmit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := func() *model.PendingAction {
		return &model.PendingAction{Type: "enroll", Endpoint: "/api/enroll", Method: "POST"}
	}

	ok := &fakeSender{}
	delivered, err := f.queue.Submit(ctx, ok, true, a())
	require.NoError(t, err)
	assert.True(t, delivered)
	assert.Len(t, ok.delivered, 1)

	broken := &fakeSender{err: errors.New("connection refused")}
	delivered, err = f.queue.Submit(ctx, broken, true, a())
	require.NoError(t, err)
	assert.False(t, delivered)

	delivered, err = f.queue.Submit(ctx, ok, false, a())
	require.NoError(t, err)
	assert.False(t, delivered)
	assert.Len(t, ok.delivered, 1)

	sizes, err := f.queue.Sizes(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sizes.PendingActions)
}

func TestRecordProgressAndQuiz(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.queue.RecordProgress(ctx, &model.CourseProgress{CourseID: "c1", UserID: "u1", ModuleID: "m1", Completed: true})
	require.NoError(t, err)
	_, err = f.queue.RecordQuiz(ctx, &model.QuizSubmission{QuizID: "q1", UserID: "u1", Score: 9})
	require.NoError(t, err)

	pending, err := f.queue.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, ProgressEndpoint, pending[0].Endpoint)
	assert.Equal(t, QuizEndpoint, pending[1].Endpoint)
	assert.Equal(t, 2, pending[1].Priority)

	progress, err := f.store.GetStoredCourseProgress(ctx)
	require.NoError(t, err)
	assert.Len(t, progress, 1)
}

func TestCache(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := NewCache(f.store)

	require.NoError(t, c.Put(ctx, "course", "1", json.RawMessage(`{"title":"Go"}`)))
	require.NoError(t, c.Put(ctx, "course", "2", json.RawMessage(`{"title":"SQL"}`)))
	require.NoError(t, c.Put(ctx, "course", "1", json.RawMessage(`{"title":"Go 2"}`)))

	data, err := c.Get(ctx, "course", "1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Go 2"}`, string(data))

	all, err := c.All(ctx, "course")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Contains(t, all, "2")

	e, err := f.store.GetOfflineData(ctx, "course_1")
	require.NoError(t, err)
	assert.Equal(t, "course", e.Type)

	require.NoError(t, c.Remove(ctx, "course", "2"))
	_, err = c.Get(ctx, "course", "2")
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

type fakePinger struct {
	mu  sync.Mutex
	err error
}

func (p *fakePinger) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func TestProbeDrivesTrigger(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	host := &fakeHost{controlling: true}
	f.trigger.SetHost(host)

	p := &fakePinger{err: errors.New("unreachable")}
	probe := NewProbe(p, f.trigger, time.Hour, logging.Discard())

	assert.False(t, probe.Check(ctx))
	assert.False(t, f.trigger.Online())

	p.err = nil
	assert.True(t, probe.Check(ctx))
	assert.True(t, f.trigger.Online())
	assert.Len(t, host.sent(), 1)

	assert.True(t, probe.Check(ctx))
	assert.Len(t, host.sent(), 1)
}
