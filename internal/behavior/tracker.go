package behavior

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/rcliao/learnsync/internal/apperr"
	"github.com/rcliao/learnsync/internal/logging"
	"github.com/rcliao/learnsync/internal/model"
)

// DefaultDebounce is how long updates are batched before persisting.
const DefaultDebounce = 2 * time.Second

// ProfileStore is the slice of the offline store the tracker persists
// through.
type ProfileStore interface {
	StoreOfflineData(ctx context.Context, key string, data json.RawMessage, typ string) error
	GetOfflineData(ctx context.Context, key string) (*model.OfflineEntry, error)
	DeleteOfflineData(ctx context.Context, key string) error
}

// Tracker records successful preloads and navigations. Persistence is
// debounced; Flush forces it.
type Tracker struct {
	store    ProfileStore
	debounce time.Duration
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.Mutex
	profile Profile
	dirty   bool
	timer   *time.Timer

	saveMu sync.Mutex
}

// Option configures a Tracker.
type Option func(*Tracker)

func WithDebounce(d time.Duration) Option {
	return func(t *Tracker) { t.debounce = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker returns a tracker with an empty profile. Call Load to restore
// persisted state.
func NewTracker(s ProfileStore, opts ...Option) *Tracker {
	t := &Tracker{
		store:    s,
		debounce: DefaultDebounce,
		now:      time.Now,
		profile:  NewProfile(),
	}
	for _, o := range opts {
		o(t)
	}
	t.logger = logging.OrDefault(t.logger)
	return t
}

// Load replaces the in-memory profile with the persisted one. Any failure
// leaves an empty profile and is only logged.
func (t *Tracker) Load(ctx context.Context) {
	p := NewProfile()
	e, err := t.store.GetOfflineData(ctx, ProfileKey)
	switch {
	case apperr.Is(err, apperr.NotFound):
	case err != nil:
		t.logger.Warn("behavior profile unavailable, starting empty", "err", err)
	default:
		if err := json.Unmarshal(e.Data, &p); err != nil {
			t.logger.Warn("behavior profile corrupt, starting empty", "err", err)
			p = NewProfile()
		}
		p.normalize()
	}

	t.mu.Lock()
	t.profile = p
	t.dirty = false
	t.mu.Unlock()
}

// Record notes one successful access of url.
func (t *Tracker) Record(url string) {
	now := t.now()

	t.mu.Lock()
	t.profile.FrequentlyAccessed[url]++
	t.profile.LastAccess[url] = now.UTC()
	buckets := t.profile.TimeBasedAccess[url]
	buckets[now.Hour()]++
	t.profile.TimeBasedAccess[url] = buckets
	t.scheduleLocked()
	t.mu.Unlock()
}

// TrackNavigation records the edge from -> to. Repeating an edge or a
// self-transition has no effect. Reports whether the edge was new.
func (t *Tracker) TrackNavigation(from, to string) bool {
	if from == "" || to == "" || from == to {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.profile.addEdge(from, to) {
		return false
	}
	t.scheduleLocked()
	return true
}

// Successors returns the known next urls after url.
func (t *Tracker) Successors(url string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.profile.NavigationPatterns[url]...)
}

// Snapshot returns a deep copy of the profile.
func (t *Tracker) Snapshot() Profile {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.profile.clone()
}

// Summary returns the top urls and up to limit navigation edges.
func (t *Tracker) Summary(limit int) Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.profile.summarize(limit)
}

// Flush persists pending changes now.
func (t *Tracker) Flush(ctx context.Context) error {
	// saveMu is held from snapshot to write so writes land in order and a
	// caller returns only after any in-flight write has finished.
	t.saveMu.Lock()
	defer t.saveMu.Unlock()

	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if !t.dirty {
		t.mu.Unlock()
		return nil
	}
	data, err := json.Marshal(t.profile)
	t.dirty = false
	t.mu.Unlock()
	if err != nil {
		return err
	}

	if err := t.store.StoreOfflineData(ctx, ProfileKey, data, ProfileType); err != nil {
		t.mu.Lock()
		t.dirty = true
		t.mu.Unlock()
		t.logger.Warn("persist behavior profile failed", "err", err)
		return err
	}
	return nil
}

// Reset clears the profile and deletes its persisted copy.
func (t *Tracker) Reset(ctx context.Context) error {
	t.saveMu.Lock()
	defer t.saveMu.Unlock()

	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.profile = NewProfile()
	t.dirty = false
	t.mu.Unlock()

	if err := t.store.DeleteOfflineData(ctx, ProfileKey); err != nil && !apperr.Is(err, apperr.NotFound) {
		return err
	}
	return nil
}

// Close flushes pending changes.
func (t *Tracker) Close(ctx context.Context) error {
	return t.Flush(ctx)
}

// scheduleLocked marks the profile dirty and arms the persist timer if it is
// not already running. Caller holds t.mu.
func (t *Tracker) scheduleLocked() {
	t.dirty = true
	if t.timer != nil {
		return
	}
	t.timer = time.AfterFunc(t.debounce, func() {
		if err := t.Flush(context.Background()); err != nil {
			t.logger.Debug("debounced persist failed", "err", err)
		}
	})
}
