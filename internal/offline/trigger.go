package offline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rcliao/learnsync/internal/apperr"
	"github.com/rcliao/learnsync/internal/logging"
	"github.com/rcliao/learnsync/internal/syncinfo"
)

// DefaultSettleDelay is how long after a sync signal queue sizes are re-read.
const DefaultSettleDelay = time.Second

// Trigger reacts to connectivity transitions and manual sync requests by
// signaling the registered background host. It never replays actions itself.
type Trigger struct {
	queue  *Queue
	slot   *syncinfo.Slot
	settle time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu            sync.Mutex
	online        bool
	host          Host
	sizeListeners []func(Sizes)
	connListeners []func(online bool)
	refresh       *time.Timer
	closed        bool
}

// TriggerOption configures a Trigger.
type TriggerOption func(*Trigger)

func WithSettleDelay(d time.Duration) TriggerOption {
	return func(t *Trigger) { t.settle = d }
}

func WithTriggerLogger(l *slog.Logger) TriggerOption {
	return func(t *Trigger) { t.logger = l }
}

// WithInitiallyOnline sets the connectivity assumed before the first probe.
func WithInitiallyOnline(online bool) TriggerOption {
	return func(t *Trigger) { t.online = online }
}

func WithTriggerClock(now func() time.Time) TriggerOption {
	return func(t *Trigger) { t.now = now }
}

// NewTrigger returns a trigger over q recording lastSync in slot. It assumes
// online until told otherwise.
func NewTrigger(q *Queue, slot *syncinfo.Slot, opts ...TriggerOption) *Trigger {
	t := &Trigger{
		queue:  q,
		slot:   slot,
		settle: DefaultSettleDelay,
		now:    time.Now,
		online: true,
	}
	for _, o := range opts {
		o(t)
	}
	t.logger = logging.OrDefault(t.logger)
	return t
}

// SetHost registers the background host. Nil unregisters it.
func (t *Trigger) SetHost(h Host) {
	t.mu.Lock()
	t.host = h
	t.mu.Unlock()
}

// Online reports the last known connectivity.
func (t *Trigger) Online() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.online
}

// OnSizes registers fn to receive queue sizes after each settle delay.
func (t *Trigger) OnSizes(fn func(Sizes)) {
	t.mu.Lock()
	t.sizeListeners = append(t.sizeListeners, fn)
	t.mu.Unlock()
}

// OnConnectivity registers fn to be called on every connectivity change.
func (t *Trigger) OnConnectivity(fn func(online bool)) {
	t.mu.Lock()
	t.connListeners = append(t.connListeners, fn)
	t.mu.Unlock()
}

// SetOnline records connectivity. Only an offline to online transition
// signals the host; repeated reports of the same state are ignored.
func (t *Trigger) SetOnline(ctx context.Context, online bool) {
	t.mu.Lock()
	if t.online == online {
		t.mu.Unlock()
		return
	}
	t.online = online
	listeners := append([]func(bool){}, t.connListeners...)
	t.mu.Unlock()

	t.logger.Info("connectivity changed", "online", online)
	for _, fn := range listeners {
		fn(online)
	}
	if !online {
		return
	}
	if err := t.signal(ctx, TriggerSync); err != nil {
		t.logger.Info("automatic sync deferred", "err", err)
	}
}

// SyncNow asks the host to sync regardless of connectivity. It returns a
// SyncSignalUnavailable error when no controlling host is registered or the
// host could not be reached; the queue is left intact either way.
func (t *Trigger) SyncNow(ctx context.Context) error {
	return t.signal(ctx, ManualSync)
}

// LastSync returns the last recorded sync signal time.
func (t *Trigger) LastSync() time.Time {
	return t.slot.LastSync()
}

// Close stops any pending size refresh.
func (t *Trigger) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.refresh != nil {
		t.refresh.Stop()
	}
}

func (t *Trigger) signal(ctx context.Context, kind MessageKind) error {
	at := t.now().UTC()

	t.mu.Lock()
	host := t.host
	t.mu.Unlock()

	var sigErr error
	switch {
	case host == nil:
		sigErr = apperr.New(apperr.SyncSignalUnavailable, "no background host registered")
	case !host.Controlling():
		sigErr = apperr.New(apperr.SyncSignalUnavailable, "background host is not controlling")
	default:
		if err := host.PostMessage(ctx, Message{Type: kind, At: at}); err != nil {
			sigErr = apperr.Wrap(apperr.SyncSignalUnavailable, "signal background host", err)
		} else {
			t.logger.Info("sync signaled", "type", kind)
		}
	}

	if err := t.slot.Record(at); err != nil {
		t.logger.Warn("record last sync failed", "err", err)
	}
	t.scheduleRefresh()
	return sigErr
}

func (t *Trigger) scheduleRefresh() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	if t.refresh != nil {
		t.refresh.Stop()
	}
	t.refresh = time.AfterFunc(t.settle, t.publishSizes)
}

func (t *Trigger) publishSizes() {
	sizes, err := t.queue.Sizes(context.Background())
	if err != nil {
		t.logger.Warn("refresh queue sizes failed", "err", err)
		return
	}

	t.mu.Lock()
	listeners := append([]func(Sizes){}, t.sizeListeners...)
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(sizes)
	}
}
