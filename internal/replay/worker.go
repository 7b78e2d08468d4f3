// Package replay is the background host's side of sync: it delivers captured
// mutations and generic deferred work, keeping whatever fails queued.
package replay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/rcliao/learnsync/internal/logging"
	"github.com/rcliao/learnsync/internal/model"
	"github.com/rcliao/learnsync/internal/offline"
	"github.com/rcliao/learnsync/internal/remote"
	"github.com/rcliao/learnsync/internal/store"
)

const (
	DefaultRate        = 5
	DefaultBackoffBase = time.Minute
	DefaultBackoffMax  = time.Hour
)

// Handler processes one generic sync queue item.
type Handler func(ctx context.Context, item model.SyncQueueItem) error

// Result counts what a flush did.
type Result struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
	BackedOff int `json:"backed_off"`
	Unhandled int `json:"unhandled"`
}

// Worker replays the pending-action queue and the generic sync queue.
type Worker struct {
	store   store.Store
	sender  offline.Sender
	limiter *rate.Limiter
	base    time.Duration
	max     time.Duration
	now     func() time.Time
	logger  *slog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler

	flushMu sync.Mutex
}

// Option configures a Worker.
type Option func(*Worker)

// WithRate limits deliveries to rps per second.
func WithRate(rps float64) Option {
	return func(w *Worker) { w.limiter = rate.NewLimiter(rate.Limit(rps), 1) }
}

// WithBackoff sets the exponential backoff bounds.
func WithBackoff(base, max time.Duration) Option {
	return func(w *Worker) { w.base, w.max = base, max }
}

func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// NewWorker returns a worker reading from s and delivering through sender.
func NewWorker(s store.Store, sender offline.Sender, opts ...Option) *Worker {
	w := &Worker{
		store:    s,
		sender:   sender,
		base:     DefaultBackoffBase,
		max:      DefaultBackoffMax,
		now:      time.Now,
		handlers: make(map[string]Handler),
	}
	for _, o := range opts {
		o(w)
	}
	if w.limiter == nil {
		w.limiter = rate.NewLimiter(DefaultRate, 1)
	}
	w.logger = logging.OrDefault(w.logger)
	return w
}

// Handle registers h for sync queue items of type typ. Items with no
// handler stay queued.
func (w *Worker) Handle(typ string, h Handler) {
	w.mu.Lock()
	w.handlers[typ] = h
	w.mu.Unlock()
}

// Backoff returns how long to wait after retries failed attempts:
// min(2^retries * base, max).
func (w *Worker) Backoff(retries int) time.Duration {
	if retries <= 0 {
		return 0
	}
	if retries >= 31 {
		return w.max
	}
	d := w.base << uint(retries)
	if d <= 0 || d > w.max {
		return w.max
	}
	return d
}

func (w *Worker) ready(retries int, last *time.Time, manual bool) bool {
	if manual || last == nil {
		return true
	}
	return !w.now().Before(last.Add(w.Backoff(retries)))
}

// HandleMessage runs a flush for a host message. Manual syncs ignore backoff.
func (w *Worker) HandleMessage(ctx context.Context, m offline.Message) error {
	res, err := w.Flush(ctx, m.Type == offline.ManualSync)
	w.logger.Info("sync finished", "trigger", m.Type,
		"delivered", res.Delivered, "failed", res.Failed,
		"backed_off", res.BackedOff, "unhandled", res.Unhandled)
	return err
}

// Flush delivers every ready item once, in insertion order. Flushes are
// serialized. A network failure stops the pass early; other failures only
// affect their own item.
func (w *Worker) Flush(ctx context.Context, manual bool) (Result, error) {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	var res Result
	if err := w.flushActions(ctx, manual, &res); err != nil {
		return res, err
	}
	if err := w.flushItems(ctx, manual, &res); err != nil {
		return res, err
	}
	return res, nil
}

func (w *Worker) flushActions(ctx context.Context, manual bool, res *Result) error {
	actions, err := w.store.GetPendingActions(ctx)
	if err != nil {
		return err
	}

	for _, a := range actions {
		if !w.ready(a.RetryCount, a.LastAttemptAt, manual) {
			res.BackedOff++
			continue
		}
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}

		derr := w.sender.Deliver(ctx, a)
		if derr == nil {
			if err := w.store.RemovePendingAction(ctx, a.ID); err != nil {
				w.logger.Error("remove delivered action failed", "id", a.ID, "err", err)
			}
			res.Delivered++
			continue
		}

		res.Failed++
		w.logger.Warn("replay failed", "id", a.ID, "endpoint", a.Endpoint, "retry", a.RetryCount+1, "err", derr)
		if err := w.store.MarkPendingAttempt(ctx, a.ID, w.now()); err != nil {
			w.logger.Error("mark attempt failed", "id", a.ID, "err", err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(derr, remote.ErrNetworkUnavailable) {
			return nil
		}
	}
	return nil
}

func (w *Worker) flushItems(ctx context.Context, manual bool, res *Result) error {
	items, err := w.store.GetSyncQueue(ctx)
	if err != nil {
		return err
	}

	for _, item := range items {
		w.mu.RLock()
		h := w.handlers[item.Type]
		w.mu.RUnlock()
		if h == nil {
			res.Unhandled++
			continue
		}
		if !w.ready(item.RetryCount, item.LastAttemptAt, manual) {
			res.BackedOff++
			continue
		}
		if err := w.limiter.Wait(ctx); err != nil {
			return err
		}

		if herr := h(ctx, item); herr != nil {
			res.Failed++
			w.logger.Warn("sync item failed", "id", item.ID, "type", item.Type, "err", herr)
			if err := w.store.MarkSyncQueueAttempt(ctx, item.ID, w.now()); err != nil {
				w.logger.Error("mark attempt failed", "id", item.ID, "err", err)
			}
			continue
		}
		if err := w.store.RemoveFromSyncQueue(ctx, item.ID); err != nil {
			w.logger.Error("remove synced item failed", "id", item.ID, "err", err)
		}
		res.Delivered++
	}
	return nil
}
