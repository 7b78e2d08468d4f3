// Package engine assembles the offline store, sync trigger, replay host,
// behavior tracker and preload scheduler into one service object.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rcliao/learnsync/internal/apperr"
	"github.com/rcliao/learnsync/internal/behavior"
	"github.com/rcliao/learnsync/internal/config"
	"github.com/rcliao/learnsync/internal/logging"
	"github.com/rcliao/learnsync/internal/model"
	"github.com/rcliao/learnsync/internal/offline"
	"github.com/rcliao/learnsync/internal/preload"
	"github.com/rcliao/learnsync/internal/remote"
	"github.com/rcliao/learnsync/internal/replay"
	"github.com/rcliao/learnsync/internal/store"
	"github.com/rcliao/learnsync/internal/syncinfo"
)

// Engine is the offline-first client runtime.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	store    *store.SQLiteStore
	slot     *syncinfo.Slot
	remote   *remote.Client
	queue    *offline.Queue
	cache    *offline.Cache
	trigger  *offline.Trigger
	probe    *offline.Probe
	worker   *replay.Worker
	local    *replay.LocalHost
	tracker  *behavior.Tracker
	preload  *preload.Scheduler
	hostKind string

	startOnce sync.Once
	available bool
	closeOnce sync.Once
}

type options struct {
	logger     *slog.Logger
	httpClient *http.Client
	host       offline.Host
	observer   preload.Observer
}

// Option configures an Engine.
type Option func(*options)

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHTTPClient sets the client used for every remote call.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) { o.httpClient = hc }
}

// WithHost registers an out-of-process background host instead of the
// in-process replay host.
func WithHost(h offline.Host) Option {
	return func(o *options) { o.host = h }
}

// WithPreloadObserver receives every preload outcome.
func WithPreloadObserver(fn preload.Observer) Option {
	return func(o *options) { o.observer = fn }
}

// New wires an engine from cfg. Nothing touches the disk or network until
// Start or the first operation.
func New(cfg config.Config, opts ...Option) (*Engine, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	logger := logging.OrDefault(o.logger)
	if o.httpClient == nil {
		o.httpClient = &http.Client{Timeout: cfg.RequestTimeout}
	}

	strategies, err := preload.LoadStrategies(cfg.StrategiesFile)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidInput, "load preload strategies", err)
	}

	remoteOpts := []remote.Option{remote.WithHTTPClient(o.httpClient), remote.WithLogger(logger)}
	if cfg.HintRPS > 0 {
		remoteOpts = append(remoteOpts, remote.WithHintRate(cfg.HintRPS))
	}
	if cfg.HintGrace > 0 {
		remoteOpts = append(remoteOpts, remote.WithHintGrace(cfg.HintGrace))
	}
	client, err := remote.New(cfg.BaseURL, remoteOpts...)
	if err != nil {
		return nil, apperr.Wrap(apperr.InvalidInput, "configure remote api", err)
	}

	e := &Engine{cfg: cfg, logger: logger, remote: client}

	e.store = store.NewSQLiteStore(cfg.DBPath, store.WithLogger(logger))
	e.slot = syncinfo.NewSlot(cfg.SyncInfoPath)
	if _, err := e.slot.Load(); err != nil {
		logger.Warn("read last sync failed", "path", cfg.SyncInfoPath, "err", err)
	}
	e.queue = offline.NewQueue(e.store, logger)
	e.cache = offline.NewCache(e.store)

	e.trigger = offline.NewTrigger(e.queue, e.slot,
		offline.WithSettleDelay(cfg.SettleDelay),
		offline.WithInitiallyOnline(cfg.InitiallyOnline),
		offline.WithTriggerLogger(logger),
	)

	workerOpts := []replay.Option{
		replay.WithBackoff(cfg.BackoffBase, cfg.BackoffMax),
		replay.WithLogger(logger),
	}
	if cfg.ReplayRPS > 0 {
		workerOpts = append(workerOpts, replay.WithRate(cfg.ReplayRPS))
	}
	e.worker = replay.NewWorker(e.store, client, workerOpts...)
	e.worker.Handle(offline.EventType, e.deliverEvent)

	if o.host != nil {
		e.trigger.SetHost(o.host)
		e.hostKind = "external"
	} else {
		e.local = replay.NewLocalHost(e.worker, logger)
		e.hostKind = "local"
		e.trigger.SetHost(e.local)
	}

	e.tracker = behavior.NewTracker(e.store,
		behavior.WithDebounce(cfg.BehaviorDebounce),
		behavior.WithLogger(logger),
	)

	schedOpts := []preload.Option{preload.WithLogger(logger)}
	if o.observer != nil {
		schedOpts = append(schedOpts, preload.WithObserver(o.observer))
	}
	if !cfg.InitiallyOnline {
		schedOpts = append(schedOpts, preload.WithPaused())
	}
	e.preload = preload.New(preload.Config{
		MaxConcurrent: cfg.MaxConcurrent,
		MaxQueueSize:  cfg.MaxQueueSize,
		Delay:         cfg.PreloadDelay,
		Strategies:    strategies,
	}, client, e.tracker, schedOpts...)

	e.trigger.OnConnectivity(func(online bool) {
		if online {
			e.preload.Resume()
		} else {
			e.preload.Pause()
		}
	})
	e.trigger.OnSizes(func(s offline.Sizes) {
		logger.Info("sync queue sizes", "pending_actions", s.PendingActions, "sync_queue", s.SyncQueue)
	})
	e.probe = offline.NewProbe(client, e.trigger, cfg.ProbeInterval, logger)
	return e, nil
}

// Start opens the store and loads the behavior profile. A store that cannot
// be opened is not fatal: the engine keeps running with offline features
// disabled and says so once.
func (e *Engine) Start(ctx context.Context) error {
	e.startOnce.Do(func() {
		if err := e.store.Initialize(ctx); err != nil {
			e.logger.Warn("offline features unavailable", "err", err)
			return
		}
		e.available = true
		e.tracker.Load(ctx)
	})
	return nil
}

// Available reports whether the durable store opened.
func (e *Engine) Available() bool {
	return e.available
}

// RunProbe polls connectivity until ctx is done.
func (e *Engine) RunProbe(ctx context.Context) {
	e.probe.Run(ctx)
}

func (e *Engine) Config() config.Config         { return e.cfg }
func (e *Engine) Store() *store.SQLiteStore     { return e.store }
func (e *Engine) Queue() *offline.Queue         { return e.queue }
func (e *Engine) Cache() *offline.Cache         { return e.cache }
func (e *Engine) Trigger() *offline.Trigger     { return e.trigger }
func (e *Engine) Worker() *replay.Worker        { return e.worker }
func (e *Engine) Behavior() *behavior.Tracker   { return e.tracker }
func (e *Engine) Preloader() *preload.Scheduler { return e.preload }
func (e *Engine) Remote() *remote.Client        { return e.remote }

// Submit delivers a right away when online, otherwise captures it for replay.
func (e *Engine) Submit(ctx context.Context, a *model.PendingAction) (bool, error) {
	return e.queue.Submit(ctx, e.remote, e.trigger.Online(), a)
}

// SetOnline reports a connectivity change.
func (e *Engine) SetOnline(ctx context.Context, online bool) {
	e.trigger.SetOnline(ctx, online)
}

// SyncNow asks the background host for a manual sync.
func (e *Engine) SyncNow(ctx context.Context) error {
	return e.trigger.SyncNow(ctx)
}

// Flush replays both queues in the foreground. manual ignores backoff.
func (e *Engine) Flush(ctx context.Context, manual bool) (replay.Result, error) {
	return e.worker.Flush(ctx, manual)
}

// Wait blocks until in-process syncs and the preload loop are idle.
func (e *Engine) Wait(ctx context.Context) error {
	if e.local != nil {
		done := make(chan struct{})
		go func() {
			e.local.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return e.preload.Wait(ctx)
}

// deliverEvent uploads a queued learning event. The idempotency key is derived
// from the queue row so retries of the same item share it.
func (e *Engine) deliverEvent(ctx context.Context, item model.SyncQueueItem) error {
	key := uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("learnsync:sync-queue:%d:%d", item.ID, item.Timestamp.UnixNano())))
	return e.remote.Deliver(ctx, model.PendingAction{
		Type:           item.Type,
		Endpoint:       offline.EventsEndpoint,
		Method:         http.MethodPost,
		Payload:        item.Data,
		IdempotencyKey: key.String(),
	})
}

// Stats is the engine-wide diagnostic view.
type Stats struct {
	Available bool          `json:"available"`
	Online    bool          `json:"online"`
	Host      string        `json:"host"`
	API       string        `json:"api"`
	LastSync  *time.Time    `json:"last_sync,omitempty"`
	Store     *store.Stats  `json:"store,omitempty"`
	Preload   preload.Stats `json:"preload"`
}

// Stats gathers store, sync and preload diagnostics. Store stats are
// omitted when the store is unavailable.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		Available: e.available,
		Online:    e.trigger.Online(),
		Host:      e.hostKind,
		API:       e.remote.BaseURL(),
		Preload:   e.preload.Stats(),
	}
	if last := e.trigger.LastSync(); !last.IsZero() {
		st.LastSync = &last
	}
	if e.available {
		ss, err := e.store.Stats(ctx)
		if err != nil {
			return nil, err
		}
		st.Store = ss
	}
	return st, nil
}

// Reset clears the preload queue, the behavior profile and every stored
// collection. The last sync time is kept.
func (e *Engine) Reset(ctx context.Context) error {
	e.preload.Clear()
	if err := e.tracker.Reset(ctx); err != nil {
		return fmt.Errorf("reset behavior: %w", err)
	}
	return e.store.ClearAll(ctx)
}

// Close stops preloading, waits for in-process syncs, persists the behavior
// profile and releases the store and HTTP client. Prefetch hints already
// handed to the client are sent before it closes, within the hint grace.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	e.closeOnce.Do(func() {
		e.preload.Close()
		e.trigger.Close()
		if e.local != nil {
			e.local.Wait()
		}
		if e.available {
			if err := e.tracker.Close(ctx); err != nil {
				errs = append(errs, fmt.Errorf("persist behavior: %w", err))
			}
		}
		errs = append(errs, e.remote.Close(), e.store.Close())
	})
	return errors.Join(errs...)
}
