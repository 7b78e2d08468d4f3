package preload

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/rcliao/learnsync/internal/apperr"
	"github.com/rcliao/learnsync/internal/behavior"
	"github.com/rcliao/learnsync/internal/logging"
)

// Fetcher performs the network side of preloading.
type Fetcher interface {
	// Head checks that a dependency exists.
	Head(ctx context.Context, url string) error
	// Get fetches url preferring cached copies and returns bytes read.
	Get(ctx context.Context, url string) (int64, error)
	// Hint schedules a passive prefetch with no response handling.
	Hint(url string) bool
}

// Behavior is the tracker the scheduler reports to and ranks with.
type Behavior interface {
	Record(url string)
	TrackNavigation(from, to string) bool
	Successors(url string) []string
	Bias(url string, at time.Time) float64
	Summary(limit int) behavior.Summary
}

// Config bounds the scheduler.
type Config struct {
	MaxConcurrent int
	MaxQueueSize  int
	Delay         time.Duration
	Strategies    Strategies
}

// DefaultConfig returns 3 concurrent fetches, a 100 item queue, a 100ms
// pause between batches and the default strategies.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 3,
		MaxQueueSize:  100,
		Delay:         100 * time.Millisecond,
		Strategies:    DefaultStrategies(),
	}
}

// Counters tallies terminal outcomes since the scheduler was created.
type Counters struct {
	Succeeded    int64 `json:"succeeded"`
	Failed       int64 `json:"failed"`
	Skipped      int64 `json:"skipped"`
	BytesFetched int64 `json:"bytes_fetched"`
}

// Stats is a read-only diagnostic view.
type Stats struct {
	QueueLength        int                 `json:"queue_length"`
	InFlight           int                 `json:"in_flight"`
	Running            bool                `json:"running"`
	Paused             bool                `json:"paused"`
	TrackedURLs        int                 `json:"tracked_urls"`
	TopURLs            []behavior.URLCount `json:"top_urls"`
	NavigationPatterns []behavior.Edge     `json:"navigation_patterns"`
	Counters           Counters            `json:"counters"`
}

// Observer is told about every item that reaches a terminal state.
type Observer func(item Item, outcome Outcome, err error)

type budget struct {
	bytes int64
	items int
}

// Scheduler is the predictive preload queue. The queue is ordered by
// (priority weight desc, weight desc), stable for ties, and never longer
// than MaxQueueSize.
type Scheduler struct {
	cfg      Config
	fetch    Fetcher
	behavior Behavior
	logger   *slog.Logger
	now      func() time.Time
	observer Observer

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	queue    []Item
	running  bool
	paused   bool
	closed   bool
	idle     chan struct{}
	inFlight int
	used     map[ContentType]*budget
	counters Counters
}

// Option configures a Scheduler.
type Option func(*Scheduler)

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithObserver registers fn for terminal outcomes. fn runs on the batch
// goroutine and must not block.
func WithObserver(fn Observer) Option {
	return func(s *Scheduler) { s.observer = fn }
}

// WithPaused starts the scheduler paused.
func WithPaused() Option {
	return func(s *Scheduler) { s.paused = true }
}

// New returns a scheduler. b may be nil when no behavior tracking is wanted.
func New(cfg Config, f Fetcher, b Behavior, opts ...Option) *Scheduler {
	def := DefaultConfig()
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = def.MaxQueueSize
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}
	if cfg.Strategies == nil {
		cfg.Strategies = def.Strategies
	} else {
		cfg.Strategies = cfg.Strategies.Clone()
	}
	if b == nil {
		b = nopBehavior{}
	}

	s := &Scheduler{
		cfg:      cfg,
		fetch:    f,
		behavior: b,
		now:      time.Now,
		used:     make(map[ContentType]*budget),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = logging.OrDefault(s.logger)
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Add enqueues item, or upgrades the queued item with the same URL when
// item strictly outranks it. Missing fields are filled: ID, Timestamp and
// Priority (from the type's strategy). The behavior bias for the URL is added
// to Weight. The returned item is what the queue holds for that URL.
func (s *Scheduler) Add(item Item) (Item, error) {
	if item.URL == "" {
		return Item{}, apperr.New(apperr.InvalidInput, "preload item url is required")
	}
	if !item.Type.Valid() {
		return Item{}, apperr.New(apperr.InvalidInput, fmt.Sprintf("invalid content type %q", item.Type))
	}
	if item.Metadata != nil && item.Metadata.ContentType() != item.Type {
		return Item{}, apperr.New(apperr.InvalidInput,
			fmt.Sprintf("%s metadata on %s item", item.Metadata.ContentType(), item.Type))
	}
	if item.Priority == "" {
		item.Priority = s.cfg.Strategies[item.Type].Priority
		if item.Priority == "" {
			item.Priority = Normal
		}
	}
	if item.Priority.Weight() == 0 {
		return Item{}, apperr.New(apperr.InvalidInput, fmt.Sprintf("invalid priority %q", item.Priority))
	}

	now := s.now()
	if item.ID == "" {
		item.ID = ulid.Make().String()
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = now
	}
	item.Weight += s.behavior.Bias(item.URL, now)

	s.mu.Lock()
	defer s.mu.Unlock()

	kept := item
	replaced := false
	for i := range s.queue {
		if s.queue[i].URL != item.URL {
			continue
		}
		if outranks(item, s.queue[i]) {
			s.queue[i] = item
		} else {
			kept = s.queue[i]
		}
		replaced = true
		break
	}
	if !replaced {
		s.queue = append(s.queue, item)
	}

	sort.SliceStable(s.queue, func(i, j int) bool {
		return outranks(s.queue[i], s.queue[j])
	})
	if len(s.queue) > s.cfg.MaxQueueSize {
		for _, dropped := range s.queue[s.cfg.MaxQueueSize:] {
			s.logger.Debug("preload queue full, dropping", "url", dropped.URL)
		}
		s.queue = s.queue[:s.cfg.MaxQueueSize]
	}

	s.startLocked()
	return kept, nil
}

// Navigate records a navigation and enqueues the known successors of to as
// predicted pages. It returns how many were enqueued.
func (s *Scheduler) Navigate(from, to string) int {
	if from != "" {
		s.behavior.TrackNavigation(from, to)
	}
	n := 0
	for _, next := range s.behavior.Successors(to) {
		_, err := s.Add(Item{
			URL:      next,
			Type:     Page,
			Metadata: PageMeta{Route: next, Predicted: true},
		})
		if err != nil {
			s.logger.Debug("skip predicted page", "url", next, "err", err)
			continue
		}
		n++
	}
	return n
}

// Queue returns a copy of the queued items in rank order.
func (s *Scheduler) Queue() []Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Item(nil), s.queue...)
}

// Clear empties the queue and returns how many items were dropped. Fetches
// already in flight run to completion; behavior data is untouched.
func (s *Scheduler) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queue)
	s.queue = nil
	return n
}

// Pause stops new batches from starting. The current batch finishes.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

// Resume lifts a pause and restarts processing if items are queued.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	s.startLocked()
}

// Stats returns a diagnostic snapshot. It does not change any state.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	st := Stats{
		QueueLength: len(s.queue),
		InFlight:    s.inFlight,
		Running:     s.running,
		Paused:      s.paused,
		Counters:    s.counters,
	}
	s.mu.Unlock()

	sum := s.behavior.Summary(10)
	st.TrackedURLs = sum.TrackedURLs
	st.TopURLs = sum.TopURLs
	st.NavigationPatterns = sum.Edges
	return st
}

// Wait blocks until the processing loop is idle or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	for {
		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			return nil
		}
		idle := s.idle
		s.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops the loop, cancels in-flight fetches and waits for it to exit.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.Wait(context.Background())
}

// startLocked starts the loop unless it is running, paused, closed or has
// nothing to do. Caller holds s.mu.
func (s *Scheduler) startLocked() {
	if s.running || s.paused || s.closed || len(s.queue) == 0 {
		return
	}
	s.running = true
	s.idle = make(chan struct{})
	go s.loop(s.idle)
}

func (s *Scheduler) loop(idle chan struct{}) {
	defer close(idle)

	for {
		s.mu.Lock()
		if s.paused || s.closed || len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		n := min(s.cfg.MaxConcurrent, len(s.queue))
		batch := append([]Item(nil), s.queue[:n]...)
		s.queue = append([]Item(nil), s.queue[n:]...)
		s.inFlight = n
		s.mu.Unlock()

		var wg sync.WaitGroup
		for _, it := range batch {
			wg.Add(1)
			go func(it Item) {
				defer wg.Done()
				s.process(s.ctx, it)
			}(it)
		}
		wg.Wait()

		s.mu.Lock()
		s.inFlight = 0
		done := len(s.queue) == 0
		if done {
			s.running = false
		}
		s.mu.Unlock()
		if done {
			return
		}

		select {
		case <-s.ctx.Done():
		case <-time.After(s.cfg.Delay):
		}
	}
}

// process runs one item to a terminal state. Errors and panics stay here.
func (s *Scheduler) process(ctx context.Context, item Item) {
	defer func() {
		if r := recover(); r != nil {
			s.finish(item, Failed, apperr.New(apperr.PreloadFailed, fmt.Sprintf("panic preloading %s: %v", item.URL, r)), 0)
		}
	}()

	strat, ok := s.cfg.Strategies[item.Type]
	if !ok || !strat.Enabled {
		s.finish(item, Skipped, nil, 0)
		return
	}
	if !s.reserve(item, strat) {
		s.logger.Debug("preload budget exhausted", "type", item.Type, "url", item.URL)
		s.finish(item, Skipped, nil, 0)
		return
	}

	if strat.PreloadDependencies && len(item.Dependencies) > 0 {
		s.checkDependencies(ctx, item.Dependencies)
	}

	if strat.Prefetch {
		if !s.fetch.Hint(item.URL) {
			s.logger.Debug("prefetch hint not queued", "url", item.URL)
		}
		s.finish(item, Succeeded, nil, 0)
		return
	}

	n, err := s.fetch.Get(ctx, item.URL)
	if err != nil {
		s.release(item)
		s.finish(item, Failed, apperr.Wrap(apperr.PreloadFailed, "preload "+item.URL, err), 0)
		return
	}
	s.finish(item, Succeeded, nil, n)
}

// checkDependencies HEADs every dependency concurrently. Failures are only
// logged.
func (s *Scheduler) checkDependencies(ctx context.Context, deps []string) {
	var wg sync.WaitGroup
	for _, dep := range deps {
		wg.Add(1)
		go func(dep string) {
			defer wg.Done()
			if err := s.fetch.Head(ctx, dep); err != nil {
				s.logger.Debug("dependency check failed", "url", dep, "err", err)
			}
		}(dep)
	}
	wg.Wait()
}

func (s *Scheduler) reserve(item Item, strat Strategy) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.used[item.Type]
	if b == nil {
		b = &budget{}
		s.used[item.Type] = b
	}
	if strat.MaxItems > 0 && b.items >= strat.MaxItems {
		return false
	}
	if strat.MaxSize > 0 && b.bytes+item.EstimatedSize > strat.MaxSize {
		return false
	}
	b.items++
	b.bytes += item.EstimatedSize
	return true
}

func (s *Scheduler) release(item Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b := s.used[item.Type]; b != nil {
		b.items--
		b.bytes -= item.EstimatedSize
	}
}

func (s *Scheduler) finish(item Item, outcome Outcome, err error, n int64) {
	s.mu.Lock()
	switch outcome {
	case Succeeded:
		s.counters.Succeeded++
		s.counters.BytesFetched += n
	case Failed:
		s.counters.Failed++
	case Skipped:
		s.counters.Skipped++
	}
	s.mu.Unlock()

	switch outcome {
	case Succeeded:
		s.behavior.Record(item.URL)
		s.logger.Debug("preloaded", "url", item.URL, "type", item.Type, "bytes", n)
	case Failed:
		s.logger.Warn("preload failed", "url", item.URL, "type", item.Type, "err", err)
	case Skipped:
		s.logger.Debug("preload skipped", "url", item.URL, "type", item.Type)
	}
	if s.observer != nil {
		s.observer(item, outcome, err)
	}
}

type nopBehavior struct{}

func (nopBehavior) Record(string)                       {}
func (nopBehavior) TrackNavigation(string, string) bool { return false }
func (nopBehavior) Successors(string) []string          { return nil }
func (nopBehavior) Bias(string, time.Time) float64      { return 0 }
func (nopBehavior) Summary(int) behavior.Summary {
	return behavior.Summary{TopURLs: []behavior.URLCount{}, Edges: []behavior.Edge{}}
}

var _ Behavior = (*behavior.Tracker)(nil)
