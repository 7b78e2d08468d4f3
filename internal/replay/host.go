package replay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rcliao/learnsync/internal/logging"
	"github.com/rcliao/learnsync/internal/offline"
)

// LocalHost runs the worker inside the current process. It is always
// controlling and flushes in the background for every message.
type LocalHost struct {
	worker *Worker
	logger *slog.Logger
	wg     sync.WaitGroup
}

func NewLocalHost(w *Worker, logger *slog.Logger) *LocalHost {
	return &LocalHost{worker: w, logger: logging.OrDefault(logger)}
}

func (h *LocalHost) Controlling() bool { return true }

// PostMessage starts a flush and returns immediately.
func (h *LocalHost) PostMessage(ctx context.Context, m offline.Message) error {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := h.worker.HandleMessage(context.WithoutCancel(ctx), m); err != nil {
			h.logger.Error("background sync failed", "trigger", m.Type, "err", err)
		}
	}()
	return nil
}

// Wait blocks until every started flush has finished.
func (h *LocalHost) Wait() {
	h.wg.Wait()
}

var _ offline.Host = (*LocalHost)(nil)
