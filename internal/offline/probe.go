package offline

import (
	"context"
	"log/slog"
	"time"

	"github.com/rcliao/learnsync/internal/logging"
)

// Pinger checks whether the remote API is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Probe polls a Pinger and reports connectivity to a Trigger.
type Probe struct {
	pinger   Pinger
	trigger  *Trigger
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger
}

func NewProbe(p Pinger, t *Trigger, interval time.Duration, logger *slog.Logger) *Probe {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Probe{
		pinger:   p,
		trigger:  t,
		interval: interval,
		timeout:  5 * time.Second,
		logger:   logging.OrDefault(logger),
	}
}

// Check pings once, updates the trigger and returns the result.
func (p *Probe) Check(ctx context.Context) bool {
	pctx, cancel := context.WithTimeout(ctx, p.timeout)
	err := p.pinger.Ping(pctx)
	cancel()
	if ctx.Err() != nil {
		return p.trigger.Online()
	}

	online := err == nil
	if err != nil {
		p.logger.Debug("connectivity probe failed", "err", err)
	}
	p.trigger.SetOnline(ctx, online)
	return online
}

// Run checks immediately and then every interval until ctx is done.
func (p *Probe) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Check(ctx)
		}
	}
}
