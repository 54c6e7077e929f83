package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Timer periodically runs a reconciliation pass and then releases leases
// whose timeout has lapsed. Reconciling before sweeping gives a transfer
// that landed just before the deadline one last chance to be credited.
type Timer struct {
	reconciler *Reconciler
	interval   time.Duration
	logger     *slog.Logger
	stop       chan struct{}
	running    atomic.Bool
}

// NewTimer creates the polling timer. interval is how often a pass runs.
func NewTimer(r *Reconciler, interval time.Duration, logger *slog.Logger) *Timer {
	return &Timer{
		reconciler: r,
		interval:   interval,
		logger:     logger,
		stop:       make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the polling loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeTick(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in reconcile timer", "panic", fmt.Sprint(r))
		}
	}()
	t.tick(ctx)
}

func (t *Timer) tick(ctx context.Context) {
	if err := t.reconciler.Run(ctx); err != nil {
		t.logger.Warn("reconciliation pass failed", "error", err)
	}

	released, err := t.reconciler.leases.ExpireStale(ctx)
	if err != nil {
		t.logger.Warn("expiry sweep failed", "error", err)
		return
	}
	if released > 0 {
		t.logger.Info("released expired leases", "count", released)
	}
}
