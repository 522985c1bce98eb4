package mfa

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

const sweepBatch = 100

// Timer periodically moves PENDING challenges past their expiry to EXPIRED.
type Timer struct {
	manager  *Manager
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
}

// NewTimer creates a new challenge expiry sweeper.
func NewTimer(manager *Manager, interval time.Duration, logger *slog.Logger) *Timer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Timer{
		manager:  manager,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := t.manager.clock.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.Chan():
			t.safeSweep(ctx)
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

func (t *Timer) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in mfa timer", "panic", fmt.Sprint(r))
		}
	}()
	t.Sweep(ctx)
}

// Sweep runs one expiry pass, draining in batches.
func (t *Timer) Sweep(ctx context.Context) int {
	total := 0
	for {
		ids, err := t.manager.ExpireDue(ctx, sweepBatch)
		if err != nil {
			t.logger.Warn("failed to expire mfa challenges", "error", err)
			return total
		}
		total += len(ids)
		for _, id := range ids {
			t.logger.Info("mfa challenge expired", "transfer_id", id)
		}
		if len(ids) < sweepBatch {
			return total
		}
	}
}
