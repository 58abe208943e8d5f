package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/cafepos/internal/failover/health"
	"github.com/vietddude/cafepos/internal/failover/metrics"
	"github.com/vietddude/cafepos/internal/infra/storage"
)

// StaleNotifier is told when the pending log stays above its thresholds.
type StaleNotifier interface {
	NotifyStale(ctx context.Context, stats storage.LogStats) error
}

// Watchdog raises an alert while the pending operation log is too large or
// too old, which means replay is not keeping up.
type Watchdog struct {
	oplog      storage.OperationLog
	thresholds health.Thresholds
	interval   time.Duration
	notifier   StaleNotifier
	now        func() time.Time
	log        *slog.Logger

	stale bool
}

// NewWatchdog creates a new stale-log watchdog. notifier may be nil.
func NewWatchdog(
	oplog storage.OperationLog,
	thresholds health.Thresholds,
	interval time.Duration,
	notifier StaleNotifier,
) *Watchdog {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Watchdog{
		oplog:      oplog,
		thresholds: thresholds,
		interval:   interval,
		notifier:   notifier,
		now:        time.Now,
		log:        slog.Default().With("component", "watchdog"),
	}
}

// Start runs the check loop.
func (w *Watchdog) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Check(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Check(ctx)
		}
	}
}

// Check inspects the log once and reports whether it is stale. The notifier
// fires on every stale check so a stuck log keeps alerting.
func (w *Watchdog) Check(ctx context.Context) bool {
	stats, err := w.oplog.Stats(ctx)
	if err != nil {
		w.log.Error("failed to read pending log stats", "error", err)
		return w.stale
	}

	now := w.now()
	age := time.Duration(0)
	if !stats.OldestAt.IsZero() {
		age = now.Sub(stats.OldestAt)
	}
	metrics.OldestPendingAge.Set(age.Seconds())

	stale := w.thresholds.Exceeded(stats, now)
	switch {
	case stale:
		metrics.StaleLog.Set(1)
		w.log.Warn("pending log is stale",
			"pending", stats.Pending,
			"oldest_age", age,
			"max_age", w.thresholds.MaxAge,
			"max_entries", w.thresholds.MaxEntries,
		)
		if w.notifier != nil {
			if err := w.notifier.NotifyStale(ctx, stats); err != nil {
				w.log.Error("failed to send stale log alert", "error", err)
			}
		}
	case w.stale:
		metrics.StaleLog.Set(0)
		w.log.Info("pending log back within thresholds", "pending", stats.Pending)
	}
	w.stale = stale
	return stale
}
