package health

import (
	"context"
	"time"

	"github.com/vietddude/cafepos/internal/infra/storage"
)

// Thresholds bound the pending operation log before it is reported stale.
// Zero disables a bound.
type Thresholds struct {
	MaxAge     time.Duration
	MaxEntries int
}

// Exceeded reports whether stats breach either bound at now.
func (t Thresholds) Exceeded(stats storage.LogStats, now time.Time) bool {
	if t.MaxEntries > 0 && stats.Pending > t.MaxEntries {
		return true
	}
	if t.MaxAge > 0 && !stats.OldestAt.IsZero() && now.Sub(stats.OldestAt) > t.MaxAge {
		return true
	}
	return false
}

// Monitor aggregates the primary's health and the pending log into a report.
type Monitor struct {
	ctrl       *Controller
	oplog      storage.OperationLog
	thresholds Thresholds
}

// NewMonitor creates a new health monitor.
func NewMonitor(ctrl *Controller, oplog storage.OperationLog, thresholds Thresholds) *Monitor {
	return &Monitor{ctrl: ctrl, oplog: oplog, thresholds: thresholds}
}

// Check builds the current report. An unreadable log means the local mirror
// is broken, which is critical whatever the primary's state.
func (m *Monitor) Check(ctx context.Context) Report {
	report := Report{
		Status:  StatusHealthy,
		Primary: m.ctrl.Snapshot(),
	}

	stats, err := m.oplog.Stats(ctx)
	if err != nil {
		report.Status = StatusCritical
		report.Error = err.Error()
		return report
	}
	report.Log = stats
	report.Stale = m.thresholds.Exceeded(stats, m.ctrl.now())

	if !report.Primary.PreferPrimary || report.Stale || stats.Pending > 0 {
		report.Status = StatusDegraded
	}
	return report
}
