package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vietddude/cafepos/internal/core/config"
	"github.com/vietddude/cafepos/internal/core/domain"
	"github.com/vietddude/cafepos/internal/failover/classify"
	"github.com/vietddude/cafepos/internal/failover/health"
	"github.com/vietddude/cafepos/internal/failover/metrics"
	"github.com/vietddude/cafepos/internal/infra/storage"
)

// MirrorWriter is the part of the local mirror the refresher writes to.
type MirrorWriter interface {
	Upsert(ctx context.Context, table string, rows []domain.Row, conflictKey []string) ([]domain.Row, error)
	Replace(ctx context.Context, table string, key []string, rows []domain.Row) error
}

// Backlog reports queued writes per table.
type Backlog interface {
	Pending(group string) int
}

// Refresher pulls reference tables from the primary into the local mirror so
// reads during an outage see recent data.
type Refresher struct {
	cfg     config.MirrorConfig
	primary storage.Adapter
	mirror  MirrorWriter
	backlog Backlog
	health  *health.Controller
	tables  domain.Tables
	log     *slog.Logger
}

// NewRefresher creates a new Refresher worker.
func NewRefresher(
	cfg config.MirrorConfig,
	primary storage.Adapter,
	mirror MirrorWriter,
	backlog Backlog,
	ctrl *health.Controller,
	tables domain.Tables,
) *Refresher {
	return &Refresher{
		cfg:     cfg,
		primary: primary,
		mirror:  mirror,
		backlog: backlog,
		health:  ctrl,
		tables:  tables,
		log:     slog.Default().With("component", "refresher"),
	}
}

// Start runs the refresh loop.
func (r *Refresher) Start(ctx context.Context) {
	if r.cfg.RefreshInterval <= 0 || len(r.tables.Refreshed()) == 0 {
		return
	}

	ticker := time.NewTicker(r.cfg.RefreshInterval)
	defer ticker.Stop()

	r.Refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Refresh(ctx)
		}
	}
}

// Refresh runs one pass over the refreshed tables and returns how many were
// written to the mirror.
func (r *Refresher) Refresh(ctx context.Context) int {
	done := 0
	for _, table := range r.tables.Refreshed() {
		if !r.health.ShouldPreferPrimary() {
			r.log.Debug("primary in cooldown, skipping refresh")
			return done
		}
		// Queued writes are newer than anything the primary has.
		if r.backlog.Pending(table) > 0 {
			continue
		}
		ok, err := r.refreshTable(ctx, table)
		if err != nil {
			if ctx.Err() != nil {
				return done
			}
			r.log.Warn("failed to refresh table", "table", table, "error", err)
			continue
		}
		if ok {
			done++
		}
	}
	return done
}

func (r *Refresher) refreshTable(ctx context.Context, table string) (bool, error) {
	rows, err := r.primary.Select(ctx, table, domain.Query{Limit: r.cfg.RowLimit})
	if err != nil {
		if ctx.Err() == nil && classify.IsNetwork(err) {
			r.health.ReportFailure(err)
		}
		return false, err
	}
	r.health.ReportSuccess()

	key := r.tables.Key(table)
	keyed := make([]domain.Row, 0, len(rows))
	for _, row := range rows {
		if row.HasAll(key) {
			keyed = append(keyed, row)
		}
	}

	complete := r.cfg.RowLimit <= 0 || len(rows) < r.cfg.RowLimit
	if complete {
		err = r.mirror.Replace(ctx, table, key, keyed)
	} else if len(keyed) > 0 {
		_, err = r.mirror.Upsert(ctx, table, keyed, key)
	}
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			metrics.MirrorWriteErrors.WithLabelValues(table, "refresh").Inc()
		}
		return false, err
	}

	metrics.MirrorRefreshedRows.WithLabelValues(table).Add(float64(len(keyed)))
	r.log.Debug("refreshed table", "table", table, "rows", len(keyed), "complete", complete)
	return true, nil
}
