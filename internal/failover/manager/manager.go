// Package manager is the data-access facade used by the application. Every
// call goes to the primary store when it is reachable and falls back to the
// local mirror when it is not; writes that miss the primary are queued for
// replay.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/cafepos/internal/core/domain"
	"github.com/vietddude/cafepos/internal/failover/classify"
	"github.com/vietddude/cafepos/internal/failover/health"
	"github.com/vietddude/cafepos/internal/failover/metrics"
	"github.com/vietddude/cafepos/internal/infra/storage"
)

// Local is the local mirror: a plain adapter plus an atomic write-and-queue.
type Local interface {
	storage.Adapter
	storage.Journal
}

// Backlog reports how many writes to a table are still waiting for replay.
type Backlog interface {
	Pending(group string) int
}

// Replayer starts a replay pass without waiting for it.
type Replayer interface {
	Trigger()
}

// Config holds manager settings.
type Config struct {
	// Timeout bounds every primary call; hitting it counts as a network failure.
	Timeout time.Duration
}

// UpsertOptions configures Upsert.
type UpsertOptions struct {
	// OnConflict is the conflict key. Empty means the table key.
	OnConflict []string
}

// Manager is safe for concurrent use.
type Manager struct {
	router   StoreRouter
	local    Local
	backlog  Backlog
	health   *health.Controller
	replayer Replayer
	tables   domain.Tables
	timeout  time.Duration
	log      *slog.Logger
}

// New creates a manager. replayer may be nil.
func New(
	router StoreRouter,
	local Local,
	backlog Backlog,
	ctrl *health.Controller,
	replayer Replayer,
	tables domain.Tables,
	cfg Config,
) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Manager{
		router:   router,
		local:    local,
		backlog:  backlog,
		health:   ctrl,
		replayer: replayer,
		tables:   tables,
		timeout:  cfg.Timeout,
		log:      slog.Default().With("component", "manager"),
	}
}

// Select returns the rows matching q. When the primary is unreachable the
// local mirror answers and the result is marked FallbackUsed.
func (m *Manager) Select(ctx context.Context, table string, q domain.Query) (*domain.Result, error) {
	var primaryErr error
	if target := m.router.Route(); target.Source() == domain.SourcePrimary {
		rows, err := m.callPrimary(ctx, "select", func(ctx context.Context) ([]domain.Row, error) {
			return target.Select(ctx, table, q)
		})
		if err == nil {
			return m.result("select", rows, domain.SourcePrimary), nil
		}
		if ferr := m.failover(ctx, "select", err); ferr != nil {
			return nil, ferr
		}
		primaryErr = err
	}

	rows, err := m.local.Select(ctx, table, q)
	if err != nil {
		return nil, m.localError(err, primaryErr)
	}
	return m.result("select", rows, domain.SourceLocal), nil
}

// Insert adds rows. An empty call is a no-op.
func (m *Manager) Insert(ctx context.Context, table string, rows ...domain.Row) (*domain.Result, error) {
	if len(rows) == 0 {
		return m.noop(), nil
	}
	return m.write(ctx, domain.Insert{Table: table, Rows: rows})
}

// Upsert adds rows, updating those that collide on the conflict key. Rows
// without a usable conflict key are inserted instead.
func (m *Manager) Upsert(ctx context.Context, table string, rows []domain.Row, opts UpsertOptions) (*domain.Result, error) {
	if len(rows) == 0 {
		return m.noop(), nil
	}
	key := opts.OnConflict
	if len(key) == 0 {
		key = m.tables.Key(table)
	}
	for _, r := range rows {
		if !r.HasAll(key) {
			m.log.Debug("upsert without conflict key, inserting", "table", table, "key", key)
			return m.write(ctx, domain.Insert{Table: table, Rows: rows})
		}
	}
	return m.write(ctx, domain.Upsert{Table: table, Rows: rows, ConflictKey: key})
}

// Update applies patch to every row selected by match.
func (m *Manager) Update(ctx context.Context, table string, patch domain.Row, match domain.Match) (*domain.Result, error) {
	return m.write(ctx, domain.Update{Table: table, Patch: patch, Match: match})
}

// Delete removes every row selected by match.
func (m *Manager) Delete(ctx context.Context, table string, match domain.Match) (*domain.Result, error) {
	return m.write(ctx, domain.Delete{Table: table, Match: match})
}

func (m *Manager) write(ctx context.Context, op domain.Operation) (*domain.Result, error) {
	if err := domain.Validate(op); err != nil {
		return nil, err
	}
	name := string(op.Kind())
	group := op.Target()

	var primaryErr error
	target := m.router.Route()
	preferred := target.Source() == domain.SourcePrimary
	// Queue behind earlier writes to the same table so they replay in order.
	backlogged := preferred && m.backlog.Pending(group) > 0

	if preferred && !backlogged {
		rows, err := m.callPrimary(ctx, name, func(ctx context.Context) ([]domain.Row, error) {
			return storage.Apply(ctx, target, op)
		})
		if err == nil {
			m.writeThrough(ctx, op, rows)
			return m.result(name, rows, domain.SourcePrimary), nil
		}
		if ferr := m.failover(ctx, name, err); ferr != nil {
			return nil, ferr
		}
		primaryErr = err
	}

	rows, rec, err := m.local.Commit(ctx, op)
	if err != nil {
		return nil, m.localError(err, primaryErr)
	}
	m.log.Debug("queued write for replay",
		"group", rec.Group,
		"id", rec.ID,
		"kind", op.Kind(),
		"backlogged", backlogged,
	)
	if backlogged && m.replayer != nil {
		m.replayer.Trigger()
	}
	return m.result(name, rows, domain.SourceLocal), nil
}

func (m *Manager) callPrimary(
	ctx context.Context,
	op string,
	fn func(context.Context) ([]domain.Row, error),
) ([]domain.Row, error) {
	opCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	rows, err := fn(opCtx)
	metrics.PrimaryLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	m.health.ReportSuccess()
	return rows, nil
}

// failover decides what to do with a primary error. It returns nil when the
// call should continue on the local mirror, or the error to hand back.
func (m *Manager) failover(ctx context.Context, op string, err error) error {
	// The caller gave up; that says nothing about the primary.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	class := classify.Classify(err)
	metrics.PrimaryErrors.WithLabelValues(op, class.String()).Inc()
	if class != classify.Network {
		return err
	}

	m.health.ReportFailure(err)
	metrics.Failovers.WithLabelValues(op).Inc()
	m.log.Warn("primary call failed, using local mirror", "op", op, "error", err)
	return nil
}

func (m *Manager) localError(err, primaryErr error) error {
	if classify.Classify(err) == classify.Logical {
		return err
	}
	if primaryErr != nil {
		return fmt.Errorf("%w: primary: %w; local: %w", domain.ErrUnavailable, primaryErr, err)
	}
	return fmt.Errorf("%w: primary in cooldown; local: %w", domain.ErrUnavailable, err)
}

// writeThrough copies what the primary stored into the mirror so it can
// serve reads during the next outage. Failures are only logged.
func (m *Manager) writeThrough(ctx context.Context, op domain.Operation, rows []domain.Row) {
	table := op.Target()
	var err error
	switch o := op.(type) {
	case domain.Delete:
		_, err = m.local.Delete(ctx, table, o.Match)
	case domain.Insert, domain.Upsert, domain.Update:
		key := m.tables.Key(table)
		keyed := make([]domain.Row, 0, len(rows))
		for _, r := range rows {
			if r.HasAll(key) {
				keyed = append(keyed, r)
			}
		}
		if len(keyed) > 0 {
			_, err = m.local.Upsert(ctx, table, keyed, key)
		}
	}
	if err != nil {
		metrics.MirrorWriteErrors.WithLabelValues(table, "write_through").Inc()
		m.log.Debug("write-through to local mirror failed", "table", table, "error", err)
	}
}

func (m *Manager) result(op string, rows []domain.Row, source domain.Source) *domain.Result {
	metrics.StoreRequests.WithLabelValues(op, string(source)).Inc()
	return &domain.Result{
		Rows:         rows,
		Source:       source,
		FallbackUsed: source == domain.SourceLocal,
	}
}

func (m *Manager) noop() *domain.Result {
	source := m.router.Route().Source()
	return &domain.Result{Source: source, FallbackUsed: source == domain.SourceLocal}
}
