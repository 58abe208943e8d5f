// Package replay drains the pending operation log into the primary store
// once it is reachable again.
package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/vietddude/cafepos/internal/core/domain"
	"github.com/vietddude/cafepos/internal/failover/classify"
	"github.com/vietddude/cafepos/internal/failover/health"
	"github.com/vietddude/cafepos/internal/failover/metrics"
	"github.com/vietddude/cafepos/internal/infra/storage"
)

// Config holds replay settings.
type Config struct {
	// Interval is the safety-net period between passes.
	Interval time.Duration `yaml:"interval"`
	// OpTimeout bounds each primary call.
	OpTimeout time.Duration `yaml:"op_timeout"`
}

// Notifier receives records dropped from replay.
type Notifier interface {
	NotifyDeadLetter(ctx context.Context, dl *domain.DeadLetter) error
}

// Failure is a replay attempt the primary rejected.
type Failure struct {
	Record *domain.Record
	Class  classify.Class
	Err    error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("replay of %s record %d (%s) failed: %v", f.Record.Group, f.Record.ID, f.Class, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Summary describes one drain pass.
type Summary struct {
	Replayed int      `json:"replayed"`
	Buried   int      `json:"buried"`
	Skipped  bool     `json:"skipped"`
	Aborted  bool     `json:"aborted"`
	Stuck    []string `json:"stuck,omitempty"`
}

// Engine replays queued operations. At most one pass runs at a time.
type Engine struct {
	primary  storage.Adapter
	oplog    storage.OperationLog
	health   *health.Controller
	tables   domain.Tables
	notifier Notifier
	cfg      Config
	log      *slog.Logger
	now      func() time.Time

	trigger chan struct{}
	flight  singleflight.Group
}

// NewEngine creates a replay engine. notifier may be nil.
func NewEngine(
	primary storage.Adapter,
	oplog storage.OperationLog,
	ctrl *health.Controller,
	tables domain.Tables,
	notifier Notifier,
	cfg Config,
) *Engine {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 5 * time.Second
	}
	e := &Engine{
		primary:  primary,
		oplog:    oplog,
		health:   ctrl,
		tables:   tables,
		notifier: notifier,
		cfg:      cfg,
		log:      slog.Default().With("component", "replay"),
		now:      time.Now,
		trigger:  make(chan struct{}, 1),
	}
	ctrl.Subscribe(func(t health.Transition) {
		if t.Recovered {
			e.Trigger()
		}
	})
	return e
}

// Trigger schedules a pass without waiting for it. Triggers arriving while
// a pass runs collapse into a single follow-up pass.
func (e *Engine) Trigger() {
	select {
	case e.trigger <- struct{}{}:
	default:
	}
}

// Start runs passes on trigger and on the safety-net interval until ctx is done.
func (e *Engine) Start(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	// Initial pass picks up anything queued before a restart
	e.Trigger()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Trigger()
		case <-e.trigger:
			if _, err := e.Drain(ctx); err != nil && ctx.Err() == nil {
				e.log.Warn("replay pass ended early", "error", err)
			}
		}
	}
}

// Drain runs a pass now, or joins the one already running.
func (e *Engine) Drain(ctx context.Context) (Summary, error) {
	v, err, _ := e.flight.Do("drain", func() (any, error) {
		return e.pass(ctx)
	})
	s, _ := v.(Summary)
	return s, err
}

func (e *Engine) pass(ctx context.Context) (Summary, error) {
	var sum Summary
	if !e.health.ShouldPreferPrimary() {
		sum.Skipped = true
		metrics.ReplayPasses.WithLabelValues("skipped").Inc()
		return sum, nil
	}

	// A group that fails locally (an unreadable record, say) is set aside
	// for the rest of the pass so it cannot hold up the others.
	stuck := make(map[string]error)
	for {
		groups, err := e.oplog.ListGroups(ctx)
		if err != nil {
			metrics.ReplayPasses.WithLabelValues("error").Inc()
			return sum, err
		}
		progressed := false
		for _, group := range groups {
			if _, ok := stuck[group]; ok {
				continue
			}
			progressed = true
			err := e.drainGroup(ctx, group, &sum)
			if err == nil {
				continue
			}
			var f *Failure
			if errors.As(err, &f) {
				sum.Aborted = true
				metrics.ReplayPasses.WithLabelValues("aborted").Inc()
				return sum, err
			}
			if ctx.Err() != nil {
				metrics.ReplayPasses.WithLabelValues("error").Inc()
				return sum, err
			}
			e.log.Error("skipping group for this pass", "group", group, "error", err)
			stuck[group] = err
			sum.Stuck = append(sum.Stuck, group)
		}
		if !progressed {
			break
		}
	}

	if len(stuck) > 0 {
		metrics.ReplayPasses.WithLabelValues("error").Inc()
		errs := make([]error, 0, len(stuck))
		for _, group := range sum.Stuck {
			errs = append(errs, fmt.Errorf("%s: %w", group, stuck[group]))
		}
		return sum, fmt.Errorf("failed to replay %d group(s): %w", len(stuck), errors.Join(errs...))
	}

	metrics.ReplayPasses.WithLabelValues("converged").Inc()
	if sum.Replayed > 0 || sum.Buried > 0 {
		e.log.Info("replay pass converged", "replayed", sum.Replayed, "buried", sum.Buried)
	}
	return sum, nil
}

// drainGroup replays group oldest-first until it is empty. A network failure
// stops the pass and leaves the record queued.
func (e *Engine) drainGroup(ctx context.Context, group string, sum *Summary) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := e.oplog.PeekOldest(ctx, group)
		if err != nil {
			return err
		}
		if rec == nil {
			return nil
		}

		err = e.apply(ctx, rec)
		if err == nil {
			if err := e.oplog.Remove(ctx, rec.ID); err != nil {
				return err
			}
			e.health.ReportSuccess()
			sum.Replayed++
			metrics.ReplayedOperations.WithLabelValues(group, "replayed").Inc()
			continue
		}
		// Shutting down is not the primary's fault.
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if classify.IsNetwork(err) {
			if markErr := e.oplog.MarkAttempt(ctx, rec.ID, err); markErr != nil {
				e.log.Error("failed to record replay attempt", "id", rec.ID, "error", markErr)
			}
			e.health.ReportFailure(err)
			metrics.ReplayedOperations.WithLabelValues(group, "retry").Inc()
			return &Failure{Record: rec, Class: classify.Network, Err: err}
		}

		if err := e.bury(ctx, rec, err); err != nil {
			return err
		}
		sum.Buried++
	}
}

func (e *Engine) apply(ctx context.Context, rec *domain.Record) error {
	opCtx, cancel := context.WithTimeout(ctx, e.cfg.OpTimeout)
	defer cancel()

	op := Translate(rec.Op, e.tables)
	rows, err := storage.Apply(opCtx, e.primary, op)
	if err != nil {
		return err
	}
	upd, ok := op.(domain.Update)
	if !ok || len(rows) > 0 {
		return nil
	}
	applied, err := e.alreadyApplied(opCtx, upd)
	if err != nil {
		return err
	}
	if !applied {
		return fmt.Errorf("%w: update on %s", domain.ErrNotFound, op.Target())
	}
	e.log.Info("replayed update matched no rows, already applied",
		"group", rec.Group,
		"op_id", rec.OpID,
	)
	return nil
}

// alreadyApplied reports whether an update that matched nothing had reached
// the primary before its acknowledgement was lost. A keyed update counts as
// applied when its row exists with the patch in place. An update whose match
// does not name the table key has no single row to check and counts as
// applied.
func (e *Engine) alreadyApplied(ctx context.Context, upd domain.Update) (bool, error) {
	filters := make(domain.Match)
	for _, col := range e.tables.Key(upd.Table) {
		v, ok := upd.Match[col]
		if !ok || v == nil {
			return true, nil
		}
		filters[col] = v
	}
	for col, v := range upd.Patch {
		filters[col] = v
	}
	rows, err := e.primary.Select(ctx, upd.Table, domain.Query{Filters: filters, Limit: 1})
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func (e *Engine) bury(ctx context.Context, rec *domain.Record, cause error) error {
	if err := e.oplog.Bury(ctx, rec, cause); err != nil {
		return err
	}
	metrics.ReplayedOperations.WithLabelValues(rec.Group, "buried").Inc()

	dead := *rec
	dead.Attempts++
	dl := &domain.DeadLetter{Record: dead, Reason: cause.Error(), BuriedAt: e.now()}
	e.log.Error("dropped queued operation rejected by primary",
		"group", rec.Group,
		"op_id", rec.OpID,
		"kind", rec.Op.Kind(),
		"error", cause,
	)
	if e.notifier != nil {
		if err := e.notifier.NotifyDeadLetter(ctx, dl); err != nil {
			e.log.Warn("failed to notify dead letter", "op_id", rec.OpID, "error", err)
		}
	}
	return nil
}
