package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/cafepos/internal/infra/storage"
)

// AlertPruner drops alerts older than a cutoff.
type AlertPruner interface {
	Prune(ctx context.Context, now time.Time) (int64, error)
}

// Pruner deletes old dead letters based on retention policy.
type Pruner struct {
	retention   time.Duration
	deadLetters storage.DeadLetterRepository
	alerts      AlertPruner
	now         func() time.Time
	log         *slog.Logger
}

// NewPruner creates a new Pruner worker. alerts may be nil.
func NewPruner(
	retention time.Duration,
	deadLetters storage.DeadLetterRepository,
	alerts AlertPruner,
) *Pruner {
	return &Pruner{
		retention:   retention,
		deadLetters: deadLetters,
		alerts:      alerts,
		now:         time.Now,
		log:         slog.Default().With("component", "pruner"),
	}
}

// Start runs the pruner loop.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	// Check at 10% of the retention period, between one minute and one hour
	interval := min(p.retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Initial prune
	p.prune(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

func (p *Pruner) prune(ctx context.Context) {
	now := p.now()

	n, err := p.deadLetters.PruneDeadLetters(ctx, now.Add(-p.retention))
	if err != nil {
		p.log.Error("failed to prune dead letters", "error", err)
	} else if n > 0 {
		p.log.Info("pruned dead letters", "count", n)
	}

	if p.alerts == nil {
		return
	}
	if n, err := p.alerts.Prune(ctx, now); err != nil {
		p.log.Error("failed to prune alerts", "error", err)
	} else if n > 0 {
		p.log.Debug("pruned alerts", "count", n)
	}
}
