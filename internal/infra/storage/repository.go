package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/vietddude/cafepos/internal/core/domain"
)

// Adapter is the CRUD surface shared by the primary store and the local mirror.
// Table and column names are logical; adapters map them to physical names.
type Adapter interface {
	// Source identifies the backend
	Source() domain.Source

	// Select returns the rows matching the query
	Select(ctx context.Context, table string, q domain.Query) ([]domain.Row, error)

	// Insert adds rows and returns them as stored
	Insert(ctx context.Context, table string, rows []domain.Row) ([]domain.Row, error)

	// Upsert adds rows, updating existing ones that collide on conflictKey
	Upsert(ctx context.Context, table string, rows []domain.Row, conflictKey []string) ([]domain.Row, error)

	// Update patches the matched rows and returns them
	Update(ctx context.Context, table string, patch domain.Row, match domain.Match) ([]domain.Row, error)

	// Delete removes the matched rows and returns them
	Delete(ctx context.Context, table string, match domain.Match) ([]domain.Row, error)
}

// Journal applies a write to the local mirror and records it in the pending
// operation log as one atomic unit.
type Journal interface {
	Commit(ctx context.Context, op domain.Operation) ([]domain.Row, *domain.Record, error)
}

// LogStats summarises the pending operation log.
type LogStats struct {
	Pending     int            `json:"pending"`
	Groups      map[string]int `json:"groups"`
	OldestAt    time.Time      `json:"oldest_at,omitzero"`
	DeadLetters int            `json:"dead_letters"`
}

// OperationLog handles the pending operation log
type OperationLog interface {
	// Append queues an operation at the tail of its group
	Append(ctx context.Context, group string, op domain.Operation) (*domain.Record, error)

	// PeekOldest returns the lowest-ID record of a group, or nil
	PeekOldest(ctx context.Context, group string) (*domain.Record, error)

	// Remove deletes a replayed record
	Remove(ctx context.Context, id int64) error

	// MarkAttempt records a failed replay attempt without touching the payload
	MarkAttempt(ctx context.Context, id int64, cause error) error

	// Bury moves a record that can never succeed to the dead letters
	Bury(ctx context.Context, rec *domain.Record, cause error) error

	// ListGroups returns the groups with pending records
	ListGroups(ctx context.Context) ([]string, error)

	// Pending returns the number of pending records in a group
	Pending(group string) int

	// Stats summarises the log
	Stats(ctx context.Context) (LogStats, error)

	// List returns up to limit pending records in replay order
	List(ctx context.Context, limit int) ([]*domain.Record, error)
}

// DeadLetterRepository handles records dropped from replay
type DeadLetterRepository interface {
	// DeadLetters returns the most recent dead letters
	DeadLetters(ctx context.Context, limit int) ([]*domain.DeadLetter, error)

	// PruneDeadLetters deletes dead letters buried before the cutoff
	PruneDeadLetters(ctx context.Context, before time.Time) (int64, error)
}

// Apply dispatches an operation to the matching adapter method.
func Apply(ctx context.Context, a Adapter, op domain.Operation) ([]domain.Row, error) {
	switch o := op.(type) {
	case domain.Insert:
		return a.Insert(ctx, o.Table, o.Rows)
	case domain.Upsert:
		return a.Upsert(ctx, o.Table, o.Rows, o.ConflictKey)
	case domain.Update:
		return a.Update(ctx, o.Table, o.Patch, o.Match)
	case domain.Delete:
		return a.Delete(ctx, o.Table, o.Match)
	default:
		return nil, fmt.Errorf("%w: unknown operation %T", domain.ErrInvalidQuery, op)
	}
}
