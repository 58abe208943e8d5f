package sqlite

import (
	"context"
	"errors"
	"fmt"

	"github.com/vietddude/cafepos/internal/core/domain"
	"github.com/vietddude/cafepos/internal/infra/storage"
	"github.com/vietddude/cafepos/internal/infra/storage/sqlstore"
)

// ErrPendingWrites is returned by Replace while the table still has queued writes.
var ErrPendingWrites = errors.New("table has pending writes")

// Mirror is the local mirror store. Reads and writes use the same logical
// table names as the primary.
type Mirror struct {
	*sqlstore.Store
	db  *DB
	log *OpLog
}

var (
	_ storage.Adapter = (*Mirror)(nil)
	_ storage.Journal = (*Mirror)(nil)
)

// NewMirror creates the mirror adapter over db. Writes that need replay are
// journaled into log.
func NewMirror(db *DB, log *OpLog, tables domain.Tables) *Mirror {
	return &Mirror{
		Store: sqlstore.New(db.DB, domain.SourceLocal, tables),
		db:    db,
		log:   log,
	}
}

// Commit applies op to the mirror and appends it to the pending log in one
// transaction: either both happen or neither does.
func (m *Mirror) Commit(ctx context.Context, op domain.Operation) ([]domain.Row, *domain.Record, error) {
	if err := domain.Validate(op); err != nil {
		return nil, nil, err
	}

	m.log.countMu.Lock()
	defer m.log.countMu.Unlock()

	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to begin local commit: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rows, err := storage.Apply(ctx, m.Store.WithExt(tx), op)
	if err != nil {
		return nil, nil, err
	}
	rec, err := m.log.appendTx(ctx, tx, op.Target(), op)
	if err != nil {
		return nil, nil, err
	}
	n, err := countGroup(ctx, tx, rec.Group)
	if err != nil {
		return nil, nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit local write: %w", err)
	}
	m.log.set(rec.Group, n)
	return rows, rec, nil
}

// Replace swaps the full content of table for rows. It refuses to run while
// the table has pending writes, since those are not on the primary yet.
func (m *Mirror) Replace(ctx context.Context, table string, key []string, rows []domain.Row) error {
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin replace of %s: %w", table, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var pending int
	if err := tx.GetContext(ctx, &pending, `SELECT COUNT(*) FROM pending_operations WHERE grp = ?`, table); err != nil {
		return fmt.Errorf("failed to count pending writes for %s: %w", table, err)
	}
	if pending > 0 {
		return fmt.Errorf("%w: %s (%d)", ErrPendingWrites, table, pending)
	}

	store := m.Store.WithExt(tx)
	if err := store.Truncate(ctx, table); err != nil {
		return err
	}
	if len(rows) > 0 {
		if _, err := store.Upsert(ctx, table, rows, key); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit replace of %s: %w", table, err)
	}
	return nil
}

// Log returns the pending operation log journaled by Commit.
func (m *Mirror) Log() *OpLog { return m.log }
