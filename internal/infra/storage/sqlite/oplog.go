package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/vietddude/cafepos/internal/core/domain"
	"github.com/vietddude/cafepos/internal/failover/metrics"
	"github.com/vietddude/cafepos/internal/infra/storage"
)

// OpLog is the pending operation log, stored next to the mirror tables so an
// outage that spans a restart keeps its queued writes.
//
// The per-group counts answer Pending without I/O. Another process (the
// replay command) may drain the same file, so every call that touches a
// group's rows re-reads its count rather than adjusting it.
type OpLog struct {
	db  *DB
	now func() time.Time

	// countMu orders read-then-set sequences so an older count never
	// replaces a newer one. It is taken before the connection, never inside.
	countMu sync.Mutex
	mu      sync.Mutex
	pending map[string]int
}

var _ storage.OperationLog = (*OpLog)(nil)
var _ storage.DeadLetterRepository = (*OpLog)(nil)

// NewOpLog opens the log and loads per-group pending counts.
func NewOpLog(ctx context.Context, db *DB) (*OpLog, error) {
	l := &OpLog{db: db, now: time.Now, pending: make(map[string]int)}

	var counts []struct {
		Group string `db:"grp"`
		Count int    `db:"n"`
	}
	err := db.SelectContext(ctx, &counts,
		`SELECT grp, COUNT(*) AS n FROM pending_operations GROUP BY grp`)
	if err != nil {
		return nil, fmt.Errorf("failed to load pending counts: %w", err)
	}
	for _, c := range counts {
		l.set(c.Group, c.Count)
	}
	return l, nil
}

type recordRow struct {
	ID            int64          `db:"id"`
	OpID          string         `db:"op_id"`
	Group         string         `db:"grp"`
	EnqueuedAt    int64          `db:"enqueued_at"`
	Attempts      int            `db:"attempts"`
	LastAttemptAt sql.NullInt64  `db:"last_attempt_at"`
	LastError     sql.NullString `db:"last_error"`
	encodedOp
}

const recordColumns = `id, op_id, grp, kind, tbl, payload, criteria, options,
	enqueued_at, attempts, last_attempt_at, last_error`

func (r recordRow) toRecord() (*domain.Record, error) {
	op, err := r.decode()
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", r.ID, err)
	}
	id, err := uuid.Parse(r.OpID)
	if err != nil {
		return nil, fmt.Errorf("record %d: bad op id: %w", r.ID, err)
	}
	rec := &domain.Record{
		ID:         r.ID,
		OpID:       id,
		Group:      r.Group,
		Op:         op,
		EnqueuedAt: time.Unix(0, r.EnqueuedAt),
		Attempts:   r.Attempts,
		LastError:  r.LastError.String,
	}
	if r.LastAttemptAt.Valid {
		rec.LastAttemptAt = time.Unix(0, r.LastAttemptAt.Int64)
	}
	return rec, nil
}

// Append queues op at the tail of group.
func (l *OpLog) Append(ctx context.Context, group string, op domain.Operation) (*domain.Record, error) {
	l.countMu.Lock()
	defer l.countMu.Unlock()

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin append: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	rec, err := l.appendTx(ctx, tx, group, op)
	if err != nil {
		return nil, err
	}
	n, err := countGroup(ctx, tx, group)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit append: %w", err)
	}
	l.set(group, n)
	return rec, nil
}

// appendTx inserts the record inside an open transaction. The caller counts
// the group in the same transaction, commits, and then calls set.
func (l *OpLog) appendTx(ctx context.Context, tx *sqlx.Tx, group string, op domain.Operation) (*domain.Record, error) {
	enc, err := encodeOp(op)
	if err != nil {
		return nil, err
	}
	opID, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate op id: %w", err)
	}
	now := l.now()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO pending_operations (op_id, grp, kind, tbl, payload, criteria, options, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		opID.String(), group, string(enc.Kind), enc.Table, enc.Payload, enc.Match, enc.Options, now.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append %s on %s: %w", op.Kind(), group, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read record id: %w", err)
	}
	return &domain.Record{
		ID:         id,
		OpID:       opID,
		Group:      group,
		Op:         op,
		EnqueuedAt: now,
	}, nil
}

func countGroup(ctx context.Context, q sqlx.QueryerContext, group string) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, q, &n, `SELECT COUNT(*) FROM pending_operations WHERE grp = ?`, group); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", group, err)
	}
	return n, nil
}

func (l *OpLog) set(group string, n int) {
	l.mu.Lock()
	if n <= 0 {
		delete(l.pending, group)
		n = 0
	} else {
		l.pending[group] = n
	}
	l.mu.Unlock()
	metrics.PendingOperations.WithLabelValues(group).Set(float64(n))
}

// PeekOldest returns the lowest-ID record of group, or nil when it is empty.
func (l *OpLog) PeekOldest(ctx context.Context, group string) (*domain.Record, error) {
	l.countMu.Lock()
	defer l.countMu.Unlock()

	var row recordRow
	err := l.db.GetContext(ctx, &row,
		`SELECT `+recordColumns+` FROM pending_operations WHERE grp = ? ORDER BY id LIMIT 1`, group)
	if errors.Is(err, sql.ErrNoRows) {
		l.set(group, 0)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to peek %s: %w", group, err)
	}
	return row.toRecord()
}

// Remove deletes a replayed record. Removing an unknown id is a no-op.
func (l *OpLog) Remove(ctx context.Context, id int64) error {
	l.countMu.Lock()
	defer l.countMu.Unlock()

	var group string
	err := l.db.GetContext(ctx, &group, `DELETE FROM pending_operations WHERE id = ? RETURNING grp`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to remove record %d: %w", id, err)
	}
	n, err := countGroup(ctx, l.db, group)
	if err != nil {
		return err
	}
	l.set(group, n)
	return nil
}

// MarkAttempt records a failed replay attempt. Payload and match are untouched.
func (l *OpLog) MarkAttempt(ctx context.Context, id int64, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := l.db.ExecContext(ctx, `
		UPDATE pending_operations
		SET attempts = attempts + 1, last_attempt_at = ?, last_error = ?
		WHERE id = ?`,
		l.now().UnixNano(), msg, id,
	)
	if err != nil {
		return fmt.Errorf("failed to mark attempt on record %d: %w", id, err)
	}
	return nil
}

// Bury moves rec to the dead letters in one transaction.
func (l *OpLog) Bury(ctx context.Context, rec *domain.Record, cause error) error {
	reason := "rejected by primary"
	if cause != nil {
		reason = cause.Error()
	}

	l.countMu.Lock()
	defer l.countMu.Unlock()

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin bury: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO dead_letters (id, op_id, grp, kind, tbl, payload, criteria, options,
			enqueued_at, attempts, last_error, reason, buried_at)
		SELECT id, op_id, grp, kind, tbl, payload, criteria, options,
			enqueued_at, attempts + 1, last_error, ?, ?
		FROM pending_operations WHERE id = ?`,
		reason, l.now().UnixNano(), rec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to bury record %d: %w", rec.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_operations WHERE id = ?`, rec.ID); err != nil {
		return fmt.Errorf("failed to remove buried record %d: %w", rec.ID, err)
	}
	n, err := countGroup(ctx, tx, rec.Group)
	if err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bury: %w", err)
	}
	l.set(rec.Group, n)
	metrics.DeadLetters.WithLabelValues(rec.Group).Inc()
	return nil
}

// ListGroups returns the groups with pending records and resyncs every
// group's count.
func (l *OpLog) ListGroups(ctx context.Context) ([]string, error) {
	l.countMu.Lock()
	defer l.countMu.Unlock()

	var counts []struct {
		Group string `db:"grp"`
		Count int    `db:"n"`
	}
	err := l.db.SelectContext(ctx, &counts,
		`SELECT grp, COUNT(*) AS n FROM pending_operations GROUP BY grp ORDER BY MIN(id)`)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}

	groups := make([]string, 0, len(counts))
	seen := make(map[string]bool, len(counts))
	for _, c := range counts {
		groups = append(groups, c.Group)
		seen[c.Group] = true
		l.set(c.Group, c.Count)
	}
	l.mu.Lock()
	var gone []string
	for g := range l.pending {
		if !seen[g] {
			gone = append(gone, g)
		}
	}
	l.mu.Unlock()
	for _, g := range gone {
		l.set(g, 0)
	}
	return groups, nil
}

// Pending returns the number of pending records in group without I/O.
func (l *OpLog) Pending(group string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pending[group]
}

// Total returns the number of pending records across all groups without I/O.
func (l *OpLog) Total() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.pending {
		n += c
	}
	return n
}

// Stats summarises the log.
func (l *OpLog) Stats(ctx context.Context) (storage.LogStats, error) {
	stats := storage.LogStats{Groups: make(map[string]int)}

	var counts []struct {
		Group  string `db:"grp"`
		Count  int    `db:"n"`
		Oldest int64  `db:"oldest"`
	}
	err := l.db.SelectContext(ctx, &counts, `
		SELECT grp, COUNT(*) AS n, MIN(enqueued_at) AS oldest
		FROM pending_operations GROUP BY grp`)
	if err != nil {
		return stats, fmt.Errorf("failed to read log stats: %w", err)
	}
	var oldest int64
	for _, c := range counts {
		stats.Groups[c.Group] = c.Count
		stats.Pending += c.Count
		if oldest == 0 || c.Oldest < oldest {
			oldest = c.Oldest
		}
	}
	if oldest > 0 {
		stats.OldestAt = time.Unix(0, oldest)
	}

	if err := l.db.GetContext(ctx, &stats.DeadLetters, `SELECT COUNT(*) FROM dead_letters`); err != nil {
		return stats, fmt.Errorf("failed to count dead letters: %w", err)
	}
	return stats, nil
}

// List returns up to limit pending records, oldest first.
func (l *OpLog) List(ctx context.Context, limit int) ([]*domain.Record, error) {
	var rows []recordRow
	err := l.db.SelectContext(ctx, &rows,
		`SELECT `+recordColumns+` FROM pending_operations ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	out := make([]*domain.Record, 0, len(rows))
	for _, r := range rows {
		rec, err := r.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

type deadLetterRow struct {
	recordRow
	Reason   string `db:"reason"`
	BuriedAt int64  `db:"buried_at"`
}

// DeadLetters returns the most recently buried records.
func (l *OpLog) DeadLetters(ctx context.Context, limit int) ([]*domain.DeadLetter, error) {
	var rows []deadLetterRow
	err := l.db.SelectContext(ctx, &rows, `
		SELECT id, op_id, grp, kind, tbl, payload, criteria, options,
			enqueued_at, attempts, NULL AS last_attempt_at, last_error, reason, buried_at
		FROM dead_letters ORDER BY buried_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	out := make([]*domain.DeadLetter, 0, len(rows))
	for _, r := range rows {
		rec, err := r.toRecord()
		if err != nil {
			return nil, err
		}
		out = append(out, &domain.DeadLetter{
			Record:   *rec,
			Reason:   r.Reason,
			BuriedAt: time.Unix(0, r.BuriedAt),
		})
	}
	return out, nil
}

// PruneDeadLetters deletes dead letters buried before the cutoff.
func (l *OpLog) PruneDeadLetters(ctx context.Context, before time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE buried_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune dead letters: %w", err)
	}
	return res.RowsAffected()
}
