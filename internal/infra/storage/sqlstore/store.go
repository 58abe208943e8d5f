// Package sqlstore implements storage.Adapter over any sqlx connection whose
// SQL dialect supports ON CONFLICT and RETURNING (PostgreSQL, SQLite >= 3.35).
//
// The primary store and the local mirror both use it, so a query issued
// against either backend produces rows of the same shape. Values are returned
// as bool, int64, float64, time.Time (UTC) or string according to the
// column's declared type, whichever driver decoded them.
package sqlstore

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/cafepos/internal/core/domain"
)

// Store is a table-generic CRUD adapter.
type Store struct {
	ext     sqlx.ExtContext
	source  domain.Source
	tables  domain.Tables
	columns *columnCache
}

// New creates a store bound to ext (a *sqlx.DB or *sqlx.Tx).
func New(ext sqlx.ExtContext, source domain.Source, tables domain.Tables) *Store {
	return &Store{ext: ext, source: source, tables: tables, columns: newColumnCache()}
}

// WithExt returns a copy of the store bound to another executor, typically a transaction.
func (s *Store) WithExt(ext sqlx.ExtContext) *Store {
	return &Store{ext: ext, source: s.source, tables: s.tables, columns: s.columns}
}

// Source identifies the backend.
func (s *Store) Source() domain.Source { return s.source }

// Select returns the rows matching q.
func (s *Store) Select(ctx context.Context, table string, q domain.Query) ([]domain.Row, error) {
	physical := s.tables.Physical(table)
	query, args, err := buildSelect(physical, q)
	if err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, physical, query, args)
	if err != nil {
		return nil, fmt.Errorf("failed to select from %s: %w", table, err)
	}
	return q.Shape(rows)
}

// Insert adds rows and returns them as stored.
func (s *Store) Insert(ctx context.Context, table string, rows []domain.Row) ([]domain.Row, error) {
	return s.insert(ctx, table, rows, nil)
}

// Upsert adds rows, updating existing ones that collide on conflictKey.
func (s *Store) Upsert(ctx context.Context, table string, rows []domain.Row, conflictKey []string) ([]domain.Row, error) {
	if len(conflictKey) == 0 {
		return nil, fmt.Errorf("%w: upsert %s without conflict key", domain.ErrInvalidQuery, table)
	}
	return s.insert(ctx, table, rows, conflictKey)
}

func (s *Store) insert(ctx context.Context, table string, rows []domain.Row, conflict []string) ([]domain.Row, error) {
	if len(rows) == 0 {
		return nil, nil
	}
	physical := s.tables.Physical(table)
	var out []domain.Row
	for _, group := range columnGroups(rows) {
		cols := group[0].Columns()
		if len(cols) == 0 {
			return nil, fmt.Errorf("%w: empty row for %s", domain.ErrInvalidQuery, table)
		}
		query, args, err := buildInsert(physical, cols, group, conflict)
		if err != nil {
			return nil, err
		}
		stored, err := s.query(ctx, physical, query, args)
		if err != nil {
			return nil, fmt.Errorf("failed to insert into %s: %w", table, err)
		}
		out = append(out, stored...)
	}
	return out, nil
}

// Update patches the matched rows and returns them.
func (s *Store) Update(ctx context.Context, table string, patch domain.Row, match domain.Match) ([]domain.Row, error) {
	physical := s.tables.Physical(table)
	query, args, err := buildUpdate(physical, patch, match)
	if err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, physical, query, args)
	if err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", table, err)
	}
	return rows, nil
}

// Delete removes the matched rows and returns them.
func (s *Store) Delete(ctx context.Context, table string, match domain.Match) ([]domain.Row, error) {
	physical := s.tables.Physical(table)
	query, args, err := buildDelete(physical, match)
	if err != nil {
		return nil, err
	}
	rows, err := s.query(ctx, physical, query, args)
	if err != nil {
		return nil, fmt.Errorf("failed to delete from %s: %w", table, err)
	}
	return rows, nil
}

// Truncate removes every row of a table.
func (s *Store) Truncate(ctx context.Context, table string) error {
	qt, err := quote(s.tables.Physical(table))
	if err != nil {
		return err
	}
	if _, err := s.ext.ExecContext(ctx, "DELETE FROM "+qt); err != nil {
		return fmt.Errorf("failed to truncate %s: %w", table, err)
	}
	return nil
}

func (s *Store) query(ctx context.Context, physical, query string, args []any) ([]domain.Row, error) {
	out, err := s.scan(ctx, query, args)
	if err != nil || len(out) == 0 {
		return out, err
	}
	// The mirror runs on one connection, so column types are read only
	// after the result set is closed. The statement has already run, so a
	// failed lookup returns the rows as decoded rather than an error.
	if kinds, err := s.columnKinds(ctx, physical); err == nil {
		coerce(out, kinds)
	}
	return out, nil
}

func (s *Store) scan(ctx context.Context, query string, args []any) ([]domain.Row, error) {
	rows, err := s.ext.QueryxContext(ctx, s.ext.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var out []domain.Row
	for rows.Next() {
		m := make(map[string]any)
		if err := rows.MapScan(m); err != nil {
			return nil, err
		}
		out = append(out, normalize(m))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// normalize turns driver byte slices into strings so rows look the same
// regardless of which driver produced them.
func normalize(m map[string]any) domain.Row {
	for k, v := range m {
		if b, ok := v.([]byte); ok {
			m[k] = string(b)
		}
	}
	return domain.Row(m)
}
