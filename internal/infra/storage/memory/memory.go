// Package memory implements storage.Adapter in process memory. It serves as
// the primary store in dev mode and as a deterministic backend in tests.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync"
	"time"

	"github.com/vietddude/cafepos/internal/core/domain"
)

type MemoryStorage struct {
	source domain.Source
	tables domain.Tables
	data   map[string][]domain.Row
	mu     sync.RWMutex
}

func NewMemoryStorage(source domain.Source, tables domain.Tables) *MemoryStorage {
	return &MemoryStorage{
		source: source,
		tables: tables,
		data:   make(map[string][]domain.Row),
	}
}

func (s *MemoryStorage) Source() domain.Source { return s.source }

func (s *MemoryStorage) Select(ctx context.Context, table string, q domain.Query) ([]domain.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Row
	for _, r := range s.data[table] {
		if matches(r, q.Filters) {
			out = append(out, r)
		}
	}
	if len(q.OrderBy) > 0 {
		slices.SortStableFunc(out, func(a, b domain.Row) int {
			for _, o := range q.OrderBy {
				c := compare(a[o.Column], b[o.Column])
				if o.Desc {
					c = -c
				}
				if c != 0 {
					return c
				}
			}
			return 0
		})
	}
	if q.Limit < 0 {
		return nil, fmt.Errorf("%w: negative limit", domain.ErrInvalidQuery)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}

	rows := make([]domain.Row, len(out))
	for i, r := range out {
		rows[i] = project(r, q.Columns)
	}
	return q.Shape(rows)
}

func (s *MemoryStorage) Insert(ctx context.Context, table string, rows []domain.Row) ([]domain.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := s.tables.Key(table)
	existing := s.data[table]
	for i, r := range rows {
		if !r.HasAll(key) {
			continue
		}
		if s.indexOf(existing, key, r) >= 0 || s.indexOf(rows[:i], key, r) >= 0 {
			return nil, fmt.Errorf("%w: %s %v", domain.ErrDuplicateKey, table, keyValues(r, key))
		}
	}

	out := make([]domain.Row, len(rows))
	for i, r := range rows {
		existing = append(existing, r.Clone())
		out[i] = r.Clone()
	}
	s.data[table] = existing
	return out, nil
}

func (s *MemoryStorage) Upsert(ctx context.Context, table string, rows []domain.Row, conflictKey []string) ([]domain.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(conflictKey) == 0 {
		return nil, fmt.Errorf("%w: upsert %s without conflict key", domain.ErrInvalidQuery, table)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := s.data[table]
	out := make([]domain.Row, 0, len(rows))
	for _, r := range rows {
		if !r.HasAll(conflictKey) {
			return nil, fmt.Errorf("%w: row missing conflict key %v", domain.ErrInvalidQuery, conflictKey)
		}
		if i := s.indexOf(existing, conflictKey, r); i >= 0 {
			for c, v := range r {
				existing[i][c] = v
			}
			out = append(out, existing[i].Clone())
			continue
		}
		existing = append(existing, r.Clone())
		out = append(out, r.Clone())
	}
	s.data[table] = existing
	return out, nil
}

func (s *MemoryStorage) Update(ctx context.Context, table string, patch domain.Row, match domain.Match) ([]domain.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(match) == 0 {
		return nil, fmt.Errorf("%w: update %s", domain.ErrUnboundedWrite, table)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Row
	for _, r := range s.data[table] {
		if !matches(r, match) {
			continue
		}
		for c, v := range patch {
			r[c] = v
		}
		out = append(out, r.Clone())
	}
	return out, nil
}

func (s *MemoryStorage) Delete(ctx context.Context, table string, match domain.Match) ([]domain.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(match) == 0 {
		return nil, fmt.Errorf("%w: delete %s", domain.ErrUnboundedWrite, table)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		kept    []domain.Row
		removed []domain.Row
	)
	for _, r := range s.data[table] {
		if matches(r, match) {
			removed = append(removed, r)
			continue
		}
		kept = append(kept, r)
	}
	s.data[table] = kept
	return removed, nil
}

// Len returns the number of rows in a table.
func (s *MemoryStorage) Len(table string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[table])
}

func (s *MemoryStorage) indexOf(rows []domain.Row, key []string, r domain.Row) int {
	for i, existing := range rows {
		same := true
		for _, c := range key {
			if !equal(existing[c], r[c]) {
				same = false
				break
			}
		}
		if same {
			return i
		}
	}
	return -1
}

func keyValues(r domain.Row, key []string) []any {
	out := make([]any, len(key))
	for i, c := range key {
		out[i] = r[c]
	}
	return out
}

func matches(r domain.Row, m domain.Match) bool {
	for c, want := range m {
		got := r[c]
		if set, ok := domain.SetValues(want); ok {
			if !slices.ContainsFunc(set, func(v any) bool { return equal(got, v) }) {
				return false
			}
			continue
		}
		if !equal(got, want) {
			return false
		}
	}
	return true
}

func project(r domain.Row, cols []string) domain.Row {
	if len(cols) == 0 {
		return r.Clone()
	}
	out := make(domain.Row, len(cols))
	for _, c := range cols {
		out[c] = r[c]
	}
	return out
}

// equal compares column values, treating all numeric kinds alike.
func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	fa, aNum := number(a)
	fb, bNum := number(b)
	if aNum && bNum {
		return fa == fb
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return reflect.DeepEqual(a, b)
}

func compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	fa, aNum := number(a)
	fb, bNum := number(b)
	if aNum && bNum {
		return cmp.Compare(fa, fb)
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	return cmp.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func number(v any) (float64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	return 0, false
}
