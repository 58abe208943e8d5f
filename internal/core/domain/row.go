package domain

import (
	"reflect"
	"sort"
)

// Row is a single record keyed by column name.
type Row map[string]any

// Clone returns a shallow copy of the row.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Columns returns the row's column names in sorted order.
func (r Row) Columns() []string {
	cols := make([]string, 0, len(r))
	for c := range r {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// HasAll reports whether every column in cols is present and non-nil.
func (r Row) HasAll(cols []string) bool {
	if len(cols) == 0 {
		return false
	}
	for _, c := range cols {
		if v, ok := r[c]; !ok || v == nil {
			return false
		}
	}
	return true
}

// Match identifies rows by column. A slice value means "column in set".
type Match map[string]any

// Columns returns the match columns in sorted order.
func (m Match) Columns() []string {
	cols := make([]string, 0, len(m))
	for c := range m {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// Clone returns a shallow copy of the match.
func (m Match) Clone() Match {
	if m == nil {
		return nil
	}
	out := make(Match, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SetValues returns the members of v when v is an "in set" value.
// Byte slices are scalar values, not sets.
func SetValues(v any) ([]any, bool) {
	switch vv := v.(type) {
	case nil, []byte:
		return nil, false
	case []any:
		return vv, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
