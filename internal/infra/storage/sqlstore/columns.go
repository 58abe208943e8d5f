package sqlstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/cafepos/internal/core/domain"
)

// kind is the Go type a column's values are returned as, whatever the driver
// decoded them to.
type kind int

const (
	kindAsIs kind = iota
	kindBool
	kindInt
	kindFloat
	kindTime
	kindJSON
)

// kindOf maps a declared column type (SQLite) or information_schema data_type
// (PostgreSQL) to a kind.
func kindOf(declared string) kind {
	t := strings.ToUpper(strings.TrimSpace(declared))
	if i := strings.IndexByte(t, '('); i >= 0 {
		t = strings.TrimSpace(t[:i])
	}
	switch {
	case t == "BOOL" || t == "BOOLEAN":
		return kindBool
	case strings.HasPrefix(t, "JSON"):
		return kindJSON
	case strings.HasPrefix(t, "TIMESTAMP") || t == "DATETIME" || t == "DATE":
		return kindTime
	case t == "NUMERIC" || t == "DECIMAL" || t == "REAL" || t == "FLOAT" ||
		t == "FLOAT4" || t == "FLOAT8" || strings.HasPrefix(t, "DOUBLE"):
		return kindFloat
	case t == "INTEGER" || t == "INT" || t == "BIGINT" || t == "SMALLINT" ||
		t == "INT2" || t == "INT4" || t == "INT8":
		return kindInt
	default:
		return kindAsIs
	}
}

// columnCache holds the column kinds of each physical table. It is shared by
// every copy of a Store so transactions reuse what the pool learned.
type columnCache struct {
	mu     sync.Mutex
	tables map[string]map[string]kind
}

func newColumnCache() *columnCache {
	return &columnCache{tables: make(map[string]map[string]kind)}
}

func (s *Store) columnKinds(ctx context.Context, physical string) (map[string]kind, error) {
	s.columns.mu.Lock()
	kinds, ok := s.columns.tables[physical]
	s.columns.mu.Unlock()
	if ok {
		return kinds, nil
	}

	query := `SELECT name, type FROM pragma_table_info(?)`
	if sqlx.BindType(s.ext.DriverName()) == sqlx.DOLLAR {
		query = `SELECT column_name AS name, data_type AS type FROM information_schema.columns
			WHERE table_schema = current_schema() AND table_name = ?`
	}
	var cols []struct {
		Name string `db:"name"`
		Type string `db:"type"`
	}
	if err := sqlx.SelectContext(ctx, s.ext, &cols, s.ext.Rebind(query), physical); err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", physical, err)
	}

	kinds = make(map[string]kind, len(cols))
	for _, c := range cols {
		if k := kindOf(c.Type); k != kindAsIs {
			kinds[c.Name] = k
		}
	}
	// An unknown table is not cached so it is looked up again once it exists.
	if len(cols) > 0 {
		s.columns.mu.Lock()
		s.columns.tables[physical] = kinds
		s.columns.mu.Unlock()
	}
	return kinds, nil
}

// coerce converts driver values to the column's kind in place. Values that do
// not convert are left as the driver returned them.
func coerce(rows []domain.Row, kinds map[string]kind) {
	if len(kinds) == 0 {
		return
	}
	for _, r := range rows {
		for col, v := range r {
			k, ok := kinds[col]
			if !ok || v == nil {
				continue
			}
			if c, ok := convert(v, k); ok {
				r[col] = c
			}
		}
	}
}

func convert(v any, k kind) (any, bool) {
	switch k {
	case kindBool:
		switch x := v.(type) {
		case bool:
			return x, true
		case int64:
			return x != 0, true
		case float64:
			return x != 0, true
		case string:
			b, err := strconv.ParseBool(x)
			return b, err == nil
		}
	case kindInt:
		switch x := v.(type) {
		case int64:
			return x, true
		case float64:
			if x == float64(int64(x)) {
				return int64(x), true
			}
		case string:
			n, err := strconv.ParseInt(x, 10, 64)
			return n, err == nil
		}
	case kindFloat:
		switch x := v.(type) {
		case float64:
			return x, true
		case int64:
			return float64(x), true
		case string:
			f, err := strconv.ParseFloat(x, 64)
			return f, err == nil
		}
	case kindTime:
		switch x := v.(type) {
		case time.Time:
			return x.UTC(), true
		case string:
			return parseTime(x)
		case int64:
			return time.Unix(x, 0).UTC(), true
		}
	case kindJSON:
		if x, ok := v.(string); ok {
			return compactJSON(x)
		}
	}
	return v, false
}

// timeLayouts covers RFC 3339 and the layouts SQLite's date functions and the
// modernc driver write.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006-01-02 15:04:05.999999999 -0700 MST",
}

func parseTime(s string) (any, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return s, false
}

// compactJSON re-encodes a document so key order and spacing match whichever
// backend stored it.
func compactJSON(s string) (any, bool) {
	var doc any
	if err := json.Unmarshal([]byte(s), &doc); err != nil {
		return s, false
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return s, false
	}
	return string(b), true
}
