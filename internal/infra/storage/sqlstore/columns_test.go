package sqlstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vietddude/cafepos/internal/core/domain"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		declared string
		want     kind
	}{
		{"boolean", kindBool},
		{"BOOLEAN", kindBool},
		{"timestamp with time zone", kindTime},
		{"TIMESTAMP", kindTime},
		{"DATETIME", kindTime},
		{"numeric", kindFloat},
		{"NUMERIC(10, 2)", kindFloat},
		{"REAL", kindFloat},
		{"double precision", kindFloat},
		{"integer", kindInt},
		{"INTEGER", kindInt},
		{"text", kindAsIs},
		{"jsonb", kindJSON},
		{"JSON TEXT", kindJSON},
		{"", kindAsIs},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, kindOf(tt.declared), tt.declared)
	}
}

func kindsFor(types map[string]string) map[string]kind {
	kinds := make(map[string]kind)
	for col, declared := range types {
		if k := kindOf(declared); k != kindAsIs {
			kinds[col] = k
		}
	}
	return kinds
}

// A row read from PostgreSQL and the same row read from the SQLite mirror
// come out identical once coerced.
func TestCoerceSameRowFromBothBackends(t *testing.T) {
	saigon := time.FixedZone("ICT", 7*60*60)
	created := time.Date(2026, 10, 20, 3, 7, 0, 0, saigon)

	primary := []domain.Row{{
		"id":         "m1",
		"price":      "4.50",
		"available":  true,
		"recipe":     `{"shots": 2, "milk": "oat"}`,
		"created_at": created,
		"stock":      int64(12),
	}}
	mirror := []domain.Row{{
		"id":         "m1",
		"price":      4.5,
		"available":  int64(1),
		"recipe":     `{"milk":"oat","shots":2}`,
		"created_at": "2026-10-19 20:07:00",
		"stock":      int64(12),
	}}

	coerce(primary, kindsFor(map[string]string{
		"id":         "text",
		"price":      "numeric",
		"available":  "boolean",
		"recipe":     "jsonb",
		"created_at": "timestamp with time zone",
		"stock":      "integer",
	}))
	coerce(mirror, kindsFor(map[string]string{
		"id":         "TEXT",
		"price":      "REAL",
		"available":  "BOOLEAN",
		"recipe":     "JSON TEXT",
		"created_at": "TIMESTAMP",
		"stock":      "INTEGER",
	}))

	assert.Equal(t, primary, mirror)
	assert.Equal(t, true, mirror[0]["available"])
	assert.Equal(t, 4.5, mirror[0]["price"])
	assert.Equal(t, time.Date(2026, 10, 19, 20, 7, 0, 0, time.UTC), mirror[0]["created_at"])
}

func TestCoerceLeavesUnconvertibleValues(t *testing.T) {
	rows := []domain.Row{{"price": "n/a", "available": nil, "created_at": "yesterday", "note": "x"}}
	coerce(rows, map[string]kind{"price": kindFloat, "available": kindBool, "created_at": kindTime})
	assert.Equal(t, domain.Row{"price": "n/a", "available": nil, "created_at": "yesterday", "note": "x"}, rows[0])
}

func TestParseTimeLayouts(t *testing.T) {
	want := time.Date(2026, 10, 19, 20, 7, 0, 0, time.UTC)
	for _, s := range []string{
		"2026-10-19 20:07:00",
		"2026-10-19T20:07:00Z",
		"2026-10-20 03:07:00+07:00",
		"2026-10-19 20:07:00.000000000+00:00",
		"2026-10-20 03:07:00 +0700 ICT",
	} {
		got, ok := parseTime(s)
		if assert.True(t, ok, s) {
			assert.True(t, want.Equal(got.(time.Time)), "%s parsed as %v", s, got)
		}
	}
}
