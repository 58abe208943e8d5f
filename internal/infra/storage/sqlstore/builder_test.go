package sqlstore

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/cafepos/internal/core/domain"
)

func TestBuildSelect(t *testing.T) {
	query, args, err := buildSelect("orders", domain.Query{
		Columns: []string{"id", "total"},
		Filters: domain.Match{"status": "open", "customer_id": []string{"c1", "c2"}},
		OrderBy: []domain.Order{{Column: "created_at", Desc: true}},
		Limit:   10,
	})
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "id", "total" FROM "orders" WHERE "customer_id" IN (?, ?) AND "status" = ? ORDER BY "created_at" DESC LIMIT 10`,
		query)
	assert.Equal(t, []any{"c1", "c2", "open"}, args)
}

func TestBuildSelectSingleCapsLimit(t *testing.T) {
	query, _, err := buildSelect("orders", domain.Query{Single: true})
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "orders" LIMIT 2`, query)
}

func TestBuildSelectEmptySetMatchesNothing(t *testing.T) {
	query, args, err := buildSelect("orders", domain.Query{Filters: domain.Match{"id": []string{}}})
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "orders" WHERE 1 = 0`, query)
	assert.Empty(t, args)
}

func TestBuildSelectNullFilter(t *testing.T) {
	query, _, err := buildSelect("orders", domain.Query{Filters: domain.Match{"closed_at": nil}})
	require.NoError(t, err)
	assert.Equal(t, `SELECT * FROM "orders" WHERE "closed_at" IS NULL`, query)
}

func TestBuildRejectsBadIdentifiers(t *testing.T) {
	_, _, err := buildSelect(`orders"; DROP TABLE orders; --`, domain.Query{})
	assert.True(t, errors.Is(err, domain.ErrInvalidQuery))

	_, _, err = buildSelect("orders", domain.Query{Columns: []string{"id, total"}})
	assert.True(t, errors.Is(err, domain.ErrInvalidQuery))

	_, _, err = buildUpdate("orders", domain.Row{"bad col": 1}, domain.Match{"id": "o1"})
	assert.True(t, errors.Is(err, domain.ErrInvalidQuery))
}

func TestBuildInsert(t *testing.T) {
	rows := []domain.Row{
		{"id": "o1", "total": 50},
		{"id": "o2", "total": 30},
	}
	query, args, err := buildInsert("orders", []string{"id", "total"}, rows, nil)
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "orders" ("id", "total") VALUES (?, ?), (?, ?) RETURNING *`, query)
	assert.Equal(t, []any{"o1", 50, "o2", 30}, args)
}

func TestBuildUpsert(t *testing.T) {
	rows := []domain.Row{{"id": "o1", "total": 50, "status": "open"}}
	query, _, err := buildInsert("orders", []string{"id", "status", "total"}, rows, []string{"id"})
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "orders" ("id", "status", "total") VALUES (?, ?, ?) ON CONFLICT ("id") DO UPDATE SET "status" = excluded."status", "total" = excluded."total" RETURNING *`,
		query)

	query, _, err = buildInsert("orders", []string{"id"}, []domain.Row{{"id": "o1"}}, []string{"id"})
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "orders" ("id") VALUES (?) ON CONFLICT ("id") DO NOTHING RETURNING *`, query)
}

func TestBuildUpdate(t *testing.T) {
	query, args, err := buildUpdate("orders", domain.Row{"status": "completed"}, domain.Match{"id": "o2"})
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "orders" SET "status" = ? WHERE "id" = ? RETURNING *`, query)
	assert.Equal(t, []any{"completed", "o2"}, args)

	_, _, err = buildUpdate("orders", domain.Row{"status": "completed"}, nil)
	assert.True(t, errors.Is(err, domain.ErrUnboundedWrite))
}

func TestBuildDelete(t *testing.T) {
	query, args, err := buildDelete("orders", domain.Match{"id": []any{"o1", "o2"}})
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "orders" WHERE "id" IN (?, ?) RETURNING *`, query)
	assert.Equal(t, []any{"o1", "o2"}, args)

	_, _, err = buildDelete("orders", domain.Match{})
	assert.True(t, errors.Is(err, domain.ErrUnboundedWrite))
}

func TestArgValueEncodesComposites(t *testing.T) {
	v, err := argValue(map[string]any{"size": "L"})
	require.NoError(t, err)
	assert.Equal(t, `{"size":"L"}`, v)

	v, err = argValue([]string{"oat", "soy"})
	require.NoError(t, err)
	assert.Equal(t, `["oat","soy"]`, v)

	v, err = argValue(42)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestColumnGroups(t *testing.T) {
	groups := columnGroups([]domain.Row{
		{"id": "a", "total": 1},
		{"id": "b", "total": 2},
		{"id": "c"},
		{"id": "d", "total": 4},
	})
	require.Len(t, groups, 3)
	assert.Len(t, groups[0], 2)
	assert.Len(t, groups[1], 1)
	assert.Len(t, groups[2], 1)
}
