package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/cafepos/internal/core/domain"
)

func openTest(t *testing.T, path string) (*DB, *OpLog, *Mirror) {
	t.Helper()
	ctx := context.Background()
	if path == "" {
		path = filepath.Join(t.TempDir(), "mirror.db")
	}
	db, err := Open(ctx, Config{Path: path, Migrate: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log, err := NewOpLog(ctx, db)
	require.NoError(t, err)
	return db, log, NewMirror(db, log, nil)
}

func TestCommitAppliesAndJournals(t *testing.T) {
	_, log, mirror := openTest(t, "")
	ctx := context.Background()

	rows, rec, err := mirror.Commit(ctx, domain.Insert{
		Table: "orders",
		Rows:  []domain.Row{{"id": "o2", "total": 30, "note": "oat milk"}},
	})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "o2", rows[0]["id"])
	assert.Equal(t, "open", rows[0]["status"])
	require.NotNil(t, rec)
	assert.Equal(t, "orders", rec.Group)
	assert.Equal(t, 1, log.Pending("orders"))

	got, err := mirror.Select(ctx, "orders", domain.Query{Filters: domain.Match{"id": "o2"}, Single: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, float64(30), got[0]["total"])

	oldest, err := log.PeekOldest(ctx, "orders")
	require.NoError(t, err)
	require.NotNil(t, oldest)
	assert.Equal(t, rec.ID, oldest.ID)
	assert.Equal(t, rec.OpID, oldest.OpID)
	ins, ok := oldest.Op.(domain.Insert)
	require.True(t, ok)
	assert.Equal(t, domain.Row{"id": "o2", "total": int64(30), "note": "oat milk"}, ins.Rows[0])
}

func TestCommitRollsBackOnLocalFailure(t *testing.T) {
	_, log, mirror := openTest(t, "")
	ctx := context.Background()

	_, _, err := mirror.Commit(ctx, domain.Insert{Table: "customers", Rows: []domain.Row{{"id": "c1", "name": "An"}}})
	require.NoError(t, err)

	_, _, err = mirror.Commit(ctx, domain.Insert{Table: "customers", Rows: []domain.Row{{"id": "c1", "name": "Binh"}}})
	require.Error(t, err)
	assert.Equal(t, 1, log.Pending("customers"))

	recs, err := log.List(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestFIFOPerGroup(t *testing.T) {
	_, log, _ := openTest(t, "")
	ctx := context.Background()

	ops := []domain.Operation{
		domain.Insert{Table: "orders", Rows: []domain.Row{{"id": "o1"}}},
		domain.Insert{Table: "customers", Rows: []domain.Row{{"id": "c1"}}},
		domain.Update{Table: "orders", Patch: domain.Row{"status": "paid"}, Match: domain.Match{"id": "o1"}},
		domain.Delete{Table: "orders", Match: domain.Match{"id": []any{"o1", "o9"}}},
	}
	for _, op := range ops {
		_, err := log.Append(ctx, op.Target(), op)
		require.NoError(t, err)
	}

	groups, err := log.ListGroups(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "customers"}, groups)

	var kinds []domain.OperationKind
	for {
		rec, err := log.PeekOldest(ctx, "orders")
		require.NoError(t, err)
		if rec == nil {
			break
		}
		kinds = append(kinds, rec.Op.Kind())
		require.NoError(t, log.Remove(ctx, rec.ID))
	}
	assert.Equal(t, []domain.OperationKind{domain.KindInsert, domain.KindUpdate, domain.KindDelete}, kinds)
	assert.Equal(t, 0, log.Pending("orders"))
	assert.Equal(t, 1, log.Pending("customers"))
}

func TestLogSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.db")
	ctx := context.Background()

	db, log, _ := openTest(t, path)
	_, err := log.Append(ctx, "orders", domain.Upsert{
		Table:       "orders",
		Rows:        []domain.Row{{"id": "o3", "total": 12.5}},
		ConflictKey: []string{"id"},
	})
	require.NoError(t, err)
	require.NoError(t, db.Close())

	_, log, _ = openTest(t, path)
	assert.Equal(t, 1, log.Pending("orders"))
	assert.Equal(t, 1, log.Total())

	rec, err := log.PeekOldest(ctx, "orders")
	require.NoError(t, err)
	require.NotNil(t, rec)
	up, ok := rec.Op.(domain.Upsert)
	require.True(t, ok)
	assert.Equal(t, []string{"id"}, up.ConflictKey)
	assert.Equal(t, 12.5, up.Rows[0]["total"])
}

func TestMarkAttemptKeepsPayload(t *testing.T) {
	_, log, _ := openTest(t, "")
	ctx := context.Background()

	op := domain.Update{Table: "orders", Patch: domain.Row{"status": "completed"}, Match: domain.Match{"id": "o2"}}
	rec, err := log.Append(ctx, "orders", op)
	require.NoError(t, err)

	require.NoError(t, log.MarkAttempt(ctx, rec.ID, errors.New("connection refused")))
	require.NoError(t, log.MarkAttempt(ctx, rec.ID, errors.New("i/o timeout")))

	got, err := log.PeekOldest(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, "i/o timeout", got.LastError)
	assert.False(t, got.LastAttemptAt.IsZero())
	assert.Equal(t, op, got.Op)
}

func TestBuryAndPrune(t *testing.T) {
	_, log, _ := openTest(t, "")
	ctx := context.Background()

	rec, err := log.Append(ctx, "orders", domain.Update{
		Table: "orders", Patch: domain.Row{"status": "completed"}, Match: domain.Match{"id": "gone"},
	})
	require.NoError(t, err)
	_, err = log.Append(ctx, "orders", domain.Delete{Table: "orders", Match: domain.Match{"id": "o1"}})
	require.NoError(t, err)

	require.NoError(t, log.Bury(ctx, rec, domain.ErrNotFound))
	assert.Equal(t, 1, log.Pending("orders"))

	next, err := log.PeekOldest(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, domain.KindDelete, next.Op.Kind())

	dead, err := log.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	assert.Equal(t, rec.OpID, dead[0].Record.OpID)
	assert.Equal(t, domain.ErrNotFound.Error(), dead[0].Reason)
	assert.Equal(t, 1, dead[0].Record.Attempts)

	stats, err := log.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.DeadLetters)
	assert.Equal(t, map[string]int{"orders": 1}, stats.Groups)
	assert.False(t, stats.OldestAt.IsZero())

	n, err := log.PruneDeadLetters(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestReplace(t *testing.T) {
	_, log, mirror := openTest(t, "")
	ctx := context.Background()

	_, err := mirror.Insert(ctx, "menu_items", []domain.Row{
		{"id": "m1", "name": "Latte", "price": 4.5},
		{"id": "m2", "name": "Mocha", "price": 5},
	})
	require.NoError(t, err)

	err = mirror.Replace(ctx, "menu_items", []string{"id"}, []domain.Row{
		{"id": "m1", "name": "Latte", "price": 4.75},
		{"id": "m3", "name": "Cold Brew", "price": 4},
	})
	require.NoError(t, err)

	rows, err := mirror.Select(ctx, "menu_items", domain.Query{OrderBy: []domain.Order{{Column: "id"}}, Columns: []string{"id", "price"}})
	require.NoError(t, err)
	assert.Equal(t, []domain.Row{
		{"id": "m1", "price": 4.75},
		{"id": "m3", "price": float64(4)},
	}, rows)
	assert.Equal(t, 0, log.Pending("menu_items"))
}

func TestReplaceRefusesPendingTable(t *testing.T) {
	_, log, mirror := openTest(t, "")
	ctx := context.Background()

	_, _, err := mirror.Commit(ctx, domain.Insert{Table: "menu_items", Rows: []domain.Row{
		{"id": "m9", "name": "Seasonal", "price": 6},
	}})
	require.NoError(t, err)

	err = mirror.Replace(ctx, "menu_items", []string{"id"}, nil)
	assert.True(t, errors.Is(err, ErrPendingWrites))

	rows, err := mirror.Select(ctx, "menu_items", domain.Query{})
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, 1, log.Pending("menu_items"))
}

func TestMirrorRowsUseColumnTypes(t *testing.T) {
	_, _, mirror := openTest(t, "")
	ctx := context.Background()

	rows, _, err := mirror.Commit(ctx, domain.Insert{Table: "menu_items", Rows: []domain.Row{
		{"id": "m1", "name": "Latte", "price": 4.5, "available": true, "recipe": `{"shots":2}`},
	}})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, true, rows[0]["available"])
	assert.Equal(t, 4.5, rows[0]["price"])
	assert.Equal(t, `{"shots":2}`, rows[0]["recipe"])

	placed := time.Date(2026, 10, 20, 3, 7, 0, 0, time.FixedZone("ICT", 7*60*60))
	_, _, err = mirror.Commit(ctx, domain.Insert{Table: "orders", Rows: []domain.Row{
		{"id": "o1", "total": 50, "updated_at": placed},
	}})
	require.NoError(t, err)

	got, err := mirror.Select(ctx, "orders", domain.Query{Filters: domain.Match{"id": "o1"}, Single: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, float64(50), got[0]["total"])
	created, ok := got[0]["created_at"].(time.Time)
	require.True(t, ok, "created_at is %T", got[0]["created_at"])
	assert.Equal(t, time.UTC, created.Location())
	updated, ok := got[0]["updated_at"].(time.Time)
	require.True(t, ok, "updated_at is %T", got[0]["updated_at"])
	assert.True(t, placed.Equal(updated))

	off, err := mirror.Update(ctx, "menu_items", domain.Row{"available": false}, domain.Match{"id": "m1"})
	require.NoError(t, err)
	require.Len(t, off, 1)
	assert.Equal(t, false, off[0]["available"])
}

func TestCommitRejectsRowWithoutID(t *testing.T) {
	_, log, mirror := openTest(t, "")
	ctx := context.Background()

	_, _, err := mirror.Commit(ctx, domain.Insert{Table: "orders", Rows: []domain.Row{{"total": 12}}})
	require.Error(t, err)
	assert.Equal(t, 0, log.Pending("orders"))

	rows, err := mirror.Select(ctx, "orders", domain.Query{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestPendingResyncsAfterAnotherProcessDrains(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mirror.db")
	_, service, _ := openTest(t, path)
	_, cli, _ := openTest(t, path)
	ctx := context.Background()

	rec, err := service.Append(ctx, "orders", domain.Insert{Table: "orders", Rows: []domain.Row{{"id": "o1"}}})
	require.NoError(t, err)
	require.Equal(t, 1, service.Pending("orders"))

	require.NoError(t, cli.Remove(ctx, rec.ID))

	groups, err := service.ListGroups(ctx)
	require.NoError(t, err)
	assert.Empty(t, groups)
	assert.Equal(t, 0, service.Pending("orders"))
	assert.Equal(t, 0, service.Total())

	rec, err = service.Append(ctx, "orders", domain.Insert{Table: "orders", Rows: []domain.Row{{"id": "o2"}}})
	require.NoError(t, err)
	require.NoError(t, cli.Remove(ctx, rec.ID))

	oldest, err := service.PeekOldest(ctx, "orders")
	require.NoError(t, err)
	assert.Nil(t, oldest)
	assert.Equal(t, 0, service.Pending("orders"))

	_, err = cli.Append(ctx, "orders", domain.Insert{Table: "orders", Rows: []domain.Row{{"id": "o3"}}})
	require.NoError(t, err)
	_, err = service.Append(ctx, "orders", domain.Insert{Table: "orders", Rows: []domain.Row{{"id": "o4"}}})
	require.NoError(t, err)
	assert.Equal(t, 2, service.Pending("orders"))
}
