package control

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/vietddude/cafepos/internal/core/config"
	"github.com/vietddude/cafepos/internal/core/domain"
)

func testConfig(t *testing.T) *config.AppConfig {
	t.Helper()
	cfg, err := config.Parse([]byte("replay:\n  interval: 50ms\n"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	cfg.Server.Port = 0 // random port
	cfg.Local.Path = filepath.Join(t.TempDir(), "cafepos.db")
	return cfg
}

func TestApp_Lifecycle(t *testing.T) {
	cfg := testConfig(t)

	app, err := NewApp(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}

	if app.db != nil {
		t.Error("expected in-memory primary without database.url")
	}
	if app.grpcServer != nil {
		t.Error("expected gRPC server to be disabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := app.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := app.Start(ctx); err == nil {
		t.Error("expected second Start to fail")
	}

	res, err := app.Manager().Insert(ctx, "orders", domain.Row{"id": "o1", "total": 50})
	if err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if res.Source != domain.SourcePrimary {
		t.Errorf("expected primary source, got %s", res.Source)
	}

	// The write-through copy lands in the mirror.
	rows, err := app.Manager().Select(ctx, "orders", domain.Query{})
	if err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if len(rows.Rows) != 1 {
		t.Errorf("expected 1 row, got %d", len(rows.Rows))
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := app.Wait(); err != nil {
		t.Errorf("Wait returned %v", err)
	}
}

func TestApp_KeepsPendingLogAcrossRestarts(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	app, err := NewApp(ctx, cfg)
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	if _, _, err := app.mirror.Commit(ctx, domain.Insert{
		Table: "orders",
		Rows:  []domain.Row{{"id": "o2", "total": 30}},
	}); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if err := app.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	app, err = NewApp(ctx, cfg)
	if err != nil {
		t.Fatalf("NewApp failed: %v", err)
	}
	defer func() {
		_ = app.Stop(ctx)
	}()

	if got := app.oplog.Pending("orders"); got != 1 {
		t.Fatalf("expected 1 pending write after restart, got %d", got)
	}

	sum, err := app.Engine().Drain(ctx)
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	if sum.Replayed != 1 {
		t.Errorf("expected 1 replayed write, got %d", sum.Replayed)
	}
	if got := app.oplog.Pending("orders"); got != 0 {
		t.Errorf("expected empty log, got %d", got)
	}
}
