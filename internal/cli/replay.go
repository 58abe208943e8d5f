package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/vietddude/cafepos/internal/failover/health"
	"github.com/vietddude/cafepos/internal/failover/replay"
	"github.com/vietddude/cafepos/internal/infra/storage/postgres"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Drain the pending operation log into the primary once",
	Long: `replay runs a single replay pass against the configured primary and prints
what happened. Replay is idempotent, so running it next to a live service is safe.`,
	Run: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	cfg := loadConfig()
	if !cfg.Primary() {
		slog.Error("No database.url configured, nothing to replay into")
		os.Exit(1)
	}

	local, oplog := openLocal(ctx, cfg)
	defer func() {
		_ = local.Close()
	}()

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		slog.Error("Failed to init db", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	engine := replay.NewEngine(
		postgres.NewPrimary(db, cfg.Tables),
		oplog,
		health.NewController(cfg.Health),
		cfg.Tables,
		nil,
		cfg.Replay,
	)
	sum, err := engine.Drain(ctx)
	fmt.Printf("Replayed: %d\nBuried:   %d\nPending:  %d\n", sum.Replayed, sum.Buried, oplog.Total())
	if len(sum.Stuck) > 0 {
		fmt.Printf("Stuck:    %s\n", strings.Join(sum.Stuck, ", "))
	}
	if err != nil {
		slog.Error("Replay stopped early", "error", err)
		os.Exit(1)
	}
}
