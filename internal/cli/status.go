package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/cafepos/internal/core/config"
	"github.com/vietddude/cafepos/internal/infra/storage/postgres"
	"github.com/vietddude/cafepos/internal/infra/storage/sqlite"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the pending operation log and primary reachability",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "number of pending operations to list")
	rootCmd.AddCommand(statusCmd)
}

// openLocal opens the local mirror and its pending log.
func openLocal(ctx context.Context, cfg *config.AppConfig) (*sqlite.DB, *sqlite.OpLog) {
	localCfg := cfg.Local
	localCfg.Migrate = true

	db, err := sqlite.Open(ctx, localCfg)
	if err != nil {
		slog.Error("Failed to open local mirror", "path", localCfg.Path, "error", err)
		os.Exit(1)
	}
	oplog, err := sqlite.NewOpLog(ctx, db)
	if err != nil {
		_ = db.Close()
		slog.Error("Failed to load pending log", "error", err)
		os.Exit(1)
	}
	return db, oplog
}

func runStatus(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	cfg := loadConfig()

	db, oplog := openLocal(ctx, cfg)
	defer func() {
		_ = db.Close()
	}()

	stats, err := oplog.Stats(ctx)
	if err != nil {
		slog.Error("Failed to read pending log", "error", err)
		os.Exit(1)
	}

	primary := "in-memory (dev mode)"
	if cfg.Primary() {
		primary = "unreachable"
		pg, err := postgres.NewDB(cfg.Database)
		if err == nil {
			pingCtx, cancel := context.WithTimeout(ctx, cfg.Database.Timeout)
			if err := pg.Health(pingCtx); err == nil {
				primary = "reachable"
				if v, err := pg.Version(pingCtx); err == nil {
					primary = fmt.Sprintf("reachable (schema v%d)", v)
				}
			}
			cancel()
			_ = pg.Close()
		}
	}

	fmt.Printf("Local mirror:  %s\n", db.Path())
	fmt.Printf("Primary:       %s\n", primary)
	fmt.Printf("Pending:       %d\n", stats.Pending)
	fmt.Printf("Dead letters:  %d\n", stats.DeadLetters)
	if !stats.OldestAt.IsZero() {
		fmt.Printf("Oldest:        %s (%s ago)\n", stats.OldestAt.Format(time.RFC3339), time.Since(stats.OldestAt).Round(time.Second))
	}

	if len(stats.Groups) == 0 {
		return
	}

	groups := make([]string, 0, len(stats.Groups))
	for g := range stats.Groups {
		groups = append(groups, g)
	}
	sort.Strings(groups)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "\nTABLE\tPENDING")
	for _, g := range groups {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", g, stats.Groups[g])
	}
	_ = w.Flush()

	records, err := oplog.List(ctx, statusLimit)
	if err != nil {
		slog.Error("Failed to list pending operations", "error", err)
		os.Exit(1)
	}
	w = tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "\nID\tTABLE\tKIND\tATTEMPTS\tENQUEUED\tLAST ERROR")
	for _, r := range records {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n",
			r.ID, r.Group, r.Op.Kind(), r.Attempts, r.EnqueuedAt.Format(time.RFC3339), r.LastError)
	}
	_ = w.Flush()
}
