package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/cafepos/internal/infra/storage/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations to the primary and the local mirror",
	Run:   runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	cfg := loadConfig()

	local, _ := openLocal(ctx, cfg)
	_ = local.Close()
	fmt.Printf("Local mirror migrated: %s\n", local.Path())

	if !cfg.Primary() {
		fmt.Println("No database.url configured, skipping primary")
		return
	}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		slog.Error("Failed to init db", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	if err := db.Migrate(ctx); err != nil {
		slog.Error("Failed to migrate primary", "error", err)
		os.Exit(1)
	}
	version, err := db.Version(ctx)
	if err != nil {
		slog.Error("Failed to read primary schema version", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Primary migrated to version %d\n", version)
}
