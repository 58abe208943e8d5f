package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	redisclient "github.com/vietddude/cafepos/internal/infra/redis"
)

var (
	deadLetterLimit int
	fromRedis       bool
)

var deadLettersCmd = &cobra.Command{
	Use:   "deadletters",
	Short: "List writes the primary rejected during replay",
	Run:   runDeadLetters,
}

func init() {
	deadLettersCmd.Flags().IntVar(&deadLetterLimit, "limit", 50, "number of dead letters to list")
	deadLettersCmd.Flags().BoolVar(&fromRedis, "redis", false, "read alerts from Redis instead of the local mirror")
	rootCmd.AddCommand(deadLettersCmd)
}

func runDeadLetters(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	cfg := loadConfig()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "OP ID\tTABLE\tKIND\tATTEMPTS\tBURIED\tREASON")

	if fromRedis {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			_ = client.Close()
		}()

		alerts, err := redisclient.NewAlertRepo(client, cfg.Redis.Channel, cfg.OpLog.DeadLetterRetention).
			Recent(ctx, deadLetterLimit)
		if err != nil {
			slog.Error("Failed to read alerts", "error", err)
			os.Exit(1)
		}
		for _, a := range alerts {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
				a.OpID, a.Group, a.Operation, a.Attempts, a.At.Format(time.RFC3339), a.Reason)
		}
		_ = w.Flush()
		return
	}

	db, oplog := openLocal(ctx, cfg)
	defer func() {
		_ = db.Close()
	}()

	dead, err := oplog.DeadLetters(ctx, deadLetterLimit)
	if err != nil {
		slog.Error("Failed to list dead letters", "error", err)
		os.Exit(1)
	}
	for _, dl := range dead {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			dl.Record.OpID, dl.Record.Group, dl.Record.Op.Kind(), dl.Record.Attempts,
			dl.BuriedAt.Format(time.RFC3339), dl.Reason)
	}
	_ = w.Flush()
}
