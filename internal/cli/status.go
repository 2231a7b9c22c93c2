package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	redisclient "github.com/vietddude/slotwatcher/internal/infra/redis"
	"github.com/vietddude/slotwatcher/internal/infra/storage/postgres"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the booking journal and the queued locations",
	Run:   runStatus,
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 20, "number of bookings to show")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := context.Background()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)

	if cfg.Database.URL == "" {
		slog.Warn("No database configured, booking journal is kept in memory only")
	} else {
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			_ = db.Close()
		}()

		bookings, err := postgres.NewBookingRepo(db).List(ctx, statusLimit)
		if err != nil {
			slog.Error("Failed to query bookings", "error", err)
			os.Exit(1)
		}

		_, _ = fmt.Fprintln(w, "LOCATION\tSLOTS\tSTATUS\tUPDATED\tDETAIL")
		for _, b := range bookings {
			_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				b.PostalCode, b.SlotKey, b.Status, b.UpdatedAt.Format(time.RFC3339), b.Detail)
		}
		_ = w.Flush()
	}

	if cfg.Redis.URL == "" {
		return
	}
	client, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = client.Close()
	}()

	queued, err := redisclient.NewLocationQueue(client).List(ctx)
	if err != nil {
		slog.Error("Failed to read queue", "error", err)
		os.Exit(1)
	}

	_, _ = fmt.Fprintf(os.Stdout, "\nQueued locations: %d\n", len(queued))
	_, _ = fmt.Fprintln(w, "POSITION\tLOCATION\tCODE\tERRORS")
	for i, loc := range queued {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%t\t%d\n", i+1, loc.Label, loc.HasCode(), loc.ErrorCount)
	}
	_ = w.Flush()
}
