package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	redisclient "github.com/vietddude/slotwatcher/internal/infra/redis"
)

var resetQueueCmd = &cobra.Command{
	Use:   "reset-queue",
	Short: "Clear the location queue so the next run starts from the configured locations",
	Args:  cobra.NoArgs,
	Run:   runResetQueue,
}

func init() {
	rootCmd.AddCommand(resetQueueCmd)
}

func runResetQueue(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if cfg.Redis.URL == "" {
		fmt.Println("No redis configured; the in-memory queue is rebuilt on every start")
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

	if err := redisclient.NewLocationQueue(client).Clear(context.Background()); err != nil {
		slog.Error("Failed to clear queue", "error", err)
		os.Exit(1)
	}
	fmt.Println("Location queue cleared")
}
