package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	redisclient "github.com/vietddude/slotwatcher/internal/infra/redis"
)

var codeCmd = &cobra.Command{
	Use:   "code <message>",
	Short: "Send a code (sms:123-456 or appt:2) to the running watcher",
	Args:  cobra.MinimumNArgs(1),
	Run:   runCode,
}

func init() {
	rootCmd.AddCommand(codeCmd)
}

func runCode(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if cfg.Redis.URL == "" || !cfg.Backends.Inbox.Enabled {
		slog.Error("The inbox backend needs redis.url and backends.inbox.enabled")
		os.Exit(1)
	}

	client, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = client.Close()
	}()

	message := strings.Join(args, " ")
	inbox := redisclient.NewInbox(client, redisclient.WithRetention(cfg.Backends.Inbox.Retention))
	if err := inbox.Submit(context.Background(), message); err != nil {
		slog.Error("Failed to submit code", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Submitted %q\n", message)
}
