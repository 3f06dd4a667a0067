package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vietddude/inboxsync/internal/control"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync daemon with health and metrics endpoints",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := control.New(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize app", "error", err)
		return err
	}
	defer func() {
		if err := app.Close(); err != nil {
			slog.Warn("Failed to close app", "error", err)
		}
	}()

	slog.Info("Daemon started", "config", cfgPath, "owners", cfg.Sync.OwnerIDs(), "interval", cfg.Sync.Interval)
	if err := app.Serve(ctx); err != nil {
		slog.Error("Daemon failed", "error", err)
		return err
	}
	slog.Info("Daemon stopped gracefully")
	return nil
}
