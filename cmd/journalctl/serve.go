package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/readingjournal/syncengine/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the reference remote API server standalone",
	Long: "Run internal/server's reference implementation of the remote reading-journal API, " +
		"useful for local development and integration tests against a journalctl client without a real backend.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	srv := newReferenceServer(cfg, logger)
	logger.Info("reference server starting", "address", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("reference server: %w", err)
	}
	return nil
}
