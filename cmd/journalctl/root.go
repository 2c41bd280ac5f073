package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/readingjournal/syncengine/internal/backup"
	"github.com/readingjournal/syncengine/internal/config"
	"github.com/readingjournal/syncengine/internal/eventbus"
	"github.com/readingjournal/syncengine/internal/gate"
	"github.com/readingjournal/syncengine/internal/outbox"
	"github.com/readingjournal/syncengine/internal/probe"
	"github.com/readingjournal/syncengine/internal/remote"
	"github.com/readingjournal/syncengine/internal/store"
	"github.com/readingjournal/syncengine/internal/syncengine"
	"github.com/readingjournal/syncengine/internal/syncstate"
)

// Version information set at build time via ldflags:
//
//	-X main.Version=1.0.0
//	-X main.Commit=abc1234
//	-X main.Date=2026-01-30T12:00:00Z
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "journalctl",
	Short: "journalctl - offline-first reading journal sync daemon",
	RunE:  runDaemon,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("journalctl %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(storeCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// runDaemon wires the Durable Store, Outbox Queue, Network Probe, Sync
// State Coordinator, Request Gate, and Sync Engine (spec.md §4) together
// and runs them as a background daemon. The Public Service Facade that
// sits in front of these components for an embedding UI lives in
// internal/facade and is constructed by that UI's own process, not here.
func runDaemon(cmd *cobra.Command, args []string) error {
	// 1. Signal handling.
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("configuration loaded")

	// 3. Initialize logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)
	slog.Info("logger initialized", "level", cfg.Log.Level)

	// 4. Initialize the Durable Store (migrations, WAL mode).
	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	slog.Info("store initialized", "path", cfg.Database.Path)

	// 5. Initialize the event bus and the components that publish and
	// consume network/sync events.
	bus := eventbus.New()
	ob := outbox.New(db, logger)
	coord := syncstate.New(bus, ob, logger)
	g := gate.New(logger)
	prober := probe.New(cfg.Remote.BaseURL, "/api/v1/health/aladin", bus, logger)

	remoteClient := remote.New(cfg.Remote.BaseURL, remote.Credentials{BearerToken: cfg.Remote.APIKey})

	engine := syncengine.New(ob, coord, db, db, remoteClient, logger)

	// The Public Service Facade (internal/facade) is the entry point an
	// embedding UI calls directly against this process's in-memory
	// collaborators; this daemon only needs to keep the Sync Engine
	// cycling and the Durable Store compacted, so it is not constructed
	// here.

	// 6. Background workers.
	var wg sync.WaitGroup
	startWorker(ctx, &wg, "sync-engine", runSyncLoop(engine, prober, coord, time.Duration(cfg.Worker.SyncInterval), logger))
	startWorker(ctx, &wg, "retention-sweep", runSweepLoop(engine, time.Duration(cfg.Worker.SweepAge), logger))
	startWorker(ctx, &wg, "gate-drain", runGateDrainLoop(bus, g, coord, logger))
	startWorker(ctx, &wg, "outbox-compaction", runCompactionLoop(db, time.Duration(cfg.Compact.Interval), time.Duration(cfg.Compact.Retention), cfg.Compact.AuditDir, logger))

	if cfg.Backup.Enabled {
		uploader, err := newBackupUploader(cfg)
		if err != nil {
			return fmt.Errorf("initialize backup uploader: %w", err)
		}
		backupCoordinator := backup.New(db, uploader, cfg.Backup.Dir, time.Duration(cfg.Backup.Interval), logger)
		startWorker(ctx, &wg, "backup-coordinator", backupCoordinator.Run)
	}

	// 7. Optionally embed the reference remote API for local development
	// (JOURNALCTL_DEV_MODE bypasses the API key requirement that would
	// otherwise make this pointless).
	var srv *http.Server
	if os.Getenv("JOURNALCTL_EMBED_REFERENCE_SERVER") == "true" {
		srv = newReferenceServer(cfg, logger)
		go func() {
			slog.Info("reference server starting", "address", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("reference server error", "error", err)
				cancel()
			}
		}()
	}

	// 8. Block until signal received.
	<-ctx.Done()
	slog.Info("shutdown initiated")

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(), time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("reference server shutdown error", "error", err)
		}
	}

	wg.Wait()

	if err := db.Close(); err != nil {
		slog.Error("store close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects
// context cancellation, tracked via WaitGroup for graceful shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "component", name)
		fn(ctx)
		slog.Info("worker stopped", "component", name)
	}()
}
