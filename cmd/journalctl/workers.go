package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/readingjournal/syncengine/internal/backup"
	"github.com/readingjournal/syncengine/internal/config"
	"github.com/readingjournal/syncengine/internal/eventbus"
	"github.com/readingjournal/syncengine/internal/gate"
	"github.com/readingjournal/syncengine/internal/server"
	"github.com/readingjournal/syncengine/internal/store"
	"github.com/readingjournal/syncengine/internal/syncengine"
	"github.com/readingjournal/syncengine/internal/syncstate"
)

// newBackupUploader returns an S3 uploader when a bucket is configured,
// or backup.NoopUploader{} to keep backups local-only otherwise.
func newBackupUploader(cfg *config.Config) (backup.Uploader, error) {
	if cfg.Backup.S3Bucket == "" {
		return backup.NoopUploader{}, nil
	}
	return backup.NewS3Uploader(cfg.Backup.S3Endpoint, cfg.Backup.S3Bucket, cfg.Backup.S3AccessKey, cfg.Backup.S3SecretKey)
}

// cycleRunner is the subset of *syncengine.Engine the sync loop drives.
type cycleRunner interface {
	RunCycle(ctx context.Context) error
}

// probeState is the subset of *probe.Prober the sync loop consults.
type probeState interface {
	State() (isOnline, isLocalReachable, isExternalReachable bool)
}

// runSyncLoop ticks at interval and runs one Sync Engine cycle whenever
// the Network Probe reports online and no cycle is already in flight —
// the precondition RunCycle itself does not enforce (spec.md §4.F).
func runSyncLoop(engine cycleRunner, prober probeState, coord *syncstate.Coordinator, interval time.Duration, log *slog.Logger) func(ctx context.Context) {
	return func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				isOnline, _, _ := prober.State()
				if !isOnline || coord.IsSyncing() {
					continue
				}
				if err := engine.RunCycle(ctx); err != nil {
					log.ErrorContext(ctx, "sync cycle failed", "component", "sync-engine", "action", "run_cycle", "error", err)
				}
				if _, err := coord.CheckComplete(ctx); err != nil {
					log.ErrorContext(ctx, "check sync complete failed", "component", "sync-engine", "action", "check_complete", "error", err)
				}
			}
		}
	}
}

// sweeper is the subset of *syncengine.Engine the retention loop drives.
type sweeper interface {
	Sweep(ctx context.Context) error
}

// runSweepLoop periodically runs the hybrid-retention sweep (spec.md §3:
// drop synced memo rows past the retention window or idle past the sweep
// age). It ticks at a tenth of sweepAge, floored at one hour, so the
// sweep runs well before any row could go stale by a full cycle.
func runSweepLoop(engine sweeper, sweepAge time.Duration, log *slog.Logger) func(ctx context.Context) {
	interval := sweepAge / 10
	if interval < time.Hour {
		interval = time.Hour
	}
	return func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := engine.Sweep(ctx); err != nil {
					log.ErrorContext(ctx, "retention sweep failed", "component", "retention-sweep", "action", "sweep", "error", err)
				}
			}
		}
	}
}

// runGateDrainLoop subscribes to sync:complete and drains the Request
// Gate's queued writes, pausing immediately if a new cycle starts
// mid-drain (gate.Gate.Drain's own contract).
func runGateDrainLoop(bus *eventbus.Hub, g *gate.Gate, coord *syncstate.Coordinator, log *slog.Logger) func(ctx context.Context) {
	drain := make(chan struct{}, 1)
	bus.Subscribe(eventbus.TopicSyncComplete, func(payload any) {
		select {
		case drain <- struct{}{}:
		default:
		}
	})
	return func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case <-drain:
				g.Drain(ctx, coord.IsSyncing)
			}
		}
	}
}

// compactor is the subset of *store.SQLiteStore the compaction loop
// drives.
type compactor interface {
	CompactOutbox(ctx context.Context, cutoff time.Time, auditDir string) (exported int64, deleted int64, err error)
}

// runCompactionLoop periodically exports and deletes terminal outbox
// rows older than retention, waiting for the first tick before doing
// any work since compaction is IO-heavy and shouldn't spike resources
// during startup.
func runCompactionLoop(store compactor, interval, retention time.Duration, auditDir string, log *slog.Logger) func(ctx context.Context) {
	return func(ctx context.Context) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().Add(-retention)
				exported, deleted, err := store.CompactOutbox(ctx, cutoff, auditDir)
				if err != nil {
					log.ErrorContext(ctx, "outbox compaction failed", "component", "compaction", "action", "compact_outbox", "error", err)
					continue
				}
				if exported > 0 || deleted > 0 {
					log.InfoContext(ctx, "outbox compaction completed", "component", "compaction", "action", "compact_outbox",
						"exported", exported, "deleted", deleted)
				}
			}
		}
	}
}

// newReferenceServer builds an *http.Server fronting internal/server's
// reference remote API, used only under JOURNALCTL_EMBED_REFERENCE_SERVER
// for local development against this same binary's client stack.
func newReferenceServer(cfg *config.Config, log *slog.Logger) *http.Server {
	srv := server.New(cfg.Remote.APIKey, log)
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.Router(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}
}

var (
	_ cycleRunner = (*syncengine.Engine)(nil)
	_ sweeper     = (*syncengine.Engine)(nil)
)

var _ compactor = (*store.SQLiteStore)(nil)
