// Package backup implements periodic Durable Store snapshots: an atomic
// on-disk copy via SQLite's VACUUM INTO, with optional upload to
// S3-compatible storage. Adapted from the teacher's multi-store
// internal/worker/snapshot_coordinator.go down to this system's single
// local database.
package backup

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
)

// Snapshotter is the subset of the Durable Store the coordinator drives.
type Snapshotter interface {
	VacuumInto(ctx context.Context, dstPath string) error
}

// Coordinator runs the periodic snapshot-then-upload cycle.
type Coordinator struct {
	store    Snapshotter
	uploader Uploader
	dir      string
	interval time.Duration
	log      *slog.Logger
}

// New constructs a Coordinator. uploader may be a *NoopUploader when no
// S3 bucket is configured (internal/config's BackupConfig.S3Bucket).
func New(store Snapshotter, uploader Uploader, dir string, interval time.Duration, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{store: store, uploader: uploader, dir: dir, interval: interval, log: log}
}

// Run starts the coordinator loop: a snapshot immediately on start, then
// on each interval tick, until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	c.log.InfoContext(ctx, "worker started", "component", "backup", "action", "worker_started")

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			c.log.InfoContext(ctx, "worker stopped", "component", "backup", "action", "worker_stopped", "reason", "context_cancelled")
			return
		case <-ticker.C:
			c.runOnce(ctx)
		}
	}
}

// runOnce generates one snapshot and, if an uploader is configured,
// uploads it. Errors are logged, never propagated — a failed backup
// cycle must not crash the daemon.
func (c *Coordinator) runOnce(ctx context.Context) {
	c.log.InfoContext(ctx, "snapshot started", "component", "backup", "action", "snapshot_start")

	path := c.snapshotPath()
	if err := c.store.VacuumInto(ctx, path); err != nil {
		if ctx.Err() != nil {
			return
		}
		c.log.WarnContext(ctx, "snapshot failed", "component", "backup", "action", "snapshot_failed", "error", err)
		return
	}

	if err := c.uploader.Upload(ctx, path); err != nil {
		if ctx.Err() != nil {
			return
		}
		c.log.WarnContext(ctx, "snapshot upload failed", "component", "backup", "action", "upload_failed", "error", err)
		return
	}

	c.log.InfoContext(ctx, "snapshot complete", "component", "backup", "action", "snapshot_complete", "path", path)
}

// snapshotPath returns the destination path for the current cycle's
// snapshot, named with a ULID (the teacher's convention for a newly
// created durable record's id — see internal/store's lore rows) so
// successive runs never collide, even two within the same second, while
// remaining lexicographically sortable by creation time.
func (c *Coordinator) snapshotPath() string {
	return filepath.Join(c.dir, fmt.Sprintf("journalctl-%s.db", ulid.Make().String()))
}
