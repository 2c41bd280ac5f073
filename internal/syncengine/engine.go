package syncengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/readingjournal/syncengine/internal/remote"
	"github.com/readingjournal/syncengine/internal/types"
)

// RetentionWindow is the hybrid-retention cutoff for synced memos
// (spec.md §3): older than this, a memo row is dropped after a
// successful CREATE/UPDATE and fetched from the server on demand.
const RetentionWindow = 7 * 24 * time.Hour

// SweepAge is the idle-sweep cutoff: synced memos untouched for this
// long are swept periodically regardless of their memoStartTime age.
const SweepAge = 30 * 24 * time.Hour

// Engine is the Sync Engine (spec.md §4.F).
type Engine struct {
	outbox OutboxPort
	coord  CoordinatorPort
	memo   *memoDriver
	shelf  *shelfDriver
	log    *slog.Logger
}

// New constructs an Engine wired to the given collaborators.
func New(outbox OutboxPort, coord CoordinatorPort, memoStore MemoStore, shelfStore ShelfStore, remoteClient RemotePort, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		outbox: outbox,
		coord:  coord,
		memo:   &memoDriver{store: memoStore, remote: remoteClient, retentionWindow: RetentionWindow},
		shelf:  &shelfDriver{store: shelfStore, remote: remoteClient},
		log:    log,
	}
}

// RunCycle executes one full Sync Engine pass: promote WAITING items,
// collect and claim PENDING items (split by entity kind so the memo and
// shelf drivers run concurrently but each entity's own items stay in
// strict arrival order), and finalize the cycle. Callers drive this from
// the Network Probe / Coordinator wiring whenever isOnline && !isSyncing
// (spec.md §4.F's precondition) — RunCycle itself does not check those
// flags.
func (e *Engine) RunCycle(ctx context.Context) error {
	if _, err := e.outbox.PromoteWaiting(ctx); err != nil {
		return fmt.Errorf("promote waiting: %w", err)
	}

	pending, err := e.outbox.GetPending(ctx)
	if err != nil {
		return fmt.Errorf("collect pending: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})

	e.coord.Start(len(pending))

	var memoItems, shelfItems []types.OutboxItem
	for _, item := range pending {
		switch item.EntityKind {
		case types.EntityMemo:
			memoItems = append(memoItems, item)
		case types.EntityShelf:
			shelfItems = append(shelfItems, item)
		}
	}

	remaining := int32(len(pending))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return e.runDriverPass(gctx, e.memo, memoItems, &remaining)
	})
	g.Go(func() error {
		return e.runDriverPass(gctx, e.shelf, shelfItems, &remaining)
	})
	if err := g.Wait(); err != nil {
		e.log.ErrorContext(ctx, "sync cycle pass failed", "component", "syncengine", "action", "run_cycle", "error", err)
	}

	if _, err := e.coord.CheckComplete(ctx); err != nil {
		return fmt.Errorf("check complete: %w", err)
	}
	return nil
}

// runDriverPass processes one entity kind's claimed items strictly in
// createdAt order. A per-item error is logged and absorbed — it never
// aborts the rest of the pass, since other entities' items are
// independent (ordering rule (i): only items for the SAME localRef are
// serialized).
func (e *Engine) runDriverPass(ctx context.Context, d entityDriver, items []types.OutboxItem, remaining *int32) error {
	var errs error
	for _, item := range items {
		claimed, err := e.outbox.TryClaim(ctx, item.ID)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if !claimed {
			// Another driver/process already owns this item (CAS race);
			// this is the expected, silent outcome of concurrent claiming.
			atomic.AddInt32(remaining, -1)
			continue
		}

		item.Status = types.OutboxSyncing
		if procErr := e.processItem(ctx, d, item); procErr != nil {
			e.log.WarnContext(ctx, "outbox item processing failed", "component", "syncengine", "action", "process_item",
				"outbox_id", item.ID, "entity_kind", item.EntityKind, "local_ref", item.LocalRef, "error", procErr)
		}

		left := atomic.AddInt32(remaining, -1)
		e.coord.UpdateProgress(1, int(left))
	}
	return errs
}

// processItem dispatches one claimed outbox item through CREATE, UPDATE,
// or DELETE handling per spec.md §4.F step 3.
func (e *Engine) processItem(ctx context.Context, d entityDriver, item types.OutboxItem) error {
	switch item.Kind {
	case types.KindCreate:
		return e.processCreate(ctx, d, item)
	case types.KindUpdate:
		return e.processUpdate(ctx, d, item)
	case types.KindDelete:
		return e.processDelete(ctx, d, item)
	default:
		return fmt.Errorf("unknown outbox kind %q", item.Kind)
	}
}

func (e *Engine) processCreate(ctx context.Context, d entityDriver, item types.OutboxItem) error {
	if err := d.markSyncing(ctx, item.LocalRef, types.SyncSyncingCreate); err != nil {
		return err
	}

	idempotencyKey := item.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
		item.IdempotencyKey = idempotencyKey
		if err := e.outbox.Update(ctx, item); err != nil {
			return err
		}
	}

	serverID, err := d.remoteCreate(ctx, item.Payload, idempotencyKey)
	if err != nil {
		return e.handleCreateFailure(ctx, d, item, err)
	}

	if err := d.onCreateSuccess(ctx, item.LocalRef, serverID); err != nil {
		return err
	}

	cascaded, err := e.outbox.CascadeServerRef(ctx, item.LocalRef, serverID)
	if err != nil {
		return err
	}
	if cascaded > 0 {
		e.log.InfoContext(ctx, "cascaded server ref", "component", "syncengine", "action", "cascade",
			"local_ref", item.LocalRef, "server_id", serverID, "patched_count", cascaded)
	}

	return e.outbox.MarkSuccess(ctx, item.ID)
}

// handleCreateFailure applies the §7 propagation policy for CREATE:
// conflict is success-equivalent when the reference server's problem
// body carries the existing server id (a disambiguation path keyed off
// the 409 status, classified as remote.ErrConflict, plus the body's
// existingId field — the Problem.Type URI is not read); otherwise it's
// left FAILED for manual reconcile.
// Any other failure is absorbed into entity-failed + outbox backoff.
func (e *Engine) handleCreateFailure(ctx context.Context, d entityDriver, item types.OutboxItem, cause error) error {
	var statusErr *remote.StatusError
	if errors.As(cause, &statusErr) && errors.Is(statusErr.Kind, remote.ErrConflict) {
		if existingID, ok := disambiguateConflict(statusErr.Body); ok {
			e.log.InfoContext(ctx, "conflict resolved via disambiguation", "component", "syncengine", "action", "conflict_resolved",
				"local_ref", item.LocalRef, "server_id", existingID)
			if err := d.onCreateSuccess(ctx, item.LocalRef, existingID); err != nil {
				return err
			}
			if _, err := e.outbox.CascadeServerRef(ctx, item.LocalRef, existingID); err != nil {
				return err
			}
			return e.outbox.MarkSuccess(ctx, item.ID)
		}
		e.log.WarnContext(ctx, "conflict without disambiguation, leaving for manual reconcile",
			"component", "syncengine", "action", "conflict_unresolved", "local_ref", item.LocalRef)
	}

	if err := d.markFailed(ctx, item.LocalRef); err != nil {
		return err
	}
	return e.outbox.MarkFailed(ctx, item.ID, cause)
}

// disambiguateConflict extracts an existing server id from a conflict
// Problem body, if the reference server supplied one.
func disambiguateConflict(body string) (int64, bool) {
	result := gjson.Get(body, "existingId")
	if !result.Exists() {
		return 0, false
	}
	return result.Int(), true
}

func (e *Engine) processUpdate(ctx context.Context, d entityDriver, item types.OutboxItem) error {
	if item.ServerRef == nil {
		if err := d.markFailed(ctx, item.LocalRef); err != nil {
			return err
		}
		_ = e.outbox.MarkFailed(ctx, item.ID, ErrMissingServerRef)
		return ErrMissingServerRef
	}

	if err := d.markSyncing(ctx, item.LocalRef, types.SyncSyncingUpdate); err != nil {
		return err
	}

	if err := d.remoteUpdate(ctx, *item.ServerRef, item.Payload); err != nil {
		if err := d.markFailed(ctx, item.LocalRef); err != nil {
			return err
		}
		return e.outbox.MarkFailed(ctx, item.ID, err)
	}

	if err := d.onUpdateSuccess(ctx, item.LocalRef); err != nil {
		return err
	}
	return e.outbox.MarkSuccess(ctx, item.ID)
}

func (e *Engine) processDelete(ctx context.Context, d entityDriver, item types.OutboxItem) error {
	if item.ServerRef == nil {
		if err := d.markFailed(ctx, item.LocalRef); err != nil {
			return err
		}
		_ = e.outbox.MarkFailed(ctx, item.ID, ErrMissingServerRef)
		return ErrMissingServerRef
	}

	if err := d.markSyncing(ctx, item.LocalRef, types.SyncSyncingDelete); err != nil {
		return err
	}

	err := d.remoteDelete(ctx, *item.ServerRef)
	if err != nil && !errors.Is(err, remote.ErrNotFound) {
		if err := d.markFailed(ctx, item.LocalRef); err != nil {
			return err
		}
		return e.outbox.MarkFailed(ctx, item.ID, err)
	}
	// A 404 on DELETE is treated as success-equivalent (spec.md §7): the
	// server already has no record of it, so the local row comes out too.

	if err := d.onDeleteSuccess(ctx, item.LocalRef); err != nil {
		return err
	}
	return e.outbox.MarkSuccess(ctx, item.ID)
}

// Sweep drops synced memos idle since SweepAge, independent of the
// per-item retention applied right after CREATE/UPDATE — this catches
// memos that were already synced before the retention window elapsed.
// Errors on individual rows are aggregated rather than aborting the
// sweep (mirrors the teacher's CompactChangeLog batching tolerance).
func (e *Engine) Sweep(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-SweepAge)
	idle, err := e.memo.store.ListSyncedMemosIdleSince(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("sweep: list idle memos: %w", err)
	}

	var errs error
	swept := 0
	for _, m := range idle {
		if err := e.memo.store.DeleteMemo(ctx, m.LocalID); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		swept++
	}
	if swept > 0 {
		e.log.InfoContext(ctx, "retention sweep complete", "component", "syncengine", "action", "sweep", "swept_count", swept)
	}
	return errs
}
