package syncengine

import (
	"context"
	"time"

	"github.com/readingjournal/syncengine/internal/types"
)

// entityDriver is the per-entity-kind hook set the engine's generic item
// processor dispatches through. memoDriver and shelfDriver are the two
// concrete implementations; the Sync Engine runs one pass per driver
// concurrently within a single sync cycle (spec.md §4.D: "multiple sync
// drivers ... may each report progress and contribute to the same
// cycle").
type entityDriver interface {
	kind() types.EntityKind
	markSyncing(ctx context.Context, localRef string, status types.SyncStatus) error
	remoteCreate(ctx context.Context, payload []byte, idempotencyKey string) (int64, error)
	remoteUpdate(ctx context.Context, serverRef int64, payload []byte) error
	remoteDelete(ctx context.Context, serverRef int64) error
	onCreateSuccess(ctx context.Context, localRef string, serverID int64) error
	onUpdateSuccess(ctx context.Context, localRef string) error
	onDeleteSuccess(ctx context.Context, localRef string) error
	markFailed(ctx context.Context, localRef string) error
}

// memoDriver implements entityDriver for memos, including the hybrid
// 7-day retention drop applied after a successful CREATE or UPDATE.
type memoDriver struct {
	store           MemoStore
	remote          RemotePort
	retentionWindow time.Duration
}

func (d *memoDriver) kind() types.EntityKind { return types.EntityMemo }

func (d *memoDriver) markSyncing(ctx context.Context, localRef string, status types.SyncStatus) error {
	m, err := d.store.GetMemoByLocalID(ctx, localRef)
	if err != nil {
		return err
	}
	m.SyncStatus = status
	return d.store.PutMemo(ctx, *m)
}

func (d *memoDriver) remoteCreate(ctx context.Context, payload []byte, idempotencyKey string) (int64, error) {
	return d.remote.CreateMemo(ctx, payload, idempotencyKey)
}

func (d *memoDriver) remoteUpdate(ctx context.Context, serverRef int64, payload []byte) error {
	return d.remote.UpdateMemo(ctx, serverRef, payload)
}

func (d *memoDriver) remoteDelete(ctx context.Context, serverRef int64) error {
	return d.remote.DeleteMemo(ctx, serverRef)
}

func (d *memoDriver) onCreateSuccess(ctx context.Context, localRef string, serverID int64) error {
	m, err := d.store.GetMemoByLocalID(ctx, localRef)
	if err != nil {
		return err
	}
	m.ServerID = &serverID
	m.SyncStatus = types.SyncSynced
	m.UpdatedAt = time.Now().UTC()
	if err := d.store.PutMemo(ctx, *m); err != nil {
		return err
	}
	return d.applyRetention(ctx, *m)
}

func (d *memoDriver) onUpdateSuccess(ctx context.Context, localRef string) error {
	m, err := d.store.GetMemoByLocalID(ctx, localRef)
	if err != nil {
		return err
	}
	m.SyncStatus = types.SyncSynced
	m.UpdatedAt = time.Now().UTC()
	if err := d.store.PutMemo(ctx, *m); err != nil {
		return err
	}
	return d.applyRetention(ctx, *m)
}

func (d *memoDriver) onDeleteSuccess(ctx context.Context, localRef string) error {
	return d.store.DeleteMemo(ctx, localRef)
}

func (d *memoDriver) markFailed(ctx context.Context, localRef string) error {
	m, err := d.store.GetMemoByLocalID(ctx, localRef)
	if err != nil {
		return err
	}
	m.SyncStatus = types.SyncFailed
	return d.store.PutMemo(ctx, *m)
}

// applyRetention drops a memo row once its memoStartTime predates the
// retention window, per spec.md §3's hybrid retention rule: it will be
// fetched from the server on demand thereafter.
func (d *memoDriver) applyRetention(ctx context.Context, m types.Memo) error {
	if time.Since(m.MemoStartTime) <= d.retentionWindow {
		return nil
	}
	return d.store.DeleteMemo(ctx, m.LocalID)
}

// shelfDriver implements entityDriver for shelf entries. Shelf entries
// are retained in full (spec.md §3) — there is no retention sweep here.
type shelfDriver struct {
	store  ShelfStore
	remote RemotePort
}

func (d *shelfDriver) kind() types.EntityKind { return types.EntityShelf }

func (d *shelfDriver) markSyncing(ctx context.Context, localRef string, status types.SyncStatus) error {
	e, err := d.store.GetShelfEntryByLocalID(ctx, localRef)
	if err != nil {
		return err
	}
	e.SyncStatus = status
	return d.store.PutShelfEntry(ctx, *e)
}

func (d *shelfDriver) remoteCreate(ctx context.Context, payload []byte, idempotencyKey string) (int64, error) {
	return d.remote.CreateShelfEntry(ctx, payload, idempotencyKey)
}

func (d *shelfDriver) remoteUpdate(ctx context.Context, serverRef int64, payload []byte) error {
	return d.remote.UpdateShelfEntry(ctx, serverRef, payload)
}

func (d *shelfDriver) remoteDelete(ctx context.Context, serverRef int64) error {
	return d.remote.DeleteShelfEntry(ctx, serverRef)
}

func (d *shelfDriver) onCreateSuccess(ctx context.Context, localRef string, serverID int64) error {
	e, err := d.store.GetShelfEntryByLocalID(ctx, localRef)
	if err != nil {
		return err
	}
	e.ServerID = &serverID
	e.SyncStatus = types.SyncSynced
	return d.store.PutShelfEntry(ctx, *e)
}

func (d *shelfDriver) onUpdateSuccess(ctx context.Context, localRef string) error {
	e, err := d.store.GetShelfEntryByLocalID(ctx, localRef)
	if err != nil {
		return err
	}
	e.SyncStatus = types.SyncSynced
	return d.store.PutShelfEntry(ctx, *e)
}

func (d *shelfDriver) onDeleteSuccess(ctx context.Context, localRef string) error {
	return d.store.DeleteShelfEntry(ctx, localRef)
}

func (d *shelfDriver) markFailed(ctx context.Context, localRef string) error {
	e, err := d.store.GetShelfEntryByLocalID(ctx, localRef)
	if err != nil {
		return err
	}
	e.SyncStatus = types.SyncFailed
	return d.store.PutShelfEntry(ctx, *e)
}
