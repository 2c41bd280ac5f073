// Package syncengine implements the Sync Engine (spec.md §4.F): the core
// algorithm that dequeues Outbox items and replays them against the
// Remote HTTP API, reconciling the Durable Store with strict ordering,
// idempotency, retry, and cross-entity dependency semantics.
package syncengine

import (
	"context"
	"time"

	"github.com/readingjournal/syncengine/internal/types"
)

// MemoStore is the subset of the Durable Store the memo driver needs.
type MemoStore interface {
	GetMemoByLocalID(ctx context.Context, localID string) (*types.Memo, error)
	PutMemo(ctx context.Context, m types.Memo) error
	DeleteMemo(ctx context.Context, localID string) error
	ListMemosOlderThan(ctx context.Context, cutoff time.Time) ([]types.Memo, error)
	ListSyncedMemosIdleSince(ctx context.Context, cutoff time.Time) ([]types.Memo, error)
}

// ShelfStore is the subset of the Durable Store the shelf driver needs.
type ShelfStore interface {
	GetShelfEntryByLocalID(ctx context.Context, localID string) (*types.ShelfEntry, error)
	PutShelfEntry(ctx context.Context, e types.ShelfEntry) error
	DeleteShelfEntry(ctx context.Context, localID string) error
}

// OutboxPort is the subset of internal/outbox.Queue the engine drives.
type OutboxPort interface {
	PromoteWaiting(ctx context.Context) (int, error)
	GetPending(ctx context.Context) ([]types.OutboxItem, error)
	TryClaim(ctx context.Context, id string) (bool, error)
	MarkSuccess(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, cause error) error
	CascadeServerRef(ctx context.Context, localRef string, serverID int64) (int, error)
	Update(ctx context.Context, item types.OutboxItem) error
}

// CoordinatorPort is the subset of internal/syncstate.Coordinator the
// engine reports progress to.
type CoordinatorPort interface {
	Start(pending int) bool
	UpdateProgress(delta, remaining int)
	CheckComplete(ctx context.Context) (bool, error)
}

// RemotePort is the subset of internal/remote.Client the engine calls.
type RemotePort interface {
	CreateMemo(ctx context.Context, payload []byte, idempotencyKey string) (int64, error)
	UpdateMemo(ctx context.Context, serverID int64, payload []byte) error
	DeleteMemo(ctx context.Context, serverID int64) error
	CreateShelfEntry(ctx context.Context, payload []byte, idempotencyKey string) (int64, error)
	UpdateShelfEntry(ctx context.Context, serverID int64, payload []byte) error
	DeleteShelfEntry(ctx context.Context, serverID int64) error
}
