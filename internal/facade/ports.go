// Package facade implements the Public Service Facade (spec.md §4.G):
// the network-aware read/write entry points UI code consumes. Writes are
// server-first when online and idle, store-first when offline, and
// deferred through the Request Gate when a sync cycle is active. Reads
// are server-first with a best-effort cache writethrough, falling back
// to the Durable Store on failure or while offline.
package facade

import (
	"context"
	"encoding/json"

	"github.com/readingjournal/syncengine/internal/gate"
	"github.com/readingjournal/syncengine/internal/outbox"
	"github.com/readingjournal/syncengine/internal/types"
)

// MemoStore is the subset of the Durable Store memo operations the
// Facade needs.
type MemoStore interface {
	GetMemoByLocalID(ctx context.Context, localID string) (*types.Memo, error)
	GetMemoByServerID(ctx context.Context, serverID *int64) (*types.Memo, error)
	PutMemo(ctx context.Context, m types.Memo) error
	DeleteMemo(ctx context.Context, localID string) error
	ListMemosByUserBook(ctx context.Context, userBookID string) ([]types.Memo, error)
}

// ShelfStore is the subset of the Durable Store shelf operations the
// Facade needs.
type ShelfStore interface {
	GetShelfEntryByLocalID(ctx context.Context, localID string) (*types.ShelfEntry, error)
	GetShelfEntryByServerID(ctx context.Context, serverID *int64) (*types.ShelfEntry, error)
	PutShelfEntry(ctx context.Context, e types.ShelfEntry) error
	DeleteShelfEntry(ctx context.Context, localID string) error
	ListShelfEntries(ctx context.Context) ([]types.ShelfEntry, error)
}

// Enqueuer is the subset of internal/outbox.Queue the Facade drives
// directly, for the store-first and deferred write paths.
type Enqueuer interface {
	Enqueue(ctx context.Context, req outbox.EnqueueRequest) (*types.OutboxItem, error)
	CancelLocalOnly(ctx context.Context, localRef string) error
	GetByLocalRef(ctx context.Context, localRef string) ([]types.OutboxItem, error)
}

// RemotePort is the subset of internal/remote.Client the Facade calls
// directly for the server-first write and read paths.
type RemotePort interface {
	CreateMemo(ctx context.Context, payload []byte, idempotencyKey string) (int64, error)
	UpdateMemo(ctx context.Context, serverID int64, payload []byte) error
	DeleteMemo(ctx context.Context, serverID int64) error
	CreateShelfEntry(ctx context.Context, payload []byte, idempotencyKey string) (int64, error)
	UpdateShelfEntry(ctx context.Context, serverID int64, payload []byte) error
	DeleteShelfEntry(ctx context.Context, serverID int64) error
	TodayFlow(ctx context.Context, query string) (json.RawMessage, error)
	MemosByBook(ctx context.Context, userBookID, query string) (json.RawMessage, error)
	MemoDates(ctx context.Context, query string) (json.RawMessage, error)
	ListShelfEntries(ctx context.Context) (json.RawMessage, error)
	StartReading(ctx context.Context, serverID int64, payload []byte) error
}

// Deferrer is the subset of internal/gate.Gate the Facade uses to defer
// writes while a sync cycle is active.
type Deferrer interface {
	Defer(ctx context.Context, op gate.Op) (any, error)
}

// ProbeState is the subset of internal/probe.Prober the Facade consults
// to decide online/offline.
type ProbeState interface {
	State() (isOnline, isLocalReachable, isExternalReachable bool)
}

// CoordinatorState is the subset of internal/syncstate.Coordinator the
// Facade consults to decide idle/syncing.
type CoordinatorState interface {
	IsSyncing() bool
}

// CycleTrigger lets the Facade best-effort kick the Sync Engine after a
// store-first write, so a resumed connection doesn't wait for the next
// scheduled probe tick. Never required for correctness — the engine
// picks up PENDING items on its own schedule regardless.
type CycleTrigger interface {
	RunCycle(ctx context.Context) error
}
