package syncengine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/readingjournal/syncengine/internal/types"
)

// fakeOutbox is a minimal in-memory OutboxPort used only by this
// package's tests.
type fakeOutbox struct {
	mu    sync.Mutex
	items map[string]types.OutboxItem
}

func newFakeOutbox() *fakeOutbox {
	return &fakeOutbox{items: make(map[string]types.OutboxItem)}
}

func (f *fakeOutbox) add(item types.OutboxItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[item.ID] = item
}

func (f *fakeOutbox) PromoteWaiting(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	promoted := 0
	for id, item := range f.items {
		if item.Status != types.OutboxWaiting || item.OriginalQueueID == nil {
			continue
		}
		original, ok := f.items[*item.OriginalQueueID]
		if !ok || original.Status != types.OutboxSuccess {
			continue
		}
		item.Status = types.OutboxPending
		item.OriginalQueueID = nil
		f.items[id] = item
		promoted++
	}
	return promoted, nil
}

func (f *fakeOutbox) GetPending(ctx context.Context) ([]types.OutboxItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.OutboxItem
	for _, item := range f.items {
		if item.Status == types.OutboxPending {
			out = append(out, item)
		}
	}
	return out, nil
}

func (f *fakeOutbox) TryClaim(ctx context.Context, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok || item.Status != types.OutboxPending {
		return false, nil
	}
	item.Status = types.OutboxSyncing
	f.items[id] = item
	return true, nil
}

func (f *fakeOutbox) MarkSuccess(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item := f.items[id]
	item.Status = types.OutboxSuccess
	f.items[id] = item
	return nil
}

func (f *fakeOutbox) MarkFailed(ctx context.Context, id string, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item := f.items[id]
	item.Status = types.OutboxFailed
	item.RetryCount++
	item.LastError = cause.Error()
	f.items[id] = item
	return nil
}

func (f *fakeOutbox) CascadeServerRef(ctx context.Context, localRef string, serverID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for id, item := range f.items {
		if item.LocalRef != localRef || item.ServerRef != nil || item.Kind == types.KindCreate {
			continue
		}
		item.ServerRef = &serverID
		f.items[id] = item
		n++
	}
	return n, nil
}

func (f *fakeOutbox) Update(ctx context.Context, item types.OutboxItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[item.ID] = item
	return nil
}

func (f *fakeOutbox) get(id string) types.OutboxItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.items[id]
}

// fakeCoordinator is a minimal in-memory CoordinatorPort.
type fakeCoordinator struct {
	mu        sync.Mutex
	started   bool
	completed int
}

func (f *fakeCoordinator) Start(pending int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.started {
		return false
	}
	f.started = true
	return true
}

func (f *fakeCoordinator) UpdateProgress(delta, remaining int) {}

func (f *fakeCoordinator) CheckComplete(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed++
	f.started = false
	return true, nil
}

// fakeMemoStore is a minimal in-memory MemoStore.
type fakeMemoStore struct {
	mu    sync.Mutex
	memos map[string]types.Memo
}

func newFakeMemoStore() *fakeMemoStore {
	return &fakeMemoStore{memos: make(map[string]types.Memo)}
}

func (f *fakeMemoStore) GetMemoByLocalID(ctx context.Context, localID string) (*types.Memo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.memos[localID]
	if !ok {
		return nil, errNotFound
	}
	return &m, nil
}

func (f *fakeMemoStore) PutMemo(ctx context.Context, m types.Memo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memos[m.LocalID] = m
	return nil
}

func (f *fakeMemoStore) DeleteMemo(ctx context.Context, localID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.memos, localID)
	return nil
}

func (f *fakeMemoStore) ListMemosOlderThan(ctx context.Context, cutoff time.Time) ([]types.Memo, error) {
	return nil, nil
}

func (f *fakeMemoStore) ListSyncedMemosIdleSince(ctx context.Context, cutoff time.Time) ([]types.Memo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Memo
	for _, m := range f.memos {
		if m.SyncStatus == types.SyncSynced && m.UpdatedAt.Before(cutoff) {
			out = append(out, m)
		}
	}
	return out, nil
}

type notFoundErr struct{}

func (notFoundErr) Error() string { return "not found" }

var errNotFound = notFoundErr{}

// fakeRemote is a scriptable RemotePort.
type fakeRemote struct {
	mu             sync.Mutex
	createMemoCall int
	createdIDs     []string // idempotency keys seen by CreateMemo
	nextMemoID     int64
	updatedMemos   map[int64][]byte
	deletedMemos   []int64
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{nextMemoID: 100, updatedMemos: make(map[int64][]byte)}
}

func (f *fakeRemote) CreateMemo(ctx context.Context, payload []byte, idempotencyKey string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createMemoCall++
	f.createdIDs = append(f.createdIDs, idempotencyKey)
	f.nextMemoID++
	return f.nextMemoID, nil
}

func (f *fakeRemote) UpdateMemo(ctx context.Context, serverID int64, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updatedMemos[serverID] = payload
	return nil
}

func (f *fakeRemote) DeleteMemo(ctx context.Context, serverID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedMemos = append(f.deletedMemos, serverID)
	return nil
}

func (f *fakeRemote) CreateShelfEntry(ctx context.Context, payload []byte, idempotencyKey string) (int64, error) {
	return 1, nil
}
func (f *fakeRemote) UpdateShelfEntry(ctx context.Context, serverID int64, payload []byte) error {
	return nil
}
func (f *fakeRemote) DeleteShelfEntry(ctx context.Context, serverID int64) error { return nil }

// TestS1_CreateThenSync covers spec.md §8 scenario S1: an offline CREATE
// replays once the engine runs, assigning serverId and marking synced.
func TestS1_CreateThenSync(t *testing.T) {
	ctx := context.Background()
	memoStore := newFakeMemoStore()
	ob := newFakeOutbox()
	remote := newFakeRemote()

	localID := uuid.NewString()
	now := time.Now().UTC()
	memoStore.PutMemo(ctx, types.Memo{
		LocalID: localID, UserBookID: "7", Content: "hi", Tags: []string{"summary"},
		PageNumber: 3, MemoStartTime: now, CreatedAt: now, UpdatedAt: now, SyncStatus: types.SyncPending,
	})
	ob.add(types.OutboxItem{
		ID: "outbox-1", Kind: types.KindCreate, EntityKind: types.EntityMemo,
		LocalRef: localID, Payload: []byte(`{"content":"hi"}`), IdempotencyKey: "key-1",
		Status: types.OutboxPending, CreatedAt: now,
	})

	engine := New(ob, &fakeCoordinator{}, memoStore, newFakeShelfStore(), remote, nil)
	if err := engine.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	m, err := memoStore.GetMemoByLocalID(ctx, localID)
	if err != nil {
		t.Fatalf("GetMemoByLocalID: %v", err)
	}
	if m.ServerID == nil || *m.ServerID != 101 {
		t.Errorf("serverID = %v, want 101", m.ServerID)
	}
	if m.SyncStatus != types.SyncSynced {
		t.Errorf("syncStatus = %v, want synced", m.SyncStatus)
	}
	if got := ob.get("outbox-1").Status; got != types.OutboxSuccess {
		t.Errorf("outbox status = %v, want SUCCESS", got)
	}
	if remote.createMemoCall != 1 {
		t.Errorf("createMemoCall = %d, want 1", remote.createMemoCall)
	}
	if remote.createdIDs[0] != "key-1" {
		t.Errorf("idempotency key used = %q, want key-1", remote.createdIDs[0])
	}
}

// TestS2_WaitingPromotedAfterCreateSucceeds covers spec.md §8 scenario
// S2: a DELETE enqueued WAITING on an in-flight CREATE is promoted to
// PENDING and then runs once the CREATE succeeds, removing the row.
func TestS2_WaitingPromotedAfterCreateSucceeds(t *testing.T) {
	ctx := context.Background()
	memoStore := newFakeMemoStore()
	ob := newFakeOutbox()
	remote := newFakeRemote()

	localID := uuid.NewString()
	now := time.Now().UTC()
	memoStore.PutMemo(ctx, types.Memo{LocalID: localID, MemoStartTime: now, CreatedAt: now, UpdatedAt: now, SyncStatus: types.SyncPending})
	ob.add(types.OutboxItem{
		ID: "create-1", Kind: types.KindCreate, EntityKind: types.EntityMemo,
		LocalRef: localID, Payload: []byte(`{}`), IdempotencyKey: "key-1",
		Status: types.OutboxPending, CreatedAt: now,
	})
	ob.add(types.OutboxItem{
		ID: "delete-1", Kind: types.KindDelete, EntityKind: types.EntityMemo,
		LocalRef: localID, Status: types.OutboxWaiting, OriginalQueueID: strPtr("create-1"),
		CreatedAt: now.Add(time.Millisecond),
	})

	engine := New(ob, &fakeCoordinator{}, memoStore, newFakeShelfStore(), remote, nil)

	// First cycle: CREATE succeeds; WAITING delete is promoted next cycle
	// (promotion happens at the START of RunCycle, before this cycle's
	// CREATE has a chance to complete, so it takes two cycles).
	if err := engine.RunCycle(ctx); err != nil {
		t.Fatalf("cycle 1: %v", err)
	}
	if got := ob.get("delete-1").Status; got != types.OutboxWaiting {
		t.Fatalf("after cycle 1, delete status = %v, want still WAITING", got)
	}

	if err := engine.RunCycle(ctx); err != nil {
		t.Fatalf("cycle 2: %v", err)
	}
	if got := ob.get("delete-1").Status; got != types.OutboxSuccess {
		t.Errorf("after cycle 2, delete status = %v, want SUCCESS", got)
	}
	if _, err := memoStore.GetMemoByLocalID(ctx, localID); err == nil {
		t.Error("expected memo row to be removed after DELETE succeeded")
	}
	if len(remote.deletedMemos) != 1 || remote.deletedMemos[0] != 101 {
		t.Errorf("deletedMemos = %v, want [101]", remote.deletedMemos)
	}
}

// TestCascadeServerRef covers spec.md §8 scenario S6's cascade half: an
// UPDATE enqueued before the CREATE's server id is known gets its
// serverRef patched in once CREATE succeeds.
func TestCascadeServerRef(t *testing.T) {
	ctx := context.Background()
	memoStore := newFakeMemoStore()
	ob := newFakeOutbox()
	remote := newFakeRemote()

	localID := uuid.NewString()
	now := time.Now().UTC()
	memoStore.PutMemo(ctx, types.Memo{LocalID: localID, MemoStartTime: now, CreatedAt: now, UpdatedAt: now, SyncStatus: types.SyncPending})
	ob.add(types.OutboxItem{
		ID: "create-1", Kind: types.KindCreate, EntityKind: types.EntityMemo,
		LocalRef: localID, Payload: []byte(`{}`), IdempotencyKey: "key-1",
		Status: types.OutboxPending, CreatedAt: now,
	})
	ob.add(types.OutboxItem{
		ID: "update-1", Kind: types.KindUpdate, EntityKind: types.EntityMemo,
		LocalRef: localID, Payload: []byte(`{"content":"x"}`), Status: types.OutboxWaiting,
		OriginalQueueID: strPtr("create-1"), CreatedAt: now.Add(time.Millisecond),
	})

	engine := New(ob, &fakeCoordinator{}, memoStore, newFakeShelfStore(), remote, nil)
	if err := engine.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	m, _ := memoStore.GetMemoByLocalID(ctx, localID)
	if m.ServerID == nil {
		t.Fatal("expected serverID to be assigned")
	}
	if got := ob.get("update-1").ServerRef; got == nil || *got != *m.ServerID {
		t.Errorf("update serverRef = %v, want %d", got, *m.ServerID)
	}
}

// TestProcessUpdate_MissingServerRefFailsLoudly verifies the invariant
// violation path: an UPDATE without a serverRef must never silently
// succeed.
func TestProcessUpdate_MissingServerRefFailsLoudly(t *testing.T) {
	ctx := context.Background()
	memoStore := newFakeMemoStore()
	ob := newFakeOutbox()
	remote := newFakeRemote()

	localID := uuid.NewString()
	now := time.Now().UTC()
	memoStore.PutMemo(ctx, types.Memo{LocalID: localID, MemoStartTime: now, CreatedAt: now, UpdatedAt: now, SyncStatus: types.SyncSynced})
	ob.add(types.OutboxItem{
		ID: "update-1", Kind: types.KindUpdate, EntityKind: types.EntityMemo,
		LocalRef: localID, Payload: []byte(`{}`), Status: types.OutboxPending, CreatedAt: now,
	})

	engine := New(ob, &fakeCoordinator{}, memoStore, newFakeShelfStore(), remote, nil)
	engine.RunCycle(ctx)

	if got := ob.get("update-1").Status; got != types.OutboxFailed {
		t.Errorf("status = %v, want FAILED", got)
	}
	m, _ := memoStore.GetMemoByLocalID(ctx, localID)
	if m.SyncStatus != types.SyncFailed {
		t.Errorf("syncStatus = %v, want failed", m.SyncStatus)
	}
}

func strPtr(s string) *string { return &s }

// fakeShelfStore is a minimal in-memory ShelfStore used to satisfy
// Engine's constructor in memo-only tests.
type fakeShelfStore struct {
	mu      sync.Mutex
	entries map[string]types.ShelfEntry
}

func newFakeShelfStore() *fakeShelfStore {
	return &fakeShelfStore{entries: make(map[string]types.ShelfEntry)}
}

func (f *fakeShelfStore) GetShelfEntryByLocalID(ctx context.Context, localID string) (*types.ShelfEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[localID]
	if !ok {
		return nil, errNotFound
	}
	return &e, nil
}

func (f *fakeShelfStore) PutShelfEntry(ctx context.Context, e types.ShelfEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[e.LocalID] = e
	return nil
}

func (f *fakeShelfStore) DeleteShelfEntry(ctx context.Context, localID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, localID)
	return nil
}
