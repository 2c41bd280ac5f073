package facade

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/readingjournal/syncengine/internal/gate"
	"github.com/readingjournal/syncengine/internal/outbox"
	"github.com/readingjournal/syncengine/internal/remote"
	"github.com/readingjournal/syncengine/internal/types"
)

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
		return nil, errors.New("not found")
	}
	return &m, nil
}

func (f *fakeMemoStore) GetMemoByServerID(ctx context.Context, serverID *int64) (*types.Memo, error) {
	if serverID == nil {
		return nil, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.memos {
		if m.ServerID != nil && *m.ServerID == *serverID {
			return &m, nil
		}
	}
	return nil, nil
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

func (f *fakeMemoStore) ListMemosByUserBook(ctx context.Context, userBookID string) ([]types.Memo, error) {
	return nil, nil
}

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
		return nil, errors.New("not found")
	}
	return &e, nil
}

func (f *fakeShelfStore) GetShelfEntryByServerID(ctx context.Context, serverID *int64) (*types.ShelfEntry, error) {
	return nil, nil
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

func (f *fakeShelfStore) ListShelfEntries(ctx context.Context) ([]types.ShelfEntry, error) {
	return nil, nil
}

type fakeEnqueuer struct {
	mu     sync.Mutex
	items  []outbox.EnqueueRequest
	nextID int

	// syncingLocalRefs simulates an in-flight (SYNCING) outbox item for
	// the given localRef, as GetByLocalRef would report mid-replay.
	syncingLocalRefs map[string]bool
	canceled         []string
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, req outbox.EnqueueRequest) (*types.OutboxItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = append(f.items, req)
	f.nextID++
	status := types.OutboxPending
	if f.syncingLocalRefs[req.LocalRef] {
		status = types.OutboxWaiting
	}
	return &types.OutboxItem{ID: "item", Status: status}, nil
}

func (f *fakeEnqueuer) CancelLocalOnly(ctx context.Context, localRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, localRef)
	return nil
}

func (f *fakeEnqueuer) GetByLocalRef(ctx context.Context, localRef string) ([]types.OutboxItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.syncingLocalRefs[localRef] {
		return []types.OutboxItem{{LocalRef: localRef, Status: types.OutboxSyncing, Kind: types.KindCreate}}, nil
	}
	return nil, nil
}

func (f *fakeEnqueuer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

type fakeRemote struct {
	createErr error
	serverID  int64
}

func (r *fakeRemote) CreateMemo(ctx context.Context, payload []byte, idempotencyKey string) (int64, error) {
	if r.createErr != nil {
		return 0, r.createErr
	}
	return r.serverID, nil
}
func (r *fakeRemote) UpdateMemo(ctx context.Context, serverID int64, payload []byte) error {
	return nil
}
func (r *fakeRemote) DeleteMemo(ctx context.Context, serverID int64) error { return nil }
func (r *fakeRemote) CreateShelfEntry(ctx context.Context, payload []byte, idempotencyKey string) (int64, error) {
	return r.serverID, r.createErr
}
func (r *fakeRemote) UpdateShelfEntry(ctx context.Context, serverID int64, payload []byte) error {
	return nil
}
func (r *fakeRemote) DeleteShelfEntry(ctx context.Context, serverID int64) error { return nil }
func (r *fakeRemote) TodayFlow(ctx context.Context, query string) (json.RawMessage, error) {
	return nil, nil
}
func (r *fakeRemote) MemosByBook(ctx context.Context, userBookID, query string) (json.RawMessage, error) {
	return nil, nil
}
func (r *fakeRemote) ListShelfEntries(ctx context.Context) (json.RawMessage, error) { return nil, nil }
func (r *fakeRemote) MemoDates(ctx context.Context, query string) (json.RawMessage, error) {
	return nil, nil
}
func (r *fakeRemote) StartReading(ctx context.Context, serverID int64, payload []byte) error {
	return nil
}

type directDeferrer struct{}

func (directDeferrer) Defer(ctx context.Context, op gate.Op) (any, error) {
	return op(ctx)
}

type fakeProbe struct{ online bool }

func (p fakeProbe) State() (bool, bool, bool) { return p.online, p.online, p.online }

type fakeCoordinator struct{ syncing bool }

func (c fakeCoordinator) IsSyncing() bool { return c.syncing }

func newTestFacade(online, syncing bool, remoteClient *fakeRemote) (*Facade, *fakeMemoStore, *fakeShelfStore, *fakeEnqueuer) {
	memoStore := newFakeMemoStore()
	shelfStore := newFakeShelfStore()
	ob := &fakeEnqueuer{}
	f := New(memoStore, shelfStore, ob, remoteClient, directDeferrer{}, fakeProbe{online: online}, fakeCoordinator{syncing: syncing}, nil, nil)
	return f, memoStore, shelfStore, ob
}

func TestCreateMemo_Offline_Queues(t *testing.T) {
	f, memoStore, _, ob := newTestFacade(false, false, &fakeRemote{})
	result, err := f.CreateMemo(context.Background(), CreateMemoRequest{UserBookID: "1", Content: "hi"})
	if err != nil {
		t.Fatalf("CreateMemo: %v", err)
	}
	if result.Outcome != WriteQueued {
		t.Errorf("outcome = %v, want queued", result.Outcome)
	}
	if ob.count() != 1 {
		t.Errorf("enqueue count = %d, want 1", ob.count())
	}
	stored, err := memoStore.GetMemoByLocalID(context.Background(), result.Memo.LocalID)
	if err != nil || stored.SyncStatus != types.SyncPending {
		t.Errorf("stored memo status = %v, want pending", stored.SyncStatus)
	}
}

func TestCreateMemo_OnlineIdle_ServerFirstSucceeds(t *testing.T) {
	f, _, _, ob := newTestFacade(true, false, &fakeRemote{serverID: 42})
	result, err := f.CreateMemo(context.Background(), CreateMemoRequest{UserBookID: "1", Content: "hi"})
	if err != nil {
		t.Fatalf("CreateMemo: %v", err)
	}
	if result.Outcome != WriteServerConfirmed {
		t.Errorf("outcome = %v, want server_confirmed", result.Outcome)
	}
	if result.Memo.ServerID == nil || *result.Memo.ServerID != 42 {
		t.Errorf("serverID = %v, want 42", result.Memo.ServerID)
	}
	if ob.count() != 0 {
		t.Errorf("enqueue count = %d, want 0 (no outbox item needed on direct success)", ob.count())
	}
}

func TestCreateMemo_OnlineIdle_NetworkFailureFallsBackToQueue(t *testing.T) {
	f, _, _, ob := newTestFacade(true, false, &fakeRemote{createErr: remote.ErrNetworkTransient})
	result, err := f.CreateMemo(context.Background(), CreateMemoRequest{UserBookID: "1", Content: "hi"})
	if err != nil {
		t.Fatalf("CreateMemo: %v", err)
	}
	if result.Outcome != WriteQueued {
		t.Errorf("outcome = %v, want queued", result.Outcome)
	}
	if ob.count() != 1 {
		t.Errorf("enqueue count = %d, want 1", ob.count())
	}
}

func TestCreateMemo_OnlineIdle_ValidationErrorSurfacesVerbatim(t *testing.T) {
	f, _, _, ob := newTestFacade(true, false, &fakeRemote{createErr: remote.ErrValidation})
	_, err := f.CreateMemo(context.Background(), CreateMemoRequest{UserBookID: "1", Content: "hi"})
	if !errors.Is(err, remote.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
	if ob.count() != 0 {
		t.Errorf("enqueue count = %d, want 0 (4xx must not fall back)", ob.count())
	}
}

func TestUpdateMemo_UnsyncedCreate_AlwaysQueuesEvenOnlineIdle(t *testing.T) {
	f, memoStore, _, ob := newTestFacade(true, false, &fakeRemote{serverID: 99})
	localID := "local-1"
	memoStore.PutMemo(context.Background(), types.Memo{LocalID: localID, SyncStatus: types.SyncPending})

	content := "edited"
	_, err := f.UpdateMemo(context.Background(), localID, UpdateMemoRequest{Content: &content})
	if err != nil {
		t.Fatalf("UpdateMemo: %v", err)
	}
	if ob.count() != 1 {
		t.Errorf("enqueue count = %d, want 1 (update must queue behind unsynced create)", ob.count())
	}
}

func TestDeleteMemo_LocalOnly_CancelsOutright(t *testing.T) {
	f, memoStore, _, ob := newTestFacade(true, false, &fakeRemote{})
	localID := "local-1"
	memoStore.PutMemo(context.Background(), types.Memo{LocalID: localID, SyncStatus: types.SyncPending})

	if err := f.DeleteMemo(context.Background(), localID); err != nil {
		t.Fatalf("DeleteMemo: %v", err)
	}
	if ob.count() != 0 {
		t.Errorf("enqueue count = %d, want 0 (local-only delete bypasses outbox)", ob.count())
	}
	if _, err := memoStore.GetMemoByLocalID(context.Background(), localID); err == nil {
		t.Error("expected memo row to be removed")
	}
}

func TestDeleteMemo_SyncingCreate_WaitsRatherThanCancels(t *testing.T) {
	f, memoStore, _, ob := newTestFacade(true, false, &fakeRemote{})
	localID := "local-1"
	memoStore.PutMemo(context.Background(), types.Memo{LocalID: localID, SyncStatus: types.SyncPending})
	ob.syncingLocalRefs = map[string]bool{localID: true}

	if err := f.DeleteMemo(context.Background(), localID); err != nil {
		t.Fatalf("DeleteMemo: %v", err)
	}
	if len(ob.canceled) != 0 {
		t.Errorf("canceled = %v, want none: a DELETE racing a SYNCING create must not cancel the in-flight create", ob.canceled)
	}
	if ob.count() != 1 {
		t.Fatalf("enqueue count = %d, want 1 (delete enqueued behind the syncing create)", ob.count())
	}
	if ob.items[0].Kind != types.KindDelete || ob.items[0].ServerRef != nil {
		t.Errorf("enqueued item = %+v, want a DELETE with no serverRef yet", ob.items[0])
	}
	if _, err := memoStore.GetMemoByLocalID(context.Background(), localID); err != nil {
		t.Error("expected memo row to survive until the create resolves")
	}
}

func TestDeleteShelfEntry_SyncingCreate_WaitsRatherThanCancels(t *testing.T) {
	f, _, shelfStore, ob := newTestFacade(true, false, &fakeRemote{})
	localID := "local-1"
	shelfStore.PutShelfEntry(context.Background(), types.ShelfEntry{LocalID: localID, SyncStatus: types.SyncPending})
	ob.syncingLocalRefs = map[string]bool{localID: true}

	if err := f.DeleteShelfEntry(context.Background(), localID); err != nil {
		t.Fatalf("DeleteShelfEntry: %v", err)
	}
	if len(ob.canceled) != 0 {
		t.Errorf("canceled = %v, want none: a DELETE racing a SYNCING create must not cancel the in-flight create", ob.canceled)
	}
	if ob.count() != 1 {
		t.Fatalf("enqueue count = %d, want 1 (delete enqueued behind the syncing create)", ob.count())
	}
	if ob.items[0].Kind != types.KindDelete || ob.items[0].ServerRef != nil {
		t.Errorf("enqueued item = %+v, want a DELETE with no serverRef yet", ob.items[0])
	}
	if _, err := shelfStore.GetShelfEntryByLocalID(context.Background(), localID); err != nil {
		t.Error("expected shelf entry row to survive until the create resolves")
	}
}

func TestDeleteMemo_Synced_Offline_Queues(t *testing.T) {
	f, memoStore, _, ob := newTestFacade(false, false, &fakeRemote{})
	localID := "local-1"
	serverID := int64(7)
	memoStore.PutMemo(context.Background(), types.Memo{LocalID: localID, ServerID: &serverID, SyncStatus: types.SyncSynced})

	if err := f.DeleteMemo(context.Background(), localID); err != nil {
		t.Fatalf("DeleteMemo: %v", err)
	}
	if ob.count() != 1 {
		t.Errorf("enqueue count = %d, want 1", ob.count())
	}
}

func TestStartReading_Online_UpdatesCategory(t *testing.T) {
	f, _, shelfStore, _ := newTestFacade(true, false, &fakeRemote{})
	localID := "local-1"
	serverID := int64(7)
	shelfStore.PutShelfEntry(context.Background(), types.ShelfEntry{
		LocalID: localID, ServerID: &serverID, Category: types.CategoryToRead, SyncStatus: types.SyncSynced,
	})

	result, err := f.StartReading(context.Background(), localID, StartReadingRequest{ReadingProgress: 12})
	if err != nil {
		t.Fatalf("StartReading: %v", err)
	}
	if result.Entry.Category != types.CategoryReading || result.Entry.LastReadPage != 12 {
		t.Errorf("entry = %+v, want category Reading and page 12", result.Entry)
	}
	stored, err := shelfStore.GetShelfEntryByLocalID(context.Background(), localID)
	if err != nil || stored.Category != types.CategoryReading {
		t.Errorf("stored entry category = %v, want Reading", stored.Category)
	}
}

func TestStartReading_NotYetSynced_Errors(t *testing.T) {
	f, _, shelfStore, _ := newTestFacade(true, false, &fakeRemote{})
	localID := "local-1"
	shelfStore.PutShelfEntry(context.Background(), types.ShelfEntry{LocalID: localID, SyncStatus: types.SyncPending})

	_, err := f.StartReading(context.Background(), localID, StartReadingRequest{})
	if !errors.Is(err, ErrNotYetSynced) {
		t.Errorf("err = %v, want ErrNotYetSynced", err)
	}
}

func TestStartReading_Offline_Errors(t *testing.T) {
	f, _, shelfStore, _ := newTestFacade(false, false, &fakeRemote{})
	localID := "local-1"
	serverID := int64(7)
	shelfStore.PutShelfEntry(context.Background(), types.ShelfEntry{LocalID: localID, ServerID: &serverID})

	_, err := f.StartReading(context.Background(), localID, StartReadingRequest{})
	if !errors.Is(err, ErrOffline) {
		t.Errorf("err = %v, want ErrOffline", err)
	}
}
