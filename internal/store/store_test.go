package store

import (
	"context"
	"testing"
	"time"

	"github.com/readingjournal/syncengine/internal/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStore_New(t *testing.T) {
	s := newTestStore(t)
	if s.DBPath() != ":memory:" {
		t.Errorf("expected :memory:, got %s", s.DBPath())
	}
}

func TestStore_PutAndGetMemoByLocalID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now().UTC()
	m := types.Memo{
		LocalID:       "m1",
		UserBookID:    "b1",
		PageNumber:    3,
		Content:       "hi",
		Tags:          []string{"summary"},
		MemoStartTime: now,
		CreatedAt:     now,
		UpdatedAt:     now,
		SyncStatus:    types.SyncPending,
	}
	if err := s.PutMemo(ctx, m); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetMemoByLocalID(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Content != "hi" || len(got.Tags) != 1 || got.Tags[0] != "summary" {
		t.Errorf("unexpected memo: %+v", got)
	}
	if got.ServerID != nil {
		t.Errorf("expected nil serverID, got %v", got.ServerID)
	}
}

func TestStore_GetMemoByServerID_NilIsSafe(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	got, err := s.GetMemoByServerID(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("expected nil for nil serverID, got %+v", got)
	}
}

func TestStore_GetMemoByLocalID_NotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.GetMemoByLocalID(ctx, "missing")
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_ListMemosOlderThan(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	old := types.Memo{LocalID: "old", UserBookID: "b1", MemoStartTime: time.Now().AddDate(0, 0, -10), CreatedAt: time.Now(), UpdatedAt: time.Now()}
	recent := types.Memo{LocalID: "recent", UserBookID: "b1", MemoStartTime: time.Now(), CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if err := s.PutMemo(ctx, old); err != nil {
		t.Fatal(err)
	}
	if err := s.PutMemo(ctx, recent); err != nil {
		t.Fatal(err)
	}

	cutoff := time.Now().AddDate(0, 0, -7)
	got, err := s.ListMemosOlderThan(ctx, cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].LocalID != "old" {
		t.Errorf("expected only the old memo, got %+v", got)
	}
}

func TestStore_ShelfEntryRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	e := types.ShelfEntry{
		LocalID:  "se1",
		BookID:   "book-1",
		ISBN:     "978-0-00-000000-0",
		Title:    "Example",
		Category: types.CategoryToRead,
		AddedAt:  time.Now(),
	}
	if err := s.PutShelfEntry(ctx, e); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetShelfEntryByLocalID(ctx, "se1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != "Example" || got.Category != types.CategoryToRead {
		t.Errorf("unexpected shelf entry: %+v", got)
	}

	byCategory, err := s.ListShelfEntriesByCategory(ctx, types.CategoryToRead)
	if err != nil {
		t.Fatal(err)
	}
	if len(byCategory) != 1 {
		t.Errorf("expected 1 entry in ToRead, got %d", len(byCategory))
	}
}

func TestStore_OutboxCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	now := time.Now().UTC()
	item := types.OutboxItem{
		ID:             "o1",
		Kind:           types.KindCreate,
		EntityKind:     types.EntityMemo,
		LocalRef:       "m1",
		Payload:        []byte(`{}`),
		IdempotencyKey: "idem-1",
		Status:         types.OutboxPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.PutOutboxItem(ctx, item); err != nil {
		t.Fatal(err)
	}

	ok, err := s.CompareAndSwapOutboxStatus(ctx, "o1", types.OutboxPending, types.OutboxSyncing, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected CAS to succeed")
	}

	ok, err = s.CompareAndSwapOutboxStatus(ctx, "o1", types.OutboxPending, types.OutboxSyncing, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected second CAS (stale expected status) to fail")
	}

	got, err := s.GetOutboxItem(ctx, "o1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != types.OutboxSyncing {
		t.Errorf("expected SYNCING, got %s", got.Status)
	}
}

func TestStore_CascadeLookupMissingServerRef(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := time.Now().UTC()

	createItem := types.OutboxItem{ID: "o-create", Kind: types.KindCreate, EntityKind: types.EntityMemo,
		LocalRef: "m1", Payload: []byte(`{}`), IdempotencyKey: "k1", Status: types.OutboxSuccess, CreatedAt: now, UpdatedAt: now}
	updateItem := types.OutboxItem{ID: "o-update", Kind: types.KindUpdate, EntityKind: types.EntityMemo,
		LocalRef: "m1", Payload: []byte(`{}`), IdempotencyKey: "k2", Status: types.OutboxPending, CreatedAt: now, UpdatedAt: now}

	if err := s.PutOutboxItem(ctx, createItem); err != nil {
		t.Fatal(err)
	}
	if err := s.PutOutboxItem(ctx, updateItem); err != nil {
		t.Fatal(err)
	}

	pending, err := s.ListOutboxByLocalRefMissingServerRef(ctx, "m1")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].ID != "o-update" {
		t.Errorf("expected only the update item, got %+v", pending)
	}
}
