package facade

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/readingjournal/syncengine/internal/outbox"
	"github.com/readingjournal/syncengine/internal/remote"
	"github.com/readingjournal/syncengine/internal/types"
)

// CreateMemoRequest is what a caller supplies to start a memo.
type CreateMemoRequest struct {
	UserBookID    string
	PageNumber    int
	Content       string
	Tags          []string
	MemoStartTime time.Time
}

// MemoResult pairs a memo with how its write was handled.
type MemoResult struct {
	Memo    types.Memo
	Outcome WriteOutcome
}

type memoWirePayload struct {
	UserBookID    string    `json:"userBookId"`
	PageNumber    int       `json:"pageNumber"`
	Content       string    `json:"content"`
	Tags          []string  `json:"tags"`
	MemoStartTime time.Time `json:"memoStartTime"`
}

// CreateMemo implements the write policy for a new memo.
func (f *Facade) CreateMemo(ctx context.Context, req CreateMemoRequest) (*MemoResult, error) {
	now := time.Now().UTC()
	memo := types.Memo{
		LocalID: uuid.NewString(), UserBookID: req.UserBookID, PageNumber: req.PageNumber,
		Content: req.Content, Tags: req.Tags, MemoStartTime: req.MemoStartTime,
		CreatedAt: now, UpdatedAt: now, SyncStatus: types.SyncPending,
	}
	payload, err := json.Marshal(memoWirePayload{
		UserBookID: memo.UserBookID, PageNumber: memo.PageNumber, Content: memo.Content,
		Tags: memo.Tags, MemoStartTime: memo.MemoStartTime,
	})
	if err != nil {
		return nil, fmt.Errorf("create memo: encode payload: %w", err)
	}

	result, err := f.runWrite(ctx,
		func(ctx context.Context) (any, error) { return f.createMemoServerFirst(ctx, memo, payload) },
		func(ctx context.Context) (any, error) { return f.queueMemoCreate(ctx, memo, payload) },
	)
	if err != nil {
		return nil, err
	}
	return result.(*MemoResult), nil
}

func (f *Facade) createMemoServerFirst(ctx context.Context, memo types.Memo, payload []byte) (*MemoResult, error) {
	serverID, err := f.remote.CreateMemo(ctx, payload, uuid.NewString())
	if err != nil {
		return nil, err
	}
	memo.ServerID = &serverID
	memo.SyncStatus = types.SyncSynced
	memo.UpdatedAt = time.Now().UTC()
	if err := f.memoStore.PutMemo(ctx, memo); err != nil {
		return nil, fmt.Errorf("create memo: persist server-confirmed: %w", err)
	}
	return &MemoResult{Memo: memo, Outcome: WriteServerConfirmed}, nil
}

func (f *Facade) queueMemoCreate(ctx context.Context, memo types.Memo, payload []byte) (*MemoResult, error) {
	item, err := f.outbox.Enqueue(ctx, outbox.EnqueueRequest{
		Kind: types.KindCreate, EntityKind: types.EntityMemo, LocalRef: memo.LocalID, Payload: payload,
	})
	if err != nil {
		return nil, fmt.Errorf("create memo: enqueue: %w", err)
	}
	memo.SyncQueueID = &item.ID
	if err := f.memoStore.PutMemo(ctx, memo); err != nil {
		return nil, fmt.Errorf("create memo: persist queued: %w", err)
	}
	f.maybeTriggerCycle()
	return &MemoResult{Memo: memo, Outcome: WriteQueued}, nil
}

// UpdateMemoRequest carries the mutable fields a caller may change.
type UpdateMemoRequest struct {
	PageNumber    *int
	Content       *string
	Tags          []string
	MemoStartTime *time.Time
}

// UpdateMemo implements the write policy for an existing memo. A memo
// whose CREATE hasn't landed yet (serverId still nil) always queues,
// regardless of online state — invariant §3.3 forbids an UPDATE from
// reaching the server ahead of its CREATE.
func (f *Facade) UpdateMemo(ctx context.Context, localID string, req UpdateMemoRequest) (*MemoResult, error) {
	existing, err := f.memoStore.GetMemoByLocalID(ctx, localID)
	if err != nil {
		return nil, fmt.Errorf("update memo %s: %w", localID, err)
	}
	applyMemoUpdate(existing, req)
	existing.UpdatedAt = time.Now().UTC()

	payload, err := json.Marshal(memoWirePayload{
		UserBookID: existing.UserBookID, PageNumber: existing.PageNumber, Content: existing.Content,
		Tags: existing.Tags, MemoStartTime: existing.MemoStartTime,
	})
	if err != nil {
		return nil, fmt.Errorf("update memo %s: encode payload: %w", localID, err)
	}

	queueFirst := func(ctx context.Context) (any, error) { return f.queueMemoUpdate(ctx, *existing, payload) }
	if existing.ServerID == nil {
		return typedMemoResult(queueFirst(ctx))
	}

	serverFirst := func(ctx context.Context) (any, error) {
		return f.updateMemoServerFirst(ctx, *existing, *existing.ServerID, payload)
	}
	return typedMemoResult(f.runWrite(ctx, serverFirst, queueFirst))
}

func applyMemoUpdate(m *types.Memo, req UpdateMemoRequest) {
	if req.PageNumber != nil {
		m.PageNumber = *req.PageNumber
	}
	if req.Content != nil {
		m.Content = *req.Content
	}
	if req.Tags != nil {
		m.Tags = req.Tags
	}
	if req.MemoStartTime != nil {
		m.MemoStartTime = *req.MemoStartTime
	}
}

func (f *Facade) updateMemoServerFirst(ctx context.Context, memo types.Memo, serverID int64, payload []byte) (*MemoResult, error) {
	if err := f.remote.UpdateMemo(ctx, serverID, payload); err != nil {
		return nil, err
	}
	memo.SyncStatus = types.SyncSynced
	if err := f.memoStore.PutMemo(ctx, memo); err != nil {
		return nil, fmt.Errorf("update memo %s: persist server-confirmed: %w", memo.LocalID, err)
	}
	return &MemoResult{Memo: memo, Outcome: WriteServerConfirmed}, nil
}

func (f *Facade) queueMemoUpdate(ctx context.Context, memo types.Memo, payload []byte) (*MemoResult, error) {
	item, err := f.outbox.Enqueue(ctx, outbox.EnqueueRequest{
		Kind: types.KindUpdate, EntityKind: types.EntityMemo, LocalRef: memo.LocalID,
		ServerRef: memo.ServerID, Payload: payload,
	})
	if err != nil {
		return nil, fmt.Errorf("update memo %s: enqueue: %w", memo.LocalID, err)
	}
	memo.SyncQueueID = &item.ID
	memo.SyncStatus = types.SyncPending
	if err := f.memoStore.PutMemo(ctx, memo); err != nil {
		return nil, fmt.Errorf("update memo %s: persist queued: %w", memo.LocalID, err)
	}
	f.maybeTriggerCycle()
	return &MemoResult{Memo: memo, Outcome: WriteQueued}, nil
}

// DeleteMemo implements the write policy for a memo delete. A local-only
// draft with no outbox item in flight is cancelled outright per
// invariant §3.5. One still SYNCING its CREATE (serverId not yet
// assigned — onCreateSuccess hasn't run) cannot be cancelled outright:
// the in-flight POST may still land on the server, so the DELETE is
// enqueued WAITING behind it instead (spec.md §8 scenario S2).
func (f *Facade) DeleteMemo(ctx context.Context, localID string) error {
	existing, err := f.memoStore.GetMemoByLocalID(ctx, localID)
	if err != nil {
		return fmt.Errorf("delete memo %s: %w", localID, err)
	}

	if existing.ServerID == nil {
		inFlight, err := f.hasSyncingOutboxItem(ctx, localID)
		if err != nil {
			return fmt.Errorf("delete memo %s: check in-flight outbox item: %w", localID, err)
		}
		if !inFlight {
			if err := f.outbox.CancelLocalOnly(ctx, localID); err != nil {
				return fmt.Errorf("delete memo %s: cancel local-only: %w", localID, err)
			}
			return f.memoStore.DeleteMemo(ctx, localID)
		}
		return f.queueMemoDelete(ctx, localID, nil)
	}

	serverID := *existing.ServerID
	queueFirst := func(ctx context.Context) (any, error) { return nil, f.queueMemoDelete(ctx, localID, &serverID) }
	serverFirst := func(ctx context.Context) (any, error) { return nil, f.deleteMemoServerFirst(ctx, localID, serverID) }
	_, err = f.runWrite(ctx, serverFirst, queueFirst)
	return err
}

func (f *Facade) deleteMemoServerFirst(ctx context.Context, localID string, serverID int64) error {
	if err := f.remote.DeleteMemo(ctx, serverID); err != nil && !errors.Is(err, remote.ErrNotFound) {
		return err
	}
	return f.memoStore.DeleteMemo(ctx, localID)
}

func (f *Facade) queueMemoDelete(ctx context.Context, localID string, serverRef *int64) error {
	item, err := f.outbox.Enqueue(ctx, outbox.EnqueueRequest{
		Kind: types.KindDelete, EntityKind: types.EntityMemo, LocalRef: localID, ServerRef: serverRef,
	})
	if err != nil {
		return fmt.Errorf("delete memo %s: enqueue: %w", localID, err)
	}
	existing, err := f.memoStore.GetMemoByLocalID(ctx, localID)
	if err != nil {
		return fmt.Errorf("delete memo %s: reload: %w", localID, err)
	}
	existing.SyncQueueID = &item.ID
	if item.Status == types.OutboxWaiting {
		existing.SyncStatus = types.SyncWaiting
	} else {
		existing.SyncStatus = types.SyncPending
	}
	if err := f.memoStore.PutMemo(ctx, *existing); err != nil {
		return fmt.Errorf("delete memo %s: persist queued: %w", localID, err)
	}
	f.maybeTriggerCycle()
	return nil
}

func typedMemoResult(v any, err error) (*MemoResult, error) {
	if err != nil {
		return nil, err
	}
	return v.(*MemoResult), nil
}
