// Package outbox implements the Outbox Queue: the single source of truth
// for pending work the Sync Engine must replay against the remote API.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/xid"
	"github.com/tidwall/sjson"

	"github.com/readingjournal/syncengine/internal/types"
)

// Persistence is the subset of the Durable Store this queue depends on.
// Keeping it as an interface (rather than depending on *store.SQLiteStore
// directly) lets tests substitute an in-memory fake.
type Persistence interface {
	PutOutboxItem(ctx context.Context, item types.OutboxItem) error
	GetOutboxItem(ctx context.Context, id string) (*types.OutboxItem, error)
	DeleteOutboxItem(ctx context.Context, id string) error
	ListOutboxByStatus(ctx context.Context, status types.OutboxStatus) ([]types.OutboxItem, error)
	ListOutboxByLocalRef(ctx context.Context, localRef string) ([]types.OutboxItem, error)
	ListOutboxByLocalRefMissingServerRef(ctx context.Context, localRef string) ([]types.OutboxItem, error)
	CompareAndSwapOutboxStatus(ctx context.Context, id string, expected, next types.OutboxStatus, updatedAt string) (bool, error)
}

// Queue is the Outbox Queue component.
type Queue struct {
	store  Persistence
	log    *slog.Logger
	mu     sync.Mutex
	timers map[string]*time.Timer
}

// New constructs a Queue over the given persistence layer.
func New(store Persistence, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	return &Queue{store: store, log: log, timers: make(map[string]*time.Timer)}
}

// EnqueueRequest describes a mutation to replay.
type EnqueueRequest struct {
	Kind       types.OutboxKind
	EntityKind types.EntityKind
	LocalRef   string
	ServerRef  *int64
	Payload    []byte
}

// Enqueue assigns a fresh id and idempotency key, stamps createdAt, and
// persists the item as PENDING — unless an existing item for the same
// entity forces coalescing or WAITING per invariant §3.2.
func (q *Queue) Enqueue(ctx context.Context, req EnqueueRequest) (*types.OutboxItem, error) {
	existing, err := q.store.ListOutboxByLocalRef(ctx, req.LocalRef)
	if err != nil {
		return nil, fmt.Errorf("enqueue: list existing for %s: %w", req.LocalRef, err)
	}

	if req.Kind == types.KindUpdate {
		if coalesced, err := q.tryCoalesceUpdate(ctx, existing, req); err != nil {
			return nil, err
		} else if coalesced != nil {
			return coalesced, nil
		}
	}

	if syncing := findStatus(existing, types.OutboxSyncing); syncing != nil {
		return q.enqueueWaiting(ctx, req, syncing.ID)
	}

	now := time.Now().UTC()
	item := types.OutboxItem{
		ID:             xid.New().String(),
		Kind:           req.Kind,
		EntityKind:     req.EntityKind,
		LocalRef:       req.LocalRef,
		ServerRef:      req.ServerRef,
		Payload:        req.Payload,
		IdempotencyKey: uuid.NewString(),
		Status:         types.OutboxPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := q.store.PutOutboxItem(ctx, item); err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", req.LocalRef, err)
	}
	return &item, nil
}

// tryCoalesceUpdate folds a new UPDATE's payload into an already-queued
// item for the same entity, per the coalescing rule: a PENDING UPDATE is
// replaced outright; an UPDATE arriving while the entity's CREATE is
// still SYNCING is patched into that CREATE's payload (the safe
// interpretation of the "update during syncing_create" open question).
// Returns (nil, nil) when there's nothing to coalesce into.
func (q *Queue) tryCoalesceUpdate(ctx context.Context, existing []types.OutboxItem, req EnqueueRequest) (*types.OutboxItem, error) {
	if pending := findStatusKind(existing, types.OutboxPending, types.KindUpdate); pending != nil {
		pending.Payload = req.Payload
		pending.UpdatedAt = time.Now().UTC()
		if err := q.store.PutOutboxItem(ctx, *pending); err != nil {
			return nil, fmt.Errorf("coalesce update %s: %w", req.LocalRef, err)
		}
		return pending, nil
	}

	if pendingCreate := findStatusKind(existing, types.OutboxPending, types.KindCreate); pendingCreate != nil {
		merged, err := mergeJSONPayload(pendingCreate.Payload, req.Payload)
		if err != nil {
			return nil, err
		}
		pendingCreate.Payload = merged
		pendingCreate.UpdatedAt = time.Now().UTC()
		if err := q.store.PutOutboxItem(ctx, *pendingCreate); err != nil {
			return nil, fmt.Errorf("coalesce update into pending create %s: %w", req.LocalRef, err)
		}
		return pendingCreate, nil
	}

	if syncingCreate := findStatusKind(existing, types.OutboxSyncing, types.KindCreate); syncingCreate != nil {
		merged, err := mergeJSONPayload(syncingCreate.Payload, req.Payload)
		if err != nil {
			return nil, err
		}
		syncingCreate.Payload = merged
		syncingCreate.UpdatedAt = time.Now().UTC()
		if err := q.store.PutOutboxItem(ctx, *syncingCreate); err != nil {
			return nil, fmt.Errorf("coalesce update into syncing create %s: %w", req.LocalRef, err)
		}
		return syncingCreate, nil
	}

	return nil, nil
}

// mergeJSONPayload patches every top-level field of patch onto base using
// sjson, avoiding a full struct round-trip for a partial merge.
func mergeJSONPayload(base, patch []byte) ([]byte, error) {
	var fields map[string]any
	if err := json.Unmarshal(patch, &fields); err != nil {
		return nil, fmt.Errorf("merge payload: decode patch: %w", err)
	}
	result := string(base)
	var err error
	for k, v := range fields {
		result, err = sjson.Set(result, k, v)
		if err != nil {
			return nil, fmt.Errorf("merge payload: set %s: %w", k, err)
		}
	}
	return []byte(result), nil
}

func (q *Queue) enqueueWaiting(ctx context.Context, req EnqueueRequest, originalQueueID string) (*types.OutboxItem, error) {
	now := time.Now().UTC()
	item := types.OutboxItem{
		ID:              xid.New().String(),
		Kind:            req.Kind,
		EntityKind:      req.EntityKind,
		LocalRef:        req.LocalRef,
		ServerRef:       req.ServerRef,
		Payload:         req.Payload,
		IdempotencyKey:  uuid.NewString(),
		Status:          types.OutboxWaiting,
		OriginalQueueID: &originalQueueID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := q.store.PutOutboxItem(ctx, item); err != nil {
		return nil, fmt.Errorf("enqueue waiting %s: %w", req.LocalRef, err)
	}
	q.log.InfoContext(ctx, "outbox item waiting", "component", "outbox", "action", "enqueue_waiting",
		"local_ref", req.LocalRef, "original_queue_id", originalQueueID)
	return &item, nil
}

func findStatus(items []types.OutboxItem, status types.OutboxStatus) *types.OutboxItem {
	for i := range items {
		if items[i].Status == status {
			return &items[i]
		}
	}
	return nil
}

func findStatusKind(items []types.OutboxItem, status types.OutboxStatus, kind types.OutboxKind) *types.OutboxItem {
	for i := range items {
		if items[i].Status == status && items[i].Kind == kind {
			return &items[i]
		}
	}
	return nil
}

// TryClaim is the sole primitive by which the Sync Engine claims an item
// for processing: CAS PENDING -> SYNCING.
func (q *Queue) TryClaim(ctx context.Context, id string) (bool, error) {
	return q.store.CompareAndSwapOutboxStatus(ctx, id, types.OutboxPending, types.OutboxSyncing, time.Now().UTC().Format(time.RFC3339Nano))
}

// MarkSuccess transitions an item to SUCCESS. Physical removal is left to
// the compaction sweep so terminal items can be audit-exported first.
func (q *Queue) MarkSuccess(ctx context.Context, id string) error {
	item, err := q.store.GetOutboxItem(ctx, id)
	if err != nil {
		return err
	}
	item.Status = types.OutboxSuccess
	item.UpdatedAt = time.Now().UTC()
	return q.store.PutOutboxItem(ctx, *item)
}

// Remove physically deletes an outbox row.
func (q *Queue) Remove(ctx context.Context, id string) error {
	return q.store.DeleteOutboxItem(ctx, id)
}

// MarkFailed increments retryCount, records lastError, and — while under
// MaxRetries — schedules a deferred re-arm after BackoffBase*2^(n-1),
// flipping status back to PENDING on fire. At the cap it leaves the item
// FAILED for operator/UI visibility and fires no further timers.
func (q *Queue) MarkFailed(ctx context.Context, id string, cause error) error {
	item, err := q.store.GetOutboxItem(ctx, id)
	if err != nil {
		return err
	}
	item.RetryCount++
	item.LastError = cause.Error()
	item.Status = types.OutboxFailed
	now := time.Now().UTC()
	item.UpdatedAt = now
	item.LastRetryAt = &now
	if err := q.store.PutOutboxItem(ctx, *item); err != nil {
		return fmt.Errorf("mark failed %s: %w", id, err)
	}

	if item.RetryCount >= types.MaxRetries {
		q.log.WarnContext(ctx, "outbox item exhausted retries", "component", "outbox", "action", "mark_failed",
			"outbox_id", id, "retry_count", item.RetryCount)
		return nil
	}

	delay := backoffDelay(item.RetryCount)
	q.scheduleRearm(id, delay)
	return nil
}

// backoffDelay computes BackoffBase*2^(retryCount-1). MarkFailed only
// ever calls this for retryCount < MaxRetries, so with MaxRetries=3 it is
// invoked with 1 (5s) and 2 (10s) only — retryCount==3 exhausts retries
// before reaching this formula, leaving its 20s tier unreachable. That's
// intentional: testable property #7 ("after three consecutive failures,
// no further automatic retries") takes priority over reaching a third
// backoff tier.
func backoffDelay(retryCount int) time.Duration {
	return types.BackoffBase * time.Duration(1<<uint(retryCount-1))
}

func (q *Queue) scheduleRearm(id string, delay time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if existing, ok := q.timers[id]; ok {
		existing.Stop()
	}
	q.timers[id] = time.AfterFunc(delay, func() {
		ctx := context.Background()
		if _, err := q.store.CompareAndSwapOutboxStatus(ctx, id, types.OutboxFailed, types.OutboxPending, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			q.log.ErrorContext(ctx, "backoff rearm failed", "component", "outbox", "action", "rearm", "outbox_id", id, "error", err)
		}
		q.mu.Lock()
		delete(q.timers, id)
		q.mu.Unlock()
	})
}

// RearmManual resets retryCount to zero and flips a FAILED item back to
// PENDING immediately, bypassing backoff.
func (q *Queue) RearmManual(ctx context.Context, id string) error {
	item, err := q.store.GetOutboxItem(ctx, id)
	if err != nil {
		return err
	}
	item.RetryCount = 0
	item.LastError = ""
	item.Status = types.OutboxPending
	item.UpdatedAt = time.Now().UTC()
	return q.store.PutOutboxItem(ctx, *item)
}

// GetPending returns PENDING items, oldest first.
func (q *Queue) GetPending(ctx context.Context) ([]types.OutboxItem, error) {
	return q.store.ListOutboxByStatus(ctx, types.OutboxPending)
}

// CountPending satisfies syncstate.PendingCounter.
func (q *Queue) CountPending(ctx context.Context) (int, error) {
	pending, err := q.GetPending(ctx)
	if err != nil {
		return 0, err
	}
	return len(pending), nil
}

// GetWaiting returns WAITING items.
func (q *Queue) GetWaiting(ctx context.Context) ([]types.OutboxItem, error) {
	return q.store.ListOutboxByStatus(ctx, types.OutboxWaiting)
}

// GetByLocalRef returns every outbox item governing a given entity.
func (q *Queue) GetByLocalRef(ctx context.Context, localID string) ([]types.OutboxItem, error) {
	return q.store.ListOutboxByLocalRef(ctx, localID)
}

// Update persists an already-fetched item verbatim.
func (q *Queue) Update(ctx context.Context, item types.OutboxItem) error {
	return q.store.PutOutboxItem(ctx, item)
}

// PromoteWaiting resolves the "delete during in-flight create/update"
// race: for each WAITING item, if its originalQueueId has reached
// SUCCESS, flip it to PENDING.
func (q *Queue) PromoteWaiting(ctx context.Context) (int, error) {
	waiting, err := q.store.ListOutboxByStatus(ctx, types.OutboxWaiting)
	if err != nil {
		return 0, fmt.Errorf("promote waiting: list: %w", err)
	}

	promoted := 0
	for _, item := range waiting {
		if item.OriginalQueueID == nil {
			continue
		}
		original, err := q.store.GetOutboxItem(ctx, *item.OriginalQueueID)
		if err != nil {
			continue
		}
		if original.Status != types.OutboxSuccess {
			continue
		}
		item.Status = types.OutboxPending
		item.OriginalQueueID = nil
		item.UpdatedAt = time.Now().UTC()
		if err := q.store.PutOutboxItem(ctx, item); err != nil {
			return promoted, fmt.Errorf("promote waiting %s: %w", item.ID, err)
		}
		promoted++
	}
	return promoted, nil
}

// CancelLocalOnly removes every queued outbox item for an entity that is
// being deleted before it ever acquired a serverId (invariant §3.5: a
// local-only draft can be cancelled outright, bypassing the outbox).
func (q *Queue) CancelLocalOnly(ctx context.Context, localRef string) error {
	items, err := q.store.ListOutboxByLocalRef(ctx, localRef)
	if err != nil {
		return fmt.Errorf("cancel local-only %s: list: %w", localRef, err)
	}
	for _, item := range items {
		if err := q.store.DeleteOutboxItem(ctx, item.ID); err != nil {
			return fmt.Errorf("cancel local-only %s: delete %s: %w", localRef, item.ID, err)
		}
	}
	return nil
}

// CascadeServerRef patches serverRef into every queued item for localRef
// that's missing one, after a CREATE assigns a server id.
func (q *Queue) CascadeServerRef(ctx context.Context, localRef string, serverID int64) (int, error) {
	targets, err := q.store.ListOutboxByLocalRefMissingServerRef(ctx, localRef)
	if err != nil {
		return 0, fmt.Errorf("cascade: list targets: %w", err)
	}
	for _, item := range targets {
		item.ServerRef = &serverID
		item.UpdatedAt = time.Now().UTC()
		if err := q.store.PutOutboxItem(ctx, item); err != nil {
			return 0, fmt.Errorf("cascade: patch %s: %w", item.ID, err)
		}
	}
	return len(targets), nil
}
