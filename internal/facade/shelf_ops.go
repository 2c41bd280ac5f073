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

// CreateShelfEntryRequest is what a caller supplies to add a book to
// the shelf.
type CreateShelfEntryRequest struct {
	BookID      string
	ISBN        string
	Title       string
	Author      string
	Publisher   string
	PubDate     string
	Description string
	CoverURL    string
	TotalPages  int
	MainGenre   string
	Category    types.ShelfCategory
}

// ShelfResult pairs a shelf entry with how its write was handled.
type ShelfResult struct {
	Entry   types.ShelfEntry
	Outcome WriteOutcome
}

type shelfWirePayload struct {
	BookID      string `json:"bookId"`
	ISBN        string `json:"isbn"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	Publisher   string `json:"publisher"`
	PubDate     string `json:"pubDate"`
	Description string `json:"description"`
	CoverURL    string `json:"coverUrl"`
	TotalPages  int    `json:"totalPages"`
	MainGenre   string `json:"mainGenre"`
	Category    string `json:"category"`
}

func shelfPayloadFrom(e types.ShelfEntry) shelfWirePayload {
	return shelfWirePayload{
		BookID: e.BookID, ISBN: e.ISBN, Title: e.Title, Author: e.Author, Publisher: e.Publisher,
		PubDate: e.PubDate, Description: e.Description, CoverURL: e.CoverURL, TotalPages: e.TotalPages,
		MainGenre: e.MainGenre, Category: string(e.Category),
	}
}

// CreateShelfEntry implements the write policy for adding a book.
func (f *Facade) CreateShelfEntry(ctx context.Context, req CreateShelfEntryRequest) (*ShelfResult, error) {
	now := time.Now().UTC()
	entry := types.ShelfEntry{
		LocalID: uuid.NewString(), BookID: req.BookID, ISBN: req.ISBN, Title: req.Title, Author: req.Author,
		Publisher: req.Publisher, PubDate: req.PubDate, Description: req.Description, CoverURL: req.CoverURL,
		TotalPages: req.TotalPages, MainGenre: req.MainGenre, Category: req.Category,
		SyncStatus: types.SyncPending, AddedAt: now,
	}
	payload, err := json.Marshal(shelfPayloadFrom(entry))
	if err != nil {
		return nil, fmt.Errorf("create shelf entry: encode payload: %w", err)
	}

	result, err := f.runWrite(ctx,
		func(ctx context.Context) (any, error) { return f.createShelfEntryServerFirst(ctx, entry, payload) },
		func(ctx context.Context) (any, error) { return f.queueShelfEntryCreate(ctx, entry, payload) },
	)
	if err != nil {
		return nil, err
	}
	return result.(*ShelfResult), nil
}

func (f *Facade) createShelfEntryServerFirst(ctx context.Context, entry types.ShelfEntry, payload []byte) (*ShelfResult, error) {
	serverID, err := f.remote.CreateShelfEntry(ctx, payload, uuid.NewString())
	if err != nil {
		return nil, err
	}
	entry.ServerID = &serverID
	entry.SyncStatus = types.SyncSynced
	if err := f.shelfStore.PutShelfEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("create shelf entry: persist server-confirmed: %w", err)
	}
	return &ShelfResult{Entry: entry, Outcome: WriteServerConfirmed}, nil
}

func (f *Facade) queueShelfEntryCreate(ctx context.Context, entry types.ShelfEntry, payload []byte) (*ShelfResult, error) {
	item, err := f.outbox.Enqueue(ctx, outbox.EnqueueRequest{
		Kind: types.KindCreate, EntityKind: types.EntityShelf, LocalRef: entry.LocalID, Payload: payload,
	})
	if err != nil {
		return nil, fmt.Errorf("create shelf entry: enqueue: %w", err)
	}
	entry.SyncQueueID = &item.ID
	if err := f.shelfStore.PutShelfEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("create shelf entry: persist queued: %w", err)
	}
	f.maybeTriggerCycle()
	return &ShelfResult{Entry: entry, Outcome: WriteQueued}, nil
}

// UpdateShelfEntryRequest carries the mutable reading-state fields a
// caller may change. The bibliographic fields are immutable once set.
type UpdateShelfEntryRequest struct {
	Category            *types.ShelfCategory
	Expectation         *string
	LastReadPage        *int
	LastReadAt          *time.Time
	ReadingFinishedDate *time.Time
	PurchaseType        *string
	Rating              *float64
	Review              *string
}

// UpdateShelfEntry implements the write policy for an existing shelf
// entry, with the same CREATE-before-UPDATE guard as memos.
func (f *Facade) UpdateShelfEntry(ctx context.Context, localID string, req UpdateShelfEntryRequest) (*ShelfResult, error) {
	existing, err := f.shelfStore.GetShelfEntryByLocalID(ctx, localID)
	if err != nil {
		return nil, fmt.Errorf("update shelf entry %s: %w", localID, err)
	}
	applyShelfUpdate(existing, req)

	payload, err := json.Marshal(shelfReadingStatePayload(*existing))
	if err != nil {
		return nil, fmt.Errorf("update shelf entry %s: encode payload: %w", localID, err)
	}

	queueFirst := func(ctx context.Context) (any, error) { return f.queueShelfEntryUpdate(ctx, *existing, payload) }
	if existing.ServerID == nil {
		return typedShelfResult(queueFirst(ctx))
	}

	serverFirst := func(ctx context.Context) (any, error) {
		return f.updateShelfEntryServerFirst(ctx, *existing, *existing.ServerID, payload)
	}
	return typedShelfResult(f.runWrite(ctx, serverFirst, queueFirst))
}

type shelfReadingState struct {
	Category            string     `json:"category"`
	Expectation         string     `json:"expectation"`
	LastReadPage        int        `json:"lastReadPage"`
	LastReadAt          *time.Time `json:"lastReadAt,omitempty"`
	ReadingFinishedDate *time.Time `json:"readingFinishedDate,omitempty"`
	PurchaseType        string     `json:"purchaseType"`
	Rating              *float64   `json:"rating,omitempty"`
	Review              string     `json:"review"`
}

func shelfReadingStatePayload(e types.ShelfEntry) shelfReadingState {
	return shelfReadingState{
		Category: string(e.Category), Expectation: e.Expectation, LastReadPage: e.LastReadPage,
		LastReadAt: e.LastReadAt, ReadingFinishedDate: e.ReadingFinishedDate,
		PurchaseType: e.PurchaseType, Rating: e.Rating, Review: e.Review,
	}
}

func applyShelfUpdate(e *types.ShelfEntry, req UpdateShelfEntryRequest) {
	if req.Category != nil {
		e.Category = *req.Category
	}
	if req.Expectation != nil {
		e.Expectation = *req.Expectation
	}
	if req.LastReadPage != nil {
		e.LastReadPage = *req.LastReadPage
	}
	if req.LastReadAt != nil {
		e.LastReadAt = req.LastReadAt
	}
	if req.ReadingFinishedDate != nil {
		e.ReadingFinishedDate = req.ReadingFinishedDate
	}
	if req.PurchaseType != nil {
		e.PurchaseType = *req.PurchaseType
	}
	if req.Rating != nil {
		e.Rating = req.Rating
	}
	if req.Review != nil {
		e.Review = *req.Review
	}
}

func (f *Facade) updateShelfEntryServerFirst(ctx context.Context, entry types.ShelfEntry, serverID int64, payload []byte) (*ShelfResult, error) {
	if err := f.remote.UpdateShelfEntry(ctx, serverID, payload); err != nil {
		return nil, err
	}
	entry.SyncStatus = types.SyncSynced
	if err := f.shelfStore.PutShelfEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("update shelf entry %s: persist server-confirmed: %w", entry.LocalID, err)
	}
	return &ShelfResult{Entry: entry, Outcome: WriteServerConfirmed}, nil
}

func (f *Facade) queueShelfEntryUpdate(ctx context.Context, entry types.ShelfEntry, payload []byte) (*ShelfResult, error) {
	item, err := f.outbox.Enqueue(ctx, outbox.EnqueueRequest{
		Kind: types.KindUpdate, EntityKind: types.EntityShelf, LocalRef: entry.LocalID,
		ServerRef: entry.ServerID, Payload: payload,
	})
	if err != nil {
		return nil, fmt.Errorf("update shelf entry %s: enqueue: %w", entry.LocalID, err)
	}
	entry.SyncQueueID = &item.ID
	entry.SyncStatus = types.SyncPending
	if err := f.shelfStore.PutShelfEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("update shelf entry %s: persist queued: %w", entry.LocalID, err)
	}
	f.maybeTriggerCycle()
	return &ShelfResult{Entry: entry, Outcome: WriteQueued}, nil
}

// DeleteShelfEntry implements the write policy for removing a book from
// the shelf, with the same local-only cancel-outright path as memos —
// except when the entry's CREATE is still SYNCING (serverId not yet
// assigned), in which case the DELETE is enqueued WAITING behind it
// rather than cancelled outright (spec.md §8 scenario S2).
func (f *Facade) DeleteShelfEntry(ctx context.Context, localID string) error {
	existing, err := f.shelfStore.GetShelfEntryByLocalID(ctx, localID)
	if err != nil {
		return fmt.Errorf("delete shelf entry %s: %w", localID, err)
	}

	if existing.ServerID == nil {
		inFlight, err := f.hasSyncingOutboxItem(ctx, localID)
		if err != nil {
			return fmt.Errorf("delete shelf entry %s: check in-flight outbox item: %w", localID, err)
		}
		if !inFlight {
			if err := f.outbox.CancelLocalOnly(ctx, localID); err != nil {
				return fmt.Errorf("delete shelf entry %s: cancel local-only: %w", localID, err)
			}
			return f.shelfStore.DeleteShelfEntry(ctx, localID)
		}
		return f.queueShelfEntryDelete(ctx, localID, nil)
	}

	serverID := *existing.ServerID
	queueFirst := func(ctx context.Context) (any, error) { return nil, f.queueShelfEntryDelete(ctx, localID, &serverID) }
	serverFirst := func(ctx context.Context) (any, error) {
		return nil, f.deleteShelfEntryServerFirst(ctx, localID, serverID)
	}
	_, err = f.runWrite(ctx, serverFirst, queueFirst)
	return err
}

func (f *Facade) deleteShelfEntryServerFirst(ctx context.Context, localID string, serverID int64) error {
	if err := f.remote.DeleteShelfEntry(ctx, serverID); err != nil && !errors.Is(err, remote.ErrNotFound) {
		return err
	}
	return f.shelfStore.DeleteShelfEntry(ctx, localID)
}

func (f *Facade) queueShelfEntryDelete(ctx context.Context, localID string, serverRef *int64) error {
	item, err := f.outbox.Enqueue(ctx, outbox.EnqueueRequest{
		Kind: types.KindDelete, EntityKind: types.EntityShelf, LocalRef: localID, ServerRef: serverRef,
	})
	if err != nil {
		return fmt.Errorf("delete shelf entry %s: enqueue: %w", localID, err)
	}
	existing, err := f.shelfStore.GetShelfEntryByLocalID(ctx, localID)
	if err != nil {
		return fmt.Errorf("delete shelf entry %s: reload: %w", localID, err)
	}
	existing.SyncQueueID = &item.ID
	if item.Status == types.OutboxWaiting {
		existing.SyncStatus = types.SyncWaiting
	} else {
		existing.SyncStatus = types.SyncPending
	}
	if err := f.shelfStore.PutShelfEntry(ctx, *existing); err != nil {
		return fmt.Errorf("delete shelf entry %s: persist queued: %w", localID, err)
	}
	f.maybeTriggerCycle()
	return nil
}

// StartReadingRequest carries the payload the start-reading transition
// sends verbatim.
type StartReadingRequest struct {
	ReadingStartDate time.Time
	ReadingProgress  int
	PurchaseType     string
}

type startReadingWirePayload struct {
	ReadingStartDate time.Time `json:"readingStartDate"`
	ReadingProgress  int       `json:"readingProgress"`
	PurchaseType     string    `json:"purchaseType,omitempty"`
}

// StartReading calls the start-reading transition directly against the
// server. Unlike CreateShelfEntry/UpdateShelfEntry/DeleteShelfEntry, this
// endpoint has no outbox-queued equivalent — it only ever applies to an
// entry whose CREATE has already landed, and there is nothing sensible to
// coalesce or replay while offline.
func (f *Facade) StartReading(ctx context.Context, localID string, req StartReadingRequest) (*ShelfResult, error) {
	existing, err := f.shelfStore.GetShelfEntryByLocalID(ctx, localID)
	if err != nil {
		return nil, fmt.Errorf("start reading %s: %w", localID, err)
	}
	if existing.ServerID == nil {
		return nil, fmt.Errorf("start reading %s: %w", localID, ErrNotYetSynced)
	}
	if isOnline, _, _ := f.probe.State(); !isOnline {
		return nil, ErrOffline
	}

	payload, err := json.Marshal(startReadingWirePayload{
		ReadingStartDate: req.ReadingStartDate, ReadingProgress: req.ReadingProgress, PurchaseType: req.PurchaseType,
	})
	if err != nil {
		return nil, fmt.Errorf("start reading %s: encode payload: %w", localID, err)
	}
	if err := f.remote.StartReading(ctx, *existing.ServerID, payload); err != nil {
		return nil, err
	}

	existing.Category = types.CategoryReading
	existing.LastReadAt = &req.ReadingStartDate
	existing.LastReadPage = req.ReadingProgress
	if req.PurchaseType != "" {
		existing.PurchaseType = req.PurchaseType
	}
	existing.SyncStatus = types.SyncSynced
	if err := f.shelfStore.PutShelfEntry(ctx, *existing); err != nil {
		return nil, fmt.Errorf("start reading %s: persist server-confirmed: %w", localID, err)
	}
	return &ShelfResult{Entry: *existing, Outcome: WriteServerConfirmed}, nil
}

func typedShelfResult(v any, err error) (*ShelfResult, error) {
	if err != nil {
		return nil, err
	}
	return v.(*ShelfResult), nil
}
