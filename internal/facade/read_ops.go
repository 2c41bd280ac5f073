package facade

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/readingjournal/syncengine/internal/types"
)

// serverShelfEntry is the wire shape the reference server returns for a
// shelf entry. The server has no notion of localId — that's reconciled
// against the local store by serverId on the way in.
type serverShelfEntry struct {
	UserBookID          int64      `json:"userBookId"`
	BookID              string     `json:"bookId"`
	ISBN                string     `json:"isbn"`
	Title               string     `json:"title"`
	Author              string     `json:"author"`
	Publisher           string     `json:"publisher"`
	PubDate             string     `json:"pubDate"`
	Description         string     `json:"description"`
	CoverURL            string     `json:"coverUrl"`
	TotalPages          int        `json:"totalPages"`
	MainGenre           string     `json:"mainGenre"`
	Category            string     `json:"category"`
	Expectation         string     `json:"expectation"`
	LastReadPage        int        `json:"lastReadPage"`
	LastReadAt          *time.Time `json:"lastReadAt"`
	ReadingFinishedDate *time.Time `json:"readingFinishedDate"`
	PurchaseType        string     `json:"purchaseType"`
	Rating              *float64   `json:"rating"`
	Review              string     `json:"review"`
}

// ReadShelfList implements the read-list policy for the shelf: server
// first while online, with a best-effort cache writethrough; falls back
// to the Durable Store on failure or while offline.
func (f *Facade) ReadShelfList(ctx context.Context) ([]types.ShelfEntry, error) {
	isOnline, _, _ := f.probe.State()
	if !isOnline {
		return f.shelfStore.ListShelfEntries(ctx)
	}

	raw, err := f.remote.ListShelfEntries(ctx)
	if err != nil {
		f.log.WarnContext(ctx, "shelf list server read failed, falling back to store", "component", "facade",
			"action", "read_shelf_list", "error", err)
		return f.shelfStore.ListShelfEntries(ctx)
	}

	var dtos []serverShelfEntry
	if err := json.Unmarshal(raw, &dtos); err != nil {
		f.log.WarnContext(ctx, "shelf list decode failed, falling back to store", "component", "facade",
			"action", "read_shelf_list", "error", err)
		return f.shelfStore.ListShelfEntries(ctx)
	}

	entries := make([]types.ShelfEntry, 0, len(dtos))
	for _, dto := range dtos {
		entries = append(entries, f.reconcileShelfEntry(ctx, dto))
	}
	go f.cacheShelfEntries(entries)
	return entries, nil
}

// reconcileShelfEntry maps a server DTO onto the local row sharing its
// serverId, generating a fresh localId on first sight of a book that
// hasn't been pulled before.
func (f *Facade) reconcileShelfEntry(ctx context.Context, dto serverShelfEntry) types.ShelfEntry {
	entry := types.ShelfEntry{
		ServerID: &dto.UserBookID, BookID: dto.BookID, ISBN: dto.ISBN, Title: dto.Title, Author: dto.Author,
		Publisher: dto.Publisher, PubDate: dto.PubDate, Description: dto.Description, CoverURL: dto.CoverURL,
		TotalPages: dto.TotalPages, MainGenre: dto.MainGenre, Category: types.ShelfCategory(dto.Category),
		Expectation: dto.Expectation, LastReadPage: dto.LastReadPage, LastReadAt: dto.LastReadAt,
		ReadingFinishedDate: dto.ReadingFinishedDate, PurchaseType: dto.PurchaseType, Rating: dto.Rating,
		Review: dto.Review, SyncStatus: types.SyncSynced, AddedAt: time.Now().UTC(),
	}

	local, err := f.shelfStore.GetShelfEntryByServerID(ctx, &dto.UserBookID)
	if err == nil && local != nil {
		entry.LocalID = local.LocalID
		entry.AddedAt = local.AddedAt
	} else {
		entry.LocalID = uuid.NewString()
	}
	return entry
}

func (f *Facade) cacheShelfEntries(entries []types.ShelfEntry) {
	ctx := context.Background()
	for _, e := range entries {
		if err := f.shelfStore.PutShelfEntry(ctx, e); err != nil {
			f.log.WarnContext(ctx, "shelf cache writethrough failed", "component", "facade",
				"action", "cache_writethrough", "local_ref", e.LocalID, "error", err)
		}
	}
}

// ReadShelfDetail implements the read-detail policy: prefer the freshly
// pulled server list (there is no single-entry endpoint), falling back
// to the stored bibliographic projection when offline, not yet synced,
// or not present server-side.
func (f *Facade) ReadShelfDetail(ctx context.Context, localID string) (*types.ShelfEntry, error) {
	local, err := f.shelfStore.GetShelfEntryByLocalID(ctx, localID)
	if err != nil {
		return nil, err
	}

	isOnline, _, _ := f.probe.State()
	if !isOnline || local.ServerID == nil {
		return local, nil
	}

	entries, err := f.ReadShelfList(ctx)
	if err != nil {
		return local, nil
	}
	for _, e := range entries {
		if e.ServerID != nil && *e.ServerID == *local.ServerID {
			return &e, nil
		}
	}
	return local, nil
}

// serverMemo is the wire shape for one memo in a memos/books/{id} response.
type serverMemo struct {
	ID            int64     `json:"id"`
	UserBookID    string    `json:"userBookId"`
	PageNumber    int       `json:"pageNumber"`
	Content       string    `json:"content"`
	Tags          []string  `json:"tags"`
	MemoStartTime time.Time `json:"memoStartTime"`
}

// ReadMemosByUserBook implements the read-list policy for a book's
// memos: server first with cache writethrough, falling back to the
// Durable Store on failure or while offline.
func (f *Facade) ReadMemosByUserBook(ctx context.Context, userBookID string) ([]types.Memo, error) {
	isOnline, _, _ := f.probe.State()
	if !isOnline {
		return f.memoStore.ListMemosByUserBook(ctx, userBookID)
	}

	raw, err := f.remote.MemosByBook(ctx, userBookID, "")
	if err != nil {
		f.log.WarnContext(ctx, "memos-by-book server read failed, falling back to store", "component", "facade",
			"action", "read_memos_by_book", "error", err)
		return f.memoStore.ListMemosByUserBook(ctx, userBookID)
	}

	var dtos []serverMemo
	if err := json.Unmarshal(raw, &dtos); err != nil {
		f.log.WarnContext(ctx, "memos-by-book decode failed, falling back to store", "component", "facade",
			"action", "read_memos_by_book", "error", err)
		return f.memoStore.ListMemosByUserBook(ctx, userBookID)
	}

	memos := make([]types.Memo, 0, len(dtos))
	for _, dto := range dtos {
		memos = append(memos, f.reconcileMemo(ctx, dto))
	}
	go f.cacheMemos(memos)
	return memos, nil
}

func (f *Facade) reconcileMemo(ctx context.Context, dto serverMemo) types.Memo {
	serverID := dto.ID
	now := time.Now().UTC()
	memo := types.Memo{
		ServerID: &serverID, UserBookID: dto.UserBookID, PageNumber: dto.PageNumber, Content: dto.Content,
		Tags: dto.Tags, MemoStartTime: dto.MemoStartTime, CreatedAt: now, UpdatedAt: now,
		SyncStatus: types.SyncSynced,
	}

	local, err := f.memoStore.GetMemoByServerID(ctx, &serverID)
	if err == nil && local != nil {
		memo.LocalID = local.LocalID
		memo.CreatedAt = local.CreatedAt
	} else {
		memo.LocalID = uuid.NewString()
	}
	return memo
}

func (f *Facade) cacheMemos(memos []types.Memo) {
	ctx := context.Background()
	for _, m := range memos {
		if err := f.memoStore.PutMemo(ctx, m); err != nil {
			f.log.WarnContext(ctx, "memo cache writethrough failed", "component", "facade",
				"action", "cache_writethrough", "local_ref", m.LocalID, "error", err)
		}
	}
}

// ReadTodayFlow proxies the aggregate today-flow read model. Its shape
// (memosByBook/memosByTag/totalMemoCount) doesn't map onto a single
// entity table, so this is pass-through only — no cache writethrough —
// and surfaces an error when offline rather than guessing at a local
// reconstruction.
func (f *Facade) ReadTodayFlow(ctx context.Context, query string) (json.RawMessage, error) {
	if isOnline, _, _ := f.probe.State(); !isOnline {
		return nil, ErrOffline
	}
	return f.remote.TodayFlow(ctx, query)
}

// ReadMemoDates proxies the calendar-marker read model (which dates in a
// range have at least one memo). Like ReadTodayFlow, its shape doesn't
// map onto a cached entity table, so this is pass-through only.
func (f *Facade) ReadMemoDates(ctx context.Context, query string) (json.RawMessage, error) {
	if isOnline, _, _ := f.probe.State(); !isOnline {
		return nil, ErrOffline
	}
	return f.remote.MemoDates(ctx, query)
}
