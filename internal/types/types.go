// Package types defines the entities and enums shared across the sync
// engine: memos, shelf entries, and the outbox items that govern their
// replication to the remote API.
package types

import "time"

// SyncStatus is the lifecycle state of a Memo or ShelfEntry.
type SyncStatus string

const (
	SyncPending       SyncStatus = "pending"
	SyncSyncingCreate SyncStatus = "syncing_create"
	SyncSyncingUpdate SyncStatus = "syncing_update"
	SyncSyncingDelete SyncStatus = "syncing_delete"
	SyncWaiting       SyncStatus = "waiting"
	SyncSynced        SyncStatus = "synced"
	SyncFailed        SyncStatus = "failed"
)

// ShelfCategory is a ShelfEntry's reading-state bucket.
type ShelfCategory string

const (
	CategoryToRead         ShelfCategory = "ToRead"
	CategoryReading        ShelfCategory = "Reading"
	CategoryAlmostFinished ShelfCategory = "AlmostFinished"
	CategoryFinished       ShelfCategory = "Finished"
)

// Memo is a dated textual annotation bound to a ShelfEntry (user-book).
type Memo struct {
	LocalID       string     `json:"localId"`
	ServerID      *int64     `json:"serverId"`
	UserBookID    string     `json:"userBookId"`
	PageNumber    int        `json:"pageNumber"`
	Content       string     `json:"content"`
	Tags          []string   `json:"tags"`
	MemoStartTime time.Time  `json:"memoStartTime"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	SyncStatus    SyncStatus `json:"syncStatus"`
	SyncQueueID   *string    `json:"syncQueueId"`
}

// ShelfEntry is a user's relationship to a book, plus its immutable
// bibliographic payload and mutable reading state.
type ShelfEntry struct {
	LocalID  string `json:"localId"`
	ServerID *int64 `json:"serverId"`
	BookID   string `json:"bookId"`
	ISBN     string `json:"isbn"`

	Title       string `json:"title"`
	Author      string `json:"author"`
	Publisher   string `json:"publisher"`
	PubDate     string `json:"pubDate"`
	Description string `json:"description"`
	CoverURL    string `json:"coverUrl"`
	TotalPages  int    `json:"totalPages"`
	MainGenre   string `json:"mainGenre"`

	Category            ShelfCategory `json:"category"`
	Expectation         string        `json:"expectation"`
	LastReadPage        int           `json:"lastReadPage"`
	LastReadAt          *time.Time    `json:"lastReadAt"`
	ReadingFinishedDate *time.Time    `json:"readingFinishedDate"`
	PurchaseType        string        `json:"purchaseType"`
	Rating              *float64      `json:"rating"`
	Review              string        `json:"review"`

	SyncStatus  SyncStatus `json:"syncStatus"`
	SyncQueueID *string    `json:"syncQueueId"`
	AddedAt     time.Time  `json:"addedAt"`
}

// OutboxKind is the mutation kind an outbox item replays.
type OutboxKind string

const (
	KindCreate OutboxKind = "CREATE"
	KindUpdate OutboxKind = "UPDATE"
	KindDelete OutboxKind = "DELETE"
)

// EntityKind names which entity table an outbox item governs.
type EntityKind string

const (
	EntityMemo  EntityKind = "memo"
	EntityShelf EntityKind = "shelf"
)

// OutboxStatus is the lifecycle state of an outbox item.
type OutboxStatus string

const (
	OutboxPending OutboxStatus = "PENDING"
	OutboxWaiting OutboxStatus = "WAITING"
	OutboxSyncing OutboxStatus = "SYNCING"
	OutboxSuccess OutboxStatus = "SUCCESS"
	OutboxFailed  OutboxStatus = "FAILED"
)

// MaxRetries caps automatic backoff retries before an outbox item sticks
// in FAILED for operator/UI visibility.
const MaxRetries = 3

// BackoffBase is the exponential-backoff unit: BackoffBase * 2^(n-1).
const BackoffBase = 5 * time.Second

// OutboxItem is a durable record of one pending mutation to replay
// against the remote API.
type OutboxItem struct {
	ID              string       `json:"id"`
	Kind            OutboxKind   `json:"kind"`
	EntityKind      EntityKind   `json:"entityKind"`
	LocalRef        string       `json:"localRef"`
	ServerRef       *int64       `json:"serverRef"`
	Payload         []byte       `json:"payload"`
	IdempotencyKey  string       `json:"idempotencyKey"`
	Status          OutboxStatus `json:"status"`
	RetryCount      int          `json:"retryCount"`
	LastError       string       `json:"lastError"`
	OriginalQueueID *string      `json:"originalQueueId"`
	CreatedAt       time.Time    `json:"createdAt"`
	UpdatedAt       time.Time    `json:"updatedAt"`
	LastRetryAt     *time.Time   `json:"lastRetryAt"`
}

// EntityRef is a tagged lookup key: either a local UUID or a server id.
// It replaces duck-typed "lookup by either id" with an explicit variant,
// per the composition-root design note.
type EntityRef struct {
	local   string
	server  int64
	isLocal bool
}

func LocalRef(localID string) EntityRef  { return EntityRef{local: localID, isLocal: true} }
func ServerRef(serverID int64) EntityRef { return EntityRef{server: serverID, isLocal: false} }

func (r EntityRef) IsLocal() bool { return r.isLocal }
func (r EntityRef) Local() string { return r.local }
func (r EntityRef) Server() int64 { return r.server }
