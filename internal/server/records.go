package server

import "time"

// memoRecord is the server's view of a memo: no localId, no syncStatus —
// those are purely client-side concepts.
type memoRecord struct {
	ID            int64     `json:"id"`
	UserBookID    string    `json:"userBookId"`
	PageNumber    int       `json:"pageNumber"`
	Content       string    `json:"content"`
	Tags          []string  `json:"tags"`
	MemoStartTime time.Time `json:"memoStartTime"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type memoCreateRequest struct {
	UserBookID    string    `json:"userBookId"`
	PageNumber    int       `json:"pageNumber"`
	Content       string    `json:"content"`
	Tags          []string  `json:"tags"`
	MemoStartTime time.Time `json:"memoStartTime"`
}

// shelfRecord is the server's view of a user's book shelf entry.
type shelfRecord struct {
	UserBookID int64  `json:"userBookId"`
	BookID     string `json:"bookId"`
	ISBN       string `json:"isbn"`

	Title       string `json:"title"`
	Author      string `json:"author"`
	Publisher   string `json:"publisher"`
	PubDate     string `json:"pubDate"`
	Description string `json:"description"`
	CoverURL    string `json:"coverUrl"`
	TotalPages  int    `json:"totalPages"`
	MainGenre   string `json:"mainGenre"`

	Category            string     `json:"category"`
	Expectation         string     `json:"expectation"`
	LastReadPage        int        `json:"lastReadPage"`
	LastReadAt          *time.Time `json:"lastReadAt"`
	ReadingFinishedDate *time.Time `json:"readingFinishedDate"`
	PurchaseType        string     `json:"purchaseType"`
	Rating              *float64   `json:"rating"`
	Review              string     `json:"review"`
}

type shelfCreateRequest struct {
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

// shelfReadingStateRequest is the partial PUT body for reading-state
// updates (the client's UpdateShelfEntry payload shape).
type shelfReadingStateRequest struct {
	Category            string     `json:"category"`
	Expectation         string     `json:"expectation"`
	LastReadPage        int        `json:"lastReadPage"`
	LastReadAt          *time.Time `json:"lastReadAt"`
	ReadingFinishedDate *time.Time `json:"readingFinishedDate"`
	PurchaseType        string     `json:"purchaseType"`
	Rating              *float64   `json:"rating"`
	Review              string     `json:"review"`
}

type startReadingRequest struct {
	ReadingStartDate time.Time `json:"readingStartDate"`
	ReadingProgress  int       `json:"readingProgress"`
	PurchaseType     string    `json:"purchaseType,omitempty"`
}
