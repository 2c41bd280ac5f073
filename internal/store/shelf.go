package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/readingjournal/syncengine/internal/types"
)

const shelfColumns = `local_id, server_id, book_id, isbn, title, author, publisher, pub_date,
	description, cover_url, total_pages, main_genre, category, expectation, last_read_page,
	last_read_at, reading_finished_date, purchase_type, rating, review, sync_status,
	sync_queue_id, added_at`

// PutShelfEntry inserts or replaces a shelf entry row.
func (s *SQLiteStore) PutShelfEntry(ctx context.Context, e types.ShelfEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO offline_books (`+shelfColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_id) DO UPDATE SET
			server_id=excluded.server_id, book_id=excluded.book_id, isbn=excluded.isbn,
			title=excluded.title, author=excluded.author, publisher=excluded.publisher,
			pub_date=excluded.pub_date, description=excluded.description, cover_url=excluded.cover_url,
			total_pages=excluded.total_pages, main_genre=excluded.main_genre, category=excluded.category,
			expectation=excluded.expectation, last_read_page=excluded.last_read_page,
			last_read_at=excluded.last_read_at, reading_finished_date=excluded.reading_finished_date,
			purchase_type=excluded.purchase_type, rating=excluded.rating, review=excluded.review,
			sync_status=excluded.sync_status, sync_queue_id=excluded.sync_queue_id
	`, e.LocalID, e.ServerID, e.BookID, e.ISBN, e.Title, e.Author, e.Publisher, e.PubDate,
		e.Description, e.CoverURL, e.TotalPages, e.MainGenre, string(e.Category), e.Expectation,
		e.LastReadPage, optTime(e.LastReadAt), optTime(e.ReadingFinishedDate), e.PurchaseType,
		e.Rating, e.Review, string(e.SyncStatus), e.SyncQueueID, fmtTime(e.AddedAt))
	if err != nil {
		return fmt.Errorf("put shelf entry %s: %w", e.LocalID, err)
	}
	return nil
}

// GetShelfEntryByLocalID returns a shelf entry by its local id.
func (s *SQLiteStore) GetShelfEntryByLocalID(ctx context.Context, localID string) (*types.ShelfEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+shelfColumns+` FROM offline_books WHERE local_id = ?`, localID)
	return scanShelfEntry(row)
}

// GetShelfEntryByServerID is nullable-safe: a nil serverID returns (nil, nil).
func (s *SQLiteStore) GetShelfEntryByServerID(ctx context.Context, serverID *int64) (*types.ShelfEntry, error) {
	if serverID == nil {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+shelfColumns+` FROM offline_books WHERE server_id = ?`, *serverID)
	e, err := scanShelfEntry(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return e, err
}

// DeleteShelfEntry removes a shelf entry row by local id.
func (s *SQLiteStore) DeleteShelfEntry(ctx context.Context, localID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM offline_books WHERE local_id = ?`, localID)
	if err != nil {
		return fmt.Errorf("delete shelf entry %s: %w", localID, err)
	}
	return nil
}

// ListShelfEntriesByStatus returns shelf entries whose sync status matches.
func (s *SQLiteStore) ListShelfEntriesByStatus(ctx context.Context, status types.SyncStatus) ([]types.ShelfEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+shelfColumns+` FROM offline_books WHERE sync_status = ? ORDER BY added_at ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("query shelf entries by status: %w", err)
	}
	defer rows.Close()
	return scanShelfEntries(rows)
}

// ListShelfEntriesByCategory returns all shelf entries in a reading-state bucket.
func (s *SQLiteStore) ListShelfEntriesByCategory(ctx context.Context, category types.ShelfCategory) ([]types.ShelfEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+shelfColumns+` FROM offline_books WHERE category = ? ORDER BY added_at DESC`, string(category))
	if err != nil {
		return nil, fmt.Errorf("query shelf entries by category: %w", err)
	}
	defer rows.Close()
	return scanShelfEntries(rows)
}

// ListShelfEntries returns the full shelf (shelf entries are never swept).
func (s *SQLiteStore) ListShelfEntries(ctx context.Context) ([]types.ShelfEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+shelfColumns+` FROM offline_books ORDER BY added_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list shelf entries: %w", err)
	}
	defer rows.Close()
	return scanShelfEntries(rows)
}

func scanShelfEntry(row *sql.Row) (*types.ShelfEntry, error) {
	var e types.ShelfEntry
	var lastReadAt, finishedDate, addedAt sql.NullString
	var category, syncStatus string
	if err := row.Scan(&e.LocalID, &e.ServerID, &e.BookID, &e.ISBN, &e.Title, &e.Author, &e.Publisher,
		&e.PubDate, &e.Description, &e.CoverURL, &e.TotalPages, &e.MainGenre, &category, &e.Expectation,
		&e.LastReadPage, &lastReadAt, &finishedDate, &e.PurchaseType, &e.Rating, &e.Review,
		&syncStatus, &e.SyncQueueID, &addedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan shelf entry: %w", err)
	}
	applyShelfScanExtras(&e, category, syncStatus, lastReadAt, finishedDate, addedAt)
	return &e, nil
}

func scanShelfEntries(rows *sql.Rows) ([]types.ShelfEntry, error) {
	var out []types.ShelfEntry
	for rows.Next() {
		var e types.ShelfEntry
		var lastReadAt, finishedDate, addedAt sql.NullString
		var category, syncStatus string
		if err := rows.Scan(&e.LocalID, &e.ServerID, &e.BookID, &e.ISBN, &e.Title, &e.Author, &e.Publisher,
			&e.PubDate, &e.Description, &e.CoverURL, &e.TotalPages, &e.MainGenre, &category, &e.Expectation,
			&e.LastReadPage, &lastReadAt, &finishedDate, &e.PurchaseType, &e.Rating, &e.Review,
			&syncStatus, &e.SyncQueueID, &addedAt); err != nil {
			return nil, fmt.Errorf("scan shelf entry row: %w", err)
		}
		applyShelfScanExtras(&e, category, syncStatus, lastReadAt, finishedDate, addedAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

func applyShelfScanExtras(e *types.ShelfEntry, category, syncStatus string, lastReadAt, finishedDate, addedAt sql.NullString) {
	e.Category = types.ShelfCategory(category)
	e.SyncStatus = types.SyncStatus(syncStatus)
	if lastReadAt.Valid {
		t := parseTime(lastReadAt.String)
		e.LastReadAt = &t
	}
	if finishedDate.Valid {
		t := parseTime(finishedDate.String)
		e.ReadingFinishedDate = &t
	}
	if addedAt.Valid {
		e.AddedAt = parseTime(addedAt.String)
	}
}
