package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/readingjournal/syncengine/internal/types"
)

const memoColumns = `local_id, server_id, user_book_id, page_number, content, tags,
	memo_start_time, created_at, updated_at, sync_status, sync_queue_id`

// PutMemo inserts or replaces a memo row.
func (s *SQLiteStore) PutMemo(ctx context.Context, m types.Memo) error {
	return s.putMemoInTx(ctx, s.db, m)
}

func (s *SQLiteStore) putMemoInTx(ctx context.Context, qc queryContext, m types.Memo) error {
	tags, err := json.Marshal(m.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	_, err = qc.ExecContext(ctx, `
		INSERT INTO offline_memos (`+memoColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(local_id) DO UPDATE SET
			server_id=excluded.server_id, user_book_id=excluded.user_book_id,
			page_number=excluded.page_number, content=excluded.content, tags=excluded.tags,
			memo_start_time=excluded.memo_start_time, updated_at=excluded.updated_at,
			sync_status=excluded.sync_status, sync_queue_id=excluded.sync_queue_id
	`, m.LocalID, m.ServerID, m.UserBookID, m.PageNumber, m.Content, string(tags),
		fmtTime(m.MemoStartTime), fmtTime(m.CreatedAt), fmtTime(m.UpdatedAt),
		string(m.SyncStatus), m.SyncQueueID)
	if err != nil {
		return fmt.Errorf("put memo %s: %w", m.LocalID, err)
	}
	return nil
}

// GetMemoByLocalID returns a memo by its local id, or ErrNotFound.
func (s *SQLiteStore) GetMemoByLocalID(ctx context.Context, localID string) (*types.Memo, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+memoColumns+` FROM offline_memos WHERE local_id = ?`, localID)
	return scanMemo(row)
}

// GetMemoByServerID is nullable-safe: a nil serverID returns (nil, nil).
func (s *SQLiteStore) GetMemoByServerID(ctx context.Context, serverID *int64) (*types.Memo, error) {
	if serverID == nil {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+memoColumns+` FROM offline_memos WHERE server_id = ?`, *serverID)
	m, err := scanMemo(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return m, err
}

// GetAllMemosByServerID returns every row sharing a server id, used to
// clean up duplicate rows accidentally written by concurrent drivers.
func (s *SQLiteStore) GetAllMemosByServerID(ctx context.Context, serverID int64) ([]types.Memo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+memoColumns+` FROM offline_memos WHERE server_id = ?`, serverID)
	if err != nil {
		return nil, fmt.Errorf("query memos by server id: %w", err)
	}
	defer rows.Close()
	return scanMemos(rows)
}

// DeleteMemo removes a memo row by local id.
func (s *SQLiteStore) DeleteMemo(ctx context.Context, localID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM offline_memos WHERE local_id = ?`, localID)
	if err != nil {
		return fmt.Errorf("delete memo %s: %w", localID, err)
	}
	return nil
}

// ListMemosByStatus returns memos whose sync status matches.
func (s *SQLiteStore) ListMemosByStatus(ctx context.Context, status types.SyncStatus) ([]types.Memo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+memoColumns+` FROM offline_memos WHERE sync_status = ? ORDER BY created_at ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("query memos by status: %w", err)
	}
	defer rows.Close()
	return scanMemos(rows)
}

// ListMemosByUserBook returns memos for a given shelf entry, newest first.
func (s *SQLiteStore) ListMemosByUserBook(ctx context.Context, userBookID string) ([]types.Memo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+memoColumns+` FROM offline_memos WHERE user_book_id = ? ORDER BY memo_start_time DESC`, userBookID)
	if err != nil {
		return nil, fmt.Errorf("query memos by user book: %w", err)
	}
	defer rows.Close()
	return scanMemos(rows)
}

// ListMemosOlderThan returns memos whose memoStartTime precedes cutoff.
// The Sync Engine's 7-day hybrid-retention drop checks each memo's
// memoStartTime itself and does not call this.
func (s *SQLiteStore) ListMemosOlderThan(ctx context.Context, cutoff time.Time) ([]types.Memo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+memoColumns+` FROM offline_memos WHERE memo_start_time < ?`, fmtTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("query memos older than cutoff: %w", err)
	}
	defer rows.Close()
	return scanMemos(rows)
}

// ListSyncedMemosIdleSince returns synced memos whose updatedAt precedes
// cutoff, used by the 30-day idle sweep.
func (s *SQLiteStore) ListSyncedMemosIdleSince(ctx context.Context, cutoff time.Time) ([]types.Memo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+memoColumns+` FROM offline_memos WHERE sync_status = ? AND updated_at < ?`,
		string(types.SyncSynced), fmtTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("query idle synced memos: %w", err)
	}
	defer rows.Close()
	return scanMemos(rows)
}

func scanMemo(row *sql.Row) (*types.Memo, error) {
	var m types.Memo
	var tags string
	var memoStart, createdAt, updatedAt string
	var syncStatus string
	if err := row.Scan(&m.LocalID, &m.ServerID, &m.UserBookID, &m.PageNumber, &m.Content, &tags,
		&memoStart, &createdAt, &updatedAt, &syncStatus, &m.SyncQueueID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan memo: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	m.MemoStartTime = parseTime(memoStart)
	m.CreatedAt = parseTime(createdAt)
	m.UpdatedAt = parseTime(updatedAt)
	m.SyncStatus = types.SyncStatus(syncStatus)
	return &m, nil
}

func scanMemos(rows *sql.Rows) ([]types.Memo, error) {
	var out []types.Memo
	for rows.Next() {
		var m types.Memo
		var tags string
		var memoStart, createdAt, updatedAt string
		var syncStatus string
		if err := rows.Scan(&m.LocalID, &m.ServerID, &m.UserBookID, &m.PageNumber, &m.Content, &tags,
			&memoStart, &createdAt, &updatedAt, &syncStatus, &m.SyncQueueID); err != nil {
			return nil, fmt.Errorf("scan memo row: %w", err)
		}
		if err := json.Unmarshal([]byte(tags), &m.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal tags: %w", err)
		}
		m.MemoStartTime = parseTime(memoStart)
		m.CreatedAt = parseTime(createdAt)
		m.UpdatedAt = parseTime(updatedAt)
		m.SyncStatus = types.SyncStatus(syncStatus)
		out = append(out, m)
	}
	return out, rows.Err()
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// optTime converts a nullable *time.Time into a nullable SQL text value.
func optTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}
