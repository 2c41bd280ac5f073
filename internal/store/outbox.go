package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/readingjournal/syncengine/internal/types"
)

const outboxColumns = `id, kind, entity_kind, local_ref, server_ref, payload, idempotency_key,
	status, retry_count, last_error, original_queue_id, created_at, updated_at, last_retry_at`

// PutOutboxItem inserts or replaces an outbox row.
func (s *SQLiteStore) PutOutboxItem(ctx context.Context, item types.OutboxItem) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_queue (`+outboxColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind=excluded.kind, entity_kind=excluded.entity_kind, local_ref=excluded.local_ref,
			server_ref=excluded.server_ref, payload=excluded.payload, idempotency_key=excluded.idempotency_key,
			status=excluded.status, retry_count=excluded.retry_count, last_error=excluded.last_error,
			original_queue_id=excluded.original_queue_id, updated_at=excluded.updated_at,
			last_retry_at=excluded.last_retry_at
	`, item.ID, string(item.Kind), string(item.EntityKind), item.LocalRef, item.ServerRef,
		string(item.Payload), item.IdempotencyKey, string(item.Status), item.RetryCount, item.LastError,
		item.OriginalQueueID, fmtTime(item.CreatedAt), fmtTime(item.UpdatedAt), optTime(item.LastRetryAt))
	if err != nil {
		return fmt.Errorf("put outbox item %s: %w", item.ID, err)
	}
	return nil
}

// GetOutboxItem returns an outbox item by id, or ErrOutboxNotFound.
func (s *SQLiteStore) GetOutboxItem(ctx context.Context, id string) (*types.OutboxItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+outboxColumns+` FROM sync_queue WHERE id = ?`, id)
	return scanOutboxItem(row)
}

// DeleteOutboxItem removes an outbox row. Rows that reach SUCCESS are not
// removed through it; CompactOutbox purges those later.
func (s *SQLiteStore) DeleteOutboxItem(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete outbox item %s: %w", id, err)
	}
	return nil
}

// ListOutboxByStatus returns outbox items with the given status, ordered
// by createdAt ascending (strict arrival order, per the ordering rule).
func (s *SQLiteStore) ListOutboxByStatus(ctx context.Context, status types.OutboxStatus) ([]types.OutboxItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+outboxColumns+` FROM sync_queue WHERE status = ? ORDER BY created_at ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("query outbox by status: %w", err)
	}
	defer rows.Close()
	return scanOutboxItems(rows)
}

// ListOutboxByLocalRef returns every outbox item governing a given entity.
func (s *SQLiteStore) ListOutboxByLocalRef(ctx context.Context, localRef string) ([]types.OutboxItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+outboxColumns+` FROM sync_queue WHERE local_ref = ? ORDER BY created_at ASC`, localRef)
	if err != nil {
		return nil, fmt.Errorf("query outbox by local ref: %w", err)
	}
	defer rows.Close()
	return scanOutboxItems(rows)
}

// ListOutboxByLocalRefMissingServerRef returns the non-CREATE items (of
// any status) for a local ref that don't yet have a serverRef — the
// cascade-patch targets.
func (s *SQLiteStore) ListOutboxByLocalRefMissingServerRef(ctx context.Context, localRef string) ([]types.OutboxItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+outboxColumns+` FROM sync_queue
		WHERE local_ref = ? AND server_ref IS NULL AND kind != 'CREATE'`, localRef)
	if err != nil {
		return nil, fmt.Errorf("query outbox missing server ref: %w", err)
	}
	defer rows.Close()
	return scanOutboxItems(rows)
}

// CompareAndSwapOutboxStatus is the sole claim primitive: it flips status
// to next only if the stored status currently equals expected, and
// reports whether the swap happened.
func (s *SQLiteStore) CompareAndSwapOutboxStatus(ctx context.Context, id string, expected, next types.OutboxStatus, updatedAt string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE sync_queue SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(next), updatedAt, id, string(expected))
	if err != nil {
		return false, fmt.Errorf("cas outbox status %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("cas outbox status %s: rows affected: %w", id, err)
	}
	return n == 1, nil
}

func scanOutboxItem(row *sql.Row) (*types.OutboxItem, error) {
	var it types.OutboxItem
	var kind, entityKind, status, payload string
	var createdAt, updatedAt string
	var lastRetryAt sql.NullString
	if err := row.Scan(&it.ID, &kind, &entityKind, &it.LocalRef, &it.ServerRef, &payload,
		&it.IdempotencyKey, &status, &it.RetryCount, &it.LastError, &it.OriginalQueueID,
		&createdAt, &updatedAt, &lastRetryAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrOutboxNotFound
		}
		return nil, fmt.Errorf("scan outbox item: %w", err)
	}
	applyOutboxScanExtras(&it, kind, entityKind, status, payload, createdAt, updatedAt, lastRetryAt)
	return &it, nil
}

func scanOutboxItems(rows *sql.Rows) ([]types.OutboxItem, error) {
	var out []types.OutboxItem
	for rows.Next() {
		var it types.OutboxItem
		var kind, entityKind, status, payload string
		var createdAt, updatedAt string
		var lastRetryAt sql.NullString
		if err := rows.Scan(&it.ID, &kind, &entityKind, &it.LocalRef, &it.ServerRef, &payload,
			&it.IdempotencyKey, &status, &it.RetryCount, &it.LastError, &it.OriginalQueueID,
			&createdAt, &updatedAt, &lastRetryAt); err != nil {
			return nil, fmt.Errorf("scan outbox item row: %w", err)
		}
		applyOutboxScanExtras(&it, kind, entityKind, status, payload, createdAt, updatedAt, lastRetryAt)
		out = append(out, it)
	}
	return out, rows.Err()
}

func applyOutboxScanExtras(it *types.OutboxItem, kind, entityKind, status, payload, createdAt, updatedAt string, lastRetryAt sql.NullString) {
	it.Kind = types.OutboxKind(kind)
	it.EntityKind = types.EntityKind(entityKind)
	it.Status = types.OutboxStatus(status)
	it.Payload = []byte(payload)
	it.CreatedAt = parseTime(createdAt)
	it.UpdatedAt = parseTime(updatedAt)
	if lastRetryAt.Valid {
		t := parseTime(lastRetryAt.String)
		it.LastRetryAt = &t
	}
}
