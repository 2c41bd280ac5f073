package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/readingjournal/syncengine/internal/types"
)

// CompactOutbox exports and removes terminal sync_queue rows older than
// cutoff: SUCCESS items (their cascade-patch job is done) and FAILED
// items that exhausted MaxRetries (nothing will ever retry them again).
// Every removed row is written to a dated JSONL audit file under
// auditDir before its delete is committed. The audit entry holds every
// column except payload, original_queue_id and last_retry_at, which are
// not exported. Returns (exported, deleted, error).
func (s *SQLiteStore) CompactOutbox(ctx context.Context, cutoff time.Time, auditDir string) (exported int64, deleted int64, err error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+outboxColumns+` FROM sync_queue
		WHERE updated_at < ? AND (status = ? OR (status = ? AND retry_count >= ?))
		ORDER BY updated_at ASC
	`, fmtTime(cutoff.UTC()), string(types.OutboxSuccess), string(types.OutboxFailed), types.MaxRetries)
	if err != nil {
		return 0, 0, fmt.Errorf("query compactable outbox rows: %w", err)
	}
	defer rows.Close()

	items, err := scanOutboxItems(rows)
	if err != nil {
		return 0, 0, fmt.Errorf("scan compactable outbox rows: %w", err)
	}
	if len(items) == 0 {
		return 0, 0, nil
	}

	if err := writeOutboxAudit(auditDir, items); err != nil {
		return 0, 0, err
	}
	exported = int64(len(items))

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Batch deletes to respect SQLite's 999-parameter limit.
	const batchSize = 999
	for i := 0; i < len(ids); i += batchSize {
		end := i + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[i:end]

		placeholders := make([]string, len(batch))
		args := make([]any, len(batch))
		for j, id := range batch {
			placeholders[j] = "?"
			args[j] = id
		}

		query := "DELETE FROM sync_queue WHERE id IN (" + strings.Join(placeholders, ",") + ")"
		result, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, 0, fmt.Errorf("delete sync_queue batch: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return 0, 0, fmt.Errorf("delete sync_queue batch: rows affected: %w", err)
		}
		deleted += affected
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit compaction: %w", err)
	}
	return exported, deleted, nil
}

// outboxAuditEntry is the on-disk shape of a compacted outbox row. It
// mirrors types.OutboxItem rather than reusing it directly so the audit
// format stays stable even if the in-memory type grows fields later.
type outboxAuditEntry struct {
	ID             string `json:"id"`
	Kind           string `json:"kind"`
	EntityKind     string `json:"entity_kind"`
	LocalRef       string `json:"local_ref"`
	ServerRef      *int64 `json:"server_ref,omitempty"`
	IdempotencyKey string `json:"idempotency_key"`
	Status         string `json:"status"`
	RetryCount     int    `json:"retry_count"`
	LastError      string `json:"last_error,omitempty"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at"`
}

func writeOutboxAudit(auditDir string, items []types.OutboxItem) (err error) {
	if err := os.MkdirAll(auditDir, 0o755); err != nil {
		return fmt.Errorf("create audit dir: %w", err)
	}

	auditFile := filepath.Join(auditDir, time.Now().UTC().Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(auditFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	encoder := json.NewEncoder(f)
	for _, it := range items {
		entry := outboxAuditEntry{
			ID:             it.ID,
			Kind:           string(it.Kind),
			EntityKind:     string(it.EntityKind),
			LocalRef:       it.LocalRef,
			ServerRef:      it.ServerRef,
			IdempotencyKey: it.IdempotencyKey,
			Status:         string(it.Status),
			RetryCount:     it.RetryCount,
			LastError:      it.LastError,
			CreatedAt:      fmtTime(it.CreatedAt),
			UpdatedAt:      fmtTime(it.UpdatedAt),
		}
		if err = encoder.Encode(entry); err != nil {
			return fmt.Errorf("write audit entry: %w", err)
		}
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("sync audit file: %w", err)
	}
	return nil
}
