package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/readingjournal/syncengine/internal/types"
)

var storeInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show database size and entity counts",
	Args:  cobra.NoArgs,
	RunE:  runStoreInfo,
}

var allSyncStatuses = []types.SyncStatus{
	types.SyncPending, types.SyncSyncingCreate, types.SyncSyncingUpdate,
	types.SyncSyncingDelete, types.SyncWaiting, types.SyncSynced, types.SyncFailed,
}

var allOutboxStatuses = []types.OutboxStatus{
	types.OutboxPending, types.OutboxWaiting, types.OutboxSyncing,
	types.OutboxSuccess, types.OutboxFailed,
}

func runStoreInfo(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	db, err := resolveStore()
	if err != nil {
		return err
	}
	defer db.Close()

	var sizeBytes int64
	if info, statErr := os.Stat(db.DBPath()); statErr == nil {
		sizeBytes = info.Size()
	}

	memoCounts := map[types.SyncStatus]int{}
	memoTotal := 0
	for _, status := range allSyncStatuses {
		memos, err := db.ListMemosByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("list memos by status %s: %w", status, err)
		}
		memoCounts[status] = len(memos)
		memoTotal += len(memos)
	}

	shelfEntries, err := db.ListShelfEntries(ctx)
	if err != nil {
		return fmt.Errorf("list shelf entries: %w", err)
	}

	outboxCounts := map[types.OutboxStatus]int{}
	outboxTotal := 0
	for _, status := range allOutboxStatuses {
		items, err := db.ListOutboxByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("list outbox by status %s: %w", status, err)
		}
		outboxCounts[status] = len(items)
		outboxTotal += len(items)
	}

	out := cmd.OutOrStdout()

	if storeJSONOutput {
		return printJSON(out, map[string]any{
			"path":             db.DBPath(),
			"size_bytes":       sizeBytes,
			"memo_count":       memoTotal,
			"memo_by_status":   memoCounts,
			"shelf_count":      len(shelfEntries),
			"outbox_count":     outboxTotal,
			"outbox_by_status": outboxCounts,
		})
	}

	fmt.Fprintf(out, "Path:         %s\n", db.DBPath())
	fmt.Fprintf(out, "Size:         %s\n", formatSize(sizeBytes))
	fmt.Fprintf(out, "Memos:        %d\n", memoTotal)
	fmt.Fprintf(out, "Shelf:        %d\n", len(shelfEntries))
	fmt.Fprintf(out, "Outbox:       %d\n", outboxTotal)
	for _, status := range allOutboxStatuses {
		if outboxCounts[status] > 0 {
			fmt.Fprintf(out, "  %-9s %d\n", status, outboxCounts[status])
		}
	}

	return nil
}
