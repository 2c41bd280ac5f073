package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/readingjournal/syncengine/internal/types"
)

var storeListStatus string

var storeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List Outbox Queue items",
	Args:  cobra.NoArgs,
	RunE:  runStoreList,
}

func init() {
	storeListCmd.Flags().StringVar(&storeListStatus, "status", "",
		"Filter by outbox status (PENDING, WAITING, SYNCING, SUCCESS, FAILED); default is every status")
}

func runStoreList(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	db, err := resolveStore()
	if err != nil {
		return err
	}
	defer db.Close()

	statuses := allOutboxStatuses
	if storeListStatus != "" {
		statuses = []types.OutboxStatus{types.OutboxStatus(storeListStatus)}
	}

	var items []types.OutboxItem
	for _, status := range statuses {
		batch, err := db.ListOutboxByStatus(ctx, status)
		if err != nil {
			return fmt.Errorf("list outbox by status %s: %w", status, err)
		}
		items = append(items, batch...)
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})

	if storeJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"items": items,
			"total": len(items),
		})
	}

	if len(items) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No outbox items found.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ID\tKIND\tENTITY\tLOCAL REF\tSTATUS\tRETRIES\tCREATED")
	for _, it := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			it.ID, it.Kind, it.EntityKind, it.LocalRef, it.Status, it.RetryCount,
			it.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}
