package main

import (
	"encoding/json"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/readingjournal/syncengine/internal/config"
	"github.com/readingjournal/syncengine/internal/store"
)

var storeDBPathOverride string
var storeJSONOutput bool

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Inspect the local Durable Store without running the daemon",
	Long:  "Show database size and per-status row counts, and list queued Outbox items, without starting the sync daemon.",
}

func init() {
	storeCmd.PersistentFlags().StringVar(&storeDBPathOverride, "db", "",
		"Database path (overrides config and JOURNALCTL_DB_PATH)")
	storeCmd.PersistentFlags().BoolVar(&storeJSONOutput, "json", false,
		"Output in JSON format")

	storeCmd.AddCommand(storeInfoCmd)
	storeCmd.AddCommand(storeListCmd)
}

// resolveStore opens the Durable Store at --db, or at the configured
// path if --db was not given.
func resolveStore() (*store.SQLiteStore, error) {
	dbPath := storeDBPathOverride
	if dbPath == "" {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		dbPath = cfg.Database.Path
	}
	return store.New(dbPath)
}

// printJSON marshals v to JSON and writes to the given writer.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// newTabWriter returns a configured tabwriter for aligned columns.
func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

// formatSize returns a human-readable file size, e.g. "1.2 MB".
func formatSize(bytes int64) string {
	return humanize.Bytes(uint64(bytes))
}
