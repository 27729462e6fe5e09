package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hearthapp/hearth/internal/localstore"
	"github.com/hearthapp/hearth/internal/queue"
	"github.com/hearthapp/hearth/internal/types"
)

var (
	queueDBOverride string
	queueJSONOutput bool
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the persisted offline queue",
	Long:  "List or clear queued offline actions directly from local storage without running the server.",
}

func init() {
	queueCmd.PersistentFlags().StringVar(&queueDBOverride, "db", "",
		"Local database path (overrides HEARTH_DB_PATH)")
	queueCmd.PersistentFlags().BoolVar(&queueJSONOutput, "json", false,
		"Output in JSON format")

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueClearCmd)

	rootCmd.AddCommand(queueCmd)
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued actions",
	Args:  cobra.NoArgs,
	RunE:  runQueueList,
}

var queueClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Discard all queued actions",
	Args:  cobra.NoArgs,
	RunE:  runQueueClear,
}

// openQueueStorage opens the local database the server persists the queue in.
func openQueueStorage() (*localstore.SQLite, string, error) {
	path := queueDBOverride
	if path == "" {
		path = os.Getenv("HEARTH_DB_PATH")
	}
	if path == "" {
		path = "data/hearth.db"
	}

	key := os.Getenv("HEARTH_STORAGE_KEY")
	if key == "" {
		key = queue.DefaultStorageKey
	}

	storage, err := localstore.NewSQLite(path)
	if err != nil {
		return nil, "", fmt.Errorf("open local storage: %w", err)
	}
	return storage, key, nil
}

func runQueueList(cmd *cobra.Command, args []string) error {
	storage, key, err := openQueueStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	raw, ok, err := storage.Get(key)
	if err != nil {
		return fmt.Errorf("read queue: %w", err)
	}

	var actions []types.QueuedAction
	if ok {
		if err := json.Unmarshal(raw, &actions); err != nil {
			return fmt.Errorf("parse queue blob: %w", err)
		}
	}

	if queueJSONOutput {
		return printJSON(cmd.OutOrStdout(), map[string]any{
			"actions": actions,
			"total":   len(actions),
		})
	}

	if len(actions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty.")
		return nil
	}

	w := newTabWriter(cmd.OutOrStdout())
	fmt.Fprintln(w, "ID\tKIND\tCOLLECTION\tDOCUMENT\tRETRIES\tENQUEUED")
	for _, a := range actions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			a.ID, a.Kind, a.Collection, a.DocumentID, a.RetryCount,
			a.EnqueuedAt.Format("2006-01-02 15:04:05"))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%d action(s) pending\n", len(actions))
	return nil
}

func runQueueClear(cmd *cobra.Command, args []string) error {
	storage, key, err := openQueueStorage()
	if err != nil {
		return err
	}
	defer storage.Close()

	if err := storage.Delete(key); err != nil {
		return fmt.Errorf("clear queue: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Queue cleared.")
	return nil
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
