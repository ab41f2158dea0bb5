package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quillon/vigil/internal/printer"
	"github.com/quillon/vigil/internal/resolver"
)

var eventCmd = &cobra.Command{
	Use:   "event <event-id>",
	Short: "Show one ledger event",
	Long: `Fetch a single ledger event and print it as pretty-printed JSON.

The event ID may be abbreviated to a unique prefix of at least six
characters.

Examples:
  # Full UUID
  vigil event 7b3c9f12-4a1d-4e9b-8c2f-0d5e6a7b8c9d

  # Unique prefix
  vigil event 7b3c9f`,
	Args: cobra.ExactArgs(1),
	RunE: runEvent,
}

func init() {
	rootCmd.AddCommand(eventCmd)
}

func runEvent(cmd *cobra.Command, args []string) error {
	_, store, err := connect()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()

	eventID, err := resolver.ResolveEventID(ctx, store, args[0])
	if err != nil {
		if resolver.IsNotFoundError(err) {
			return printer.Error(
				fmt.Sprintf("event '%s' not found", args[0]),
				"No ledger event matches that ID.",
				[]string{"Stream recent events:\n  vigil watch --since 1h"},
			)
		}
		if resolver.IsAmbiguousError(err) {
			fmt.Fprintln(os.Stderr, resolver.FormatAmbiguousError(err.(*resolver.AmbiguousError)))
			return fmt.Errorf("ambiguous short ID")
		}
		return err
	}

	event, err := store.GetEvent(ctx, eventID)
	if err != nil {
		return fmt.Errorf("failed to fetch event %s: %w", eventID, err)
	}

	raw, err := json.MarshalIndent(event, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to format event: %w", err)
	}
	fmt.Println(string(raw))
	return nil
}
