// Package watch streams ledger events to a terminal or as JSON lines.
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/quillon/vigil/pkg/statestore"
)

// OutputFormat selects how streamed events are rendered.
type OutputFormat string

const (
	OutputFormatDefault OutputFormat = "default"
	OutputFormatJSON    OutputFormat = "json"
)

// Replay returns the events of every chain recorded at or after sinceMs,
// ordered by creation time.
func Replay(ctx context.Context, store *statestore.Store, sinceMs int64) ([]*statestore.Event, error) {
	chains, err := store.Chains(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list chains: %w", err)
	}

	var events []*statestore.Event
	for _, chainID := range chains {
		ids, _, err := store.ChainEventIDs(ctx, chainID)
		if err != nil {
			return nil, fmt.Errorf("failed to read chain %s: %w", chainID, err)
		}
		for _, id := range ids {
			event, err := store.GetEvent(ctx, id)
			if err != nil {
				if statestore.IsNotFound(err) {
					continue
				}
				return nil, err
			}
			if event.CreatedAtMs >= sinceMs {
				events = append(events, event)
			}
		}
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAtMs != events[j].CreatedAtMs {
			return events[i].CreatedAtMs < events[j].CreatedAtMs
		}
		if events[i].ChainID != events[j].ChainID {
			return events[i].ChainID < events[j].ChainID
		}
		return events[i].SequenceNumber < events[j].SequenceNumber
	})
	return events, nil
}

// StreamEvents replays history from sinceMs (when positive) and then follows
// live appends until the context is cancelled.
//
// Pub/sub delivery is at-most-once, so a slow terminal can miss events; the
// hash-chained ledger remains the authoritative record either way.
func StreamEvents(ctx context.Context, store *statestore.Store, sinceMs int64, format OutputFormat, out io.Writer) error {
	// Subscribe before replaying so appends during the replay are not lost.
	sub, err := store.SubscribeLedgerEvents(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to ledger events: %w", err)
	}
	defer sub.Close()

	replayed := make(map[string]struct{})
	if sinceMs > 0 {
		events, err := Replay(ctx, store, sinceMs)
		if err != nil {
			return err
		}
		for _, event := range events {
			if err := writeEvent(out, event, format); err != nil {
				return err
			}
			replayed[event.EventID] = struct{}{}
		}
	}

	eventCh := sub.Events()
	errCh := sub.Errors()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			fmt.Fprintf(out, "# stream error: %v\n", err)

		case event, ok := <-eventCh:
			if !ok {
				return nil
			}
			if _, dup := replayed[event.EventID]; dup {
				continue
			}
			if err := writeEvent(out, event, format); err != nil {
				return err
			}
		}
	}
}

func writeEvent(out io.Writer, event *statestore.Event, format OutputFormat) error {
	if format == OutputFormatJSON {
		return json.NewEncoder(out).Encode(event)
	}

	ts := time.UnixMilli(event.CreatedAtMs).Format("15:04:05")
	_, err := fmt.Fprintf(out, "%s  %-8s  %s#%d  %s  (%s)\n",
		ts, event.Severity, event.ChainID, event.SequenceNumber, event.Category, event.SourceID)
	return err
}
