// Package resolver expands abbreviated event IDs into full UUIDs.
package resolver

import (
	"context"
	"fmt"
	"strings"

	"github.com/quillon/vigil/pkg/statestore"
)

// MinShortIDLength is the minimum accepted prefix length. Six characters
// balances typing effort against collision odds on busy ledgers.
const MinShortIDLength = 6

// ResolveEventID resolves a short ID prefix to a full event UUID.
//
// A full UUID is verified for existence and returned as-is. A prefix must be
// at least MinShortIDLength characters and match exactly one event.
func ResolveEventID(ctx context.Context, store *statestore.Store, shortID string) (string, error) {
	if len(shortID) == 36 && strings.Count(shortID, "-") == 4 {
		if _, err := store.GetEvent(ctx, shortID); err != nil {
			if statestore.IsNotFound(err) {
				return "", &NotFoundError{ShortID: shortID}
			}
			return "", fmt.Errorf("failed to verify event existence: %w", err)
		}
		return shortID, nil
	}

	if len(shortID) < MinShortIDLength {
		return "", fmt.Errorf("short ID must be at least %d characters (got %d)", MinShortIDLength, len(shortID))
	}

	matches, err := store.ScanEventIDs(ctx, shortID)
	if err != nil {
		return "", fmt.Errorf("failed to search for event: %w", err)
	}

	switch len(matches) {
	case 0:
		return "", &NotFoundError{ShortID: shortID}
	case 1:
		return matches[0], nil
	default:
		return "", &AmbiguousError{ShortID: shortID, Matches: matches}
	}
}

// NotFoundError indicates no events matched the short ID.
type NotFoundError struct {
	ShortID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("no events found matching '%s'", e.ShortID)
}

// AmbiguousError indicates multiple events matched the short ID.
type AmbiguousError struct {
	ShortID string
	Matches []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("ambiguous short ID '%s' matches %d events", e.ShortID, len(e.Matches))
}

// FormatAmbiguousError renders an AmbiguousError with the matching UUIDs
// listed (up to 10, then "...and N more").
func FormatAmbiguousError(err *AmbiguousError) string {
	msg := fmt.Sprintf("Error: ambiguous short ID '%s' matches %d events:\n", err.ShortID, len(err.Matches))

	displayCount := len(err.Matches)
	if displayCount > 10 {
		displayCount = 10
	}

	for i := 0; i < displayCount; i++ {
		msg += fmt.Sprintf("  %s\n", err.Matches[i])
	}

	if len(err.Matches) > 10 {
		msg += fmt.Sprintf("  ...and %d more\n", len(err.Matches)-10)
	}

	msg += "\nUse a longer prefix to uniquely identify the event."
	return msg
}

// IsNotFoundError checks if an error is a NotFoundError.
func IsNotFoundError(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}

// IsAmbiguousError checks if an error is an AmbiguousError.
func IsAmbiguousError(err error) bool {
	_, ok := err.(*AmbiguousError)
	return ok
}
