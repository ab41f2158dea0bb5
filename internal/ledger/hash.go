package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/quillon/vigil/pkg/statestore"
)

// hashEnvelope mirrors statestore.Event with the content_hash field omitted.
// The content hash is the SHA-256 digest of the RFC 8785 canonical JSON of
// this envelope, so two events with identical fields always hash identically
// regardless of map iteration order or JSON formatting.
type hashEnvelope struct {
	EventID        string         `json:"event_id"`
	ChainID        string         `json:"chain_id"`
	SequenceNumber int64          `json:"sequence_number"`
	Category       string         `json:"category"`
	Severity       string         `json:"severity"`
	SourceID       string         `json:"source_id"`
	Payload        map[string]any `json:"payload"`
	PreviousHash   string         `json:"previous_hash"`
	CreatedAtMs    int64          `json:"created_at_ms"`
}

// ContentHash computes the canonical content hash of an event, ignoring any
// value already present in its ContentHash field.
func ContentHash(e *statestore.Event) (string, error) {
	env := hashEnvelope{
		EventID:        e.EventID,
		ChainID:        e.ChainID,
		SequenceNumber: e.SequenceNumber,
		Category:       e.Category,
		Severity:       string(e.Severity),
		SourceID:       e.SourceID,
		Payload:        e.Payload,
		PreviousHash:   e.PreviousHash,
		CreatedAtMs:    e.CreatedAtMs,
	}

	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event for hashing: %w", err)
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize event JSON: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
