// Package ledger implements the append-only, hash-chained event ledger.
//
// Every governance-relevant occurrence in the kernel lands here. Events within
// one chain are totally ordered by sequence number and linked by content hash;
// a chain walk detects any out-of-band mutation. Appends to the same chain are
// serialized by a per-chain lock, appends to different chains proceed in
// parallel, and a detected break is reported, never auto-repaired.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quillon/vigil/pkg/statestore"
)

// Well-known chain IDs used by the kernel's own components. Agents may append
// to any chain ID they choose; these are merely the kernel's conventions.
const (
	ChainGovernance     = "governance"
	ChainHeartbeat      = "heartbeat"
	ChainAdmission      = "admission"
	ChainViolation      = "violation"
	ChainBreaker        = "breaker"
	ChainReconciliation = "reconciliation"
)

// ErrChainBroken is returned by VerifyResult.Err when a chain walk found a
// linkage or content-hash break. Breaks are reported, never repaired; repair
// requires explicit governance action outside the kernel.
var ErrChainBroken = errors.New("hash chain break detected")

// Ledger provides atomic, serialized appends and read-only verification over
// hash-chained event partitions.
type Ledger struct {
	store *statestore.Store

	mu         sync.Mutex
	chainLocks map[string]*sync.Mutex
}

// New creates a Ledger backed by the given state store.
func New(store *statestore.Store) *Ledger {
	return &Ledger{
		store:      store,
		chainLocks: make(map[string]*sync.Mutex),
	}
}

// chainLock returns the mutex serializing appends for one chain, creating it
// on first use. Different chains get independent locks.
func (l *Ledger) chainLock(chainID string) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock, ok := l.chainLocks[chainID]
	if !ok {
		lock = &sync.Mutex{}
		l.chainLocks[chainID] = lock
	}
	return lock
}

// Append creates, hashes and persists a new event at the tail of chainID.
//
// The sequence number and previous-hash linkage are assigned under the
// per-chain lock, so no two events in one chain can claim the same position.
// The write is all-or-nothing: either the event, chain index and head cursor
// all land, or none do.
func (l *Ledger) Append(ctx context.Context, chainID, category string, severity statestore.Severity, sourceID string, payload map[string]any) (*statestore.Event, error) {
	lock := l.chainLock(chainID)
	lock.Lock()
	defer lock.Unlock()

	var (
		seq      int64 = 1
		prevHash       = statestore.GenesisHash
	)

	head, err := l.store.ChainHead(ctx, chainID)
	if err != nil && !statestore.IsNotFound(err) {
		return nil, fmt.Errorf("failed to read chain head for %q: %w", chainID, err)
	}
	if head != nil {
		seq = head.SequenceNumber + 1
		prevHash = head.ContentHash
	}

	event := &statestore.Event{
		EventID:        uuid.New().String(),
		ChainID:        chainID,
		SequenceNumber: seq,
		Category:       category,
		Severity:       severity,
		SourceID:       sourceID,
		Payload:        payload,
		PreviousHash:   prevHash,
		CreatedAtMs:    time.Now().UnixMilli(),
	}

	hash, err := ContentHash(event)
	if err != nil {
		return nil, fmt.Errorf("failed to hash event: %w", err)
	}
	event.ContentHash = hash

	if err := l.store.AppendEvent(ctx, event); err != nil {
		return nil, fmt.Errorf("failed to append event to chain %q: %w", chainID, err)
	}

	return event, nil
}

// Get retrieves a single event by ID.
func (l *Ledger) Get(ctx context.Context, eventID string) (*statestore.Event, error) {
	return l.store.GetEvent(ctx, eventID)
}

// Chains lists every chain that has received at least one append.
func (l *Ledger) Chains(ctx context.Context) ([]string, error) {
	return l.store.Chains(ctx)
}

// VerifyResult reports the outcome of a chain walk.
type VerifyResult struct {
	ChainID string `json:"chain_id"`
	Valid   bool   `json:"valid"`

	// FirstBreakPosition is the sequence number at which the first break was
	// detected, or nil when the chain is valid.
	FirstBreakPosition *int64 `json:"first_break_position"`

	// Length is the number of events walked.
	Length int64 `json:"length"`
}

// Err returns nil for a valid chain and a wrapped ErrChainBroken otherwise.
func (r *VerifyResult) Err() error {
	if r.Valid {
		return nil
	}
	pos := int64(-1)
	if r.FirstBreakPosition != nil {
		pos = *r.FirstBreakPosition
	}
	return fmt.Errorf("chain %q: %w at position %d", r.ChainID, ErrChainBroken, pos)
}

// Verify walks chainID in sequence order, confirming that sequence numbers are
// dense, that each event's previous_hash matches the prior event's
// content_hash (or the genesis sentinel at position 1), and that each event's
// stored content_hash matches its recomputed value.
//
// Verify is read-only and side-effect free. An empty or unknown chain verifies
// as valid with length 0.
func (l *Ledger) Verify(ctx context.Context, chainID string) (*VerifyResult, error) {
	ids, seqs, err := l.store.ChainEventIDs(ctx, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain %q: %w", chainID, err)
	}

	result := &VerifyResult{
		ChainID: chainID,
		Valid:   true,
		Length:  int64(len(ids)),
	}

	prevHash := statestore.GenesisHash
	for i, eventID := range ids {
		position := int64(i + 1)

		if seqs[i] != position {
			return breakAt(result, position), nil
		}

		event, err := l.store.GetEvent(ctx, eventID)
		if err != nil {
			if statestore.IsNotFound(err) {
				// Indexed but missing event record: the chain is broken here.
				return breakAt(result, position), nil
			}
			return nil, fmt.Errorf("failed to read event %s: %w", eventID, err)
		}

		if event.SequenceNumber != position || event.PreviousHash != prevHash {
			return breakAt(result, position), nil
		}

		recomputed, err := ContentHash(event)
		if err != nil {
			return nil, fmt.Errorf("failed to rehash event %s: %w", eventID, err)
		}
		if recomputed != event.ContentHash {
			return breakAt(result, position), nil
		}

		prevHash = event.ContentHash
	}

	return result, nil
}

func breakAt(r *VerifyResult, position int64) *VerifyResult {
	r.Valid = false
	r.FirstBreakPosition = &position
	return r
}
