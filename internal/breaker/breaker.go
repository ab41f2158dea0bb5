// Package breaker implements the circuit breaker severity ladder.
//
// The ladder has five totally ordered levels, NOMINAL (5) down to LOCKDOWN (1).
// Automatic transitions may only move toward more severe levels; moving back
// toward nominal requires an explicit call carrying an authorized actor
// identity and is blocked outright while the latest reconciliation snapshot is
// divergent. Every installed transition is appended to the event ledger and
// the superseded state is retained as history.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quillon/vigil/internal/ledger"
	"github.com/quillon/vigil/pkg/statestore"
)

var (
	// ErrUnauthorized is returned when a de-escalation carries no actor identity.
	ErrUnauthorized = errors.New("de-escalation requires an authorized actor")

	// ErrDivergent is returned when de-escalation is blocked by a divergent
	// reconciliation snapshot.
	ErrDivergent = errors.New("de-escalation blocked: reconciliation discrepancy over threshold")

	// ErrNotLessSevere is returned when a de-escalation target is not strictly
	// less severe than the current level.
	ErrNotLessSevere = errors.New("de-escalation target must be less severe than current level")
)

// Breaker is the single authoritative severity-ladder state machine.
// All transitions are globally serialized so every admission decision reads a
// consistent current level.
type Breaker struct {
	mu     sync.Mutex
	store  *statestore.Store
	ledger *ledger.Ledger
}

// New creates a Breaker over the given store and ledger.
func New(store *statestore.Store, lg *ledger.Ledger) *Breaker {
	return &Breaker{store: store, ledger: lg}
}

// Current returns the breaker's current state. The first read of a kernel
// that has never transitioned installs the initial NOMINAL record, so every
// later read observes the same state ID and entered_at.
func (b *Breaker) Current(ctx context.Context) (*statestore.BreakerState, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentLocked(ctx)
}

// currentLocked reads the current state, persisting the initial NOMINAL
// record if none exists yet. Caller holds b.mu.
func (b *Breaker) currentLocked(ctx context.Context) (*statestore.BreakerState, error) {
	state, err := b.store.BreakerCurrent(ctx)
	if err == nil {
		return state, nil
	}
	if !statestore.IsNotFound(err) {
		return nil, err
	}

	initial := &statestore.BreakerState{
		StateID:       uuid.New().String(),
		Level:         statestore.LevelNominal,
		TriggerReason: "INITIAL",
		AutoTriggered: false,
		EnteredAtMs:   time.Now().UnixMilli(),
	}
	if err := b.store.PutBreakerState(ctx, initial); err != nil {
		return nil, fmt.Errorf("failed to install initial breaker state: %w", err)
	}
	return initial, nil
}

// History returns all breaker states ordered by entered_at.
func (b *Breaker) History(ctx context.Context) ([]*statestore.BreakerState, error) {
	return b.store.BreakerHistory(ctx)
}

// Escalate installs target as the new current level if it is strictly more
// severe than the current one. Equal or less severe targets are a no-op:
// escalation never regresses. Returns the current state after the call and
// whether a transition was installed.
func (b *Breaker) Escalate(ctx context.Context, target statestore.Level, reason string, auto bool) (*statestore.BreakerState, bool, error) {
	if err := target.Validate(); err != nil {
		return nil, false, err
	}
	if reason == "" {
		return nil, false, fmt.Errorf("escalation reason cannot be empty")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.escalateLocked(ctx, target, reason, auto)
}

// escalateLocked installs target if it is strictly more severe than the
// current level. Caller holds b.mu.
func (b *Breaker) escalateLocked(ctx context.Context, target statestore.Level, reason string, auto bool) (*statestore.BreakerState, bool, error) {
	current, err := b.currentLocked(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read current breaker state: %w", err)
	}

	if !target.MoreSevereThan(current.Level) {
		return current, false, nil
	}

	state := &statestore.BreakerState{
		StateID:       uuid.New().String(),
		Level:         target,
		TriggerReason: reason,
		AutoTriggered: auto,
		EnteredAtMs:   time.Now().UnixMilli(),
	}

	if err := b.install(ctx, state, current, "BREAKER_ESCALATED", statestore.SeverityCritical); err != nil {
		return nil, false, err
	}
	return state, true, nil
}

// EscalateStep escalates exactly one level toward lockdown. Used by automatic
// detectors (heartbeat sweeps, violation thresholds, reconciliation). A
// breaker already at LOCKDOWN stays there. The read-compute-install sequence
// runs under the transition mutex so concurrent steps never collapse into one.
func (b *Breaker) EscalateStep(ctx context.Context, reason string, auto bool) (*statestore.BreakerState, bool, error) {
	if reason == "" {
		return nil, false, fmt.Errorf("escalation reason cannot be empty")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	current, err := b.currentLocked(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to read current breaker state: %w", err)
	}

	if current.Level == statestore.LevelLockdown {
		return current, false, nil
	}
	return b.escalateLocked(ctx, current.Level-1, reason, auto)
}

// Deescalate moves the ladder toward nominal. It is permitted only with an
// explicit authorized actor and justification, never from automatic sweeps,
// and is refused while the latest reconciliation snapshot exceeds its
// discrepancy threshold.
func (b *Breaker) Deescalate(ctx context.Context, target statestore.Level, actor, justification string) (*statestore.BreakerState, error) {
	if actor == "" {
		return nil, ErrUnauthorized
	}
	if justification == "" {
		return nil, fmt.Errorf("de-escalation justification cannot be empty")
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	current, err := b.currentLocked(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read current breaker state: %w", err)
	}

	if !current.Level.MoreSevereThan(target) {
		return nil, ErrNotLessSevere
	}

	snap, err := b.store.LatestSnapshot(ctx)
	if err != nil && !statestore.IsNotFound(err) {
		return nil, fmt.Errorf("failed to read latest reconciliation snapshot: %w", err)
	}
	if snap != nil && snap.ThresholdExceeded {
		return nil, ErrDivergent
	}

	state := &statestore.BreakerState{
		StateID:       uuid.New().String(),
		Level:         target,
		TriggerReason: "DEESCALATION",
		AutoTriggered: false,
		Actor:         actor,
		Justification: justification,
		EnteredAtMs:   time.Now().UnixMilli(),
	}

	if err := b.install(ctx, state, current, "BREAKER_DEESCALATED", statestore.SeverityWarning); err != nil {
		return nil, err
	}
	return state, nil
}

// install persists the new state and records the transition in the ledger.
// Caller holds b.mu.
func (b *Breaker) install(ctx context.Context, state, previous *statestore.BreakerState, category string, severity statestore.Severity) error {
	if err := b.store.PutBreakerState(ctx, state); err != nil {
		return fmt.Errorf("failed to install breaker state: %w", err)
	}

	sourceID := state.Actor
	if sourceID == "" {
		sourceID = "breaker"
	}

	_, err := b.ledger.Append(ctx, ledger.ChainBreaker, category, severity, sourceID, map[string]any{
		"from_level":     previous.Level.String(),
		"to_level":       state.Level.String(),
		"trigger_reason": state.TriggerReason,
		"auto_triggered": state.AutoTriggered,
		"actor":          state.Actor,
		"justification":  state.Justification,
	})
	if err != nil {
		return fmt.Errorf("failed to record breaker transition: %w", err)
	}
	return nil
}
