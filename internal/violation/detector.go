// Package violation classifies integrity breaches and suspends offending agents.
//
// Class A breaches (missing or stale state fingerprints) are blocked and
// escalate the breaker immediately. Class B breaches accumulate in a rolling
// window and escalate once the window threshold is crossed. Class C breaches
// are informational. Any agent accruing enough Class A/B violations inside the
// suspension window is suspended and refused further actions until an explicit
// clearing action.
package violation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/quillon/vigil/internal/breaker"
	"github.com/quillon/vigil/internal/ledger"
	"github.com/quillon/vigil/pkg/statestore"
)

// Violation type names recorded on binding failures.
const (
	TypeMissingFingerprint = "MISSING_FINGERPRINT"
	TypeStaleStateUse      = "STALE_STATE_USE"
	TypeAdversarial        = "ADVERSARIAL_EVENT"
)

// ErrSuspended is returned when a suspended agent attempts a gated action.
var ErrSuspended = errors.New("agent is suspended")

// Outcome is the result of a binding check or adversarial-event report.
type Outcome struct {
	OK                  bool                        `json:"ok"`
	Reason              string                      `json:"reason,omitempty"`
	Violation           *statestore.ViolationRecord `json:"violation,omitempty"`
	SuspensionTriggered bool                        `json:"suspension_triggered"`
	CRPTriggered        bool                        `json:"crp_triggered"`
}

// Detector owns violation classification and the per-agent suspension windows.
// Window bookkeeping is serialized per agent_id.
type Detector struct {
	store   *statestore.Store
	ledger  *ledger.Ledger
	breaker *breaker.Breaker

	window      time.Duration // suspension window (default 1h)
	windowLimit int64         // violations inside window that trigger suspension (default 3)
	classBSpan  time.Duration // Class B rolling window (default 7 days)
	classBLimit int64         // Class B occurrences that trigger escalation (default 5)

	mu         sync.Mutex
	agentLocks map[string]*sync.Mutex
}

// New creates a Detector with the given windows and limits.
func New(store *statestore.Store, lg *ledger.Ledger, brk *breaker.Breaker, window time.Duration, windowLimit int64, classBSpan time.Duration, classBLimit int64) *Detector {
	return &Detector{
		store:       store,
		ledger:      lg,
		breaker:     brk,
		window:      window,
		windowLimit: windowLimit,
		classBSpan:  classBSpan,
		classBLimit: classBLimit,
		agentLocks:  make(map[string]*sync.Mutex),
	}
}

func (d *Detector) agentLock(agentID string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()

	lock, ok := d.agentLocks[agentID]
	if !ok {
		lock = &sync.Mutex{}
		d.agentLocks[agentID] = lock
	}
	return lock
}

// PublishFingerprint installs the currently valid state fingerprint for an
// agent. Subsequent binding checks compare claimed fingerprints against it.
func (d *Detector) PublishFingerprint(ctx context.Context, agentID, fingerprint string) error {
	if agentID == "" || fingerprint == "" {
		return fmt.Errorf("agent ID and fingerprint cannot be empty")
	}
	return d.store.PutFingerprint(ctx, agentID, fingerprint)
}

// IsSuspended reports whether an agent is currently suspended.
func (d *Detector) IsSuspended(ctx context.Context, agentID string) (bool, error) {
	record, err := d.store.GetSuspension(ctx, agentID)
	if err != nil {
		if statestore.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return record.Suspended, nil
}

// CheckBinding verifies that an agent's output is derived from the currently
// valid state fingerprint.
//
// An absent fingerprint is a Class A MISSING_FINGERPRINT violation; a present
// but mismatched one is a Class A STALE_STATE_USE violation. Both are blocked
// and escalate the breaker to SEVERE immediately. A suspended agent is refused
// outright with ErrSuspended.
func (d *Detector) CheckBinding(ctx context.Context, agentID, claimedFingerprint, actionType string) (*Outcome, error) {
	if agentID == "" {
		return nil, fmt.Errorf("agent ID cannot be empty")
	}

	lock := d.agentLock(agentID)
	lock.Lock()
	defer lock.Unlock()

	suspended, err := d.IsSuspended(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if suspended {
		return &Outcome{OK: false, Reason: "agent is suspended"}, ErrSuspended
	}

	expected, err := d.store.GetFingerprint(ctx, agentID)
	if err != nil && !statestore.IsNotFound(err) {
		return nil, fmt.Errorf("failed to read valid fingerprint: %w", err)
	}

	if claimedFingerprint == "" {
		return d.recordClassA(ctx, agentID, TypeMissingFingerprint, expected, claimedFingerprint, map[string]any{
			"action_type": actionType,
		})
	}

	if claimedFingerprint != expected {
		return d.recordClassA(ctx, agentID, TypeStaleStateUse, expected, claimedFingerprint, map[string]any{
			"action_type": actionType,
		})
	}

	return &Outcome{OK: true}, nil
}

// recordClassA persists a Class A violation, blocks the action, escalates the
// breaker to SEVERE, and charges the suspension window. Caller holds the agent
// lock.
func (d *Detector) recordClassA(ctx context.Context, agentID, violationType, expected, observed string, evidence map[string]any) (*Outcome, error) {
	record := &statestore.ViolationRecord{
		ViolationID:         uuid.New().String(),
		Class:               statestore.ClassA,
		AgentID:             agentID,
		ViolationType:       violationType,
		ExpectedFingerprint: expected,
		ObservedFingerprint: observed,
		Enforcement:         statestore.EnforcementBlocked,
		Evidence:            evidence,
		OccurredAtMs:        time.Now().UnixMilli(),
	}

	if err := d.persist(ctx, record); err != nil {
		return nil, err
	}

	if _, _, err := d.breaker.Escalate(ctx, statestore.LevelSevere, violationType, true); err != nil {
		return nil, fmt.Errorf("failed to escalate breaker: %w", err)
	}

	suspended, err := d.chargeWindow(ctx, record)
	if err != nil {
		return nil, err
	}

	return &Outcome{
		OK:                  false,
		Reason:              fmt.Sprintf("%s: output blocked", violationType),
		Violation:           record,
		SuspensionTriggered: suspended,
		CRPTriggered:        true,
	}, nil
}

// RecordAdversarialEvent lets other subsystems report Class B (accumulating)
// or Class C (informational) integrity events. Class A reports are handled
// like binding failures. Returns whether the critical response protocol
// (breaker escalation) was triggered.
func (d *Detector) RecordAdversarialEvent(ctx context.Context, agentID string, class statestore.ViolationClass, evidence map[string]any) (*Outcome, error) {
	if agentID == "" {
		return nil, fmt.Errorf("agent ID cannot be empty")
	}
	if err := class.Validate(); err != nil {
		return nil, err
	}

	lock := d.agentLock(agentID)
	lock.Lock()
	defer lock.Unlock()

	if class == statestore.ClassA {
		return d.recordClassA(ctx, agentID, TypeAdversarial, "", "", evidence)
	}

	now := time.Now().UnixMilli()
	record := &statestore.ViolationRecord{
		ViolationID:   uuid.New().String(),
		Class:         class,
		AgentID:       agentID,
		ViolationType: TypeAdversarial,
		Enforcement:   statestore.EnforcementLogged,
		Evidence:      evidence,
		OccurredAtMs:  now,
	}

	if class == statestore.ClassC {
		if err := d.persist(ctx, record); err != nil {
			return nil, err
		}
		return &Outcome{OK: true}, nil
	}

	// Class B: count in the rolling window and escalate once over the limit.
	sinceMs := now - d.classBSpan.Milliseconds()
	count, err := d.store.AddAdversarialEvent(ctx, agentID, record.ViolationID, now, sinceMs)
	if err != nil {
		return nil, err
	}

	crp := count >= d.classBLimit
	if crp {
		record.Enforcement = statestore.EnforcementEscalated
	}

	if err := d.persist(ctx, record); err != nil {
		return nil, err
	}

	if crp {
		if _, _, err := d.breaker.EscalateStep(ctx, "ADVERSARIAL_PATTERN", true); err != nil {
			return nil, fmt.Errorf("failed to escalate breaker: %w", err)
		}
	}

	suspended, err := d.chargeWindow(ctx, record)
	if err != nil {
		return nil, err
	}

	return &Outcome{
		OK:                  true,
		Violation:           record,
		SuspensionTriggered: suspended,
		CRPTriggered:        crp,
	}, nil
}

// persist writes the violation record and its ledger event.
func (d *Detector) persist(ctx context.Context, record *statestore.ViolationRecord) error {
	if err := d.store.PutViolation(ctx, record); err != nil {
		return err
	}

	severity := statestore.SeverityInfo
	switch record.Class {
	case statestore.ClassA:
		severity = statestore.SeverityCritical
	case statestore.ClassB:
		severity = statestore.SeverityWarning
	}

	_, err := d.ledger.Append(ctx, ledger.ChainViolation, "VIOLATION_RECORDED", severity, record.AgentID, map[string]any{
		"violation_id":   record.ViolationID,
		"class":          string(record.Class),
		"violation_type": record.ViolationType,
		"enforcement":    string(record.Enforcement),
	})
	if err != nil {
		return fmt.Errorf("failed to record violation event: %w", err)
	}
	return nil
}

// chargeWindow adds a Class A/B violation to the agent's suspension window and
// triggers suspension once the window limit is reached. Caller holds the
// agent lock.
func (d *Detector) chargeWindow(ctx context.Context, record *statestore.ViolationRecord) (bool, error) {
	if record.Class == statestore.ClassC {
		return false, nil
	}

	sinceMs := record.OccurredAtMs - d.window.Milliseconds()
	count, err := d.store.AddToSuspensionWindow(ctx, record.AgentID, record.ViolationID, record.OccurredAtMs, sinceMs)
	if err != nil {
		return false, err
	}

	if count < d.windowLimit {
		return false, nil
	}

	suspended, err := d.IsSuspended(ctx, record.AgentID)
	if err != nil {
		return false, err
	}
	if suspended {
		return false, nil
	}

	reason := fmt.Sprintf("%d violations within %s", count, d.window)
	if err := d.TriggerSuspension(ctx, record.AgentID, reason); err != nil {
		return false, err
	}
	return true, nil
}

// TriggerSuspension marks an agent suspended and escalates the breaker.
// Suspension is irreversible without an explicit clearing action.
func (d *Detector) TriggerSuspension(ctx context.Context, agentID, reason string) error {
	record := &statestore.SuspensionRecord{
		AgentID:       agentID,
		Suspended:     true,
		Reason:        reason,
		SuspendedAtMs: time.Now().UnixMilli(),
	}

	if err := d.store.PutSuspension(ctx, record); err != nil {
		return err
	}

	_, err := d.ledger.Append(ctx, ledger.ChainViolation, "AGENT_SUSPENDED", statestore.SeverityCritical, agentID, map[string]any{
		"reason": reason,
	})
	if err != nil {
		return fmt.Errorf("failed to record suspension event: %w", err)
	}

	if _, _, err := d.breaker.EscalateStep(ctx, "AGENT_SUSPENDED", true); err != nil {
		return fmt.Errorf("failed to escalate breaker: %w", err)
	}
	return nil
}

// ClearSuspension lifts an agent's suspension. Requires an authorized actor.
func (d *Detector) ClearSuspension(ctx context.Context, agentID, actor string) error {
	if actor == "" {
		return fmt.Errorf("clearing a suspension requires an authorized actor")
	}

	record, err := d.store.GetSuspension(ctx, agentID)
	if err != nil {
		if statestore.IsNotFound(err) {
			return fmt.Errorf("agent %q has no suspension record", agentID)
		}
		return err
	}
	if !record.Suspended {
		return nil
	}

	record.Suspended = false
	record.ClearedBy = actor
	record.ClearedAtMs = time.Now().UnixMilli()

	if err := d.store.PutSuspension(ctx, record); err != nil {
		return err
	}

	_, err = d.ledger.Append(ctx, ledger.ChainViolation, "SUSPENSION_CLEARED", statestore.SeverityWarning, actor, map[string]any{
		"agent_id": agentID,
	})
	if err != nil {
		return fmt.Errorf("failed to record suspension clear event: %w", err)
	}
	return nil
}

// AgentViolations returns all violation records for an agent in time order.
func (d *Detector) AgentViolations(ctx context.Context, agentID string) ([]*statestore.ViolationRecord, error) {
	ids, err := d.store.AgentViolationIDs(ctx, agentID)
	if err != nil {
		return nil, err
	}

	records := make([]*statestore.ViolationRecord, 0, len(ids))
	for _, id := range ids {
		record, err := d.store.GetViolation(ctx, id)
		if err != nil {
			if statestore.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}
