package statestore

import (
	"fmt"

	"github.com/google/uuid"
)

// GenesisHash is the well-known previous_hash sentinel carried by the first
// event of every chain (64 zero hex characters, the width of a SHA-256 digest).
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Event is an immutable, hash-chained governance record. Every event except
// chain genesis carries the content hash of the immediately preceding event
// in the same chain; a mismatch on a chain walk is a detectable tamper.
type Event struct {
	EventID        string         `json:"event_id"`        // UUID - unique identifier for this event
	ChainID        string         `json:"chain_id"`        // Logical ledger partition
	SequenceNumber int64          `json:"sequence_number"` // Monotonic per chain, starts at 1
	Category       string         `json:"category"`        // e.g. HEARTBEAT_MISS, GATE_DENIED
	Severity       Severity       `json:"severity"`        // info, warning or critical
	SourceID       string         `json:"source_id"`       // Component or agent that caused the event
	Payload        map[string]any `json:"payload"`         // Opaque structured data, hashed but never interpreted
	ContentHash    string         `json:"content_hash"`    // SHA-256 over the canonical JSON of all other fields
	PreviousHash   string         `json:"previous_hash"`   // ContentHash of the prior event, or GenesisHash
	CreatedAtMs    int64          `json:"created_at_ms"`   // Unix timestamp in milliseconds
}

// Severity classifies how serious an event is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// AgentStatus is the liveness state of an agent as seen by the heartbeat monitor.
type AgentStatus string

const (
	StatusAlive    AgentStatus = "ALIVE"
	StatusDegraded AgentStatus = "DEGRADED"
	StatusStale    AgentStatus = "STALE"
	StatusDead     AgentStatus = "DEAD"
)

// HeartbeatRecord is the per-agent liveness row. It is mutated in place on
// every beacon and on every missed-deadline sweep, and never deleted.
type HeartbeatRecord struct {
	AgentID           string      `json:"agent_id"`
	Status            AgentStatus `json:"status"`
	HealthScore       float64     `json:"health_score"`        // [0,1] as reported by the agent
	LastBeatAtMs      int64       `json:"last_beat_at_ms"`     // When the last beacon arrived
	NextExpectedAtMs  int64       `json:"next_expected_at_ms"` // Deadline for the next beacon
	ConsecutiveMisses int         `json:"consecutive_misses"`
	ReportedContext   string      `json:"reported_context"` // Free-form context from the agent
}

// Level is a severity-ladder position. Lower numeric values are MORE severe:
// level 5 (nominal) allows every capability, level 1 (lockdown) allows none.
type Level int

const (
	LevelLockdown    Level = 1
	LevelSevere      Level = 2
	LevelHighCaution Level = 3
	LevelLowCaution  Level = 4
	LevelNominal     Level = 5
)

// MoreSevereThan reports whether l is strictly more severe than other.
func (l Level) MoreSevereThan(other Level) bool {
	return l < other
}

// String returns the canonical name for the level.
func (l Level) String() string {
	switch l {
	case LevelLockdown:
		return "LOCKDOWN"
	case LevelSevere:
		return "SEVERE"
	case LevelHighCaution:
		return "HIGH_CAUTION"
	case LevelLowCaution:
		return "LOW_CAUTION"
	case LevelNominal:
		return "NOMINAL"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// Validate checks that the level is one of the five ladder positions.
func (l Level) Validate() error {
	if l < LevelLockdown || l > LevelNominal {
		return fmt.Errorf("unknown severity level: %d", int(l))
	}
	return nil
}

// BreakerState is one rung of the circuit breaker history. Exactly one state
// is current at a time; superseded states are retained as history.
type BreakerState struct {
	StateID       string `json:"state_id"`       // UUID
	Level         Level  `json:"level"`
	TriggerReason string `json:"trigger_reason"`
	AutoTriggered bool   `json:"auto_triggered"` // true for automatic escalations
	Actor         string `json:"actor"`          // Authorizing identity for de-escalations
	Justification string `json:"justification"`  // Required on de-escalation
	EnteredAtMs   int64  `json:"entered_at_ms"`
}

// FreshnessThreshold is versioned configuration keyed by (asset_class, action_class).
type FreshnessThreshold struct {
	AssetClass     string `json:"asset_class"`
	ActionClass    string `json:"action_class"`
	MaxStalenessMs int64  `json:"max_staleness_ms"`
	EffectiveAtMs  int64  `json:"effective_at_ms"`
	AuthorizedBy   string `json:"authorized_by"`
	Version        int    `json:"version"`
}

// BlackoutState is a singleton-per-scope flag. While active it overrides all
// per-asset freshness checks and unconditionally denies the gated action class.
type BlackoutState struct {
	Scope         string `json:"scope"` // "ALL" or an asset class
	IsActive      bool   `json:"is_active"`
	Reason        string `json:"reason"`
	TriggeredBy   string `json:"triggered_by"`
	TriggeredAtMs int64  `json:"triggered_at_ms"`
	ClearedBy     string `json:"cleared_by"`
	ClearedAtMs   int64  `json:"cleared_at_ms"`
}

// ViolationClass is the severity tier of an integrity breach.
type ViolationClass string

const (
	// ClassA violations are critical: blocked and escalated immediately.
	ClassA ViolationClass = "A"

	// ClassB violations accumulate: escalation fires once a rolling-window
	// threshold is crossed.
	ClassB ViolationClass = "B"

	// ClassC violations are informational only.
	ClassC ViolationClass = "C"
)

// Validate checks the violation class is a known tier.
func (c ViolationClass) Validate() error {
	switch c {
	case ClassA, ClassB, ClassC:
		return nil
	default:
		return fmt.Errorf("unknown violation class: %q", c)
	}
}

// EnforcementAction records what the kernel did about a violation.
type EnforcementAction string

const (
	EnforcementBlocked   EnforcementAction = "BLOCKED"
	EnforcementEscalated EnforcementAction = "ESCALATED"
	EnforcementLogged    EnforcementAction = "LOGGED"
)

// ViolationRecord is an immutable record of an integrity breach.
type ViolationRecord struct {
	ViolationID         string            `json:"violation_id"` // UUID
	Class               ViolationClass    `json:"class"`
	AgentID             string            `json:"agent_id"`
	ViolationType       string            `json:"violation_type"` // e.g. MISSING_FINGERPRINT, STALE_STATE_USE
	ExpectedFingerprint string            `json:"expected_fingerprint"`
	ObservedFingerprint string            `json:"observed_fingerprint"` // empty when absent
	Enforcement         EnforcementAction `json:"enforcement"`
	Evidence            map[string]any    `json:"evidence"`
	OccurredAtMs        int64             `json:"occurred_at_ms"`
}

// SuspensionRecord marks an agent as suspended. A suspended agent is refused
// binding checks and admitted actions until explicitly cleared.
type SuspensionRecord struct {
	AgentID       string `json:"agent_id"`
	Suspended     bool   `json:"suspended"`
	Reason        string `json:"reason"`
	SuspendedAtMs int64  `json:"suspended_at_ms"`
	ClearedBy     string `json:"cleared_by"`
	ClearedAtMs   int64  `json:"cleared_at_ms"`
}

// ReconStatus is the outcome of a reconciliation pass for one component.
type ReconStatus string

const (
	ReconPending    ReconStatus = "PENDING"
	ReconReconciled ReconStatus = "RECONCILED"
	ReconDivergent  ReconStatus = "DIVERGENT"
	ReconSuspended  ReconStatus = "SUSPENDED"
)

// ReconciliationSnapshot is the periodic diff between an agent-reported state
// and the canonical state for one component.
type ReconciliationSnapshot struct {
	SnapshotID        string         `json:"snapshot_id"` // UUID
	ComponentName     string         `json:"component_name"`
	AgentState        map[string]any `json:"agent_state"`
	CanonicalState    map[string]any `json:"canonical_state"`
	DiscrepancyScore  float64        `json:"discrepancy_score"` // [0,1]
	Threshold         float64        `json:"threshold"`
	ThresholdExceeded bool           `json:"threshold_exceeded"`
	Status            ReconStatus    `json:"status"`
	RecordedAtMs      int64          `json:"recorded_at_ms"`
}

// Attestation is a signed digest over kernel state, produced for external audit
// and required to clear a blackout.
type Attestation struct {
	AttestationID string `json:"attestation_id"` // UUID
	StateDigest   string `json:"state_digest"`   // SHA-256 hex over canonical kernel state
	Signature     string `json:"signature"`      // Ed25519 signature, hex
	PublicKey     string `json:"public_key"`     // Signer's Ed25519 public key, hex
	IssuedAtMs    int64  `json:"issued_at_ms"`
}

// ChainHead is the append cursor for one chain: the sequence number and
// content hash of the most recent event.
type ChainHead struct {
	ChainID        string `json:"chain_id"`
	SequenceNumber int64  `json:"sequence_number"`
	ContentHash    string `json:"content_hash"`
}

// Validate checks if the Event has valid field values.
// ContentHash is not checked here; chain verification recomputes it.
func (e *Event) Validate() error {
	if !isValidUUID(e.EventID) {
		return fmt.Errorf("invalid event ID: not a valid UUID")
	}

	if e.ChainID == "" {
		return fmt.Errorf("chain ID cannot be empty")
	}

	if e.SequenceNumber < 1 {
		return fmt.Errorf("invalid sequence number: must be >= 1, got %d", e.SequenceNumber)
	}

	if e.Category == "" {
		return fmt.Errorf("event category cannot be empty")
	}

	if err := e.Severity.Validate(); err != nil {
		return fmt.Errorf("invalid severity: %w", err)
	}

	if e.SourceID == "" {
		return fmt.Errorf("source ID cannot be empty")
	}

	if e.PreviousHash == "" {
		return fmt.Errorf("previous hash cannot be empty (genesis events carry the sentinel)")
	}

	return nil
}

// Validate checks if the Severity is a valid enum value.
func (s Severity) Validate() error {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return nil
	default:
		return fmt.Errorf("unknown severity: %q", s)
	}
}

// Validate checks if the AgentStatus is a valid enum value.
func (s AgentStatus) Validate() error {
	switch s {
	case StatusAlive, StatusDegraded, StatusStale, StatusDead:
		return nil
	default:
		return fmt.Errorf("unknown agent status: %q", s)
	}
}

// Validate checks if the HeartbeatRecord has valid field values.
func (r *HeartbeatRecord) Validate() error {
	if r.AgentID == "" {
		return fmt.Errorf("agent ID cannot be empty")
	}

	if err := r.Status.Validate(); err != nil {
		return fmt.Errorf("invalid status: %w", err)
	}

	if r.HealthScore < 0 || r.HealthScore > 1 {
		return fmt.Errorf("health score must be in [0,1], got %v", r.HealthScore)
	}

	if r.ConsecutiveMisses < 0 {
		return fmt.Errorf("consecutive misses cannot be negative")
	}

	return nil
}

// Validate checks if the BreakerState has valid field values.
func (s *BreakerState) Validate() error {
	if !isValidUUID(s.StateID) {
		return fmt.Errorf("invalid state ID: not a valid UUID")
	}

	if err := s.Level.Validate(); err != nil {
		return err
	}

	if s.TriggerReason == "" {
		return fmt.Errorf("trigger reason cannot be empty")
	}

	return nil
}

// Validate checks if the ViolationRecord has valid field values.
func (v *ViolationRecord) Validate() error {
	if !isValidUUID(v.ViolationID) {
		return fmt.Errorf("invalid violation ID: not a valid UUID")
	}

	if v.AgentID == "" {
		return fmt.Errorf("agent ID cannot be empty")
	}

	if err := v.Class.Validate(); err != nil {
		return err
	}

	if v.ViolationType == "" {
		return fmt.Errorf("violation type cannot be empty")
	}

	switch v.Enforcement {
	case EnforcementBlocked, EnforcementEscalated, EnforcementLogged:
	default:
		return fmt.Errorf("unknown enforcement action: %q", v.Enforcement)
	}

	return nil
}

// Validate checks if the ReconciliationSnapshot has valid field values.
func (s *ReconciliationSnapshot) Validate() error {
	if !isValidUUID(s.SnapshotID) {
		return fmt.Errorf("invalid snapshot ID: not a valid UUID")
	}

	if s.ComponentName == "" {
		return fmt.Errorf("component name cannot be empty")
	}

	if s.DiscrepancyScore < 0 || s.DiscrepancyScore > 1 {
		return fmt.Errorf("discrepancy score must be in [0,1], got %v", s.DiscrepancyScore)
	}

	switch s.Status {
	case ReconPending, ReconReconciled, ReconDivergent, ReconSuspended:
	default:
		return fmt.Errorf("unknown reconciliation status: %q", s.Status)
	}

	return nil
}

// Validate checks if the BlackoutState has valid field values.
func (b *BlackoutState) Validate() error {
	if b.Scope == "" {
		return fmt.Errorf("blackout scope cannot be empty")
	}

	if b.IsActive && b.Reason == "" {
		return fmt.Errorf("active blackout must carry a reason")
	}

	return nil
}

// isValidUUID checks if a string is a valid UUID format.
func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
