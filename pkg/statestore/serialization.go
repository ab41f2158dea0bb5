package statestore

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for converting between Go structs and Redis hashes
//
// Redis stores data as string-to-string maps (hashes). Complex fields like
// payload maps are JSON-encoded into single hash fields. This gives a balance
// between queryability (individual fields) and flexibility (opaque structures).

// EventToHash converts an Event struct to a Redis hash format.
// The payload map is JSON-encoded.
func EventToHash(e *Event) (map[string]interface{}, error) {
	payloadJSON, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	hash := map[string]interface{}{
		"event_id":        e.EventID,
		"chain_id":        e.ChainID,
		"sequence_number": e.SequenceNumber,
		"category":        e.Category,
		"severity":        string(e.Severity),
		"source_id":       e.SourceID,
		"payload":         string(payloadJSON),
		"content_hash":    e.ContentHash,
		"previous_hash":   e.PreviousHash,
		"created_at_ms":   e.CreatedAtMs,
	}

	return hash, nil
}

// HashToEvent converts a Redis hash to an Event struct.
func HashToEvent(hash map[string]string) (*Event, error) {
	seq, err := strconv.ParseInt(hash["sequence_number"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid sequence_number field: %w", err)
	}

	var payload map[string]any
	if payloadJSON := hash["payload"]; payloadJSON != "" {
		if err := json.Unmarshal([]byte(payloadJSON), &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
	}

	createdAtMs, _ := strconv.ParseInt(hash["created_at_ms"], 10, 64)

	return &Event{
		EventID:        hash["event_id"],
		ChainID:        hash["chain_id"],
		SequenceNumber: seq,
		Category:       hash["category"],
		Severity:       Severity(hash["severity"]),
		SourceID:       hash["source_id"],
		Payload:        payload,
		ContentHash:    hash["content_hash"],
		PreviousHash:   hash["previous_hash"],
		CreatedAtMs:    createdAtMs,
	}, nil
}

// HeartbeatToHash converts a HeartbeatRecord to a Redis hash format.
func HeartbeatToHash(r *HeartbeatRecord) map[string]interface{} {
	return map[string]interface{}{
		"agent_id":            r.AgentID,
		"status":              string(r.Status),
		"health_score":        r.HealthScore,
		"last_beat_at_ms":     r.LastBeatAtMs,
		"next_expected_at_ms": r.NextExpectedAtMs,
		"consecutive_misses":  r.ConsecutiveMisses,
		"reported_context":    r.ReportedContext,
	}
}

// HashToHeartbeat converts a Redis hash to a HeartbeatRecord.
func HashToHeartbeat(hash map[string]string) (*HeartbeatRecord, error) {
	score, err := strconv.ParseFloat(hash["health_score"], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid health_score field: %w", err)
	}

	misses, err := strconv.Atoi(hash["consecutive_misses"])
	if err != nil {
		return nil, fmt.Errorf("invalid consecutive_misses field: %w", err)
	}

	lastBeatAtMs, _ := strconv.ParseInt(hash["last_beat_at_ms"], 10, 64)
	nextExpectedAtMs, _ := strconv.ParseInt(hash["next_expected_at_ms"], 10, 64)

	return &HeartbeatRecord{
		AgentID:           hash["agent_id"],
		Status:            AgentStatus(hash["status"]),
		HealthScore:       score,
		LastBeatAtMs:      lastBeatAtMs,
		NextExpectedAtMs:  nextExpectedAtMs,
		ConsecutiveMisses: misses,
		ReportedContext:   hash["reported_context"],
	}, nil
}

// BreakerStateToHash converts a BreakerState to a Redis hash format.
func BreakerStateToHash(s *BreakerState) map[string]interface{} {
	return map[string]interface{}{
		"state_id":       s.StateID,
		"level":          int(s.Level),
		"trigger_reason": s.TriggerReason,
		"auto_triggered": s.AutoTriggered,
		"actor":          s.Actor,
		"justification":  s.Justification,
		"entered_at_ms":  s.EnteredAtMs,
	}
}

// HashToBreakerState converts a Redis hash to a BreakerState.
func HashToBreakerState(hash map[string]string) (*BreakerState, error) {
	level, err := strconv.Atoi(hash["level"])
	if err != nil {
		return nil, fmt.Errorf("invalid level field: %w", err)
	}

	auto, _ := strconv.ParseBool(hash["auto_triggered"])
	enteredAtMs, _ := strconv.ParseInt(hash["entered_at_ms"], 10, 64)

	return &BreakerState{
		StateID:       hash["state_id"],
		Level:         Level(level),
		TriggerReason: hash["trigger_reason"],
		AutoTriggered: auto,
		Actor:         hash["actor"],
		Justification: hash["justification"],
		EnteredAtMs:   enteredAtMs,
	}, nil
}

// ThresholdToHash converts a FreshnessThreshold to a Redis hash format.
func ThresholdToHash(t *FreshnessThreshold) map[string]interface{} {
	return map[string]interface{}{
		"asset_class":      t.AssetClass,
		"action_class":     t.ActionClass,
		"max_staleness_ms": t.MaxStalenessMs,
		"effective_at_ms":  t.EffectiveAtMs,
		"authorized_by":    t.AuthorizedBy,
		"version":          t.Version,
	}
}

// HashToThreshold converts a Redis hash to a FreshnessThreshold.
func HashToThreshold(hash map[string]string) (*FreshnessThreshold, error) {
	maxStaleness, err := strconv.ParseInt(hash["max_staleness_ms"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid max_staleness_ms field: %w", err)
	}

	effectiveAtMs, _ := strconv.ParseInt(hash["effective_at_ms"], 10, 64)
	version, _ := strconv.Atoi(hash["version"])

	return &FreshnessThreshold{
		AssetClass:     hash["asset_class"],
		ActionClass:    hash["action_class"],
		MaxStalenessMs: maxStaleness,
		EffectiveAtMs:  effectiveAtMs,
		AuthorizedBy:   hash["authorized_by"],
		Version:        version,
	}, nil
}

// BlackoutToHash converts a BlackoutState to a Redis hash format.
func BlackoutToHash(b *BlackoutState) map[string]interface{} {
	return map[string]interface{}{
		"scope":           b.Scope,
		"is_active":       b.IsActive,
		"reason":          b.Reason,
		"triggered_by":    b.TriggeredBy,
		"triggered_at_ms": b.TriggeredAtMs,
		"cleared_by":      b.ClearedBy,
		"cleared_at_ms":   b.ClearedAtMs,
	}
}

// HashToBlackout converts a Redis hash to a BlackoutState.
func HashToBlackout(hash map[string]string) (*BlackoutState, error) {
	active, err := strconv.ParseBool(hash["is_active"])
	if err != nil {
		return nil, fmt.Errorf("invalid is_active field: %w", err)
	}

	triggeredAtMs, _ := strconv.ParseInt(hash["triggered_at_ms"], 10, 64)
	clearedAtMs, _ := strconv.ParseInt(hash["cleared_at_ms"], 10, 64)

	return &BlackoutState{
		Scope:         hash["scope"],
		IsActive:      active,
		Reason:        hash["reason"],
		TriggeredBy:   hash["triggered_by"],
		TriggeredAtMs: triggeredAtMs,
		ClearedBy:     hash["cleared_by"],
		ClearedAtMs:   clearedAtMs,
	}, nil
}

// ViolationToHash converts a ViolationRecord to a Redis hash format.
// The evidence map is JSON-encoded.
func ViolationToHash(v *ViolationRecord) (map[string]interface{}, error) {
	evidenceJSON, err := json.Marshal(v.Evidence)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal evidence: %w", err)
	}

	return map[string]interface{}{
		"violation_id":         v.ViolationID,
		"class":                string(v.Class),
		"agent_id":             v.AgentID,
		"violation_type":       v.ViolationType,
		"expected_fingerprint": v.ExpectedFingerprint,
		"observed_fingerprint": v.ObservedFingerprint,
		"enforcement":          string(v.Enforcement),
		"evidence":             string(evidenceJSON),
		"occurred_at_ms":       v.OccurredAtMs,
	}, nil
}

// HashToViolation converts a Redis hash to a ViolationRecord.
func HashToViolation(hash map[string]string) (*ViolationRecord, error) {
	var evidence map[string]any
	if evidenceJSON := hash["evidence"]; evidenceJSON != "" {
		if err := json.Unmarshal([]byte(evidenceJSON), &evidence); err != nil {
			return nil, fmt.Errorf("failed to unmarshal evidence: %w", err)
		}
	}

	occurredAtMs, _ := strconv.ParseInt(hash["occurred_at_ms"], 10, 64)

	return &ViolationRecord{
		ViolationID:         hash["violation_id"],
		Class:               ViolationClass(hash["class"]),
		AgentID:             hash["agent_id"],
		ViolationType:       hash["violation_type"],
		ExpectedFingerprint: hash["expected_fingerprint"],
		ObservedFingerprint: hash["observed_fingerprint"],
		Enforcement:         EnforcementAction(hash["enforcement"]),
		Evidence:            evidence,
		OccurredAtMs:        occurredAtMs,
	}, nil
}

// SuspensionToHash converts a SuspensionRecord to a Redis hash format.
func SuspensionToHash(s *SuspensionRecord) map[string]interface{} {
	return map[string]interface{}{
		"agent_id":        s.AgentID,
		"suspended":       s.Suspended,
		"reason":          s.Reason,
		"suspended_at_ms": s.SuspendedAtMs,
		"cleared_by":      s.ClearedBy,
		"cleared_at_ms":   s.ClearedAtMs,
	}
}

// HashToSuspension converts a Redis hash to a SuspensionRecord.
func HashToSuspension(hash map[string]string) (*SuspensionRecord, error) {
	suspended, err := strconv.ParseBool(hash["suspended"])
	if err != nil {
		return nil, fmt.Errorf("invalid suspended field: %w", err)
	}

	suspendedAtMs, _ := strconv.ParseInt(hash["suspended_at_ms"], 10, 64)
	clearedAtMs, _ := strconv.ParseInt(hash["cleared_at_ms"], 10, 64)

	return &SuspensionRecord{
		AgentID:       hash["agent_id"],
		Suspended:     suspended,
		Reason:        hash["reason"],
		SuspendedAtMs: suspendedAtMs,
		ClearedBy:     hash["cleared_by"],
		ClearedAtMs:   clearedAtMs,
	}, nil
}

// SnapshotToHash converts a ReconciliationSnapshot to a Redis hash format.
// State maps are JSON-encoded.
func SnapshotToHash(s *ReconciliationSnapshot) (map[string]interface{}, error) {
	agentJSON, err := json.Marshal(s.AgentState)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal agent_state: %w", err)
	}

	canonicalJSON, err := json.Marshal(s.CanonicalState)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal canonical_state: %w", err)
	}

	return map[string]interface{}{
		"snapshot_id":        s.SnapshotID,
		"component_name":     s.ComponentName,
		"agent_state":        string(agentJSON),
		"canonical_state":    string(canonicalJSON),
		"discrepancy_score":  s.DiscrepancyScore,
		"threshold":          s.Threshold,
		"threshold_exceeded": s.ThresholdExceeded,
		"status":             string(s.Status),
		"recorded_at_ms":     s.RecordedAtMs,
	}, nil
}

// HashToSnapshot converts a Redis hash to a ReconciliationSnapshot.
func HashToSnapshot(hash map[string]string) (*ReconciliationSnapshot, error) {
	score, err := strconv.ParseFloat(hash["discrepancy_score"], 64)
	if err != nil {
		return nil, fmt.Errorf("invalid discrepancy_score field: %w", err)
	}

	threshold, _ := strconv.ParseFloat(hash["threshold"], 64)
	exceeded, _ := strconv.ParseBool(hash["threshold_exceeded"])
	recordedAtMs, _ := strconv.ParseInt(hash["recorded_at_ms"], 10, 64)

	var agentState, canonicalState map[string]any
	if j := hash["agent_state"]; j != "" {
		if err := json.Unmarshal([]byte(j), &agentState); err != nil {
			return nil, fmt.Errorf("failed to unmarshal agent_state: %w", err)
		}
	}
	if j := hash["canonical_state"]; j != "" {
		if err := json.Unmarshal([]byte(j), &canonicalState); err != nil {
			return nil, fmt.Errorf("failed to unmarshal canonical_state: %w", err)
		}
	}

	return &ReconciliationSnapshot{
		SnapshotID:        hash["snapshot_id"],
		ComponentName:     hash["component_name"],
		AgentState:        agentState,
		CanonicalState:    canonicalState,
		DiscrepancyScore:  score,
		Threshold:         threshold,
		ThresholdExceeded: exceeded,
		Status:            ReconStatus(hash["status"]),
		RecordedAtMs:      recordedAtMs,
	}, nil
}

// AttestationToHash converts an Attestation to a Redis hash format.
func AttestationToHash(a *Attestation) map[string]interface{} {
	return map[string]interface{}{
		"attestation_id": a.AttestationID,
		"state_digest":   a.StateDigest,
		"signature":      a.Signature,
		"public_key":     a.PublicKey,
		"issued_at_ms":   a.IssuedAtMs,
	}
}

// HashToAttestation converts a Redis hash to an Attestation.
func HashToAttestation(hash map[string]string) (*Attestation, error) {
	if hash["attestation_id"] == "" {
		return nil, fmt.Errorf("missing attestation_id field")
	}

	issuedAtMs, _ := strconv.ParseInt(hash["issued_at_ms"], 10, 64)

	return &Attestation{
		AttestationID: hash["attestation_id"],
		StateDigest:   hash["state_digest"],
		Signature:     hash["signature"],
		PublicKey:     hash["public_key"],
		IssuedAtMs:    issuedAtMs,
	}, nil
}

// ChainHeadToHash converts a ChainHead to a Redis hash format.
func ChainHeadToHash(h *ChainHead) map[string]interface{} {
	return map[string]interface{}{
		"chain_id":        h.ChainID,
		"sequence_number": h.SequenceNumber,
		"content_hash":    h.ContentHash,
	}
}

// HashToChainHead converts a Redis hash to a ChainHead.
func HashToChainHead(hash map[string]string) (*ChainHead, error) {
	seq, err := strconv.ParseInt(hash["sequence_number"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid sequence_number field: %w", err)
	}

	return &ChainHead{
		ChainID:        hash["chain_id"],
		SequenceNumber: seq,
		ContentHash:    hash["content_hash"],
	}, nil
}
