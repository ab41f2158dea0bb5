package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/quillon/vigil/internal/breaker"
	"github.com/quillon/vigil/internal/gate"
	"github.com/quillon/vigil/internal/ledger"
	"github.com/quillon/vigil/internal/violation"
	"github.com/quillon/vigil/pkg/statestore"
)

// handleBeat records a liveness beat for an agent.
func (s *Server) handleBeat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID     string  `json:"agent_id"`
		HealthScore float64 `json:"health_score"`
		Context     string  `json:"context,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	record, err := s.monitor.Beat(r.Context(), req.AgentID, req.HealthScore, req.Context)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleAgents lists the heartbeat records of all known agents.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	records, err := s.monitor.All(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleAgent returns the heartbeat record of one agent.
func (s *Server) handleAgent(w http.ResponseWriter, r *http.Request) {
	record, err := s.monitor.Get(r.Context(), r.PathValue("agent_id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// handleAppendEvent appends an event to a ledger chain.
func (s *Server) handleAppendEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ChainID  string         `json:"chain_id"`
		Category string         `json:"category"`
		Severity string         `json:"severity"`
		SourceID string         `json:"source_id"`
		Payload  map[string]any `json:"payload,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if req.ChainID == "" {
		req.ChainID = ledger.ChainGovernance
	}

	event, err := s.ledger.Append(r.Context(), req.ChainID, req.Category, statestore.Severity(req.Severity), req.SourceID, req.Payload)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	s.metrics.EventsAppended.WithLabelValues(req.ChainID).Inc()
	writeJSON(w, http.StatusCreated, event)
}

// handleGetEvent returns one event by ID.
func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	event, err := s.ledger.Get(r.Context(), r.PathValue("event_id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

// handleChains lists all chain IDs.
func (s *Server) handleChains(w http.ResponseWriter, r *http.Request) {
	chains, err := s.ledger.Chains(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, chains)
}

// handleVerifyChain walks one chain and reports the first break, if any.
func (s *Server) handleVerifyChain(w http.ResponseWriter, r *http.Request) {
	result, err := s.ledger.Verify(r.Context(), r.PathValue("chain_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleAdmit runs one action through the freshness admission gate.
// Denials return 403 with the decision in the body.
func (s *Server) handleAdmit(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActionClass string `json:"action_class"`
		AssetID     string `json:"asset_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	started := time.Now()
	decision, err := s.gate.Admit(r.Context(), req.ActionClass, req.AssetID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.metrics.AdmissionLatency.Observe(time.Since(started).Seconds())

	if !decision.Allow {
		s.metrics.AdmissionsTotal.WithLabelValues("denied").Inc()
		writeJSON(w, http.StatusForbidden, decision)
		return
	}
	s.metrics.AdmissionsTotal.WithLabelValues("allowed").Inc()
	writeJSON(w, http.StatusOK, decision)
}

// handleObservation records a fresh observation timestamp for an asset.
func (s *Server) handleObservation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AssetID      string `json:"asset_id"`
		ObservedAtMs int64  `json:"observed_at_ms,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if req.AssetID == "" {
		writeError(w, http.StatusUnprocessableEntity, errors.New("asset_id is required"))
		return
	}
	if req.ObservedAtMs == 0 {
		req.ObservedAtMs = time.Now().UnixMilli()
	}

	if err := s.store.RecordObservation(r.Context(), req.AssetID, req.ObservedAtMs); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSetThreshold installs a new versioned freshness threshold.
func (s *Server) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AssetClass   string `json:"asset_class"`
		ActionClass  string `json:"action_class"`
		MaxStaleness string `json:"max_staleness"`
		AuthorizedBy string `json:"authorized_by"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	maxStaleness, err := time.ParseDuration(req.MaxStaleness)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, fmt.Errorf("invalid max_staleness: %w", err))
		return
	}

	threshold, err := s.gate.SetThreshold(r.Context(), req.AssetClass, req.ActionClass, maxStaleness, req.AuthorizedBy)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, threshold)
}

// handleBlackout triggers a blackout over a scope.
func (s *Server) handleBlackout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason      string `json:"reason"`
		Scope       string `json:"scope"`
		TriggeredBy string `json:"triggered_by"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	state, err := s.gate.TriggerBlackout(r.Context(), req.Reason, req.Scope, req.TriggeredBy)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

// handleClearBlackout lifts a blackout. Requires an authorized actor and a
// verifiable attestation, and every scoped asset must be fresh again.
func (s *Server) handleClearBlackout(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Scope         string `json:"scope"`
		Actor         string `json:"actor"`
		AttestationID string `json:"attestation_id"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	state, err := s.gate.ClearBlackout(r.Context(), req.Scope, req.Actor, req.AttestationID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// handleBreaker returns the current breaker state.
func (s *Server) handleBreaker(w http.ResponseWriter, r *http.Request) {
	state, err := s.breaker.Current(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.metrics.BreakerLevel.Set(float64(state.Level))
	writeJSON(w, http.StatusOK, state)
}

// handleEscalate moves the breaker to a more severe level.
func (s *Server) handleEscalate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level  int    `json:"level"`
		Reason string `json:"reason"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	target := statestore.Level(req.Level)
	if err := target.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	state, _, err := s.breaker.Escalate(r.Context(), target, req.Reason, false)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.metrics.BreakerLevel.Set(float64(state.Level))
	writeJSON(w, http.StatusOK, state)
}

// handleDeescalate moves the breaker to a less severe level. Blocked while
// the latest reconciliation snapshot is divergent.
func (s *Server) handleDeescalate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Level         int    `json:"level"`
		Actor         string `json:"actor"`
		Justification string `json:"justification"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	target := statestore.Level(req.Level)
	if err := target.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	state, err := s.breaker.Deescalate(r.Context(), target, req.Actor, req.Justification)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.metrics.BreakerLevel.Set(float64(state.Level))
	writeJSON(w, http.StatusOK, state)
}

// handleFingerprint publishes an agent's current state fingerprint.
func (s *Server) handleFingerprint(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Fingerprint string `json:"fingerprint"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	if err := s.detector.PublishFingerprint(r.Context(), r.PathValue("agent_id"), req.Fingerprint); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleBinding checks an action's claimed fingerprint against the agent's
// published one. Violations return 403 with the outcome in the body.
func (s *Server) handleBinding(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ClaimedFingerprint string `json:"claimed_fingerprint"`
		ActionType         string `json:"action_type"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	outcome, err := s.detector.CheckBinding(r.Context(), r.PathValue("agent_id"), req.ClaimedFingerprint, req.ActionType)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	if !outcome.OK {
		if outcome.Violation != nil {
			s.metrics.ViolationsTotal.WithLabelValues(string(outcome.Violation.Class)).Inc()
		}
		if outcome.SuspensionTriggered {
			s.metrics.SuspensionsActive.Inc()
		}
		writeJSON(w, http.StatusForbidden, outcome)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// handleViolation reports an adversarial event against an agent.
func (s *Server) handleViolation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID  string         `json:"agent_id"`
		Class    string         `json:"class"`
		Evidence map[string]any `json:"evidence,omitempty"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	class := statestore.ViolationClass(req.Class)
	if err := class.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	outcome, err := s.detector.RecordAdversarialEvent(r.Context(), req.AgentID, class, req.Evidence)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}

	s.metrics.ViolationsTotal.WithLabelValues(req.Class).Inc()
	if outcome.SuspensionTriggered {
		s.metrics.SuspensionsActive.Inc()
	}
	writeJSON(w, http.StatusCreated, outcome)
}

// handleAgentViolations lists the recorded violations of one agent.
func (s *Server) handleAgentViolations(w http.ResponseWriter, r *http.Request) {
	records, err := s.detector.AgentViolations(r.Context(), r.PathValue("agent_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// handleClearSuspension lifts an agent's suspension.
func (s *Server) handleClearSuspension(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Actor string `json:"actor"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	// Clearing an agent that is not suspended is a no-op; only a real clear
	// may move the gauge, or repeated clears would drive it negative.
	wasSuspended, err := s.detector.IsSuspended(r.Context(), r.PathValue("agent_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if err := s.detector.ClearSuspension(r.Context(), r.PathValue("agent_id"), req.Actor); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if wasSuspended {
		s.metrics.SuspensionsActive.Dec()
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReconcile runs an on-demand reconciliation pass over supplied states.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ComponentName  string         `json:"component_name"`
		AgentState     map[string]any `json:"agent_state"`
		CanonicalState map[string]any `json:"canonical_state"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	snapshot, err := s.scorer.Reconcile(r.Context(), req.ComponentName, req.AgentState, req.CanonicalState)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	s.metrics.DiscrepancyScore.WithLabelValues(req.ComponentName).Set(snapshot.DiscrepancyScore)
	writeJSON(w, http.StatusCreated, snapshot)
}

// handleIssueAttestation signs the current kernel state.
func (s *Server) handleIssueAttestation(w http.ResponseWriter, r *http.Request) {
	attestation, err := s.attestor.Issue(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, attestation)
}

// handleGetAttestation returns a stored attestation by ID.
func (s *Server) handleGetAttestation(w http.ResponseWriter, r *http.Request) {
	attestation, err := s.attestor.Get(r.Context(), r.PathValue("attestation_id"))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, attestation)
}

// statusFor maps kernel errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case statestore.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, breaker.ErrUnauthorized), errors.Is(err, gate.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, violation.ErrSuspended):
		return http.StatusForbidden
	case errors.Is(err, breaker.ErrDivergent), errors.Is(err, gate.ErrScopeStale):
		return http.StatusConflict
	case errors.Is(err, breaker.ErrNotLessSevere):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
