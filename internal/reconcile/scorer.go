// Package reconcile implements the periodic diff between agent-reported state
// and canonical state.
//
// Each pass produces a normalized discrepancy score in [0,1]. A score over the
// divergence threshold marks the snapshot DIVERGENT, which blocks circuit
// breaker de-escalation; a score over the higher suspend threshold marks it
// SUSPENDED and escalates the breaker itself.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/quillon/vigil/internal/breaker"
	"github.com/quillon/vigil/internal/ledger"
	"github.com/quillon/vigil/pkg/statestore"
)

// Scorer computes and records reconciliation snapshots.
type Scorer struct {
	store   *statestore.Store
	ledger  *ledger.Ledger
	breaker *breaker.Breaker

	threshold        float64 // divergence threshold (default 0.05)
	suspendThreshold float64 // escalation threshold (default 0.25)
}

// New creates a Scorer with the given thresholds.
func New(store *statestore.Store, lg *ledger.Ledger, brk *breaker.Breaker, threshold, suspendThreshold float64) *Scorer {
	return &Scorer{
		store:            store,
		ledger:           lg,
		breaker:          brk,
		threshold:        threshold,
		suspendThreshold: suspendThreshold,
	}
}

// Reconcile diffs agentState against canonicalState for one component and
// persists the resulting snapshot. The discrepancy score is the fraction of
// leaf fields (over the union of both states, descending into nested objects)
// whose values disagree or are missing on either side.
func (s *Scorer) Reconcile(ctx context.Context, componentName string, agentState, canonicalState map[string]any) (*statestore.ReconciliationSnapshot, error) {
	if componentName == "" {
		return nil, fmt.Errorf("component name cannot be empty")
	}

	agentNorm, err := normalize(agentState)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize agent state: %w", err)
	}
	canonicalNorm, err := normalize(canonicalState)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize canonical state: %w", err)
	}

	total, mismatched := diffMaps(agentNorm, canonicalNorm)

	score := 0.0
	if total > 0 {
		score = float64(mismatched) / float64(total)
	}

	status := statestore.ReconReconciled
	switch {
	case score > s.suspendThreshold:
		status = statestore.ReconSuspended
	case score > s.threshold:
		status = statestore.ReconDivergent
	}

	snapshot := &statestore.ReconciliationSnapshot{
		SnapshotID:        uuid.New().String(),
		ComponentName:     componentName,
		AgentState:        agentNorm,
		CanonicalState:    canonicalNorm,
		DiscrepancyScore:  score,
		Threshold:         s.threshold,
		ThresholdExceeded: score > s.threshold,
		Status:            status,
		RecordedAtMs:      time.Now().UnixMilli(),
	}

	if err := s.store.PutSnapshot(ctx, snapshot); err != nil {
		return nil, err
	}

	switch status {
	case statestore.ReconDivergent:
		_, err = s.ledger.Append(ctx, ledger.ChainReconciliation, "RECONCILIATION_DIVERGENT", statestore.SeverityWarning, componentName, map[string]any{
			"discrepancy_score": score,
			"threshold":         s.threshold,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to record divergence event: %w", err)
		}

	case statestore.ReconSuspended:
		_, err = s.ledger.Append(ctx, ledger.ChainReconciliation, "RECONCILIATION_SUSPENDED", statestore.SeverityCritical, componentName, map[string]any{
			"discrepancy_score": score,
			"suspend_threshold": s.suspendThreshold,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to record suspension event: %w", err)
		}

		if _, _, err := s.breaker.EscalateStep(ctx, "RECONCILIATION_DIVERGENCE", true); err != nil {
			return nil, fmt.Errorf("failed to escalate breaker: %w", err)
		}
	}

	return snapshot, nil
}

// Latest returns the most recent snapshot across all components.
func (s *Scorer) Latest(ctx context.Context) (*statestore.ReconciliationSnapshot, error) {
	return s.store.LatestSnapshot(ctx)
}

// normalize round-trips a state map through JSON so numeric types compare
// consistently regardless of how the caller built the map.
func normalize(state map[string]any) (map[string]any, error) {
	if state == nil {
		return map[string]any{}, nil
	}

	raw, err := json.Marshal(state)
	if err != nil {
		return nil, err
	}

	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// diffMaps counts leaf fields over the union of both maps and how many of
// them disagree. Nested objects are descended into; any other value is a leaf
// compared with reflect.DeepEqual.
func diffMaps(a, b map[string]any) (total, mismatched int) {
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}

	for k := range keys {
		av, aOK := a[k]
		bv, bOK := b[k]

		if !aOK || !bOK {
			total += leafCount(av) + leafCount(bv)
			mismatched += leafCount(av) + leafCount(bv)
			continue
		}

		aMap, aIsMap := av.(map[string]any)
		bMap, bIsMap := bv.(map[string]any)
		if aIsMap && bIsMap {
			t, m := diffMaps(aMap, bMap)
			total += t
			mismatched += m
			continue
		}

		total++
		if !reflect.DeepEqual(av, bv) {
			mismatched++
		}
	}
	return total, mismatched
}

// leafCount returns how many leaf fields a value contributes. A one-sided key
// counts each of its leaves as a mismatch.
func leafCount(v any) int {
	m, ok := v.(map[string]any)
	if !ok {
		if v == nil {
			return 0
		}
		return 1
	}

	n := 0
	for _, child := range m {
		n += leafCount(child)
	}
	if n == 0 {
		n = 1 // empty object still counts as one field
	}
	return n
}
