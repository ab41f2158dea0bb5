package statestore

import "fmt"

// Redis key pattern helpers
//
// All Redis keys and Pub/Sub channels are namespaced by instance name to enable
// multiple Vigil instances to safely coexist on a single Redis server.
//
// Key pattern: vigil:{instance_name}:{entity}:{id}
// Channel pattern: vigil:{instance_name}:{event_type}_events

// EventKey returns the Redis key for a ledger event.
// Pattern: vigil:{instance_name}:event:{event_id}
func EventKey(instanceName, eventID string) string {
	return fmt.Sprintf("vigil:%s:event:%s", instanceName, eventID)
}

// ChainKey returns the Redis key for a chain's ordering ZSET.
// Members are event IDs scored by sequence number.
// Pattern: vigil:{instance_name}:chain:{chain_id}
func ChainKey(instanceName, chainID string) string {
	return fmt.Sprintf("vigil:%s:chain:%s", instanceName, chainID)
}

// ChainHeadKey returns the Redis key for a chain's append cursor.
// Pattern: vigil:{instance_name}:chain:{chain_id}:head
func ChainHeadKey(instanceName, chainID string) string {
	return fmt.Sprintf("vigil:%s:chain:%s:head", instanceName, chainID)
}

// ChainsKey returns the Redis key for the set of known chain IDs.
// Pattern: vigil:{instance_name}:chains
func ChainsKey(instanceName string) string {
	return fmt.Sprintf("vigil:%s:chains", instanceName)
}

// HeartbeatKey returns the Redis key for an agent's heartbeat record.
// Pattern: vigil:{instance_name}:heartbeat:{agent_id}
func HeartbeatKey(instanceName, agentID string) string {
	return fmt.Sprintf("vigil:%s:heartbeat:%s", instanceName, agentID)
}

// AgentsKey returns the Redis key for the set of known agent IDs.
// Pattern: vigil:{instance_name}:agents
func AgentsKey(instanceName string) string {
	return fmt.Sprintf("vigil:%s:agents", instanceName)
}

// BreakerCurrentKey returns the Redis key for the current breaker state.
// Pattern: vigil:{instance_name}:breaker:current
func BreakerCurrentKey(instanceName string) string {
	return fmt.Sprintf("vigil:%s:breaker:current", instanceName)
}

// BreakerStateKey returns the Redis key for one historical breaker state.
// Pattern: vigil:{instance_name}:breaker:state:{state_id}
func BreakerStateKey(instanceName, stateID string) string {
	return fmt.Sprintf("vigil:%s:breaker:state:%s", instanceName, stateID)
}

// BreakerHistoryKey returns the Redis key for the breaker history ZSET.
// Members are state IDs scored by entered_at_ms.
// Pattern: vigil:{instance_name}:breaker:history
func BreakerHistoryKey(instanceName string) string {
	return fmt.Sprintf("vigil:%s:breaker:history", instanceName)
}

// ThresholdKey returns the Redis key for a freshness threshold.
// Pattern: vigil:{instance_name}:threshold:{asset_class}:{action_class}
func ThresholdKey(instanceName, assetClass, actionClass string) string {
	return fmt.Sprintf("vigil:%s:threshold:%s:%s", instanceName, assetClass, actionClass)
}

// BlackoutKey returns the Redis key for a scope's blackout state.
// Pattern: vigil:{instance_name}:blackout:{scope}
func BlackoutKey(instanceName, scope string) string {
	return fmt.Sprintf("vigil:%s:blackout:%s", instanceName, scope)
}

// ViolationKey returns the Redis key for a violation record.
// Pattern: vigil:{instance_name}:violation:{violation_id}
func ViolationKey(instanceName, violationID string) string {
	return fmt.Sprintf("vigil:%s:violation:%s", instanceName, violationID)
}

// AgentViolationsKey returns the Redis key for an agent's violation window ZSET.
// Members are violation IDs scored by occurred_at_ms; rolling-window counts
// are ZCOUNT queries over this set.
// Pattern: vigil:{instance_name}:agent:{agent_id}:violations
func AgentViolationsKey(instanceName, agentID string) string {
	return fmt.Sprintf("vigil:%s:agent:%s:violations", instanceName, agentID)
}

// AgentWindowKey returns the Redis key for an agent's suspension window ZSET.
// Only Class A and Class B violations land here; the auto-suspend check is a
// ZCOUNT over this set.
// Pattern: vigil:{instance_name}:agent:{agent_id}:window
func AgentWindowKey(instanceName, agentID string) string {
	return fmt.Sprintf("vigil:%s:agent:%s:window", instanceName, agentID)
}

// AgentAdversarialKey returns the Redis key for an agent's Class B rolling
// window ZSET.
// Pattern: vigil:{instance_name}:agent:{agent_id}:adversarial
func AgentAdversarialKey(instanceName, agentID string) string {
	return fmt.Sprintf("vigil:%s:agent:%s:adversarial", instanceName, agentID)
}

// SuspensionKey returns the Redis key for an agent's suspension record.
// Pattern: vigil:{instance_name}:suspension:{agent_id}
func SuspensionKey(instanceName, agentID string) string {
	return fmt.Sprintf("vigil:%s:suspension:%s", instanceName, agentID)
}

// FingerprintKey returns the Redis key for an agent's currently valid state
// fingerprint.
// Pattern: vigil:{instance_name}:fingerprint:{agent_id}
func FingerprintKey(instanceName, agentID string) string {
	return fmt.Sprintf("vigil:%s:fingerprint:%s", instanceName, agentID)
}

// ReconciliationKey returns the Redis key for a component's latest
// reconciliation snapshot.
// Pattern: vigil:{instance_name}:reconciliation:{component_name}
func ReconciliationKey(instanceName, componentName string) string {
	return fmt.Sprintf("vigil:%s:reconciliation:%s", instanceName, componentName)
}

// ReconciliationLatestKey returns the Redis key for the most recent
// reconciliation snapshot across all components. The circuit breaker consults
// this to block de-escalation while divergent.
// Pattern: vigil:{instance_name}:reconciliation:latest
func ReconciliationLatestKey(instanceName string) string {
	return fmt.Sprintf("vigil:%s:reconciliation:latest", instanceName)
}

// DenialCountKey returns the Redis key for a per-asset admission denial counter.
// Pattern: vigil:{instance_name}:denials:{asset_id}
func DenialCountKey(instanceName, assetID string) string {
	return fmt.Sprintf("vigil:%s:denials:%s", instanceName, assetID)
}

// ObservationKey returns the Redis key recording the latest market observation
// timestamp for an asset. The built-in freshness oracle reads this.
// Pattern: vigil:{instance_name}:observation:{asset_id}
func ObservationKey(instanceName, assetID string) string {
	return fmt.Sprintf("vigil:%s:observation:%s", instanceName, assetID)
}

// AttestationKey returns the Redis key for a signed state attestation.
// Pattern: vigil:{instance_name}:attestation:{attestation_id}
func AttestationKey(instanceName, attestationID string) string {
	return fmt.Sprintf("vigil:%s:attestation:%s", instanceName, attestationID)
}

// LedgerEventsChannel returns the Pub/Sub channel name for ledger appends.
// Every successful append publishes the full event JSON here.
// Pattern: vigil:{instance_name}:ledger_events
func LedgerEventsChannel(instanceName string) string {
	return fmt.Sprintf("vigil:%s:ledger_events", instanceName)
}
