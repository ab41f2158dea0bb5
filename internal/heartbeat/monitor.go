// Package heartbeat implements liveness tracking for the agent fleet.
//
// Agents emit periodic beacons; a fixed-period sweep detects silence and walks
// each silent agent down the miss ladder (0 misses ALIVE, 1 STALE, 2+ DEAD).
// The first silence detected in a sweep escalates the circuit breaker one step.
package heartbeat

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/quillon/vigil/internal/breaker"
	"github.com/quillon/vigil/internal/ledger"
	"github.com/quillon/vigil/pkg/statestore"
)

// StaleAgent describes one agent a sweep found past its beacon deadline.
type StaleAgent struct {
	AgentID           string                 `json:"agent_id"`
	Status            statestore.AgentStatus `json:"status"`
	ConsecutiveMisses int                    `json:"consecutive_misses"`
}

// Monitor owns the per-agent heartbeat table. Mutation of one agent's record
// is serialized per agent_id, so a beat and a sweep can never race on the same
// agent.
type Monitor struct {
	store         *statestore.Store
	ledger        *ledger.Ledger
	breaker       *breaker.Breaker
	beatInterval  time.Duration
	degradedFloor float64

	mu         sync.Mutex
	agentLocks map[string]*sync.Mutex
}

// New creates a Monitor.
//
// beatInterval is how often agents are expected to beat (the deadline advance
// per beacon and the miss charge per sweep). degradedFloor is the health score
// below which a live agent is recorded DEGRADED instead of ALIVE.
func New(store *statestore.Store, lg *ledger.Ledger, brk *breaker.Breaker, beatInterval time.Duration, degradedFloor float64) *Monitor {
	return &Monitor{
		store:         store,
		ledger:        lg,
		breaker:       brk,
		beatInterval:  beatInterval,
		degradedFloor: degradedFloor,
		agentLocks:    make(map[string]*sync.Mutex),
	}
}

// agentLock returns the mutex serializing heartbeat mutation for one agent.
func (m *Monitor) agentLock(agentID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.agentLocks[agentID]
	if !ok {
		lock = &sync.Mutex{}
		m.agentLocks[agentID] = lock
	}
	return lock
}

// Beat records a liveness beacon: misses reset to zero, the deadline advances
// by one beat interval, and a low-severity event lands in the ledger.
func (m *Monitor) Beat(ctx context.Context, agentID string, healthScore float64, reportedContext string) (*statestore.HeartbeatRecord, error) {
	if agentID == "" {
		return nil, fmt.Errorf("agent ID cannot be empty")
	}
	if healthScore < 0 || healthScore > 1 {
		return nil, fmt.Errorf("health score must be in [0,1], got %v", healthScore)
	}

	lock := m.agentLock(agentID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UnixMilli()

	status := statestore.StatusAlive
	if healthScore < m.degradedFloor {
		status = statestore.StatusDegraded
	}

	record := &statestore.HeartbeatRecord{
		AgentID:           agentID,
		Status:            status,
		HealthScore:       healthScore,
		LastBeatAtMs:      now,
		NextExpectedAtMs:  now + m.beatInterval.Milliseconds(),
		ConsecutiveMisses: 0,
		ReportedContext:   reportedContext,
	}

	if err := m.store.PutHeartbeat(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to record heartbeat: %w", err)
	}

	_, err := m.ledger.Append(ctx, ledger.ChainHeartbeat, "HEARTBEAT", statestore.SeverityInfo, agentID, map[string]any{
		"health_score": healthScore,
		"status":       string(status),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record heartbeat event: %w", err)
	}

	return record, nil
}

// Get returns the heartbeat record for one agent.
func (m *Monitor) Get(ctx context.Context, agentID string) (*statestore.HeartbeatRecord, error) {
	return m.store.GetHeartbeat(ctx, agentID)
}

// All returns the heartbeat records for every known agent.
func (m *Monitor) All(ctx context.Context) ([]*statestore.HeartbeatRecord, error) {
	agentIDs, err := m.store.AgentIDs(ctx)
	if err != nil {
		return nil, err
	}

	records := make([]*statestore.HeartbeatRecord, 0, len(agentIDs))
	for _, id := range agentIDs {
		record, err := m.store.GetHeartbeat(ctx, id)
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

// Sweep walks every known agent and charges a miss to each one past its
// beacon deadline.
//
// A charged miss advances the deadline by one beat interval, which is what
// makes the sweep idempotent within a missed window: calling Sweep twice
// before the next deadline passes does not double-penalize. The first agent
// newly detected silent (misses going 0 to 1) escalates the circuit breaker by
// one step with reason HEARTBEAT_MISS, at most once per sweep.
func (m *Monitor) Sweep(ctx context.Context) ([]StaleAgent, error) {
	agentIDs, err := m.store.AgentIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}

	var stale []StaleAgent
	escalated := false

	for _, agentID := range agentIDs {
		record, changed, err := m.sweepAgent(ctx, agentID)
		if err != nil {
			return stale, err
		}
		if !changed {
			continue
		}

		stale = append(stale, StaleAgent{
			AgentID:           record.AgentID,
			Status:            record.Status,
			ConsecutiveMisses: record.ConsecutiveMisses,
		})

		if record.ConsecutiveMisses == 1 && !escalated {
			if _, _, err := m.breaker.EscalateStep(ctx, "HEARTBEAT_MISS", true); err != nil {
				return stale, fmt.Errorf("failed to escalate breaker: %w", err)
			}
			escalated = true
		}
	}

	return stale, nil
}

// sweepAgent charges at most one miss to a single agent. Returns the updated
// record and whether a miss was charged.
func (m *Monitor) sweepAgent(ctx context.Context, agentID string) (*statestore.HeartbeatRecord, bool, error) {
	lock := m.agentLock(agentID)
	lock.Lock()
	defer lock.Unlock()

	record, err := m.store.GetHeartbeat(ctx, agentID)
	if err != nil {
		if statestore.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read heartbeat for %s: %w", agentID, err)
	}

	now := time.Now().UnixMilli()
	if record.NextExpectedAtMs > now {
		return record, false, nil
	}

	record.ConsecutiveMisses++
	record.Status = statusForMisses(record.ConsecutiveMisses)
	// Advance the deadline by exactly one interval so this missed window is
	// charged once no matter how many times Sweep runs inside it.
	record.NextExpectedAtMs += m.beatInterval.Milliseconds()

	if err := m.store.PutHeartbeat(ctx, record); err != nil {
		return nil, false, fmt.Errorf("failed to update heartbeat for %s: %w", agentID, err)
	}

	category := "HEARTBEAT_MISS"
	severity := statestore.SeverityWarning
	if record.Status == statestore.StatusDead {
		category = "HEARTBEAT_DEAD"
		severity = statestore.SeverityCritical
	}

	_, err = m.ledger.Append(ctx, ledger.ChainHeartbeat, category, severity, agentID, map[string]any{
		"consecutive_misses": record.ConsecutiveMisses,
		"status":             string(record.Status),
		"last_beat_at_ms":    record.LastBeatAtMs,
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to record miss event for %s: %w", agentID, err)
	}

	return record, true, nil
}

// statusForMisses maps a consecutive miss count to the liveness ladder:
// 0 ALIVE, 1 STALE, 2+ DEAD.
func statusForMisses(misses int) statestore.AgentStatus {
	switch {
	case misses <= 0:
		return statestore.StatusAlive
	case misses == 1:
		return statestore.StatusStale
	default:
		return statestore.StatusDead
	}
}
