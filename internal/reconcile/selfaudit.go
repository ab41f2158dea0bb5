package reconcile

import (
	"context"

	"github.com/quillon/vigil/pkg/statestore"
)

// BreakerAudit is a built-in Source that cross-checks the breaker's current
// state record against the newest entry in its own history. The two are
// written in one pipeline, so any disagreement means the store was mutated
// out of band.
type BreakerAudit struct {
	store *statestore.Store
}

// NewBreakerAudit creates the built-in breaker self-audit source.
func NewBreakerAudit(store *statestore.Store) *BreakerAudit {
	return &BreakerAudit{store: store}
}

// ComponentName implements Source.
func (a *BreakerAudit) ComponentName() string {
	return "breaker"
}

// States implements Source. The current record is the agent view, the newest
// history entry is the canonical view. Before any transition has been
// recorded both views are empty, which scores as reconciled.
func (a *BreakerAudit) States(ctx context.Context) (map[string]any, map[string]any, error) {
	current, err := a.store.BreakerCurrent(ctx)
	if err != nil && !statestore.IsNotFound(err) {
		return nil, nil, err
	}

	history, err := a.store.BreakerHistory(ctx)
	if err != nil {
		return nil, nil, err
	}

	agentView := map[string]any{}
	if current != nil {
		agentView = stateFields(current)
	}

	canonicalView := map[string]any{}
	if len(history) > 0 {
		canonicalView = stateFields(history[len(history)-1])
	}
	return agentView, canonicalView, nil
}

func stateFields(s *statestore.BreakerState) map[string]any {
	return map[string]any{
		"state_id":       s.StateID,
		"level":          int(s.Level),
		"trigger_reason": s.TriggerReason,
		"entered_at_ms":  s.EnteredAtMs,
	}
}
