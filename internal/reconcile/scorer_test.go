package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillon/vigil/internal/breaker"
	"github.com/quillon/vigil/internal/ledger"
	"github.com/quillon/vigil/pkg/statestore"
)

type scorerFixture struct {
	scorer  *Scorer
	breaker *breaker.Breaker
	store   *statestore.Store
	ledger  *ledger.Ledger
	mr      *miniredis.Miniredis
}

func setupTestScorer(t *testing.T) *scorerFixture {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := statestore.New(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	lg := ledger.New(store)
	brk := breaker.New(store, lg)
	return &scorerFixture{
		scorer:  New(store, lg, brk, 0.05, 0.25),
		breaker: brk,
		store:   store,
		ledger:  lg,
		mr:      mr,
	}
}

// lastReconEvent returns the newest event on the reconciliation chain.
func lastReconEvent(t *testing.T, f *scorerFixture) *statestore.Event {
	t.Helper()
	ids, _, err := f.store.ChainEventIDs(context.Background(), ledger.ChainReconciliation)
	require.NoError(t, err)
	require.NotEmpty(t, ids)
	event, err := f.store.GetEvent(context.Background(), ids[len(ids)-1])
	require.NoError(t, err)
	return event
}

func TestReconcile(t *testing.T) {
	ctx := context.Background()

	t.Run("identical states are reconciled", func(t *testing.T) {
		f := setupTestScorer(t)

		state := map[string]any{"balance": 100.5, "positions": map[string]any{"BTC": 2}}
		snap, err := f.scorer.Reconcile(ctx, "portfolio", state, state)
		require.NoError(t, err)

		assert.Equal(t, 0.0, snap.DiscrepancyScore)
		assert.Equal(t, statestore.ReconReconciled, snap.Status)
		assert.False(t, snap.ThresholdExceeded)
	})

	t.Run("numeric types compare by value after normalization", func(t *testing.T) {
		f := setupTestScorer(t)

		agent := map[string]any{"qty": int64(3)}
		canonical := map[string]any{"qty": float64(3)}
		snap, err := f.scorer.Reconcile(ctx, "orders", agent, canonical)
		require.NoError(t, err)

		assert.Equal(t, 0.0, snap.DiscrepancyScore)
	})

	t.Run("one mismatched leaf out of twenty is reconciled", func(t *testing.T) {
		f := setupTestScorer(t)

		agent := map[string]any{}
		canonical := map[string]any{}
		for i := 0; i < 20; i++ {
			key := string(rune('a' + i))
			agent[key] = i
			canonical[key] = i
		}
		agent["a"] = 999

		snap, err := f.scorer.Reconcile(ctx, "portfolio", agent, canonical)
		require.NoError(t, err)

		assert.Equal(t, 0.05, snap.DiscrepancyScore)
		assert.Equal(t, statestore.ReconReconciled, snap.Status)
	})

	t.Run("score over threshold is divergent", func(t *testing.T) {
		f := setupTestScorer(t)

		agent := map[string]any{"a": 1, "b": 2, "c": 3, "d": 4, "e": 5}
		canonical := map[string]any{"a": 1, "b": 2, "c": 3, "d": 4, "e": 99}

		snap, err := f.scorer.Reconcile(ctx, "portfolio", agent, canonical)
		require.NoError(t, err)

		assert.Equal(t, 0.2, snap.DiscrepancyScore)
		assert.Equal(t, statestore.ReconDivergent, snap.Status)
		assert.True(t, snap.ThresholdExceeded)

		// Divergence is logged but does not escalate the breaker.
		state, err := f.breaker.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, statestore.LevelNominal, state.Level)

		assert.Equal(t, "RECONCILIATION_DIVERGENT", lastReconEvent(t, f).Category)
	})

	t.Run("score over suspend threshold escalates the breaker", func(t *testing.T) {
		f := setupTestScorer(t)

		agent := map[string]any{"a": 1, "b": 2}
		canonical := map[string]any{"a": 9, "b": 2}

		snap, err := f.scorer.Reconcile(ctx, "portfolio", agent, canonical)
		require.NoError(t, err)

		assert.Equal(t, 0.5, snap.DiscrepancyScore)
		assert.Equal(t, statestore.ReconSuspended, snap.Status)

		state, err := f.breaker.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, statestore.LevelLowCaution, state.Level)
		assert.Equal(t, "RECONCILIATION_DIVERGENCE", state.TriggerReason)

		assert.Equal(t, "RECONCILIATION_SUSPENDED", lastReconEvent(t, f).Category)
	})

	t.Run("one-sided keys count every leaf as mismatched", func(t *testing.T) {
		f := setupTestScorer(t)

		agent := map[string]any{"a": 1}
		canonical := map[string]any{"a": 1, "extra": map[string]any{"x": 1, "y": 2}}

		snap, err := f.scorer.Reconcile(ctx, "portfolio", agent, canonical)
		require.NoError(t, err)

		// 3 leaves total, the 2 under "extra" mismatch.
		assert.InDelta(t, 2.0/3.0, snap.DiscrepancyScore, 1e-9)
	})

	t.Run("nested objects are descended into", func(t *testing.T) {
		f := setupTestScorer(t)

		agent := map[string]any{"pos": map[string]any{"BTC": 2, "ETH": 10}, "cash": 500}
		canonical := map[string]any{"pos": map[string]any{"BTC": 2, "ETH": 11}, "cash": 500}

		snap, err := f.scorer.Reconcile(ctx, "portfolio", agent, canonical)
		require.NoError(t, err)

		assert.InDelta(t, 1.0/3.0, snap.DiscrepancyScore, 1e-9)
	})

	t.Run("empty object counts as one field", func(t *testing.T) {
		f := setupTestScorer(t)

		agent := map[string]any{"meta": map[string]any{}}
		canonical := map[string]any{}

		snap, err := f.scorer.Reconcile(ctx, "portfolio", agent, canonical)
		require.NoError(t, err)

		assert.Equal(t, 1.0, snap.DiscrepancyScore)
	})

	t.Run("both states empty scores zero", func(t *testing.T) {
		f := setupTestScorer(t)

		snap, err := f.scorer.Reconcile(ctx, "portfolio", nil, nil)
		require.NoError(t, err)

		assert.Equal(t, 0.0, snap.DiscrepancyScore)
		assert.Equal(t, statestore.ReconReconciled, snap.Status)
	})

	t.Run("rejects empty component name", func(t *testing.T) {
		f := setupTestScorer(t)
		_, err := f.scorer.Reconcile(ctx, "", nil, nil)
		assert.Error(t, err)
	})

	t.Run("divergent snapshot blocks de-escalation", func(t *testing.T) {
		f := setupTestScorer(t)

		_, _, err := f.breaker.Escalate(ctx, statestore.LevelHighCaution, "test", false)
		require.NoError(t, err)

		agent := map[string]any{}
		canonical := map[string]any{}
		for i := 0; i < 10; i++ {
			key := string(rune('a' + i))
			agent[key] = i
			canonical[key] = i
		}
		agent["a"] = 999

		snap, err := f.scorer.Reconcile(ctx, "portfolio", agent, canonical)
		require.NoError(t, err)
		assert.Equal(t, statestore.ReconDivergent, snap.Status)

		_, err = f.breaker.Deescalate(ctx, statestore.LevelNominal, "ops", "resolved")
		assert.ErrorIs(t, err, breaker.ErrDivergent)
	})
}

func TestLatest(t *testing.T) {
	f := setupTestScorer(t)
	ctx := context.Background()

	_, err := f.scorer.Latest(ctx)
	assert.True(t, statestore.IsNotFound(err))

	state := map[string]any{"a": 1}
	_, err = f.scorer.Reconcile(ctx, "portfolio", state, state)
	require.NoError(t, err)

	snap, err := f.scorer.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "portfolio", snap.ComponentName)
}

func TestBreakerAudit(t *testing.T) {
	ctx := context.Background()

	t.Run("agrees with history after a normal transition", func(t *testing.T) {
		f := setupTestScorer(t)

		_, _, err := f.breaker.Escalate(ctx, statestore.LevelHighCaution, "test", false)
		require.NoError(t, err)

		audit := NewBreakerAudit(f.store)
		agentView, canonicalView, err := audit.States(ctx)
		require.NoError(t, err)

		snap, err := f.scorer.Reconcile(ctx, audit.ComponentName(), agentView, canonicalView)
		require.NoError(t, err)
		assert.Equal(t, statestore.ReconReconciled, snap.Status)
	})

	t.Run("empty before any transition", func(t *testing.T) {
		f := setupTestScorer(t)

		audit := NewBreakerAudit(f.store)
		agentView, canonicalView, err := audit.States(ctx)
		require.NoError(t, err)
		assert.Empty(t, agentView)
		assert.Empty(t, canonicalView)
	})

	t.Run("detects out-of-band mutation of the current record", func(t *testing.T) {
		f := setupTestScorer(t)

		_, _, err := f.breaker.Escalate(ctx, statestore.LevelHighCaution, "test", false)
		require.NoError(t, err)

		// Overwrite the current record behind the store without touching
		// the history entry.
		f.mr.HSet(statestore.BreakerCurrentKey("test-instance"), "trigger_reason", "forged")

		audit := NewBreakerAudit(f.store)
		agentView, canonicalView, err := audit.States(ctx)
		require.NoError(t, err)

		snap, err := f.scorer.Reconcile(ctx, audit.ComponentName(), agentView, canonicalView)
		require.NoError(t, err)
		assert.NotEqual(t, statestore.ReconReconciled, snap.Status)
	})
}

func TestRunner(t *testing.T) {
	f := setupTestScorer(t)

	src := &staticSource{
		name:      "portfolio",
		agent:     map[string]any{"a": 1},
		canonical: map[string]any{"a": 1},
	}
	runner := NewRunner(f.scorer, []Source{src}, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err := runner.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	snap, err := f.scorer.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "portfolio", snap.ComponentName)
}

type staticSource struct {
	name      string
	agent     map[string]any
	canonical map[string]any
}

func (s *staticSource) ComponentName() string { return s.name }

func (s *staticSource) States(ctx context.Context) (map[string]any, map[string]any, error) {
	return s.agent, s.canonical, nil
}
