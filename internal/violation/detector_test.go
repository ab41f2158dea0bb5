package violation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillon/vigil/internal/breaker"
	"github.com/quillon/vigil/internal/ledger"
	"github.com/quillon/vigil/pkg/statestore"
)

func setupTestDetector(t *testing.T) (*Detector, *breaker.Breaker, *statestore.Store) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := statestore.New(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	lg := ledger.New(store)
	brk := breaker.New(store, lg)
	return New(store, lg, brk, time.Hour, 3, 7*24*time.Hour, 5), brk, store
}

func TestCheckBinding(t *testing.T) {
	ctx := context.Background()

	t.Run("matching fingerprint passes", func(t *testing.T) {
		d, brk, _ := setupTestDetector(t)
		require.NoError(t, d.PublishFingerprint(ctx, "agent-1", "fp-1"))

		outcome, err := d.CheckBinding(ctx, "agent-1", "fp-1", "ORDER_PLACEMENT")
		require.NoError(t, err)
		assert.True(t, outcome.OK)
		assert.Nil(t, outcome.Violation)

		state, err := brk.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, statestore.LevelNominal, state.Level)
	})

	t.Run("missing fingerprint is a blocked Class A violation", func(t *testing.T) {
		d, brk, _ := setupTestDetector(t)
		require.NoError(t, d.PublishFingerprint(ctx, "agent-1", "fp-1"))

		outcome, err := d.CheckBinding(ctx, "agent-1", "", "ORDER_PLACEMENT")
		require.NoError(t, err)
		assert.False(t, outcome.OK)
		assert.True(t, outcome.CRPTriggered)
		require.NotNil(t, outcome.Violation)
		assert.Equal(t, statestore.ClassA, outcome.Violation.Class)
		assert.Equal(t, TypeMissingFingerprint, outcome.Violation.ViolationType)
		assert.Equal(t, statestore.EnforcementBlocked, outcome.Violation.Enforcement)

		// Class A escalates straight to SEVERE.
		state, err := brk.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, statestore.LevelSevere, state.Level)
	})

	t.Run("mismatched fingerprint is STALE_STATE_USE", func(t *testing.T) {
		d, _, _ := setupTestDetector(t)
		require.NoError(t, d.PublishFingerprint(ctx, "agent-1", "fp-2"))

		outcome, err := d.CheckBinding(ctx, "agent-1", "fp-1", "ORDER_PLACEMENT")
		require.NoError(t, err)
		assert.False(t, outcome.OK)
		require.NotNil(t, outcome.Violation)
		assert.Equal(t, TypeStaleStateUse, outcome.Violation.ViolationType)
		assert.Equal(t, "fp-2", outcome.Violation.ExpectedFingerprint)
		assert.Equal(t, "fp-1", outcome.Violation.ObservedFingerprint)
	})

	t.Run("suspended agent is refused outright", func(t *testing.T) {
		d, _, _ := setupTestDetector(t)
		require.NoError(t, d.TriggerSuspension(ctx, "agent-1", "test"))

		outcome, err := d.CheckBinding(ctx, "agent-1", "fp-1", "ORDER_PLACEMENT")
		assert.ErrorIs(t, err, ErrSuspended)
		require.NotNil(t, outcome)
		assert.False(t, outcome.OK)
	})
}

func TestSuspensionWindow(t *testing.T) {
	ctx := context.Background()

	t.Run("third violation inside the window suspends", func(t *testing.T) {
		d, _, _ := setupTestDetector(t)
		require.NoError(t, d.PublishFingerprint(ctx, "agent-1", "fp-1"))

		for i := 0; i < 2; i++ {
			outcome, err := d.CheckBinding(ctx, "agent-1", "wrong", "ORDER_PLACEMENT")
			require.NoError(t, err)
			assert.False(t, outcome.SuspensionTriggered)
		}

		outcome, err := d.CheckBinding(ctx, "agent-1", "wrong", "ORDER_PLACEMENT")
		require.NoError(t, err)
		assert.True(t, outcome.SuspensionTriggered)

		suspended, err := d.IsSuspended(ctx, "agent-1")
		require.NoError(t, err)
		assert.True(t, suspended)
	})

	t.Run("violations outside the window do not count", func(t *testing.T) {
		d, _, store := setupTestDetector(t)
		require.NoError(t, d.PublishFingerprint(ctx, "agent-1", "fp-1"))

		// Two stale charges from a prior hour, already outside the window.
		now := time.Now().UnixMilli()
		for i := 0; i < 2; i++ {
			_, err := store.AddToSuspensionWindow(ctx, "agent-1", uuid.New().String(),
				now-2*time.Hour.Milliseconds(), now-time.Hour.Milliseconds())
			require.NoError(t, err)
		}

		// Two fresh violations: total inside the window is 2, not 4.
		for i := 0; i < 2; i++ {
			outcome, err := d.CheckBinding(ctx, "agent-1", "wrong", "ORDER_PLACEMENT")
			require.NoError(t, err)
			assert.False(t, outcome.SuspensionTriggered)
		}

		suspended, err := d.IsSuspended(ctx, "agent-1")
		require.NoError(t, err)
		assert.False(t, suspended)
	})

	t.Run("class C events never charge the window", func(t *testing.T) {
		d, _, _ := setupTestDetector(t)

		for i := 0; i < 5; i++ {
			outcome, err := d.RecordAdversarialEvent(ctx, "agent-1", statestore.ClassC, map[string]any{"i": i})
			require.NoError(t, err)
			assert.True(t, outcome.OK)
			assert.False(t, outcome.SuspensionTriggered)
		}

		suspended, err := d.IsSuspended(ctx, "agent-1")
		require.NoError(t, err)
		assert.False(t, suspended)
	})

	t.Run("suspension fires once", func(t *testing.T) {
		d, _, _ := setupTestDetector(t)
		require.NoError(t, d.PublishFingerprint(ctx, "agent-1", "fp-1"))

		triggered := 0
		for i := 0; i < 3; i++ {
			outcome, err := d.CheckBinding(ctx, "agent-1", "wrong", "ORDER_PLACEMENT")
			require.NoError(t, err)
			if outcome.SuspensionTriggered {
				triggered++
			}
		}
		assert.Equal(t, 1, triggered)
	})
}

func TestRecordAdversarialEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("class C is logged only", func(t *testing.T) {
		d, brk, _ := setupTestDetector(t)

		outcome, err := d.RecordAdversarialEvent(ctx, "agent-1", statestore.ClassC, nil)
		require.NoError(t, err)
		assert.True(t, outcome.OK)
		assert.False(t, outcome.CRPTriggered)

		state, err := brk.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, statestore.LevelNominal, state.Level)
	})

	t.Run("class B escalates once the rolling window limit is crossed", func(t *testing.T) {
		d, brk, _ := setupTestDetector(t)
		// Tighter limit for the test: 2 occurrences trigger.
		d.classBLimit = 2
		// Keep the 3-strike suspension window out of the way.
		d.windowLimit = 10

		outcome, err := d.RecordAdversarialEvent(ctx, "agent-1", statestore.ClassB, nil)
		require.NoError(t, err)
		assert.False(t, outcome.CRPTriggered)
		assert.Equal(t, statestore.EnforcementLogged, outcome.Violation.Enforcement)

		outcome, err = d.RecordAdversarialEvent(ctx, "agent-1", statestore.ClassB, nil)
		require.NoError(t, err)
		assert.True(t, outcome.CRPTriggered)
		assert.Equal(t, statestore.EnforcementEscalated, outcome.Violation.Enforcement)

		state, err := brk.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, statestore.LevelLowCaution, state.Level)
	})

	t.Run("class A report behaves like a binding failure", func(t *testing.T) {
		d, brk, _ := setupTestDetector(t)

		outcome, err := d.RecordAdversarialEvent(ctx, "agent-1", statestore.ClassA, map[string]any{"detail": "forged payload"})
		require.NoError(t, err)
		assert.False(t, outcome.OK)
		assert.True(t, outcome.CRPTriggered)

		state, err := brk.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, statestore.LevelSevere, state.Level)
	})

	t.Run("rejects unknown class", func(t *testing.T) {
		d, _, _ := setupTestDetector(t)
		_, err := d.RecordAdversarialEvent(ctx, "agent-1", statestore.ViolationClass("Z"), nil)
		assert.Error(t, err)
	})
}

func TestClearSuspension(t *testing.T) {
	ctx := context.Background()

	t.Run("requires an actor", func(t *testing.T) {
		d, _, _ := setupTestDetector(t)
		require.NoError(t, d.TriggerSuspension(ctx, "agent-1", "test"))

		err := d.ClearSuspension(ctx, "agent-1", "")
		assert.Error(t, err)
	})

	t.Run("clears and allows the agent again", func(t *testing.T) {
		d, _, _ := setupTestDetector(t)
		require.NoError(t, d.PublishFingerprint(ctx, "agent-1", "fp-1"))
		require.NoError(t, d.TriggerSuspension(ctx, "agent-1", "test"))

		require.NoError(t, d.ClearSuspension(ctx, "agent-1", "ops"))

		suspended, err := d.IsSuspended(ctx, "agent-1")
		require.NoError(t, err)
		assert.False(t, suspended)

		outcome, err := d.CheckBinding(ctx, "agent-1", "fp-1", "ORDER_PLACEMENT")
		require.NoError(t, err)
		assert.True(t, outcome.OK)
	})

	t.Run("unknown agent errors", func(t *testing.T) {
		d, _, _ := setupTestDetector(t)
		err := d.ClearSuspension(ctx, "ghost", "ops")
		assert.Error(t, err)
	})
}

func TestViolationAudit(t *testing.T) {
	d, _, store := setupTestDetector(t)
	ctx := context.Background()
	require.NoError(t, d.PublishFingerprint(ctx, "agent-1", "fp-1"))

	_, err := d.CheckBinding(ctx, "agent-1", "wrong", "ORDER_PLACEMENT")
	require.NoError(t, err)
	_, err = d.RecordAdversarialEvent(ctx, "agent-1", statestore.ClassC, nil)
	require.NoError(t, err)

	records, err := d.AgentViolations(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, statestore.ClassA, records[0].Class)
	assert.Equal(t, statestore.ClassC, records[1].Class)

	lg := ledger.New(store)
	result, err := lg.Verify(ctx, ledger.ChainViolation)
	require.NoError(t, err)
	assert.True(t, result.Valid)
	assert.Equal(t, int64(2), result.Length)
}
