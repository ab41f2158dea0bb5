package breaker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillon/vigil/internal/ledger"
	"github.com/quillon/vigil/pkg/statestore"
)

func setupTestBreaker(t *testing.T) (*Breaker, *statestore.Store) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := statestore.New(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return New(store, ledger.New(store)), store
}

func TestCurrentDefaultsToNominal(t *testing.T) {
	brk, store := setupTestBreaker(t)
	ctx := context.Background()

	state, err := brk.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, statestore.LevelNominal, state.Level)
	assert.Equal(t, "INITIAL", state.TriggerReason)

	// The initial record is installed once; repeated reads observe the same
	// state ID and entry time rather than a fresh synthetic state per query.
	again, err := brk.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.StateID, again.StateID)
	assert.Equal(t, state.EnteredAtMs, again.EnteredAtMs)

	persisted, err := store.BreakerCurrent(ctx)
	require.NoError(t, err)
	assert.Equal(t, state.StateID, persisted.StateID)
}

func TestEscalate(t *testing.T) {
	ctx := context.Background()

	t.Run("installs a more severe level", func(t *testing.T) {
		brk, _ := setupTestBreaker(t)

		state, installed, err := brk.Escalate(ctx, statestore.LevelSevere, "VIOLATION", true)
		require.NoError(t, err)
		assert.True(t, installed)
		assert.Equal(t, statestore.LevelSevere, state.Level)
		assert.True(t, state.AutoTriggered)

		current, err := brk.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, statestore.LevelSevere, current.Level)
	})

	t.Run("never regresses toward nominal", func(t *testing.T) {
		brk, _ := setupTestBreaker(t)

		_, installed, err := brk.Escalate(ctx, statestore.LevelSevere, "VIOLATION", true)
		require.NoError(t, err)
		require.True(t, installed)

		// A later, less severe trigger must not move the ladder back.
		state, installed, err := brk.Escalate(ctx, statestore.LevelLowCaution, "HEARTBEAT_MISS", true)
		require.NoError(t, err)
		assert.False(t, installed)
		assert.Equal(t, statestore.LevelSevere, state.Level)
	})

	t.Run("same level is a no-op", func(t *testing.T) {
		brk, _ := setupTestBreaker(t)

		_, installed, err := brk.Escalate(ctx, statestore.LevelHighCaution, "FIRST", true)
		require.NoError(t, err)
		require.True(t, installed)

		_, installed, err = brk.Escalate(ctx, statestore.LevelHighCaution, "SECOND", true)
		require.NoError(t, err)
		assert.False(t, installed)
	})

	t.Run("rejects empty reason and bad level", func(t *testing.T) {
		brk, _ := setupTestBreaker(t)

		_, _, err := brk.Escalate(ctx, statestore.LevelSevere, "", true)
		assert.Error(t, err)

		_, _, err = brk.Escalate(ctx, statestore.Level(0), "REASON", true)
		assert.Error(t, err)
	})

	t.Run("records every transition on the breaker chain", func(t *testing.T) {
		brk, store := setupTestBreaker(t)

		_, _, err := brk.Escalate(ctx, statestore.LevelHighCaution, "HEARTBEAT_MISS", true)
		require.NoError(t, err)
		_, _, err = brk.Escalate(ctx, statestore.LevelSevere, "VIOLATION", true)
		require.NoError(t, err)

		lg := ledger.New(store)
		result, err := lg.Verify(ctx, ledger.ChainBreaker)
		require.NoError(t, err)
		assert.True(t, result.Valid)
		assert.Equal(t, int64(2), result.Length)
	})
}

func TestEscalateStep(t *testing.T) {
	brk, _ := setupTestBreaker(t)
	ctx := context.Background()

	t.Run("moves exactly one level toward lockdown", func(t *testing.T) {
		state, installed, err := brk.EscalateStep(ctx, "HEARTBEAT_MISS", true)
		require.NoError(t, err)
		assert.True(t, installed)
		assert.Equal(t, statestore.LevelLowCaution, state.Level)
	})

	t.Run("stays at lockdown", func(t *testing.T) {
		_, _, err := brk.Escalate(ctx, statestore.LevelLockdown, "CATASTROPHE", true)
		require.NoError(t, err)

		state, installed, err := brk.EscalateStep(ctx, "MORE", true)
		require.NoError(t, err)
		assert.False(t, installed)
		assert.Equal(t, statestore.LevelLockdown, state.Level)
	})

	t.Run("rejects empty reason", func(t *testing.T) {
		brk, _ := setupTestBreaker(t)
		_, _, err := brk.EscalateStep(ctx, "", true)
		assert.Error(t, err)
	})
}

func TestEscalateStepConcurrent(t *testing.T) {
	brk, _ := setupTestBreaker(t)
	ctx := context.Background()

	// Concurrent single steps must each install a distinct transition, not
	// race on the same current level and collapse into one step.
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := brk.EscalateStep(ctx, "HEARTBEAT_MISS", true)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	current, err := brk.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, statestore.LevelHighCaution, current.Level)
}

func TestDeescalate(t *testing.T) {
	ctx := context.Background()

	escalated := func(t *testing.T) (*Breaker, *statestore.Store) {
		brk, store := setupTestBreaker(t)
		_, _, err := brk.Escalate(ctx, statestore.LevelSevere, "VIOLATION", true)
		require.NoError(t, err)
		return brk, store
	}

	t.Run("requires an actor", func(t *testing.T) {
		brk, _ := escalated(t)
		_, err := brk.Deescalate(ctx, statestore.LevelHighCaution, "", "resolved")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("requires a justification", func(t *testing.T) {
		brk, _ := escalated(t)
		_, err := brk.Deescalate(ctx, statestore.LevelHighCaution, "ops", "")
		assert.Error(t, err)
	})

	t.Run("target must be strictly less severe", func(t *testing.T) {
		brk, _ := escalated(t)

		_, err := brk.Deescalate(ctx, statestore.LevelSevere, "ops", "resolved")
		assert.ErrorIs(t, err, ErrNotLessSevere)

		_, err = brk.Deescalate(ctx, statestore.LevelLockdown, "ops", "resolved")
		assert.ErrorIs(t, err, ErrNotLessSevere)
	})

	t.Run("succeeds with actor and justification", func(t *testing.T) {
		brk, _ := escalated(t)

		state, err := brk.Deescalate(ctx, statestore.LevelHighCaution, "ops", "incident resolved")
		require.NoError(t, err)
		assert.Equal(t, statestore.LevelHighCaution, state.Level)
		assert.Equal(t, "ops", state.Actor)
		assert.False(t, state.AutoTriggered)
	})

	t.Run("blocked while latest reconciliation is divergent", func(t *testing.T) {
		brk, store := escalated(t)

		snapshot := &statestore.ReconciliationSnapshot{
			SnapshotID:        uuid.New().String(),
			ComponentName:     "positions",
			DiscrepancyScore:  0.4,
			Threshold:         0.05,
			ThresholdExceeded: true,
			Status:            statestore.ReconDivergent,
			RecordedAtMs:      time.Now().UnixMilli(),
		}
		require.NoError(t, store.PutSnapshot(context.Background(), snapshot))

		_, err := brk.Deescalate(ctx, statestore.LevelHighCaution, "ops", "resolved")
		assert.ErrorIs(t, err, ErrDivergent)

		// Escalation stays possible while divergent.
		_, installed, err := brk.Escalate(ctx, statestore.LevelLockdown, "DIVERGENCE", true)
		require.NoError(t, err)
		assert.True(t, installed)
	})

	t.Run("allowed again once reconciled", func(t *testing.T) {
		brk, store := escalated(t)

		snapshot := &statestore.ReconciliationSnapshot{
			SnapshotID:       uuid.New().String(),
			ComponentName:    "positions",
			DiscrepancyScore: 0.01,
			Threshold:        0.05,
			Status:           statestore.ReconReconciled,
			RecordedAtMs:     time.Now().UnixMilli(),
		}
		require.NoError(t, store.PutSnapshot(context.Background(), snapshot))

		state, err := brk.Deescalate(ctx, statestore.LevelNominal, "ops", "resolved")
		require.NoError(t, err)
		assert.Equal(t, statestore.LevelNominal, state.Level)
	})
}
