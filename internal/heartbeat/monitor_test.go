package heartbeat

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

const testBeatInterval = 30 * time.Second

func setupTestMonitor(t *testing.T) (*Monitor, *breaker.Breaker, *statestore.Store) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := statestore.New(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	lg := ledger.New(store)
	brk := breaker.New(store, lg)
	return New(store, lg, brk, testBeatInterval, 0.5), brk, store
}

// silentAgent plants a heartbeat record whose deadline passed agoMs ago, as if
// the agent beat once and then went quiet.
func silentAgent(t *testing.T, store *statestore.Store, agentID string, misses int, agoMs int64) {
	t.Helper()
	now := time.Now().UnixMilli()
	record := &statestore.HeartbeatRecord{
		AgentID:           agentID,
		Status:            statusForMisses(misses),
		HealthScore:       1.0,
		LastBeatAtMs:      now - agoMs - testBeatInterval.Milliseconds(),
		NextExpectedAtMs:  now - agoMs,
		ConsecutiveMisses: misses,
	}
	require.NoError(t, store.PutHeartbeat(context.Background(), record))
}

func TestBeat(t *testing.T) {
	monitor, _, _ := setupTestMonitor(t)
	ctx := context.Background()

	t.Run("healthy beat records ALIVE", func(t *testing.T) {
		record, err := monitor.Beat(ctx, "agent-1", 0.9, "processing")
		require.NoError(t, err)
		assert.Equal(t, statestore.StatusAlive, record.Status)
		assert.Equal(t, 0, record.ConsecutiveMisses)
		assert.Greater(t, record.NextExpectedAtMs, record.LastBeatAtMs)
	})

	t.Run("low health score records DEGRADED", func(t *testing.T) {
		record, err := monitor.Beat(ctx, "agent-2", 0.3, "")
		require.NoError(t, err)
		assert.Equal(t, statestore.StatusDegraded, record.Status)
	})

	t.Run("beat resets accumulated misses", func(t *testing.T) {
		monitor2, _, store := setupTestMonitor(t)
		silentAgent(t, store, "agent-3", 1, 1000)

		record, err := monitor2.Beat(ctx, "agent-3", 0.9, "")
		require.NoError(t, err)
		assert.Equal(t, 0, record.ConsecutiveMisses)
		assert.Equal(t, statestore.StatusAlive, record.Status)
	})

	t.Run("rejects invalid input", func(t *testing.T) {
		_, err := monitor.Beat(ctx, "", 0.9, "")
		assert.Error(t, err)

		_, err = monitor.Beat(ctx, "agent-1", 1.2, "")
		assert.Error(t, err)
	})
}

func TestSweep(t *testing.T) {
	ctx := context.Background()

	t.Run("agent within deadline is untouched", func(t *testing.T) {
		monitor, _, _ := setupTestMonitor(t)
		_, err := monitor.Beat(ctx, "agent-1", 1.0, "")
		require.NoError(t, err)

		stale, err := monitor.Sweep(ctx)
		require.NoError(t, err)
		assert.Empty(t, stale)
	})

	t.Run("first miss marks STALE and escalates the breaker one step", func(t *testing.T) {
		monitor, brk, store := setupTestMonitor(t)
		silentAgent(t, store, "agent-1", 0, 1000)

		stale, err := monitor.Sweep(ctx)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, statestore.StatusStale, stale[0].Status)
		assert.Equal(t, 1, stale[0].ConsecutiveMisses)

		state, err := brk.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, statestore.LevelLowCaution, state.Level)
		assert.Equal(t, "HEARTBEAT_MISS", state.TriggerReason)
	})

	t.Run("sweep is idempotent within one missed window", func(t *testing.T) {
		monitor, brk, store := setupTestMonitor(t)
		silentAgent(t, store, "agent-1", 0, 1000)

		stale, err := monitor.Sweep(ctx)
		require.NoError(t, err)
		require.Len(t, stale, 1)

		// The charge advanced the deadline one interval; the window is paid for.
		stale, err = monitor.Sweep(ctx)
		require.NoError(t, err)
		assert.Empty(t, stale)

		record, err := monitor.Get(ctx, "agent-1")
		require.NoError(t, err)
		assert.Equal(t, 1, record.ConsecutiveMisses)

		// Only the first sweep moved the breaker, and only by one step.
		state, err := brk.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, statestore.LevelLowCaution, state.Level)
	})

	t.Run("second missed window marks DEAD without another escalation", func(t *testing.T) {
		monitor, brk, store := setupTestMonitor(t)

		// Two windows already elapsed: two consecutive sweeps each charge one miss.
		silentAgent(t, store, "agent-1", 0, 2*testBeatInterval.Milliseconds())

		stale, err := monitor.Sweep(ctx)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, statestore.StatusStale, stale[0].Status)

		stale, err = monitor.Sweep(ctx)
		require.NoError(t, err)
		require.Len(t, stale, 1)
		assert.Equal(t, statestore.StatusDead, stale[0].Status)
		assert.Equal(t, 2, stale[0].ConsecutiveMisses)

		// Escalation fires only on the 0 to 1 transition.
		state, err := brk.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, statestore.LevelLowCaution, state.Level)
	})

	t.Run("one escalation per sweep even with many silent agents", func(t *testing.T) {
		monitor, brk, store := setupTestMonitor(t)
		silentAgent(t, store, "agent-1", 0, 1000)
		silentAgent(t, store, "agent-2", 0, 1000)
		silentAgent(t, store, "agent-3", 0, 1000)

		stale, err := monitor.Sweep(ctx)
		require.NoError(t, err)
		assert.Len(t, stale, 3)

		state, err := brk.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, statestore.LevelLowCaution, state.Level)
	})

	t.Run("misses land on the heartbeat chain", func(t *testing.T) {
		monitor, _, store := setupTestMonitor(t)
		silentAgent(t, store, "agent-1", 1, 1000)

		_, err := monitor.Sweep(ctx)
		require.NoError(t, err)

		lg := ledger.New(store)
		result, err := lg.Verify(ctx, ledger.ChainHeartbeat)
		require.NoError(t, err)
		assert.True(t, result.Valid)
		assert.Equal(t, int64(1), result.Length)
	})
}

func TestStatusForMisses(t *testing.T) {
	assert.Equal(t, statestore.StatusAlive, statusForMisses(0))
	assert.Equal(t, statestore.StatusStale, statusForMisses(1))
	assert.Equal(t, statestore.StatusDead, statusForMisses(2))
	assert.Equal(t, statestore.StatusDead, statusForMisses(7))
}
