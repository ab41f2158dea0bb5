package attest

import (
	"context"
	"encoding/hex"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillon/vigil/internal/breaker"
	"github.com/quillon/vigil/internal/ledger"
	"github.com/quillon/vigil/pkg/statestore"
)

func setupTestAttestor(t *testing.T) (*Attestor, *breaker.Breaker, *statestore.Store) {
	mr := miniredis.NewMiniRedis()
	err := mr.Start()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	store, err := statestore.New(&redis.Options{Addr: mr.Addr()}, "test-instance")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	lg := ledger.New(store)
	brk := breaker.New(store, lg)

	priv, err := GenerateKey()
	require.NoError(t, err)
	return New(store, brk, priv), brk, store
}

func TestIssueAndVerify(t *testing.T) {
	ctx := context.Background()

	t.Run("issued attestation verifies", func(t *testing.T) {
		a, _, _ := setupTestAttestor(t)

		attestation, err := a.Issue(ctx)
		require.NoError(t, err)
		assert.NotEmpty(t, attestation.AttestationID)
		assert.Len(t, attestation.StateDigest, 64)

		assert.NoError(t, a.Verify(ctx, attestation.AttestationID))
	})

	t.Run("digest covers the breaker state", func(t *testing.T) {
		a, brk, _ := setupTestAttestor(t)

		first, err := a.Issue(ctx)
		require.NoError(t, err)

		_, _, err = brk.Escalate(ctx, statestore.LevelHighCaution, "test", false)
		require.NoError(t, err)

		second, err := a.Issue(ctx)
		require.NoError(t, err)
		assert.NotEqual(t, first.StateDigest, second.StateDigest)
	})

	t.Run("digest covers chain heads", func(t *testing.T) {
		a, _, store := setupTestAttestor(t)
		lg := ledger.New(store)

		first, err := a.Issue(ctx)
		require.NoError(t, err)

		_, err = lg.Append(ctx, ledger.ChainHeartbeat, "HEARTBEAT_MISS", statestore.SeverityWarning, "agent-1", nil)
		require.NoError(t, err)

		second, err := a.Issue(ctx)
		require.NoError(t, err)
		assert.NotEqual(t, first.StateDigest, second.StateDigest)
	})

	t.Run("digest is stable for unchanged state", func(t *testing.T) {
		a, brk, _ := setupTestAttestor(t)

		// Persist a real breaker state so both digests read the same record.
		_, _, err := brk.Escalate(ctx, statestore.LevelHighCaution, "test", false)
		require.NoError(t, err)

		first, err := a.Issue(ctx)
		require.NoError(t, err)
		second, err := a.Issue(ctx)
		require.NoError(t, err)
		assert.Equal(t, first.StateDigest, second.StateDigest)
	})

	t.Run("attestation signed by another kernel is rejected", func(t *testing.T) {
		a, brk, store := setupTestAttestor(t)

		otherPriv, err := GenerateKey()
		require.NoError(t, err)
		other := New(store, brk, otherPriv)

		foreign, err := other.Issue(ctx)
		require.NoError(t, err)

		err = a.Verify(ctx, foreign.AttestationID)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not signed by this kernel")
	})

	t.Run("tampered signature fails verification", func(t *testing.T) {
		a, _, store := setupTestAttestor(t)

		attestation, err := a.Issue(ctx)
		require.NoError(t, err)

		sig, err := hex.DecodeString(attestation.Signature)
		require.NoError(t, err)
		sig[0] ^= 0xff
		attestation.Signature = hex.EncodeToString(sig)
		require.NoError(t, store.PutAttestation(ctx, attestation))

		err = a.Verify(ctx, attestation.AttestationID)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed signature verification")
	})

	t.Run("malformed public key fails verification", func(t *testing.T) {
		a, _, store := setupTestAttestor(t)

		attestation, err := a.Issue(ctx)
		require.NoError(t, err)

		attestation.PublicKey = "zz"
		require.NoError(t, store.PutAttestation(ctx, attestation))

		err = a.Verify(ctx, attestation.AttestationID)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "malformed public key")
	})

	t.Run("unknown attestation is not found", func(t *testing.T) {
		a, _, _ := setupTestAttestor(t)
		err := a.Verify(ctx, "no-such-attestation")
		assert.True(t, statestore.IsNotFound(err))
	})
}

func TestGet(t *testing.T) {
	a, _, _ := setupTestAttestor(t)
	ctx := context.Background()

	issued, err := a.Issue(ctx)
	require.NoError(t, err)

	got, err := a.Get(ctx, issued.AttestationID)
	require.NoError(t, err)
	assert.Equal(t, issued.StateDigest, got.StateDigest)
	assert.Equal(t, issued.Signature, got.Signature)
}
