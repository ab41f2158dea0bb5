// Package attest issues and verifies signed digests of kernel state.
//
// An attestation covers the current circuit breaker state and the head of
// every event chain, canonicalized and hashed so an external auditor can
// confirm exactly which state was signed. Clearing a blackout requires a
// verifiable attestation.
package attest

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/quillon/vigil/internal/breaker"
	"github.com/quillon/vigil/pkg/statestore"
)

// Attestor signs kernel state digests with an Ed25519 key.
type Attestor struct {
	store   *statestore.Store
	breaker *breaker.Breaker

	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// New creates an Attestor with the given keypair.
func New(store *statestore.Store, brk *breaker.Breaker, priv ed25519.PrivateKey) *Attestor {
	return &Attestor{
		store:   store,
		breaker: brk,
		priv:    priv,
		pub:     priv.Public().(ed25519.PublicKey),
	}
}

// GenerateKey creates a fresh Ed25519 private key.
func GenerateKey() (ed25519.PrivateKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return priv, nil
}

// Issue signs the current kernel state and persists the attestation.
func (a *Attestor) Issue(ctx context.Context) (*statestore.Attestation, error) {
	digest, err := a.stateDigest(ctx)
	if err != nil {
		return nil, err
	}

	signature := ed25519.Sign(a.priv, []byte(digest))

	attestation := &statestore.Attestation{
		AttestationID: uuid.New().String(),
		StateDigest:   digest,
		Signature:     hex.EncodeToString(signature),
		PublicKey:     hex.EncodeToString(a.pub),
		IssuedAtMs:    time.Now().UnixMilli(),
	}

	if err := a.store.PutAttestation(ctx, attestation); err != nil {
		return nil, err
	}
	return attestation, nil
}

// Verify checks a stored attestation: the signature must validate against the
// recorded public key, and that key must match this attestor's own.
func (a *Attestor) Verify(ctx context.Context, attestationID string) error {
	attestation, err := a.store.GetAttestation(ctx, attestationID)
	if err != nil {
		return err
	}

	pub, err := hex.DecodeString(attestation.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("attestation %s has a malformed public key", attestationID)
	}
	if !a.pub.Equal(ed25519.PublicKey(pub)) {
		return fmt.Errorf("attestation %s was not signed by this kernel", attestationID)
	}

	signature, err := hex.DecodeString(attestation.Signature)
	if err != nil {
		return fmt.Errorf("attestation %s has a malformed signature", attestationID)
	}

	if !ed25519.Verify(a.pub, []byte(attestation.StateDigest), signature) {
		return fmt.Errorf("attestation %s failed signature verification", attestationID)
	}
	return nil
}

// Get returns a stored attestation by ID.
func (a *Attestor) Get(ctx context.Context, attestationID string) (*statestore.Attestation, error) {
	return a.store.GetAttestation(ctx, attestationID)
}

// stateDigest builds the canonical digest over breaker state and chain heads.
func (a *Attestor) stateDigest(ctx context.Context) (string, error) {
	state, err := a.breaker.Current(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read breaker state: %w", err)
	}

	chains, err := a.store.Chains(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list chains: %w", err)
	}
	sort.Strings(chains)

	heads := make([]*statestore.ChainHead, 0, len(chains))
	for _, chainID := range chains {
		head, err := a.store.ChainHead(ctx, chainID)
		if err != nil {
			return "", fmt.Errorf("failed to read head of chain %s: %w", chainID, err)
		}
		heads = append(heads, head)
	}

	payload := struct {
		BreakerLevel statestore.Level        `json:"breaker_level"`
		BreakerSince int64                   `json:"breaker_since_ms"`
		ChainHeads   []*statestore.ChainHead `json:"chain_heads"`
		InstanceName string                  `json:"instance_name"`
	}{
		BreakerLevel: state.Level,
		BreakerSince: state.EnteredAtMs,
		ChainHeads:   heads,
		InstanceName: a.store.InstanceName(),
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode state payload: %w", err)
	}

	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize state payload: %w", err)
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
