// Package gate implements the fail-closed freshness admission gate.
//
// Every economically consequential action consults Admit before proceeding.
// The gate denies when a blackout covers the asset's scope, when the circuit
// breaker's current level does not permit the action class, when no threshold
// (and no conservative default) is configured, and whenever the freshness
// oracle errors, times out, or reports an observation older than the
// threshold. Absence of data is staleness, never freshness.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/quillon/vigil/internal/breaker"
	"github.com/quillon/vigil/internal/ledger"
	"github.com/quillon/vigil/pkg/statestore"
)

// ScopeAll is the blackout scope covering every asset class.
const ScopeAll = "ALL"

var (
	// ErrUnauthorized is returned when a blackout clear carries no actor identity.
	ErrUnauthorized = errors.New("clearing a blackout requires an authorized actor")

	// ErrScopeStale is returned when a blackout clear is attempted while a
	// scoped asset is still stale.
	ErrScopeStale = errors.New("blackout cannot be cleared while scoped assets are stale")
)

// Attestor verifies signed state attestations. Clearing a blackout requires a
// verifiable attestation ID, binding the recovery action to external audit.
type Attestor interface {
	Verify(ctx context.Context, attestationID string) error
}

// Decision is the outcome of one admission check.
type Decision struct {
	Allow      bool          `json:"allow"`
	Reason     string        `json:"reason,omitempty"`
	AssetClass string        `json:"asset_class,omitempty"`
	Age        time.Duration `json:"-"`
	Threshold  time.Duration `json:"-"`
}

// Gate evaluates admission requests against blackouts, the severity ladder,
// freshness thresholds and the data-freshness oracle.
type Gate struct {
	store    *statestore.Store
	ledger   *ledger.Ledger
	breaker  *breaker.Breaker
	oracle   FreshnessOracle
	resolver *ClassResolver
	attestor Attestor

	oracleTimeout       time.Duration
	defaultMaxStaleness time.Duration
}

// New creates a Gate.
//
// oracleTimeout bounds the freshness-oracle round trip; a timeout resolves to
// deny, never allow. defaultMaxStaleness is the conservative fallback when no
// threshold is configured for an (asset class, action class) pair; zero means
// no fallback, so unconfigured pairs always deny.
func New(store *statestore.Store, lg *ledger.Ledger, brk *breaker.Breaker, oracle FreshnessOracle, resolver *ClassResolver, attestor Attestor, oracleTimeout, defaultMaxStaleness time.Duration) *Gate {
	return &Gate{
		store:               store,
		ledger:              lg,
		breaker:             brk,
		oracle:              oracle,
		resolver:            resolver,
		attestor:            attestor,
		oracleTimeout:       oracleTimeout,
		defaultMaxStaleness: defaultMaxStaleness,
	}
}

// Admit decides whether an action of actionClass may proceed against assetID.
//
// The check is fail-closed: configuration gaps, oracle errors and oracle
// timeouts all deny. Blackout state is re-read after the oracle round trip so
// no allow decision can outlive a blackout triggered during the check. Every
// denial is appended to the ledger before the decision is returned.
func (g *Gate) Admit(ctx context.Context, actionClass, assetID string) (*Decision, error) {
	if actionClass == "" || assetID == "" {
		return g.deny(ctx, actionClass, assetID, "", "action class and asset ID are required")
	}

	// 1. Scope-wide blackout overrides everything.
	if blackout := g.activeBlackout(ctx, ScopeAll); blackout != nil {
		return g.deny(ctx, actionClass, assetID, "", fmt.Sprintf("blackout active for scope ALL: %s", blackout.Reason))
	}

	assetClass := g.resolver.Resolve(assetID)
	if blackout := g.activeBlackout(ctx, assetClass); blackout != nil {
		return g.deny(ctx, actionClass, assetID, assetClass, fmt.Sprintf("blackout active for scope %s: %s", assetClass, blackout.Reason))
	}

	// 2. The severity ladder must permit the action class.
	current, err := g.breaker.Current(ctx)
	if err != nil {
		return g.deny(ctx, actionClass, assetID, assetClass, fmt.Sprintf("breaker state unavailable: %v", err))
	}
	if !breaker.Allows(current.Level, breaker.Capability(actionClass)) {
		return g.deny(ctx, actionClass, assetID, assetClass,
			fmt.Sprintf("severity level %s does not permit %s", current.Level, actionClass))
	}

	// 3. Threshold lookup, falling back to the conservative default.
	maxStaleness, err := g.maxStaleness(ctx, assetClass, actionClass)
	if err != nil {
		return g.deny(ctx, actionClass, assetID, assetClass, err.Error())
	}

	// 4. Oracle round trip under a hard timeout.
	age, err := g.observationAge(ctx, assetID)
	if err != nil {
		return g.deny(ctx, actionClass, assetID, assetClass, fmt.Sprintf("freshness oracle: %v", err))
	}

	if age > maxStaleness {
		return g.denyStale(ctx, actionClass, assetID, assetClass, age, maxStaleness)
	}

	// 5. A blackout triggered during the oracle round trip invalidates the
	// decision; re-read before allowing.
	if blackout := g.activeBlackout(ctx, ScopeAll); blackout != nil {
		return g.deny(ctx, actionClass, assetID, assetClass, fmt.Sprintf("blackout active for scope ALL: %s", blackout.Reason))
	}
	if blackout := g.activeBlackout(ctx, assetClass); blackout != nil {
		return g.deny(ctx, actionClass, assetID, assetClass, fmt.Sprintf("blackout active for scope %s: %s", assetClass, blackout.Reason))
	}

	return &Decision{
		Allow:      true,
		AssetClass: assetClass,
		Age:        age,
		Threshold:  maxStaleness,
	}, nil
}

// observationAge queries the oracle under the configured timeout. The
// deadline is enforced here rather than trusted to the oracle: an oracle that
// ignores its context cannot hold an admission open past the timeout, and the
// expired deadline resolves to an error, which the callers deny.
func (g *Gate) observationAge(ctx context.Context, assetID string) (time.Duration, error) {
	oracleCtx, cancel := context.WithTimeout(ctx, g.oracleTimeout)
	defer cancel()

	type observation struct {
		age time.Duration
		err error
	}
	results := make(chan observation, 1)
	go func() {
		age, err := g.oracle.ObservationAge(oracleCtx, assetID)
		results <- observation{age: age, err: err}
	}()

	select {
	case result := <-results:
		return result.age, result.err
	case <-oracleCtx.Done():
		return 0, fmt.Errorf("no answer within %s: %w", g.oracleTimeout, oracleCtx.Err())
	}
}

// activeBlackout returns the blackout state for a scope when it is active.
// Read errors are treated as an active blackout: fail closed.
func (g *Gate) activeBlackout(ctx context.Context, scope string) *statestore.BlackoutState {
	blackout, err := g.store.GetBlackout(ctx, scope)
	if err != nil {
		if statestore.IsNotFound(err) {
			return nil
		}
		return &statestore.BlackoutState{
			Scope:    scope,
			IsActive: true,
			Reason:   fmt.Sprintf("blackout state unavailable: %v", err),
		}
	}
	if !blackout.IsActive {
		return nil
	}
	return blackout
}

// maxStaleness resolves the freshness threshold for (assetClass, actionClass),
// falling back to the conservative default. No threshold and no default is a
// configuration error that denies.
func (g *Gate) maxStaleness(ctx context.Context, assetClass, actionClass string) (time.Duration, error) {
	threshold, err := g.store.GetThreshold(ctx, assetClass, actionClass)
	if err != nil {
		if !statestore.IsNotFound(err) {
			return 0, fmt.Errorf("threshold lookup failed: %v", err)
		}
		if g.defaultMaxStaleness <= 0 {
			return 0, fmt.Errorf("no freshness threshold configured for (%s, %s) and no default", assetClass, actionClass)
		}
		return g.defaultMaxStaleness, nil
	}
	return time.Duration(threshold.MaxStalenessMs) * time.Millisecond, nil
}

// deny records the denial in the ledger, bumps the per-asset denial counter
// and returns the decision. The decision is returned even when bookkeeping
// fails; the error reports the bookkeeping failure.
func (g *Gate) deny(ctx context.Context, actionClass, assetID, assetClass, reason string) (*Decision, error) {
	decision := &Decision{Allow: false, Reason: reason, AssetClass: assetClass}

	_, appendErr := g.ledger.Append(ctx, ledger.ChainAdmission, "GATE_DENIED", statestore.SeverityWarning, "gate", map[string]any{
		"action_class": actionClass,
		"asset_id":     assetID,
		"asset_class":  assetClass,
		"reason":       reason,
	})

	if _, err := g.store.IncrDenialCount(ctx, assetID); err != nil && appendErr == nil {
		appendErr = err
	}

	return decision, appendErr
}

// denyStale is a deny with the measured age and threshold included in the
// human-readable reason.
func (g *Gate) denyStale(ctx context.Context, actionClass, assetID, assetClass string, age, threshold time.Duration) (*Decision, error) {
	reason := fmt.Sprintf("observation for %s is %s old, exceeds %s threshold for class %s",
		assetID, age.Round(time.Second), threshold, assetClass)

	decision, err := g.deny(ctx, actionClass, assetID, assetClass, reason)
	decision.Age = age
	decision.Threshold = threshold
	return decision, err
}

// TriggerBlackout activates a blackout for the given scope. While active, all
// gated actions in the scope are denied regardless of per-asset freshness.
func (g *Gate) TriggerBlackout(ctx context.Context, reason, scope, triggeredBy string) (*statestore.BlackoutState, error) {
	if reason == "" {
		return nil, fmt.Errorf("blackout reason cannot be empty")
	}
	if scope == "" {
		scope = ScopeAll
	}

	blackout := &statestore.BlackoutState{
		Scope:         scope,
		IsActive:      true,
		Reason:        reason,
		TriggeredBy:   triggeredBy,
		TriggeredAtMs: time.Now().UnixMilli(),
	}

	if err := g.store.PutBlackout(ctx, blackout); err != nil {
		return nil, fmt.Errorf("failed to trigger blackout: %w", err)
	}

	_, err := g.ledger.Append(ctx, ledger.ChainAdmission, "BLACKOUT_TRIGGERED", statestore.SeverityCritical, triggeredBy, map[string]any{
		"scope":  scope,
		"reason": reason,
	})
	if err != nil {
		return blackout, fmt.Errorf("failed to record blackout event: %w", err)
	}

	return blackout, nil
}

// ClearBlackout deactivates a scope's blackout. It requires an authorized
// actor and a verifiable attestation, and fails while any scoped asset is
// still stale against its most conservative configured threshold.
func (g *Gate) ClearBlackout(ctx context.Context, scope, actor, attestationID string) (*statestore.BlackoutState, error) {
	if actor == "" {
		return nil, ErrUnauthorized
	}
	if scope == "" {
		scope = ScopeAll
	}

	if g.attestor != nil {
		if err := g.attestor.Verify(ctx, attestationID); err != nil {
			return nil, fmt.Errorf("attestation check failed: %w", err)
		}
	}

	blackout, err := g.store.GetBlackout(ctx, scope)
	if err != nil {
		if statestore.IsNotFound(err) {
			return nil, fmt.Errorf("no blackout recorded for scope %q", scope)
		}
		return nil, err
	}
	if !blackout.IsActive {
		return blackout, nil
	}

	for _, assetID := range g.resolver.AssetsInScope(scope) {
		if err := g.assetFresh(ctx, assetID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrScopeStale, err)
		}
	}

	blackout.IsActive = false
	blackout.ClearedBy = actor
	blackout.ClearedAtMs = time.Now().UnixMilli()

	if err := g.store.PutBlackout(ctx, blackout); err != nil {
		return nil, fmt.Errorf("failed to clear blackout: %w", err)
	}

	_, err = g.ledger.Append(ctx, ledger.ChainAdmission, "BLACKOUT_CLEARED", statestore.SeverityWarning, actor, map[string]any{
		"scope":          scope,
		"attestation_id": attestationID,
	})
	if err != nil {
		return blackout, fmt.Errorf("failed to record blackout clear event: %w", err)
	}

	return blackout, nil
}

// assetFresh checks one asset against the tightest threshold configured for
// its class, falling back to the conservative default.
func (g *Gate) assetFresh(ctx context.Context, assetID string) error {
	assetClass := g.resolver.Resolve(assetID)

	limit := g.defaultMaxStaleness
	for _, capability := range breaker.Capabilities(statestore.LevelNominal) {
		threshold, err := g.store.GetThreshold(ctx, assetClass, string(capability))
		if err != nil {
			if statestore.IsNotFound(err) {
				continue
			}
			return fmt.Errorf("threshold lookup failed for %s: %v", assetID, err)
		}
		d := time.Duration(threshold.MaxStalenessMs) * time.Millisecond
		if limit <= 0 || d < limit {
			limit = d
		}
	}
	if limit <= 0 {
		return fmt.Errorf("no freshness threshold configured for asset %s", assetID)
	}

	age, err := g.observationAge(ctx, assetID)
	if err != nil {
		return fmt.Errorf("asset %s: %v", assetID, err)
	}
	if age > limit {
		return fmt.Errorf("asset %s is %s old (limit %s)", assetID, age.Round(time.Second), limit)
	}
	return nil
}

// SetThreshold records a versioned freshness threshold attributed to an
// authorizing actor.
func (g *Gate) SetThreshold(ctx context.Context, assetClass, actionClass string, maxStaleness time.Duration, authorizedBy string) (*statestore.FreshnessThreshold, error) {
	if maxStaleness <= 0 {
		return nil, fmt.Errorf("max staleness must be positive")
	}
	if authorizedBy == "" {
		return nil, fmt.Errorf("threshold changes require an authorizing actor")
	}

	version := 1
	if existing, err := g.store.GetThreshold(ctx, assetClass, actionClass); err == nil {
		version = existing.Version + 1
	} else if !statestore.IsNotFound(err) {
		return nil, err
	}

	threshold := &statestore.FreshnessThreshold{
		AssetClass:     assetClass,
		ActionClass:    actionClass,
		MaxStalenessMs: maxStaleness.Milliseconds(),
		EffectiveAtMs:  time.Now().UnixMilli(),
		AuthorizedBy:   authorizedBy,
		Version:        version,
	}

	if err := g.store.PutThreshold(ctx, threshold); err != nil {
		return nil, err
	}

	_, err := g.ledger.Append(ctx, ledger.ChainAdmission, "THRESHOLD_SET", statestore.SeverityInfo, authorizedBy, map[string]any{
		"asset_class":      assetClass,
		"action_class":     actionClass,
		"max_staleness_ms": threshold.MaxStalenessMs,
		"version":          version,
	})
	if err != nil {
		return threshold, fmt.Errorf("failed to record threshold event: %w", err)
	}
	return threshold, nil
}
