package gate

import (
	"context"
	"fmt"
	"time"

	"github.com/quillon/vigil/pkg/statestore"
)

// FreshnessOracle reports the age of the latest market observation for an
// asset. The gate treats any error as staleness - absence of data is never
// freshness.
type FreshnessOracle interface {
	ObservationAge(ctx context.Context, assetID string) (time.Duration, error)
}

// RedisOracle is the built-in oracle: it derives observation age from the
// per-asset observation timestamps recorded in the state store by market data
// feeds.
type RedisOracle struct {
	store *statestore.Store
}

// NewRedisOracle creates an oracle over the given store.
func NewRedisOracle(store *statestore.Store) *RedisOracle {
	return &RedisOracle{store: store}
}

// ObservationAge returns now minus the latest recorded observation timestamp.
// An asset with no recorded observation returns an error.
func (o *RedisOracle) ObservationAge(ctx context.Context, assetID string) (time.Duration, error) {
	observedAtMs, err := o.store.LastObservation(ctx, assetID)
	if err != nil {
		if statestore.IsNotFound(err) {
			return 0, fmt.Errorf("no observation recorded for asset %q", assetID)
		}
		return 0, fmt.Errorf("failed to read observation for asset %q: %w", assetID, err)
	}

	age := time.Duration(time.Now().UnixMilli()-observedAtMs) * time.Millisecond
	if age < 0 {
		age = 0
	}
	return age, nil
}

// ClassResolver maps asset IDs to asset classes. Assets not present in the
// map resolve to the default class.
type ClassResolver struct {
	classes      map[string]string
	defaultClass string
}

// NewClassResolver creates a resolver from an asset-to-class map.
func NewClassResolver(classes map[string]string, defaultClass string) *ClassResolver {
	if classes == nil {
		classes = map[string]string{}
	}
	return &ClassResolver{classes: classes, defaultClass: defaultClass}
}

// Resolve returns the asset class for an asset ID.
func (r *ClassResolver) Resolve(assetID string) string {
	if class, ok := r.classes[assetID]; ok {
		return class
	}
	return r.defaultClass
}

// AssetsInScope returns the known assets covered by a blackout scope:
// every known asset for ScopeAll, otherwise the assets of that class.
func (r *ClassResolver) AssetsInScope(scope string) []string {
	var assets []string
	for assetID, class := range r.classes {
		if scope == ScopeAll || class == scope {
			assets = append(assets, assetID)
		}
	}
	return assets
}
