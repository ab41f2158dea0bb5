package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Source supplies the two state views for one reconcilable component.
type Source interface {
	// ComponentName identifies the component this source reconciles.
	ComponentName() string

	// States returns the agent-reported state and the canonical state.
	States(ctx context.Context) (agentState, canonicalState map[string]any, err error)
}

// Runner drives periodic reconciliation passes over a set of sources.
type Runner struct {
	scorer   *Scorer
	sources  []Source
	interval time.Duration

	// running enforces non-reentrancy: a tick is skipped if the previous
	// pass has not finished.
	running chan struct{}
}

// NewRunner creates a Runner that reconciles each source every interval.
func NewRunner(scorer *Scorer, sources []Source, interval time.Duration) *Runner {
	return &Runner{
		scorer:   scorer,
		sources:  sources,
		interval: interval,
		running:  make(chan struct{}, 1),
	}
}

// Run blocks until ctx is cancelled, reconciling all sources on a fixed
// ticker. A pass that fails for one source does not stop the others.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	logEvent("info", "reconcile_runner_started", fmt.Sprintf("Reconciliation runner started (interval: %s, sources: %d)", r.interval, len(r.sources)), nil)

	for {
		select {
		case <-ctx.Done():
			logEvent("info", "reconcile_runner_stopped", "Reconciliation runner stopped", nil)
			return ctx.Err()

		case <-ticker.C:
			select {
			case r.running <- struct{}{}:
			default:
				logEvent("warning", "reconcile_pass_skipped", "Previous reconciliation pass still running, skipping tick", nil)
				continue
			}

			r.pass(ctx)
			<-r.running
		}
	}
}

// pass reconciles every source once, retrying transient failures with
// exponential backoff.
func (r *Runner) pass(ctx context.Context) {
	for _, src := range r.sources {
		name := src.ComponentName()

		operation := func() error {
			agentState, canonicalState, err := src.States(ctx)
			if err != nil {
				return fmt.Errorf("failed to load states for %s: %w", name, err)
			}
			_, err = r.scorer.Reconcile(ctx, name, agentState, canonicalState)
			return err
		}

		policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
		if err := backoff.Retry(operation, policy); err != nil {
			logEvent("error", "reconcile_pass_failed", fmt.Sprintf("Reconciliation failed for component %s: %v", name, err), map[string]any{
				"component": name,
			})
		}
	}
}

// logEvent emits a structured JSON log line to stdout.
func logEvent(level, eventType, message string, extra map[string]any) {
	entry := map[string]any{
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"level":      level,
		"component":  "reconcile-runner",
		"event_type": eventType,
		"message":    message,
	}
	for k, v := range extra {
		entry[k] = v
	}

	data, err := json.Marshal(entry)
	if err != nil {
		log.Printf("failed to marshal log entry: %v", err)
		return
	}
	fmt.Fprintln(os.Stdout, string(data))
}
