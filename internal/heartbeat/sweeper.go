package heartbeat

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// Sweeper runs Monitor.Sweep on a fixed period, independent of agent activity.
// If a sweep overruns the period, the next tick is skipped rather than running
// two sweeps concurrently for the same scope.
type Sweeper struct {
	monitor  *Monitor
	interval time.Duration
	running  chan struct{}

	// OnStale, if set, is called after each sweep that found stale agents,
	// with the number found. Used to feed instrumentation.
	OnStale func(count int)
}

// NewSweeper creates a Sweeper that fires every interval.
func NewSweeper(monitor *Monitor, interval time.Duration) *Sweeper {
	return &Sweeper{
		monitor:  monitor,
		interval: interval,
		running:  make(chan struct{}, 1),
	}
}

// Run blocks until the context is cancelled, sweeping every interval.
// Sweep errors are logged and do not stop the loop.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logEvent("sweeper_started", map[string]any{"interval_ms": s.interval.Milliseconds()})

	for {
		select {
		case <-ctx.Done():
			s.logEvent("sweeper_stopped", map[string]any{})
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs one sweep unless the previous one is still in flight.
func (s *Sweeper) tick(ctx context.Context) {
	select {
	case s.running <- struct{}{}:
	default:
		s.logEvent("sweep_skipped", map[string]any{"reason": "previous sweep still running"})
		return
	}
	defer func() { <-s.running }()

	start := time.Now()
	stale, err := s.monitor.Sweep(ctx)
	if err != nil {
		log.Printf("[Heartbeat] Sweep error: %v", err)
		return
	}

	if len(stale) > 0 {
		if s.OnStale != nil {
			s.OnStale(len(stale))
		}
		s.logEvent("sweep_completed", map[string]any{
			"stale_agents": stale,
			"latency_ms":   time.Since(start).Milliseconds(),
		})
	}
}

// logEvent logs a structured event in JSON format.
func (s *Sweeper) logEvent(eventType string, data map[string]any) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	data["level"] = "info"
	data["component"] = "heartbeat-sweeper"
	data["event_type"] = eventType

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Heartbeat] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
