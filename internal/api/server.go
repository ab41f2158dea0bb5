// Package api exposes the kernel over HTTP.
//
// Every mutating endpoint routes through the same components the in-process
// callers use, so the audit trail and enforcement behavior are identical
// regardless of how a request arrives.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/quillon/vigil/internal/attest"
	"github.com/quillon/vigil/internal/breaker"
	"github.com/quillon/vigil/internal/gate"
	"github.com/quillon/vigil/internal/heartbeat"
	"github.com/quillon/vigil/internal/ledger"
	"github.com/quillon/vigil/internal/metrics"
	"github.com/quillon/vigil/internal/reconcile"
	"github.com/quillon/vigil/internal/violation"
	"github.com/quillon/vigil/pkg/statestore"
)

// Server serves the kernel HTTP API.
type Server struct {
	store    *statestore.Store
	ledger   *ledger.Ledger
	breaker  *breaker.Breaker
	monitor  *heartbeat.Monitor
	gate     *gate.Gate
	detector *violation.Detector
	scorer   *reconcile.Scorer
	attestor *attest.Attestor
	metrics  *metrics.Metrics

	server *http.Server
}

// New creates a Server wired to the given kernel components.
func New(store *statestore.Store, lg *ledger.Ledger, brk *breaker.Breaker, monitor *heartbeat.Monitor, g *gate.Gate, detector *violation.Detector, scorer *reconcile.Scorer, attestor *attest.Attestor, m *metrics.Metrics, listen string) *Server {
	s := &Server{
		store:    store,
		ledger:   lg,
		breaker:  brk,
		monitor:  monitor,
		gate:     g,
		detector: detector,
		scorer:   scorer,
		attestor: attestor,
		metrics:  m,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", m.Handler())

	mux.HandleFunc("POST /v1/beat", s.handleBeat)
	mux.HandleFunc("GET /v1/agents", s.handleAgents)
	mux.HandleFunc("GET /v1/agents/{agent_id}", s.handleAgent)

	mux.HandleFunc("POST /v1/event", s.handleAppendEvent)
	mux.HandleFunc("GET /v1/events/{event_id}", s.handleGetEvent)
	mux.HandleFunc("GET /v1/chains", s.handleChains)
	mux.HandleFunc("GET /v1/chains/{chain_id}/verify", s.handleVerifyChain)

	mux.HandleFunc("POST /v1/admit", s.handleAdmit)
	mux.HandleFunc("POST /v1/observations", s.handleObservation)
	mux.HandleFunc("POST /v1/thresholds", s.handleSetThreshold)
	mux.HandleFunc("POST /v1/blackout", s.handleBlackout)
	mux.HandleFunc("POST /v1/blackout/clear", s.handleClearBlackout)

	mux.HandleFunc("GET /v1/breaker", s.handleBreaker)
	mux.HandleFunc("POST /v1/breaker/escalate", s.handleEscalate)
	mux.HandleFunc("POST /v1/breaker/deescalate", s.handleDeescalate)

	mux.HandleFunc("POST /v1/agents/{agent_id}/fingerprint", s.handleFingerprint)
	mux.HandleFunc("POST /v1/agents/{agent_id}/binding", s.handleBinding)
	mux.HandleFunc("POST /v1/violations", s.handleViolation)
	mux.HandleFunc("GET /v1/agents/{agent_id}/violations", s.handleAgentViolations)
	mux.HandleFunc("POST /v1/agents/{agent_id}/suspension/clear", s.handleClearSuspension)

	mux.HandleFunc("POST /v1/reconcile", s.handleReconcile)
	mux.HandleFunc("POST /v1/attestations", s.handleIssueAttestation)
	mux.HandleFunc("GET /v1/attestations/{attestation_id}", s.handleGetAttestation)

	s.server = &http.Server{
		Addr:         listen,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the routing table for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("API server error: %v\n", err)
		}
	}()
	return nil
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleHealthz returns 200 OK if Redis is accessible, 503 otherwise.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	response := map[string]string{"status": "healthy", "redis": "connected"}
	if err := s.store.Ping(ctx); err != nil {
		response["status"] = "unhealthy"
		response["redis"] = "disconnected"
		response["error"] = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, response)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

// errorResponse is the JSON body for all non-2xx responses.
type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// decode reads a JSON request body into dst, rejecting unknown fields.
func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
