package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quillon/vigil/internal/api"
	"github.com/quillon/vigil/internal/attest"
	"github.com/quillon/vigil/internal/breaker"
	"github.com/quillon/vigil/internal/config"
	"github.com/quillon/vigil/internal/gate"
	"github.com/quillon/vigil/internal/heartbeat"
	"github.com/quillon/vigil/internal/ledger"
	"github.com/quillon/vigil/internal/metrics"
	"github.com/quillon/vigil/internal/printer"
	"github.com/quillon/vigil/internal/reconcile"
	"github.com/quillon/vigil/internal/violation"
	"github.com/quillon/vigil/pkg/statestore"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the kernel",
	Long: `Run the kernel: the HTTP API, the heartbeat sweeper and the periodic
reconciliation pass, against the Redis instance named in vigil.yml.

The process shuts down gracefully on SIGINT or SIGTERM.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, store, err := connect()
	if err != nil {
		return err
	}
	defer store.Close()

	lg := ledger.New(store)
	brk := breaker.New(store, lg)
	monitor := heartbeat.New(store, lg, brk, cfg.Heartbeat.BeatInterval.Duration, *cfg.Heartbeat.DegradedFloor)

	signingKey, err := attest.GenerateKey()
	if err != nil {
		return err
	}
	attestor := attest.New(store, brk, signingKey)

	resolver := gate.NewClassResolver(cfg.Gate.AssetClasses, cfg.Gate.DefaultAssetClass)
	oracle := gate.NewRedisOracle(store)
	g := gate.New(store, lg, brk, oracle, resolver, attestor,
		cfg.Gate.OracleTimeout.Duration, cfg.Gate.DefaultMaxStaleness.Duration)

	detector := violation.New(store, lg, brk,
		cfg.Violation.SuspensionWindow.Duration, int64(*cfg.Violation.SuspensionLimit),
		cfg.Violation.PatternWindow.Duration, int64(*cfg.Violation.PatternLimit))

	scorer := reconcile.New(store, lg, brk, *cfg.Reconcile.Threshold, *cfg.Reconcile.SuspendThreshold)

	ctx := context.Background()
	if err := seedThresholds(ctx, cfg, g, store); err != nil {
		return fmt.Errorf("failed to seed freshness thresholds: %w", err)
	}

	m := metrics.New()
	server := api.New(store, lg, brk, monitor, g, detector, scorer, attestor, m, cfg.API.Listen)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sweeper := heartbeat.NewSweeper(monitor, cfg.Heartbeat.BeatInterval.Duration)
	sweeper.OnStale = func(count int) { m.HeartbeatMisses.Add(float64(count)) }
	go sweeper.Run(runCtx)

	runner := reconcile.NewRunner(scorer, []reconcile.Source{reconcile.NewBreakerAudit(store)}, cfg.Reconcile.Interval.Duration)
	go runner.Run(runCtx)

	if err := server.Start(); err != nil {
		return err
	}

	printer.Success("Kernel running (instance: %s, api: %s)\n", cfg.Instance, cfg.API.Listen)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	printer.Info("Received signal %v, shutting down gracefully...\n", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("API server shutdown failed: %w", err)
	}

	printer.Info("Kernel stopped\n")
	return nil
}

// seedThresholds installs config-declared freshness thresholds that are not
// yet in the store. Existing thresholds are left alone so restarts do not
// re-append configuration events to the ledger.
func seedThresholds(ctx context.Context, cfg *config.VigilConfig, g *gate.Gate, store *statestore.Store) error {
	for _, entry := range cfg.Gate.Thresholds {
		_, err := store.GetThreshold(ctx, entry.AssetClass, entry.ActionClass)
		if err == nil {
			continue
		}
		if !statestore.IsNotFound(err) {
			return err
		}
		if _, err := g.SetThreshold(ctx, entry.AssetClass, entry.ActionClass, entry.MaxStaleness.Duration, entry.AuthorizedBy); err != nil {
			return err
		}
	}
	return nil
}
