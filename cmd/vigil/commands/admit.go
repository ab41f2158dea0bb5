package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quillon/vigil/internal/attest"
	"github.com/quillon/vigil/internal/breaker"
	"github.com/quillon/vigil/internal/gate"
	"github.com/quillon/vigil/internal/ledger"
	"github.com/quillon/vigil/internal/printer"
)

var admitCmd = &cobra.Command{
	Use:   "admit <action-class> <asset-id>",
	Short: "Run one action through the admission gate",
	Long: `Evaluate a single (action-class, asset-id) pair against the blackout
state, the circuit breaker level and the freshness thresholds, exactly as the
running kernel would.

The decision is recorded on the admission chain like any other. Exits non-zero
on denial.`,
	Args: cobra.ExactArgs(2),
	RunE: runAdmit,
}

func init() {
	rootCmd.AddCommand(admitCmd)
}

func runAdmit(cmd *cobra.Command, args []string) error {
	cfg, store, err := connect()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	lg := ledger.New(store)
	brk := breaker.New(store, lg)

	signingKey, err := attest.GenerateKey()
	if err != nil {
		return err
	}
	attestor := attest.New(store, brk, signingKey)

	resolver := gate.NewClassResolver(cfg.Gate.AssetClasses, cfg.Gate.DefaultAssetClass)
	g := gate.New(store, lg, brk, gate.NewRedisOracle(store), resolver, attestor,
		cfg.Gate.OracleTimeout.Duration, cfg.Gate.DefaultMaxStaleness.Duration)

	decision, err := g.Admit(ctx, args[0], args[1])
	if err != nil {
		return fmt.Errorf("admission check failed: %w", err)
	}

	if decision.Allow {
		printer.Success("ALLOW %s on %s (class: %s)\n", args[0], args[1], decision.AssetClass)
		return nil
	}

	return printer.Error(
		fmt.Sprintf("DENY %s on %s", args[0], args[1]),
		decision.Reason,
		nil,
	)
}
