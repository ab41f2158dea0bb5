package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/quillon/vigil/internal/ledger"
	"github.com/quillon/vigil/internal/printer"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [chain-id]",
	Short: "Verify ledger chain integrity",
	Long: `Walk one chain, or every chain when no argument is given, and recompute
each event's content hash and predecessor link.

Exits non-zero if any chain is broken, reporting the position of the first
break. A break is never repaired automatically.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runVerify,
}

func init() {
	rootCmd.AddCommand(verifyCmd)
}

func runVerify(cmd *cobra.Command, args []string) error {
	_, store, err := connect()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	lg := ledger.New(store)

	var chains []string
	if len(args) == 1 {
		chains = []string{args[0]}
	} else {
		chains, err = lg.Chains(ctx)
		if err != nil {
			return fmt.Errorf("failed to list chains: %w", err)
		}
		sort.Strings(chains)
	}

	if len(chains) == 0 {
		printer.Println("No chains recorded yet.")
		return nil
	}

	broken := 0
	for _, chainID := range chains {
		result, err := lg.Verify(ctx, chainID)
		if err != nil {
			return fmt.Errorf("failed to verify chain %s: %w", chainID, err)
		}

		if result.Valid {
			printer.Success("%s: %d events, chain intact\n", chainID, result.Length)
			continue
		}

		broken++
		printer.Warning("%s: broken at sequence %d (%d events)\n", chainID, *result.FirstBreakPosition, result.Length)
	}

	if broken > 0 {
		return printer.Error(
			fmt.Sprintf("%d of %d chains failed verification", broken, len(chains)),
			"The event store was modified outside the kernel. The ledger never repairs a break; the affected history requires governance review.",
			nil,
		)
	}
	return nil
}
