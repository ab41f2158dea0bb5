package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/quillon/vigil/internal/breaker"
	"github.com/quillon/vigil/internal/heartbeat"
	"github.com/quillon/vigil/internal/ledger"
	"github.com/quillon/vigil/internal/printer"
	"github.com/quillon/vigil/pkg/statestore"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show kernel status",
	Long: `Show the current circuit breaker level, the liveness of every known
agent, and the latest reconciliation snapshot.

Use --json for machine-readable output.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output in JSON format")
	rootCmd.AddCommand(statusCmd)
}

// statusReport is the JSON output structure for vigil status.
type statusReport struct {
	Instance string                             `json:"instance"`
	Breaker  *statestore.BreakerState           `json:"breaker"`
	Agents   []*statestore.HeartbeatRecord      `json:"agents"`
	Snapshot *statestore.ReconciliationSnapshot `json:"latest_reconciliation,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, store, err := connect()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	lg := ledger.New(store)
	brk := breaker.New(store, lg)
	monitor := heartbeat.New(store, lg, brk, cfg.Heartbeat.BeatInterval.Duration, *cfg.Heartbeat.DegradedFloor)

	state, err := brk.Current(ctx)
	if err != nil {
		return fmt.Errorf("failed to read breaker state: %w", err)
	}

	agents, err := monitor.All(ctx)
	if err != nil {
		return fmt.Errorf("failed to list agents: %w", err)
	}

	snapshot, err := store.LatestSnapshot(ctx)
	if err != nil && !statestore.IsNotFound(err) {
		return fmt.Errorf("failed to read latest reconciliation snapshot: %w", err)
	}

	if statusJSON {
		report := statusReport{
			Instance: cfg.Instance,
			Breaker:  state,
			Agents:   agents,
			Snapshot: snapshot,
		}
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	printer.Printf("Instance:  %s\n", cfg.Instance)
	printer.Printf("Breaker:   %s (reason: %s, since: %s)\n",
		printer.LevelString(state.Level), state.TriggerReason,
		time.UnixMilli(state.EnteredAtMs).UTC().Format(time.RFC3339))
	if snapshot != nil {
		printer.Printf("Reconcile: %s (component: %s, score: %.3f)\n",
			string(snapshot.Status), snapshot.ComponentName, snapshot.DiscrepancyScore)
	}
	printer.Println()

	if len(agents) == 0 {
		printer.Println("No agents have reported a heartbeat yet.")
		return nil
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.Header("AGENT", "STATUS", "HEALTH", "MISSES", "LAST BEAT")
	for _, a := range agents {
		table.Append([]string{
			a.AgentID,
			printer.StatusString(a.Status),
			fmt.Sprintf("%.2f", a.HealthScore),
			fmt.Sprintf("%d", a.ConsecutiveMisses),
			time.UnixMilli(a.LastBeatAtMs).UTC().Format(time.RFC3339),
		})
	}
	return table.Render()
}
