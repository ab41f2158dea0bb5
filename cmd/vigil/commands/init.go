package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quillon/vigil/internal/printer"
)

var forceInit bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold a default vigil.yml",
	Long: `Write a commented vigil.yml with the default kernel configuration into
the current directory.

Use --force to overwrite an existing file.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&forceInit, "force", "f", false, "Overwrite an existing vigil.yml")
	rootCmd.AddCommand(initCmd)
}

const defaultConfig = `version: "1.0"
instance: default

redis:
  addr: localhost:6379

heartbeat:
  beat_interval: 30s
  degraded_floor: 0.5

gate:
  oracle_timeout: 2s
  default_max_staleness: 5s
  default_asset_class: standard
  # asset_classes:
  #   BTC-USD: crypto
  # thresholds:
  #   - asset_class: crypto
  #     action_class: ORDER_PLACEMENT
  #     max_staleness: 2s
  #     authorized_by: ops

violations:
  suspension_window: 1h
  suspension_limit: 3
  pattern_window: 168h
  pattern_limit: 5

reconcile:
  interval: 5m
  threshold: 0.05
  suspend_threshold: 0.25

api:
  listen: ":8130"
`

func runInit(cmd *cobra.Command, args []string) error {
	if !forceInit {
		if _, err := os.Stat("vigil.yml"); err == nil {
			return printer.Error(
				"vigil.yml already exists",
				"Refusing to overwrite the existing configuration.",
				[]string{"Use --force to overwrite it"},
			)
		}
	}

	if err := os.WriteFile("vigil.yml", []byte(defaultConfig), 0644); err != nil {
		return fmt.Errorf("failed to write vigil.yml: %w", err)
	}

	printer.Success("Created vigil.yml\n")
	printer.Info("Edit redis.addr, then run 'vigil serve' to start the kernel.\n")
	return nil
}
