package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string

	// configPath is shared by every subcommand that needs vigil.yml
	configPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "vigil",
	Short: "Vigil - Governance integrity kernel for autonomous agents",
	Long: `Vigil is a governance integrity kernel: a hash-chained audit ledger,
agent liveness monitoring, a severity-ladder circuit breaker, fail-closed
data-freshness admission, and behavioral violation enforcement, backed by
Redis shared state.

Every enforcement decision is recorded as a tamper-evident event, so the
history of what the kernel allowed and denied is independently verifiable.`,
	Version: version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
	rootCmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", v, c, d)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "vigil.yml", "Path to the vigil configuration file")
}
