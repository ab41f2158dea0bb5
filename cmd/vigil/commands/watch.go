package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quillon/vigil/internal/printer"
	"github.com/quillon/vigil/internal/timespec"
	"github.com/quillon/vigil/internal/watch"
)

var (
	watchOutputFormat string
	watchSince        string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream ledger events in real time",
	Long: `Stream every event appended to the ledger as it lands: admissions,
denials, heartbeat misses, breaker transitions, violations and
reconciliation results.

With --since, previously recorded events from that point are replayed
before the live stream begins.

Output Formats:
  default - Human-readable lines with timestamps
  json    - Line-delimited JSON for programmatic processing

Examples:
  # Follow all kernel activity
  vigil watch

  # Replay the last hour, then follow
  vigil watch --since 1h

  # Export events as JSON
  vigil watch --output=json > events.jsonl`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVarP(&watchOutputFormat, "output", "o", "default", "Output format (default or json)")
	watchCmd.Flags().StringVar(&watchSince, "since", "", "Replay events from this point first (duration like '1h' or RFC3339)")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	var format watch.OutputFormat
	switch watchOutputFormat {
	case "default":
		format = watch.OutputFormatDefault
	case "json":
		format = watch.OutputFormatJSON
	default:
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", watchOutputFormat),
			[]string{"Valid formats: default, json"},
		)
	}

	var sinceMs int64
	if watchSince != "" {
		var err error
		sinceMs, err = timespec.Parse(watchSince)
		if err != nil {
			return printer.Error(
				"invalid --since value",
				err.Error(),
				[]string{"Use a duration like '30m' or an RFC3339 timestamp"},
			)
		}
	}

	_, store, err := connect()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := watch.StreamEvents(ctx, store, sinceMs, format, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
