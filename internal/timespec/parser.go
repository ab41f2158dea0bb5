// Package timespec parses the point-in-time flags accepted by the CLI.
package timespec

import (
	"fmt"
	"time"
)

// Parse turns a time specification into a Unix timestamp in milliseconds.
// Two formats are accepted:
//   - Go duration format, relative to now: "1h" means one hour ago
//   - RFC3339 timestamps: "2026-03-01T09:00:00Z"
func Parse(spec string) (int64, error) {
	if spec == "" {
		return 0, fmt.Errorf("empty time specification")
	}

	if t, err := time.Parse(time.RFC3339, spec); err == nil {
		return t.UnixMilli(), nil
	}

	if d, err := time.ParseDuration(spec); err == nil {
		return time.Now().Add(-d).UnixMilli(), nil
	}

	return 0, fmt.Errorf("invalid time specification: %s (use a duration like '1h30m' or RFC3339 like '2026-03-01T09:00:00Z')", spec)
}
