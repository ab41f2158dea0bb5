package timespec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("RFC3339 timestamp", func(t *testing.T) {
		ms, err := Parse("2026-03-01T09:00:00Z")
		require.NoError(t, err)
		assert.Equal(t, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC).UnixMilli(), ms)
	})

	t.Run("duration is relative to now", func(t *testing.T) {
		before := time.Now().Add(-time.Hour).UnixMilli()
		ms, err := Parse("1h")
		require.NoError(t, err)
		after := time.Now().Add(-time.Hour).UnixMilli()

		assert.GreaterOrEqual(t, ms, before)
		assert.LessOrEqual(t, ms, after)
	})

	t.Run("compound duration", func(t *testing.T) {
		_, err := Parse("1h30m")
		assert.NoError(t, err)
	})

	t.Run("empty spec", func(t *testing.T) {
		_, err := Parse("")
		assert.Error(t, err)
	})

	t.Run("garbage spec", func(t *testing.T) {
		_, err := Parse("yesterday")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid time specification")
	})
}
