package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillon/vigil/internal/config"
)

func TestDefaultConfigLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vigil.yml")
	require.NoError(t, os.WriteFile(path, []byte(defaultConfig), 0644))

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "default", cfg.Instance)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, ":8130", cfg.API.Listen)
	assert.InDelta(t, 0.05, *cfg.Reconcile.Threshold, 1e-9)
	assert.InDelta(t, 0.25, *cfg.Reconcile.SuspendThreshold, 1e-9)
	assert.Equal(t, 3, *cfg.Violation.SuspensionLimit)
}
