package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "vigil.yml")

	validConfig := `version: "1.0"
instance: "prod"
redis:
  addr: "localhost:6379"
heartbeat:
  beat_interval: "15s"
  degraded_floor: 0.6
gate:
  oracle_timeout: "1s"
  default_max_staleness: "3s"
  thresholds:
    - asset_class: "crypto"
      action_class: "ORDER_PLACEMENT"
      max_staleness: "500ms"
      authorized_by: "risk-team"
violations:
  suspension_window: "30m"
  suspension_limit: 2
reconcile:
  interval: "1m"
  threshold: 0.1
  suspend_threshold: 0.3
api:
  listen: ":9000"
`
	err := os.WriteFile(configPath, []byte(validConfig), 0644)
	require.NoError(t, err)

	config, err := Load(configPath)
	require.NoError(t, err)
	assert.NotNil(t, config)
	assert.Equal(t, "1.0", config.Version)
	assert.Equal(t, "prod", config.Instance)
	assert.Equal(t, "localhost:6379", config.Redis.Addr)
	assert.Equal(t, 15*time.Second, config.Heartbeat.BeatInterval.Duration)
	assert.Equal(t, 0.6, *config.Heartbeat.DegradedFloor)
	assert.Equal(t, time.Second, config.Gate.OracleTimeout.Duration)
	require.Len(t, config.Gate.Thresholds, 1)
	assert.Equal(t, "crypto", config.Gate.Thresholds[0].AssetClass)
	assert.Equal(t, 500*time.Millisecond, config.Gate.Thresholds[0].MaxStaleness.Duration)
	assert.Equal(t, 30*time.Minute, config.Violation.SuspensionWindow.Duration)
	assert.Equal(t, 2, *config.Violation.SuspensionLimit)
	assert.Equal(t, time.Minute, config.Reconcile.Interval.Duration)
	assert.Equal(t, ":9000", config.API.Listen)
}

func TestLoad_MinimalConfigAppliesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "vigil.yml")

	minimalConfig := `version: "1.0"
redis:
  addr: "localhost:6379"
`
	err := os.WriteFile(configPath, []byte(minimalConfig), 0644)
	require.NoError(t, err)

	config, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "default", config.Instance)
	assert.Equal(t, 30*time.Second, config.Heartbeat.BeatInterval.Duration)
	assert.Equal(t, 0.5, *config.Heartbeat.DegradedFloor)
	assert.Equal(t, 2*time.Second, config.Gate.OracleTimeout.Duration)
	assert.Equal(t, 5*time.Second, config.Gate.DefaultMaxStaleness.Duration)
	assert.Equal(t, time.Hour, config.Violation.SuspensionWindow.Duration)
	assert.Equal(t, 3, *config.Violation.SuspensionLimit)
	assert.Equal(t, 168*time.Hour, config.Violation.PatternWindow.Duration)
	assert.Equal(t, 5, *config.Violation.PatternLimit)
	assert.Equal(t, 5*time.Minute, config.Reconcile.Interval.Duration)
	assert.Equal(t, 0.05, *config.Reconcile.Threshold)
	assert.Equal(t, 0.25, *config.Reconcile.SuspendThreshold)
	assert.Equal(t, ":8130", config.API.Listen)
}

func TestLoad_FileNotFound(t *testing.T) {
	config, err := Load("/nonexistent/vigil.yml")
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to read config")
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "vigil.yml")

	invalidYAML := `version: "1.0"
redis:
  - this is invalid
    yaml syntax
`
	err := os.WriteFile(configPath, []byte(invalidYAML), 0644)
	require.NoError(t, err)

	config, err := Load(configPath)
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoad_InvalidDuration(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "vigil.yml")

	badDuration := `version: "1.0"
redis:
  addr: "localhost:6379"
heartbeat:
  beat_interval: "soon"
`
	err := os.WriteFile(configPath, []byte(badDuration), 0644)
	require.NoError(t, err)

	config, err := Load(configPath)
	assert.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestValidate_UnsupportedVersion(t *testing.T) {
	config := &VigilConfig{
		Version: "2.0",
		Redis:   RedisConfig{Addr: "localhost:6379"},
	}

	err := config.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported version: 2.0")
}

func TestValidate_MissingRedisAddr(t *testing.T) {
	config := &VigilConfig{Version: "1.0"}

	err := config.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "redis.addr is required")
}

func TestValidate_NegativeBeatInterval(t *testing.T) {
	config := &VigilConfig{
		Version: "1.0",
		Redis:   RedisConfig{Addr: "localhost:6379"},
		Heartbeat: &HeartbeatConfig{
			BeatInterval: &Duration{-time.Second},
		},
	}

	err := config.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "beat_interval must be positive")
}

func TestValidate_DegradedFloorOutOfRange(t *testing.T) {
	floor := 1.5
	config := &VigilConfig{
		Version:   "1.0",
		Redis:     RedisConfig{Addr: "localhost:6379"},
		Heartbeat: &HeartbeatConfig{DegradedFloor: &floor},
	}

	err := config.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "degraded_floor must be in [0,1]")
}

func TestValidate_ThresholdEntries(t *testing.T) {
	base := func() *VigilConfig {
		return &VigilConfig{
			Version: "1.0",
			Redis:   RedisConfig{Addr: "localhost:6379"},
		}
	}

	t.Run("missing asset class", func(t *testing.T) {
		config := base()
		config.Gate = &GateConfig{Thresholds: []ThresholdEntry{
			{ActionClass: "ORDER_PLACEMENT", MaxStaleness: Duration{time.Second}, AuthorizedBy: "ops"},
		}}
		err := config.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "asset_class and action_class are required")
	})

	t.Run("missing authorized_by", func(t *testing.T) {
		config := base()
		config.Gate = &GateConfig{Thresholds: []ThresholdEntry{
			{AssetClass: "crypto", ActionClass: "ORDER_PLACEMENT", MaxStaleness: Duration{time.Second}},
		}}
		err := config.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "authorized_by is required")
	})

	t.Run("non-positive staleness", func(t *testing.T) {
		config := base()
		config.Gate = &GateConfig{Thresholds: []ThresholdEntry{
			{AssetClass: "crypto", ActionClass: "ORDER_PLACEMENT", AuthorizedBy: "ops"},
		}}
		err := config.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "max_staleness must be positive")
	})
}

func TestValidate_SuspendThresholdOrdering(t *testing.T) {
	threshold := 0.3
	suspend := 0.2
	config := &VigilConfig{
		Version: "1.0",
		Redis:   RedisConfig{Addr: "localhost:6379"},
		Reconcile: &ReconcileConfig{
			Threshold:        &threshold,
			SuspendThreshold: &suspend,
		},
	}

	err := config.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "must be greater than reconcile.threshold")
}
