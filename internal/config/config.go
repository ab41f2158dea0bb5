package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so config values can be written as "30s", "5m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration back to its string form.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

// VigilConfig represents the top-level vigil.yml configuration
type VigilConfig struct {
	Version   string           `yaml:"version"`
	Instance  string           `yaml:"instance"` // Key namespace; defaults to "default"
	Redis     RedisConfig      `yaml:"redis"`
	Heartbeat *HeartbeatConfig `yaml:"heartbeat,omitempty"`
	Gate      *GateConfig      `yaml:"gate,omitempty"`
	Violation *ViolationConfig `yaml:"violations,omitempty"`
	Reconcile *ReconcileConfig `yaml:"reconcile,omitempty"`
	API       *APIConfig       `yaml:"api,omitempty"`
}

// RedisConfig specifies how to reach the backing Redis instance
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// HeartbeatConfig specifies the liveness monitor behavior
type HeartbeatConfig struct {
	BeatInterval  *Duration `yaml:"beat_interval,omitempty"`  // Default: 30s
	DegradedFloor *float64  `yaml:"degraded_floor,omitempty"` // Health score below which a live agent is DEGRADED. Default: 0.5
}

// GateConfig specifies the freshness admission gate behavior
type GateConfig struct {
	OracleTimeout       *Duration         `yaml:"oracle_timeout,omitempty"`        // Default: 2s
	DefaultMaxStaleness *Duration         `yaml:"default_max_staleness,omitempty"` // Conservative fallback. Default: 5s
	DefaultAssetClass   string            `yaml:"default_asset_class,omitempty"`
	AssetClasses        map[string]string `yaml:"asset_classes,omitempty"` // asset_id -> asset_class
	Thresholds          []ThresholdEntry  `yaml:"thresholds,omitempty"`
}

// ThresholdEntry seeds one freshness threshold at startup
type ThresholdEntry struct {
	AssetClass   string   `yaml:"asset_class"`
	ActionClass  string   `yaml:"action_class"`
	MaxStaleness Duration `yaml:"max_staleness"`
	AuthorizedBy string   `yaml:"authorized_by"`
}

// ViolationConfig specifies the auto-suspend and pattern windows
type ViolationConfig struct {
	SuspensionWindow *Duration `yaml:"suspension_window,omitempty"` // Default: 1h
	SuspensionLimit  *int      `yaml:"suspension_limit,omitempty"`  // Violations inside the window that trigger suspension. Default: 3
	PatternWindow    *Duration `yaml:"pattern_window,omitempty"`    // Class B rolling window. Default: 168h
	PatternLimit     *int      `yaml:"pattern_limit,omitempty"`     // Default: 5
}

// ReconcileConfig specifies the periodic state reconciliation pass
type ReconcileConfig struct {
	Interval         *Duration `yaml:"interval,omitempty"`          // Default: 5m
	Threshold        *float64  `yaml:"threshold,omitempty"`         // Divergence threshold. Default: 0.05
	SuspendThreshold *float64  `yaml:"suspend_threshold,omitempty"` // Default: 0.25
}

// APIConfig specifies the HTTP API listener
type APIConfig struct {
	Listen string `yaml:"listen,omitempty"` // Default: ":8130"
}

// Validate performs strict validation on the configuration and applies
// defaults for omitted sections.
func (c *VigilConfig) Validate() error {
	// Required: version
	if c.Version != "1.0" {
		return fmt.Errorf("unsupported version: %s (expected: 1.0)", c.Version)
	}

	if c.Instance == "" {
		c.Instance = "default"
	}

	// Required: redis address
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}

	if c.Heartbeat == nil {
		c.Heartbeat = &HeartbeatConfig{}
	}
	if c.Heartbeat.BeatInterval == nil {
		c.Heartbeat.BeatInterval = &Duration{30 * time.Second}
	}
	if c.Heartbeat.BeatInterval.Duration <= 0 {
		return fmt.Errorf("heartbeat.beat_interval must be positive, got %s", c.Heartbeat.BeatInterval)
	}
	if c.Heartbeat.DegradedFloor == nil {
		floor := 0.5
		c.Heartbeat.DegradedFloor = &floor
	}
	if *c.Heartbeat.DegradedFloor < 0 || *c.Heartbeat.DegradedFloor > 1 {
		return fmt.Errorf("heartbeat.degraded_floor must be in [0,1], got %g", *c.Heartbeat.DegradedFloor)
	}

	if c.Gate == nil {
		c.Gate = &GateConfig{}
	}
	if c.Gate.OracleTimeout == nil {
		c.Gate.OracleTimeout = &Duration{2 * time.Second}
	}
	if c.Gate.DefaultMaxStaleness == nil {
		c.Gate.DefaultMaxStaleness = &Duration{5 * time.Second}
	}
	for i, t := range c.Gate.Thresholds {
		if t.AssetClass == "" || t.ActionClass == "" {
			return fmt.Errorf("gate.thresholds[%d]: asset_class and action_class are required", i)
		}
		if t.MaxStaleness.Duration <= 0 {
			return fmt.Errorf("gate.thresholds[%d]: max_staleness must be positive", i)
		}
		if t.AuthorizedBy == "" {
			return fmt.Errorf("gate.thresholds[%d]: authorized_by is required", i)
		}
	}

	if c.Violation == nil {
		c.Violation = &ViolationConfig{}
	}
	if c.Violation.SuspensionWindow == nil {
		c.Violation.SuspensionWindow = &Duration{time.Hour}
	}
	if c.Violation.SuspensionLimit == nil {
		limit := 3
		c.Violation.SuspensionLimit = &limit
	}
	if *c.Violation.SuspensionLimit < 1 {
		return fmt.Errorf("violations.suspension_limit must be >= 1, got %d", *c.Violation.SuspensionLimit)
	}
	if c.Violation.PatternWindow == nil {
		c.Violation.PatternWindow = &Duration{168 * time.Hour}
	}
	if c.Violation.PatternLimit == nil {
		limit := 5
		c.Violation.PatternLimit = &limit
	}
	if *c.Violation.PatternLimit < 1 {
		return fmt.Errorf("violations.pattern_limit must be >= 1, got %d", *c.Violation.PatternLimit)
	}

	if c.Reconcile == nil {
		c.Reconcile = &ReconcileConfig{}
	}
	if c.Reconcile.Interval == nil {
		c.Reconcile.Interval = &Duration{5 * time.Minute}
	}
	if c.Reconcile.Threshold == nil {
		threshold := 0.05
		c.Reconcile.Threshold = &threshold
	}
	if c.Reconcile.SuspendThreshold == nil {
		threshold := 0.25
		c.Reconcile.SuspendThreshold = &threshold
	}
	if *c.Reconcile.Threshold < 0 || *c.Reconcile.Threshold > 1 {
		return fmt.Errorf("reconcile.threshold must be in [0,1], got %g", *c.Reconcile.Threshold)
	}
	if *c.Reconcile.SuspendThreshold <= *c.Reconcile.Threshold {
		return fmt.Errorf("reconcile.suspend_threshold (%g) must be greater than reconcile.threshold (%g)",
			*c.Reconcile.SuspendThreshold, *c.Reconcile.Threshold)
	}

	if c.API == nil {
		c.API = &APIConfig{}
	}
	if c.API.Listen == "" {
		c.API.Listen = ":8130"
	}

	return nil
}

// Load reads and validates vigil.yml from the specified path
func Load(path string) (*VigilConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config VigilConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}
