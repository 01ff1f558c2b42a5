package config

import (
	"path/filepath"
	"strings"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields. Called after loading configuration from file and environment to
// fill in missing values with sensible defaults.
//
// Zero values (0, "", false) are replaced with defaults; explicit values
// are preserved. mes.*, rs485.port and station.id have no sane default and
// are left for Validate to reject if missing.
func ApplyDefaults(cfg *Config) {
	applyRS485Defaults(&cfg.RS485)
	applyBufferDefaults(&cfg.Buffer)
	applySyncDefaults(&cfg.Sync)
	applyControlDefaults(&cfg.Control)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyMetricsDefaults(&cfg.Metrics)
	applyLoggingDefaults(&cfg.Logging)
}

func applyRS485Defaults(cfg *RS485Config) {
	if cfg.Baud == 0 {
		cfg.Baud = 9600
	}
	if cfg.TimeoutMs == 0 {
		cfg.TimeoutMs = 2000
	}
}

func applyBufferDefaults(cfg *BufferConfig) {
	if cfg.Path == "" {
		cfg.Path = filepath.Join(getConfigDir(), "buffer.db")
	}
	if cfg.BatchMax == 0 {
		cfg.BatchMax = 50
	}
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = 30
	}
}

func applySyncDefaults(cfg *SyncConfig) {
	if cfg.IntervalSec == 0 {
		cfg.IntervalSec = 15
	}
	if cfg.MaxAttemptsPerPass == 0 {
		cfg.MaxAttemptsPerPass = 10
	}
}

func applyControlDefaults(cfg *ControlConfig) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8090"
	}
}

// applyTelemetryDefaults sets OpenTelemetry defaults.
func applyTelemetryDefaults(cfg *TelemetryConfig) {
	// Enabled defaults to false (opt-in for telemetry); zero value already false.
	if cfg.OTLPEndpoint == "" {
		cfg.OTLPEndpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
	if len(cfg.Profiling.ProfileTypes) == 0 {
		cfg.Profiling.ProfileTypes = []string{"cpu", "alloc_objects"}
	}
}

// applyMetricsDefaults sets Prometheus metrics server defaults.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// GetDefaultConfig returns a Config populated entirely with defaults. Used
// when no configuration file is found; mes.*, rs485.port and station.id are
// left empty and will fail Validate if the caller tries to use the result
// to start the gateway without first completing `gateway init`.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
