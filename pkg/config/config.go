package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the gateway's configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (GATEWAY_*) (highest priority)
//  2. Configuration file (YAML or TOML)
//  3. Default values (lowest priority)
//
// No configuration key is read from a CLI flag; the --config flag only
// selects the file.
type Config struct {
	// MES configures the connection to the manufacturing execution system.
	MES MESConfig `mapstructure:"mes" yaml:"mes"`

	// RS485 configures the serial transport to the counting devices.
	RS485 RS485Config `mapstructure:"rs485" yaml:"rs485"`

	// Buffer configures the durable local buffer (embedded database).
	Buffer BufferConfig `mapstructure:"buffer" yaml:"buffer"`

	// Sync configures the replication pass to the MES.
	Sync SyncConfig `mapstructure:"sync" yaml:"sync"`

	// Station identifies which work station this gateway process serves.
	Station StationConfig `mapstructure:"station" yaml:"station"`

	// Control configures the local HTTP control plane API.
	Control ControlConfig `mapstructure:"control" yaml:"control"`

	// Telemetry controls OpenTelemetry distributed tracing.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Metrics contains Prometheus metrics server configuration.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// MESConfig configures the connection to the manufacturing execution system.
type MESConfig struct {
	// BaseURL is the MES HTTP base URL, e.g. "https://mes.example.com".
	BaseURL string `mapstructure:"base_url" validate:"required,url" yaml:"base_url"`

	// Username authenticates against /api/auth/login_local.
	Username string `mapstructure:"username" validate:"required" yaml:"username"`

	// Password authenticates against /api/auth/login_local.
	Password string `mapstructure:"password" validate:"required" yaml:"password,omitempty"`

	// CompanyID is sent as the empresa-id header on every request.
	CompanyID int `mapstructure:"company_id" validate:"required,gt=0" yaml:"company_id"`

	// UserID is recorded on every increment uploaded to the MES.
	UserID int `mapstructure:"user_id" validate:"required,gt=0" yaml:"user_id"`
}

// RS485Config configures the serial transport to the counting devices.
type RS485Config struct {
	// Port is the serial device path, e.g. "/dev/ttyUSB0" or "COM3".
	Port string `mapstructure:"port" validate:"required" yaml:"port"`

	// Baud is the serial baud rate. Default: 9600.
	Baud int `mapstructure:"baud" validate:"omitempty,gt=0" yaml:"baud"`

	// TimeoutMs is the timeout in milliseconds for each transport read; a
	// read that times out is retried and does not mark a device unresponsive.
	TimeoutMs int `mapstructure:"timeout_ms" validate:"omitempty,gt=0" yaml:"timeout_ms"`
}

// BufferConfig configures the durable local buffer.
type BufferConfig struct {
	// Path is the filesystem path of the embedded database file.
	Path string `mapstructure:"path" validate:"required" yaml:"path"`

	// BatchMax is the maximum number of rows uploaded in a single
	// replication batch.
	BatchMax int `mapstructure:"batch_max" validate:"omitempty,gt=0" yaml:"batch_max"`

	// RetentionDays is how long synced rows are kept before vacuuming.
	RetentionDays int `mapstructure:"retention_days" validate:"omitempty,gt=0" yaml:"retention_days"`
}

// SyncConfig configures the replication pass to the MES.
type SyncConfig struct {
	// IntervalSec is the delay between replication passes.
	IntervalSec int `mapstructure:"interval_sec" validate:"omitempty,gt=0" yaml:"interval_sec"`

	// MaxAttemptsPerPass bounds how many batches a single pass uploads
	// before yielding back to the ticker.
	MaxAttemptsPerPass int `mapstructure:"max_attempts_per_pass" validate:"omitempty,gt=0" yaml:"max_attempts_per_pass"`
}

// StationConfig identifies the work station this gateway process serves.
type StationConfig struct {
	// ID is the MES station identifier (estacionTrabajoId).
	ID int `mapstructure:"id" validate:"required,gt=0" yaml:"id"`
}

// ControlConfig configures the local HTTP control plane API.
type ControlConfig struct {
	// ListenAddr is the address the control API listens on.
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`

	// Token is the static bearer token required on every control request.
	Token string `mapstructure:"token" yaml:"token,omitempty"`

	// SupervisorPIN gates CloseOrder: the operator must supply this value
	// back to the gateway before it calls the MES's close endpoint. Left
	// empty, CloseOrder is disabled until an operator sets one.
	SupervisorPIN string `mapstructure:"supervisor_pin" yaml:"supervisor_pin,omitempty"`
}

// TelemetryConfig controls OpenTelemetry distributed tracing.
type TelemetryConfig struct {
	// Enabled controls whether distributed tracing is enabled.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// OTLPEndpoint is the OTLP collector endpoint (host:port).
	OTLPEndpoint string `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`

	// Insecure controls whether to use an insecure (non-TLS) connection.
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate controls the trace sampling rate (0.0 to 1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`

	// Profiling controls continuous CPU/memory profiling, independent of
	// tracing.
	Profiling ProfilingConfig `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls continuous profiling via Pyroscope.
type ProfilingConfig struct {
	// Enabled controls whether the profiler is started.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint is the Pyroscope server URL, e.g. "http://localhost:4040".
	Endpoint string `mapstructure:"endpoint" validate:"omitempty,url" yaml:"endpoint"`

	// ProfileTypes selects which profile types to collect. Defaults to
	// cpu and alloc_objects when empty.
	ProfileTypes []string `mapstructure:"profile_types" yaml:"profile_types"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
type MetricsConfig struct {
	// Enabled controls whether metrics collection and the HTTP server
	// are enabled.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the metrics endpoint.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format: text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (GATEWAY_*)
//  2. Configuration file
//  3. Default values
//
// When no configuration file is found, Load returns GetDefaultConfig()
// as is: environment variables are not applied and Validate is not run.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration, returning a user-friendly error with setup
// instructions if no config file exists at the resolved path.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  gateway init\n\n"+
				"Or specify a custom config file:\n"+
				"  gateway <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s\n\n"+
			"Please create the configuration file:\n"+
			"  gateway init --config %s",
			configPath, configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML
// format, restricted to owner read/write since it may contain the MES
// account password.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate runs struct-tag validation over the configuration.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return err
	}
	return nil
}

// setupViper configures viper with environment variable and config file
// resolution.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use GATEWAY_ prefix and underscores.
	// Example: GATEWAY_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// AutomaticEnv only reaches Unmarshal for keys viper already knows, so
	// every key is bound explicitly to apply env vars absent from the file.
	for _, key := range []string{
		"mes.base_url", "mes.username", "mes.password", "mes.company_id", "mes.user_id",
		"rs485.port", "rs485.baud", "rs485.timeout_ms",
		"buffer.path", "buffer.batch_max", "buffer.retention_days",
		"sync.interval_sec", "sync.max_attempts_per_pass", "station.id",
		"control.listen_addr", "control.token", "control.supervisor_pin",
		"telemetry.enabled", "telemetry.otlp_endpoint", "telemetry.insecure", "telemetry.sample_rate",
		"telemetry.profiling.enabled", "telemetry.profiling.endpoint", "telemetry.profiling.profile_types",
		"metrics.enabled", "metrics.port", "logging.level", "logging.format", "logging.output",
	} {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error).
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "sisproone-gateway")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "sisproone-gateway")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the
// init command).
func GetConfigDir() string {
	return getConfigDir()
}

// InitConfig writes a sample configuration file (defaults applied, station
// and RS-485 fields left blank for the operator to fill in) to the default
// location, refusing to overwrite an existing file unless force is true.
// Returns the path written.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath is InitConfig with an explicit destination path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}
	return SaveConfig(GetDefaultConfig(), path)
}
