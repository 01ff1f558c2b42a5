package config

import (
	"os"
	"path/filepath"
	"testing"
)

// yamlSafePath converts a filesystem path to a YAML-safe representation.
// On Windows, backslashes in double-quoted YAML strings are interpreted as
// escape sequences, causing parse errors.
func yamlSafePath(p string) string {
	return filepath.ToSlash(p)
}

func validConfigYAML(tmpDir string) string {
	return `
mes:
  base_url: "https://mes.example.com"
  username: "gateway"
  password: "secret"
  company_id: 1
  user_id: 7

rs485:
  port: "/dev/ttyUSB0"

station:
  id: 3

buffer:
  path: "` + yamlSafePath(tmpDir) + `/buffer.db"
`
}

func TestLoad_DefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte(validConfigYAML(tmpDir)), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Logging.Format != "text" {
		t.Errorf("expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("expected default output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.RS485.Baud != 9600 {
		t.Errorf("expected default baud 9600, got %d", cfg.RS485.Baud)
	}
	if cfg.Sync.IntervalSec != 15 {
		t.Errorf("expected default sync interval 15, got %d", cfg.Sync.IntervalSec)
	}
	if cfg.Control.ListenAddr != ":8090" {
		t.Errorf("expected default control listen addr ':8090', got %q", cfg.Control.ListenAddr)
	}
	if cfg.Station.ID != 3 {
		t.Errorf("expected station id 3, got %d", cfg.Station.ID)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// Loading with no config file returns a valid (if unvalidated) default
	// config, so tooling like `gateway init` can run before any file exists.
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("expected no error when loading default config, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("expected default config to be returned")
	}
	if cfg.RS485.Baud != 9600 {
		t.Errorf("expected default baud 9600, got %d", cfg.RS485.Baud)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	configContent := `
mes:
  base_url: "https://mes.example.com"
  invalid yaml here [[[
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("expected error with invalid YAML, got nil")
	}
}

func TestLoad_MissingRequiredField(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// No mes.base_url, no rs485.port, no station.id.
	configContent := `
logging:
  level: "INFO"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("expected validation error for missing required fields, got nil")
	}
}

func TestLoad_TOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	configContent := `
[mes]
base_url = "https://mes.example.com"
username = "gateway"
password = "secret"
company_id = 1
user_id = 7

[rs485]
port = "/dev/ttyUSB0"

[station]
id = 3

[buffer]
path = "` + yamlSafePath(tmpDir) + `/buffer.db"

[logging]
level = "WARN"
format = "json"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load TOML config: %v", err)
	}

	if cfg.Logging.Level != "WARN" {
		t.Errorf("expected level 'WARN', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("expected format 'json', got %q", cfg.Logging.Format)
	}
}

func TestGetDefaultConfig(t *testing.T) {
	cfg := GetDefaultConfig()

	if cfg.Logging.Level != "INFO" {
		t.Errorf("expected default log level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Buffer.BatchMax != 50 {
		t.Errorf("expected default batch max 50, got %d", cfg.Buffer.BatchMax)
	}
	if cfg.Buffer.RetentionDays != 30 {
		t.Errorf("expected default retention days 30, got %d", cfg.Buffer.RetentionDays)
	}
	if cfg.Sync.MaxAttemptsPerPass != 10 {
		t.Errorf("expected default max attempts per pass 10, got %d", cfg.Sync.MaxAttemptsPerPass)
	}
	if cfg.Metrics.Port != 9090 {
		t.Errorf("expected default metrics port 9090, got %d", cfg.Metrics.Port)
	}
	if cfg.Telemetry.SampleRate != 1.0 {
		t.Errorf("expected default sample rate 1.0, got %v", cfg.Telemetry.SampleRate)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	path := GetDefaultConfigPath()

	if !filepath.IsAbs(path) {
		t.Errorf("expected absolute path, got %q", path)
	}
	if filepath.Base(path) != "config.yaml" {
		t.Errorf("expected filename 'config.yaml', got %q", filepath.Base(path))
	}
}

func TestGetConfigDir(t *testing.T) {
	dir := GetConfigDir()

	if filepath.Base(dir) != "sisproone-gateway" {
		t.Errorf("expected directory name 'sisproone-gateway', got %q", filepath.Base(dir))
	}
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	_ = os.Setenv("GATEWAY_LOGGING_LEVEL", "ERROR")
	_ = os.Setenv("GATEWAY_STATION_ID", "9")
	defer func() {
		_ = os.Unsetenv("GATEWAY_LOGGING_LEVEL")
		_ = os.Unsetenv("GATEWAY_STATION_ID")
	}()

	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	if err := os.WriteFile(configPath, []byte(validConfigYAML(tmpDir)), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Logging.Level != "ERROR" {
		t.Errorf("expected level 'ERROR' from env var, got %q", cfg.Logging.Level)
	}
	if cfg.Station.ID != 9 {
		t.Errorf("expected station id 9 from env var, got %d", cfg.Station.ID)
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "config.yaml")

	cfg := GetDefaultConfig()
	cfg.MES.BaseURL = "https://mes.example.com"
	cfg.MES.Username = "gateway"
	cfg.MES.Password = "secret"
	cfg.MES.CompanyID = 1
	cfg.MES.UserID = 7
	cfg.RS485.Port = "/dev/ttyUSB0"
	cfg.Station.ID = 3

	if err := SaveConfig(cfg, configPath); err != nil {
		t.Fatalf("failed to save config: %v", err)
	}

	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatalf("expected config file to exist: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("expected config file mode 0600, got %v", info.Mode().Perm())
	}

	reloaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to reload saved config: %v", err)
	}
	if reloaded.MES.BaseURL != cfg.MES.BaseURL {
		t.Errorf("expected base url %q, got %q", cfg.MES.BaseURL, reloaded.MES.BaseURL)
	}
	if reloaded.Station.ID != cfg.Station.ID {
		t.Errorf("expected station id %d, got %d", cfg.Station.ID, reloaded.Station.ID)
	}
}
