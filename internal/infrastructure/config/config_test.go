package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_ValidConfig(t *testing.T) {
	// Create a temporary config file
	content := `
site:
  id: "test-site"
snapcast:
  host: "snapserver.lan"
  port: 1705
  path: "/jsonrpc"
  request_timeout: 3s
  reconnect_delay: 2s
  connect_retry:
    attempts: 5
    initial_delay: 250ms
    max_delay: 4s
  circuit_breaker:
    enabled: true
    max_failures: 3
    open_timeout: 15s
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
  topic_prefix: "home/audio"
api:
  host: "0.0.0.0"
  port: 8080
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}

	if got, want := cfg.Snapcast.URL(), "ws://snapserver.lan:1705/jsonrpc"; got != want {
		t.Errorf("Snapcast.URL() = %q, want %q", got, want)
	}

	if cfg.Snapcast.RequestTimeout != 3*time.Second {
		t.Errorf("Snapcast.RequestTimeout = %v, want 3s", cfg.Snapcast.RequestTimeout)
	}

	if cfg.Snapcast.ConnectRetry.Attempts != 5 || cfg.Snapcast.ConnectRetry.InitialDelay != 250*time.Millisecond {
		t.Errorf("Snapcast.ConnectRetry = %+v", cfg.Snapcast.ConnectRetry)
	}

	if !cfg.Snapcast.CircuitBreaker.Enabled || cfg.Snapcast.CircuitBreaker.MaxFailures != 3 {
		t.Errorf("Snapcast.CircuitBreaker = %+v", cfg.Snapcast.CircuitBreaker)
	}

	// Unset values keep their defaults.
	if cfg.Snapcast.OperationRetry.Attempts != 3 {
		t.Errorf("Snapcast.OperationRetry.Attempts = %d, want default 3", cfg.Snapcast.OperationRetry.Attempts)
	}

	if cfg.MQTT.TopicPrefix != "home/audio" {
		t.Errorf("MQTT.TopicPrefix = %q, want %q", cfg.MQTT.TopicPrefix, "home/audio")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("invalid: [yaml: content"), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	content := `
site:
  id: ""
snapcast:
  port: 0
`
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	for _, want := range []string{"site.id is required", "snapcast.port"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing site ID",
			mutate:  func(c *Config) { c.Site.ID = "" },
			wantErr: true,
		},
		{
			name:    "missing snapcast host",
			mutate:  func(c *Config) { c.Snapcast.Host = "" },
			wantErr: true,
		},
		{
			name:    "snapcast path without slash",
			mutate:  func(c *Config) { c.Snapcast.Path = "jsonrpc" },
			wantErr: true,
		},
		{
			name:    "zero request timeout",
			mutate:  func(c *Config) { c.Snapcast.RequestTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero connect attempts",
			mutate:  func(c *Config) { c.Snapcast.ConnectRetry.Attempts = 0 },
			wantErr: true,
		},
		{
			name: "breaker enabled without threshold",
			mutate: func(c *Config) {
				c.Snapcast.CircuitBreaker.Enabled = true
				c.Snapcast.CircuitBreaker.MaxFailures = 0
			},
			wantErr: true,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "wildcard topic prefix",
			mutate:  func(c *Config) { c.MQTT.TopicPrefix = "snapdog/#" },
			wantErr: true,
		},
		{
			name:    "zero command rate",
			mutate:  func(c *Config) { c.MQTT.Commands.RatePerSecond = 0 },
			wantErr: true,
		},
		{
			name:    "invalid port low",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: true,
		},
		{
			name:    "invalid port high",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: true,
		},
		{
			name:    "influxdb enabled without bucket",
			mutate:  func(c *Config) { c.InfluxDB = InfluxDBConfig{Enabled: true, URL: "http://influx:8086", Org: "home"} },
			wantErr: true,
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSnapcastConfig_URL(t *testing.T) {
	tests := []struct {
		cfg  SnapcastConfig
		want string
	}{
		{SnapcastConfig{Host: "localhost", Port: 1780, Path: "/jsonrpc"}, "ws://localhost:1780/jsonrpc"},
		{SnapcastConfig{Host: "10.0.0.2", Port: 443, Path: "/jsonrpc", TLS: true}, "wss://10.0.0.2:443/jsonrpc"},
	}

	for _, tt := range tests {
		if got := tt.cfg.URL(); got != tt.want {
			t.Errorf("URL() = %q, want %q", got, tt.want)
		}
	}
}

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
	}

	if got := cfg.GetReadTimeout().Seconds(); got != 30 {
		t.Errorf("GetReadTimeout() = %v, want 30", got)
	}

	if got := cfg.GetWriteTimeout().Seconds(); got != 45 {
		t.Errorf("GetWriteTimeout() = %v, want 45", got)
	}

	if got := cfg.GetIdleTimeout().Seconds(); got != 60 {
		t.Errorf("GetIdleTimeout() = %v, want 60", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	// Set environment variables
	t.Setenv("SNAPDOG_SNAPCAST_HOST", "snap.example.com")
	t.Setenv("SNAPDOG_SNAPCAST_PORT", "1705")
	t.Setenv("SNAPDOG_MQTT_HOST", "mqtt.example.com")
	t.Setenv("SNAPDOG_MQTT_USERNAME", "testuser")
	t.Setenv("SNAPDOG_MQTT_PASSWORD", "testpass")
	t.Setenv("SNAPDOG_API_HOST", "192.168.1.1")
	t.Setenv("SNAPDOG_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("SNAPDOG_LOG_LEVEL", "debug")

	applyEnvOverrides(cfg)

	if cfg.Snapcast.Host != "snap.example.com" {
		t.Errorf("Snapcast.Host = %q, want %q", cfg.Snapcast.Host, "snap.example.com")
	}

	if cfg.Snapcast.Port != 1705 {
		t.Errorf("Snapcast.Port = %d, want 1705", cfg.Snapcast.Port)
	}

	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}

	if cfg.MQTT.Auth.Username != "testuser" {
		t.Errorf("MQTT.Auth.Username = %q, want %q", cfg.MQTT.Auth.Username, "testuser")
	}

	if cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth.Password = %q, want %q", cfg.MQTT.Auth.Password, "testpass")
	}

	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}

	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}

	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestApplyEnvOverrides_InvalidPortIgnored(t *testing.T) {
	cfg := defaultConfig()
	t.Setenv("SNAPDOG_SNAPCAST_PORT", "not-a-port")

	applyEnvOverrides(cfg)

	if cfg.Snapcast.Port != 1780 {
		t.Errorf("Snapcast.Port = %d, want default 1780", cfg.Snapcast.Port)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Errorf("defaultConfig should validate: %v", err)
	}

	if cfg.Snapcast.Port != 1780 {
		t.Errorf("defaultConfig Snapcast.Port = %d, want 1780", cfg.Snapcast.Port)
	}

	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}

	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}
}
