package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for SnapDog Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Snapcast  SnapcastConfig  `yaml:"snapcast"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig identifies this installation.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// SnapcastConfig contains the Snapcast server control connection settings.
type SnapcastConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
	TLS  bool   `yaml:"tls"`

	// RequestTimeout bounds the wait for each JSON-RPC response.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// ConnectTimeout bounds the WebSocket handshake.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// ReconnectDelay separates background reconnection attempts.
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`

	// PingInterval enables keepalive pings when positive.
	PingInterval time.Duration `yaml:"ping_interval"`

	// MaxMessageSize caps one inbound message in bytes.
	MaxMessageSize int64 `yaml:"max_message_size"`

	ConnectRetry   RetryConfig          `yaml:"connect_retry"`
	OperationRetry RetryConfig          `yaml:"operation_retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig is a bounded exponential backoff policy.
type RetryConfig struct {
	Attempts     uint          `yaml:"attempts"`
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
}

// CircuitBreakerConfig contains circuit breaker settings for Snapcast requests.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// URL returns the Snapcast WebSocket endpoint.
func (c SnapcastConfig) URL() string {
	scheme := "ws"
	if c.TLS {
		scheme = "wss"
	}
	return fmt.Sprintf("%s://%s:%d%s", scheme, c.Host, c.Port, c.Path)
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// TopicPrefix is the root of every SnapDog topic. Default: "snapdog".
	TopicPrefix string `yaml:"topic_prefix"`

	// Commands throttles and bounds MQTT-originated Snapcast commands.
	Commands MQTTCommandConfig `yaml:"commands"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// MQTTCommandConfig contains command handling limits.
type MQTTCommandConfig struct {
	// RatePerSecond is the sustained command rate. Volume sliders can emit
	// dozens of messages per second.
	RatePerSecond float64 `yaml:"rate_per_second"`

	// Burst is the number of commands accepted at once above the rate.
	Burst int `yaml:"burst"`

	// Timeout bounds the Snapcast request issued for one command.
	Timeout time.Duration `yaml:"timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains settings for the live event stream served by the API.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`

	// StatsInterval is how often JSON-RPC client counters are written, in seconds.
	StatsInterval int `yaml:"stats_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SNAPDOG_SECTION_KEY
// For example: SNAPDOG_SNAPCAST_HOST, SNAPDOG_MQTT_PASSWORD
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "SnapDog",
		},
		Snapcast: SnapcastConfig{
			Host:           "localhost",
			Port:           1780,
			Path:           "/jsonrpc",
			RequestTimeout: 10 * time.Second,
			ConnectTimeout: 10 * time.Second,
			ReconnectDelay: 5 * time.Second,
			PingInterval:   30 * time.Second,
			MaxMessageSize: 4 << 20,
			ConnectRetry: RetryConfig{
				Attempts:     3,
				InitialDelay: 500 * time.Millisecond,
				MaxDelay:     5 * time.Second,
			},
			OperationRetry: RetryConfig{
				Attempts:     3,
				InitialDelay: 200 * time.Millisecond,
				MaxDelay:     2 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				MaxFailures: 5,
				OpenTimeout: 30 * time.Second,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "snapdog-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
			TopicPrefix: "snapdog",
			Commands: MQTTCommandConfig{
				RatePerSecond: 20,
				Burst:         10,
				Timeout:       5 * time.Second,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
			StatsInterval: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SNAPDOG_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Snapcast
	if v := os.Getenv("SNAPDOG_SNAPCAST_HOST"); v != "" {
		cfg.Snapcast.Host = v
	}
	if v := os.Getenv("SNAPDOG_SNAPCAST_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Snapcast.Port = port
		}
	}

	// MQTT
	if v := os.Getenv("SNAPDOG_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SNAPDOG_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SNAPDOG_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("SNAPDOG_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("SNAPDOG_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("SNAPDOG_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Site validation
	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Snapcast validation
	errs = append(errs, c.Snapcast.validate()...)

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.TopicPrefix == "" || strings.ContainsAny(c.MQTT.TopicPrefix, "+#") {
		errs = append(errs, "mqtt.topic_prefix is required and cannot contain wildcards")
	}
	if c.MQTT.Commands.RatePerSecond <= 0 || c.MQTT.Commands.Burst < 1 {
		errs = append(errs, "mqtt.commands.rate_per_second and burst must be positive")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" || c.InfluxDB.Org == "" || c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.url, org and bucket are required when enabled")
		}
	}

	// Logging validation
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "logging.level must be debug, info, warn or error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validate checks the Snapcast section.
func (s SnapcastConfig) validate() []string {
	var errs []string

	if s.Host == "" {
		errs = append(errs, "snapcast.host is required")
	}
	if s.Port < 1 || s.Port > 65535 {
		errs = append(errs, "snapcast.port must be between 1 and 65535")
	}
	if !strings.HasPrefix(s.Path, "/") {
		errs = append(errs, "snapcast.path must start with /")
	}
	if s.RequestTimeout <= 0 {
		errs = append(errs, "snapcast.request_timeout must be positive")
	}
	if s.ReconnectDelay <= 0 {
		errs = append(errs, "snapcast.reconnect_delay must be positive")
	}
	if s.ConnectRetry.Attempts < 1 {
		errs = append(errs, "snapcast.connect_retry.attempts must be at least 1")
	}
	if s.OperationRetry.Attempts < 1 {
		errs = append(errs, "snapcast.operation_retry.attempts must be at least 1")
	}
	if s.CircuitBreaker.Enabled && s.CircuitBreaker.MaxFailures == 0 {
		errs = append(errs, "snapcast.circuit_breaker.max_failures must be positive when enabled")
	}

	return errs
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
