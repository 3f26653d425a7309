package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for BrightDock.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Sync      SyncConfig      `yaml:"sync"`
	Bridge    BridgeConfig    `yaml:"bridge"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// NodeConfig points at the control-surface node that talks DDC/CI to the displays.
type NodeConfig struct {
	// URL is the node's REST base URL, e.g. "http://192.168.0.20:8000".
	URL string `yaml:"url"`

	// RequestTimeout bounds every request to the node, in seconds. Default: 5
	RequestTimeout int `yaml:"request_timeout"`
}

// SyncConfig controls the poll loop and the write drainer.
type SyncConfig struct {
	// PollInterval is the time between full poll cycles, in seconds. Default: 30
	PollInterval int `yaml:"poll_interval"`

	// SettleDelayMS is how long the bus stays held after a write, in milliseconds. Default: 50
	SettleDelayMS int `yaml:"settle_delay_ms"`

	// RefreshAfterWrite triggers an early poll after each applied write.
	RefreshAfterWrite bool `yaml:"refresh_after_write"`
}

// BridgeConfig contains MQTT bridge settings.
type BridgeConfig struct {
	Enabled        bool   `yaml:"enabled"`
	ID             string `yaml:"id"`
	HealthInterval int    `yaml:"health_interval"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
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

// WebSocketConfig contains WebSocket server settings.
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
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
//
// An empty Secret disables bearer auth on the write endpoints.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// minJWTSecretLength is the shortest secret accepted when auth is enabled.
const minJWTSecretLength = 32

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: BRIGHTDOCK_SECTION_KEY
// For example: BRIGHTDOCK_NODE_URL, BRIGHTDOCK_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Node: NodeConfig{
			URL:            "http://localhost:8000",
			RequestTimeout: 5,
		},
		Sync: SyncConfig{
			PollInterval:      30,
			SettleDelayMS:     50,
			RefreshAfterWrite: true,
		},
		Bridge: BridgeConfig{
			Enabled:        true,
			ID:             "ddc-bridge-01",
			HealthInterval: 30,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "brightdock",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
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
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: BRIGHTDOCK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Node
	if v := os.Getenv("BRIGHTDOCK_NODE_URL"); v != "" {
		cfg.Node.URL = v
	}

	// Sync
	if v := os.Getenv("BRIGHTDOCK_POLL_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sync.PollInterval = n
		}
	}

	// MQTT
	if v := os.Getenv("BRIGHTDOCK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("BRIGHTDOCK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BRIGHTDOCK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("BRIGHTDOCK_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("BRIGHTDOCK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("BRIGHTDOCK_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Node validation
	if c.Node.URL == "" {
		errs = append(errs, "node.url is required")
	} else if u, err := url.Parse(c.Node.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "node.url must be an absolute http(s) URL")
	}
	if c.Node.RequestTimeout < 1 {
		errs = append(errs, "node.request_timeout must be at least 1 second")
	}

	// Sync validation
	if c.Sync.PollInterval < 1 {
		errs = append(errs, "sync.poll_interval must be at least 1 second")
	}
	if c.Sync.SettleDelayMS < 0 {
		errs = append(errs, "sync.settle_delay_ms must not be negative")
	}

	// Bridge validation
	if c.Bridge.Enabled {
		if !c.MQTT.Enabled {
			errs = append(errs, "bridge.enabled requires mqtt.enabled")
		}
		if c.Bridge.ID == "" {
			errs = append(errs, "bridge.id is required when the bridge is enabled")
		}
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Security validation. An empty secret leaves the write endpoints open,
	// but a configured secret must be strong enough to resist forgery.
	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetRequestTimeout returns the node request timeout as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Node.RequestTimeout) * time.Second
}

// GetPollInterval returns the poll interval as a Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Sync.PollInterval) * time.Second
}

// GetSettleDelay returns the post-write settle delay as a Duration.
func (c *Config) GetSettleDelay() time.Duration {
	return time.Duration(c.Sync.SettleDelayMS) * time.Millisecond
}

// GetHealthInterval returns the bridge health publish interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
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
