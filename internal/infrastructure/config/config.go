package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the AVGear matrix bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	History   HistoryConfig   `yaml:"history"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// DeviceConfig contains matrix switcher connection and session settings.
type DeviceConfig struct {
	// ID identifies this matrix in MQTT topics and history records.
	ID string `yaml:"id"`

	// Host is the matrix switcher's IP address.
	Host string `yaml:"host"`

	// Port is the matrix switcher's TCP control port. Fixed at 4001 by
	// the hardware; configurable only for test harnesses.
	Port int `yaml:"port"`

	// Inputs and Outputs are the matrix dimensions. The only shipped
	// hardware is 8x8.
	Inputs  int `yaml:"inputs"`
	Outputs int `yaml:"outputs"`

	// ConnectTimeout is the maximum time to wait for the TCP handshake (seconds).
	ConnectTimeout int `yaml:"connect_timeout"`

	// CommandTimeout is the per-command response timeout (seconds).
	CommandTimeout int `yaml:"command_timeout"`

	// CommandRetries is the number of re-sends after a command timeout.
	CommandRetries int `yaml:"command_retries"`

	// CommandDelayMs is the minimum gap between consecutive commands on
	// the wire (milliseconds). The device mis-parses back-to-back writes.
	CommandDelayMs int `yaml:"command_delay_ms"`

	// QuiescenceMs is the read-silence window after which a buffered
	// terminator-less line is flushed to the decoder (milliseconds).
	QuiescenceMs int `yaml:"quiescence_ms"`

	// PollInterval is the routing status poll interval (seconds).
	PollInterval int `yaml:"poll_interval"`

	// AuxPollEvery issues lock and power sub-polls every Nth status poll.
	AuxPollEvery int `yaml:"aux_poll_every"`

	// FailureThreshold is the number of consecutive failed polls before
	// the session is marked degraded and a reconnect is forced.
	FailureThreshold int `yaml:"failure_threshold"`

	// ReconnectInitialDelay and ReconnectMaxDelay bound the reconnect
	// backoff (seconds).
	ReconnectInitialDelay int `yaml:"reconnect_initial_delay"`
	ReconnectMaxDelay     int `yaml:"reconnect_max_delay"`
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
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
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

// HistoryConfig contains the SQLite state-history journal settings.
type HistoryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionDays prunes journal entries older than this on startup.
	// 0 disables pruning.
	RetentionDays int `yaml:"retention_days"`
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

// SecurityConfig contains API security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT bearer-token validation settings.
// Token issuance is the host platform's job; the bridge only validates.
type JWTConfig struct {
	Enabled bool   `yaml:"enabled"`
	Secret  string `yaml:"secret"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: AVMATRIX_SECTION_KEY
// For example: AVMATRIX_DEVICE_HOST, AVMATRIX_MQTT_HOST
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
// Device defaults mirror the vendor's factory settings (192.168.0.178:4001).
func defaultConfig() *Config {
	return &Config{
		Device: DeviceConfig{
			ID:                    "matrix-01",
			Host:                  "192.168.0.178",
			Port:                  4001,
			Inputs:                8,
			Outputs:               8,
			ConnectTimeout:        5,
			CommandTimeout:        5,
			CommandRetries:        2,
			CommandDelayMs:        100,
			QuiescenceMs:          150,
			PollInterval:          30,
			AuxPollEvery:          4,
			FailureThreshold:      3,
			ReconnectInitialDelay: 5,
			ReconnectMaxDelay:     120,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "avmatrix-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
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
		History: HistoryConfig{
			Enabled:       true,
			Path:          "./data/avmatrix.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 90,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: AVMATRIX_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AVMATRIX_DEVICE_HOST"); v != "" {
		cfg.Device.Host = v
	}
	if v := os.Getenv("AVMATRIX_DEVICE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Device.Port = port
		}
	}
	if v := os.Getenv("AVMATRIX_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("AVMATRIX_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("AVMATRIX_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("AVMATRIX_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("AVMATRIX_HISTORY_PATH"); v != "" {
		cfg.History.Path = v
	}
	if v := os.Getenv("AVMATRIX_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("AVMATRIX_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Device.ID == "" {
		errs = append(errs, "device.id is required")
	}
	if c.Device.Host == "" {
		errs = append(errs, "device.host is required")
	}
	if c.Device.Port < 1 || c.Device.Port > 65535 {
		errs = append(errs, "device.port must be between 1 and 65535")
	}
	if c.Device.Inputs < 1 || c.Device.Outputs < 1 {
		errs = append(errs, "device.inputs and device.outputs must be at least 1")
	}
	if c.Device.PollInterval < 1 {
		errs = append(errs, "device.poll_interval must be at least 1 second")
	}
	if c.Device.FailureThreshold < 1 {
		errs = append(errs, "device.failure_threshold must be at least 1")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.History.Enabled && c.History.Path == "" {
		errs = append(errs, "history.path is required when history is enabled")
	}

	// Bearer-token validation is useless with a guessable secret.
	const minJWTSecretLength = 32
	if c.Security.JWT.Enabled {
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required when JWT auth is enabled (set AVMATRIX_JWT_SECRET)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetConnectTimeout returns the device connect timeout as a Duration.
func (c *DeviceConfig) GetConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeout) * time.Second
}

// GetCommandTimeout returns the per-command timeout as a Duration.
func (c *DeviceConfig) GetCommandTimeout() time.Duration {
	return time.Duration(c.CommandTimeout) * time.Second
}

// GetCommandDelay returns the inter-command pacing delay as a Duration.
func (c *DeviceConfig) GetCommandDelay() time.Duration {
	return time.Duration(c.CommandDelayMs) * time.Millisecond
}

// GetQuiescence returns the line-flush silence window as a Duration.
func (c *DeviceConfig) GetQuiescence() time.Duration {
	return time.Duration(c.QuiescenceMs) * time.Millisecond
}

// GetPollInterval returns the status poll interval as a Duration.
func (c *DeviceConfig) GetPollInterval() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
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
