package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for fleetlink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Session   SessionConfig   `yaml:"session"`
	Fleet     FleetConfig     `yaml:"fleet"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SessionConfig identifies the running session.
type SessionConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// FleetConfig contains the reconciliation core tunables.
// Durations are expressed in milliseconds to match the wire contract.
type FleetConfig struct {
	// TopicRoot is the first topic segment of every fleet message: {root}/{device}/{kind}/...
	TopicRoot string `yaml:"topic_root"`

	// StaleAfterMs is the Online → Stale threshold.
	StaleAfterMs int `yaml:"stale_after_ms"`

	// CommandTimeoutMs is the default deadline for commands sent without an explicit timeout.
	CommandTimeoutMs int `yaml:"command_timeout_ms"`

	// CommandHistory caps the per-device completed command log.
	CommandHistory int `yaml:"command_history"`

	// LivenessIntervalMs is the cadence of the liveness recompute pass.
	LivenessIntervalMs int `yaml:"liveness_interval_ms"`

	// FlushIntervalMs is the update scheduler tick.
	FlushIntervalMs int `yaml:"flush_interval_ms"`

	Series        SeriesConfig       `yaml:"series"`
	Notifications NotificationConfig `yaml:"notifications"`
}

// SeriesConfig bounds every per-(device, metric) series.
type SeriesConfig struct {
	MaxSize  int `yaml:"max_size"`
	MaxAgeMs int `yaml:"max_age_ms"`
}

// NotificationConfig bounds the notification log.
type NotificationConfig struct {
	Capacity      int `yaml:"capacity"`
	GroupWindowMs int `yaml:"group_window_ms"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionDays bounds the persisted command log. Zero keeps everything.
	RetentionDays int `yaml:"retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// StatusTopic carries the retained online/offline presence of this
	// process, including the last-will message. It must sit outside the
	// fleet topic root so the core never mistakes itself for a device.
	StatusTopic string `yaml:"status_topic"`
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
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: FLEETLINK_SECTION_KEY
// For example: FLEETLINK_MQTT_HOST, FLEETLINK_STALE_AFTER_MS
func Load(path string) (*Config, error) {
	cfg := Default()

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

// Default returns a Config with the documented defaults.
func Default() *Config {
	return &Config{
		Session: SessionConfig{
			ID:   "session-001",
			Name: "fleetlink",
		},
		Fleet: FleetConfig{
			TopicRoot:          "fleet",
			StaleAfterMs:       5000,
			CommandTimeoutMs:   2000,
			CommandHistory:     50,
			LivenessIntervalMs: 500,
			FlushIntervalMs:    16,
			Series: SeriesConfig{
				MaxSize:  1000,
				MaxAgeMs: 3600000,
			},
			Notifications: NotificationConfig{
				Capacity:      200,
				GroupWindowMs: 10000,
			},
		},
		Database: DatabaseConfig{
			Enabled:     true,
			Path:        "./data/fleetlink.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "fleetlink-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			StatusTopic: "fleetlink/core/status",
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
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
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("FLEETLINK_TOPIC_ROOT"); v != "" {
		cfg.Fleet.TopicRoot = v
	}
	envInt("FLEETLINK_STALE_AFTER_MS", &cfg.Fleet.StaleAfterMs)
	envInt("FLEETLINK_COMMAND_TIMEOUT_MS", &cfg.Fleet.CommandTimeoutMs)

	// Database
	if v := os.Getenv("FLEETLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("FLEETLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	envInt("FLEETLINK_MQTT_PORT", &cfg.MQTT.Broker.Port)
	if v := os.Getenv("FLEETLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("FLEETLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("FLEETLINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	envInt("FLEETLINK_API_PORT", &cfg.API.Port)

	// InfluxDB
	if v := os.Getenv("FLEETLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// envInt overwrites dst when the variable holds a valid integer.
func envInt(name string, dst *int) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = n
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Session.ID == "" {
		errs = append(errs, "session.id is required")
	}

	// Fleet validation
	if c.Fleet.TopicRoot == "" || strings.ContainsAny(c.Fleet.TopicRoot, "/+#") {
		errs = append(errs, "fleet.topic_root must be a single non-wildcard topic segment")
	}
	if c.Fleet.StaleAfterMs <= 0 {
		errs = append(errs, "fleet.stale_after_ms must be positive")
	}
	if c.Fleet.CommandTimeoutMs <= 0 {
		errs = append(errs, "fleet.command_timeout_ms must be positive")
	}
	if c.Fleet.CommandHistory <= 0 {
		errs = append(errs, "fleet.command_history must be positive")
	}
	if c.Fleet.LivenessIntervalMs <= 0 {
		errs = append(errs, "fleet.liveness_interval_ms must be positive")
	}
	if c.Fleet.FlushIntervalMs <= 0 {
		errs = append(errs, "fleet.flush_interval_ms must be positive")
	}
	if c.Fleet.Series.MaxSize <= 0 {
		errs = append(errs, "fleet.series.max_size must be positive")
	}
	if c.Fleet.Series.MaxAgeMs <= 0 {
		errs = append(errs, "fleet.series.max_age_ms must be positive")
	}
	if c.Fleet.Notifications.Capacity <= 0 {
		errs = append(errs, "fleet.notifications.capacity must be positive")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.RetentionDays < 0 {
		errs = append(errs, "database.retention_days must not be negative")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.StatusTopic != "" && strings.HasPrefix(c.MQTT.StatusTopic, c.Fleet.TopicRoot+"/") {
		errs = append(errs, "mqtt.status_topic must not be under fleet.topic_root")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// StaleAfter returns the Online → Stale threshold.
func (f FleetConfig) StaleAfter() time.Duration {
	return time.Duration(f.StaleAfterMs) * time.Millisecond
}

// CommandTimeout returns the default command deadline.
func (f FleetConfig) CommandTimeout() time.Duration {
	return time.Duration(f.CommandTimeoutMs) * time.Millisecond
}

// LivenessInterval returns the liveness recompute cadence.
func (f FleetConfig) LivenessInterval() time.Duration {
	return time.Duration(f.LivenessIntervalMs) * time.Millisecond
}

// FlushInterval returns the update scheduler tick.
func (f FleetConfig) FlushInterval() time.Duration {
	return time.Duration(f.FlushIntervalMs) * time.Millisecond
}

// MaxAge returns the series age bound.
func (s SeriesConfig) MaxAge() time.Duration {
	return time.Duration(s.MaxAgeMs) * time.Millisecond
}

// GroupWindow returns the notification grouping window.
func (n NotificationConfig) GroupWindow() time.Duration {
	return time.Duration(n.GroupWindowMs) * time.Millisecond
}

// Retention returns the command log retention, or zero for unbounded.
func (d DatabaseConfig) Retention() time.Duration {
	return time.Duration(d.RetentionDays) * 24 * time.Hour
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
