package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the board bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Bridge   BridgeConfig   `yaml:"bridge"`
	Notify   NotifyConfig   `yaml:"notify"`
	API      APIConfig      `yaml:"api"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Cache    CacheConfig    `yaml:"cache"`
	Logging  LoggingConfig  `yaml:"logging"`
	Security SecurityConfig `yaml:"security"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// Registry database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DatabaseConfig selects and configures the registry backend.
type DatabaseConfig struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver      string `yaml:"driver"`
	Path        string `yaml:"path"`
	DSN         string `yaml:"dsn"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
//
// Broker host, port and connect timeout only seed the registry's broker
// endpoint record on first start; afterwards the record is authoritative.
type MQTTConfig struct {
	Broker MQTTBrokerConfig `yaml:"broker"`
	Auth   MQTTAuthConfig   `yaml:"auth"`
	QoS    int              `yaml:"qos"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host           string `yaml:"host"`
	Port           int    `yaml:"port"`
	TLS            bool   `yaml:"tls"`
	ClientID       string `yaml:"client_id"`
	ConnectTimeout int    `yaml:"connect_timeout"` // seconds
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// BridgeConfig contains ingestion and supervision settings.
type BridgeConfig struct {
	RetryDelay  int            `yaml:"retry_delay"`  // seconds between connect attempts
	OutageGrace int            `yaml:"outage_grace"` // seconds before an outage is reported
	Topics      TopicsConfig   `yaml:"topics"`
	Commands    CommandsConfig `yaml:"commands"`
}

// TopicsConfig describes the board topic namespace.
type TopicsConfig struct {
	StatusWildcard string       `yaml:"status_wildcard"`
	CommandPrefix  string       `yaml:"command_prefix"`
	Layout         LayoutConfig `yaml:"layout"`
}

// LayoutConfig holds the character offsets used to pull a board address
// out of a status topic and to put one into a command topic.
//
// Topic offsets count back from the end of the topic; MAC offsets index
// into the canonical "AA:BB:CC:DD:EE:FF" form.
type LayoutConfig struct {
	LongFormMinLength int `yaml:"long_form_min_length"`
	LongSuffixOffset  int `yaml:"long_suffix_offset"`
	SensorIDLength    int `yaml:"sensor_id_length"`
	ShortSuffixOffset int `yaml:"short_suffix_offset"`
	CommandMACHigh    int `yaml:"command_mac_high"`
	CommandMACLow     int `yaml:"command_mac_low"`
}

// CommandsConfig contains outbound command codes.
type CommandsConfig struct {
	TimeSyncCode string `yaml:"time_sync_code"`
}

// NotifyConfig contains operator notification settings.
type NotifyConfig struct {
	Recipients    []string   `yaml:"recipients"`
	SubjectPrefix string     `yaml:"subject_prefix"`
	SMTP          SMTPConfig `yaml:"smtp"`
}

// SMTPConfig contains outbound mail settings. When disabled, outage
// notifications are only logged.
type SMTPConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
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

// CacheConfig contains the latest-reading cache settings.
type CacheConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	TTL      int    `yaml:"ttl"` // seconds
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
// An empty secret disables the operator command endpoints.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: BOARDBRIDGE_SECTION_KEY
// For example: BOARDBRIDGE_DATABASE_PATH, BOARDBRIDGE_MQTT_HOST
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

// defaultConfig returns a Config matching the stock board firmware.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Board Bridge",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Driver:      DriverSQLite,
			Path:        "./data/boardbridge.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:           "localhost",
				Port:           1883,
				ClientID:       "boardbridge",
				ConnectTimeout: 10,
			},
			QoS: 0,
		},
		Bridge: BridgeConfig{
			RetryDelay:  5,
			OutageGrace: 120,
			Topics: TopicsConfig{
				StatusWildcard: "/tvcwb1299/mmm/sta/#",
				CommandPrefix:  "/tvcwb1299/mmm/cmd/",
				Layout: LayoutConfig{
					LongFormMinLength: 25,
					LongSuffixOffset:  8,
					SensorIDLength:    3,
					ShortSuffixOffset: 4,
					CommandMACHigh:    12,
					CommandMACLow:     15,
				},
			},
			Commands: CommandsConfig{
				TimeSyncCode: "T",
			},
		},
		Notify: NotifyConfig{
			SubjectPrefix: "[boardbridge]",
			SMTP: SMTPConfig{
				Port: 587,
			},
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
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Cache: CacheConfig{
			Addr: "localhost:6379",
			TTL:  86400,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: BOARDBRIDGE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("BOARDBRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("BOARDBRIDGE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}

	// MQTT
	if v := os.Getenv("BOARDBRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("BOARDBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BOARDBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Notification
	if v := os.Getenv("BOARDBRIDGE_SMTP_PASSWORD"); v != "" {
		cfg.Notify.SMTP.Password = v
	}

	// InfluxDB
	if v := os.Getenv("BOARDBRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Cache
	if v := os.Getenv("BOARDBRIDGE_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}

	if v := os.Getenv("BOARDBRIDGE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			errs = append(errs, "database.dsn is required for the postgres driver (set BOARDBRIDGE_DATABASE_DSN)")
		}
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be %q or %q", c.Database.Driver, DriverSQLite, DriverPostgres))
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	errs = append(errs, c.Bridge.validate()...)

	if c.Notify.SMTP.Enabled {
		if c.Notify.SMTP.Host == "" {
			errs = append(errs, "notify.smtp.host is required when smtp is enabled")
		}
		if c.Notify.SMTP.From == "" {
			errs = append(errs, "notify.smtp.from is required when smtp is enabled")
		}
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Cache.Enabled && c.Cache.Addr == "" {
		errs = append(errs, "cache.addr is required when the cache is enabled")
	}

	// The secret is optional, but a short one is worse than none.
	const minJWTSecretLength = 32
	if s := c.Security.JWT.Secret; s != "" && len(s) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (b BridgeConfig) validate() []string {
	var errs []string
	if b.RetryDelay < 1 {
		errs = append(errs, "bridge.retry_delay must be at least 1 second")
	}
	if b.OutageGrace < 1 {
		errs = append(errs, "bridge.outage_grace must be at least 1 second")
	}
	if b.Topics.StatusWildcard == "" {
		errs = append(errs, "bridge.topics.status_wildcard is required")
	}
	if b.Topics.CommandPrefix == "" {
		errs = append(errs, "bridge.topics.command_prefix is required")
	}
	l := b.Topics.Layout
	if l.LongSuffixOffset < 4 || l.LongSuffixOffset-4 < l.SensorIDLength {
		errs = append(errs, "bridge.topics.layout.long_suffix_offset must leave room for the sensor id")
	}
	if l.ShortSuffixOffset < 4 {
		errs = append(errs, "bridge.topics.layout.short_suffix_offset must be at least 4")
	}
	if l.LongFormMinLength <= l.ShortSuffixOffset {
		errs = append(errs, "bridge.topics.layout.long_form_min_length must exceed short_suffix_offset")
	}
	if l.CommandMACHigh < 0 || l.CommandMACHigh+2 > 17 || l.CommandMACLow < 0 || l.CommandMACLow+2 > 17 {
		errs = append(errs, "bridge.topics.layout command MAC offsets must fall inside a 17-character address")
	}
	if b.Commands.TimeSyncCode == "" {
		errs = append(errs, "bridge.commands.time_sync_code is required")
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

// GetRetryDelay returns the fixed delay between broker connect attempts.
func (c *Config) GetRetryDelay() time.Duration {
	return time.Duration(c.Bridge.RetryDelay) * time.Second
}

// GetOutageGrace returns how long a lost session may stay down before
// operators are notified.
func (c *Config) GetOutageGrace() time.Duration {
	return time.Duration(c.Bridge.OutageGrace) * time.Second
}

// GetCacheTTL returns the expiry of cached readings.
func (c *Config) GetCacheTTL() time.Duration {
	return time.Duration(c.Cache.TTL) * time.Second
}
