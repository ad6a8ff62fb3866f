package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
site:
  id: "test-site"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "broker.local"
    port: 1884
    client_id: "test-client"
  qos: 1
bridge:
  retry_delay: 7
  outage_grace: 60
  topics:
    status_wildcard: "/lab/sta/#"
    command_prefix: "/lab/cmd/"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want %q", cfg.Site.ID, "test-site")
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "broker.local")
	}
	if cfg.Bridge.Topics.StatusWildcard != "/lab/sta/#" {
		t.Errorf("Bridge.Topics.StatusWildcard = %q, want %q", cfg.Bridge.Topics.StatusWildcard, "/lab/sta/#")
	}
	if got := cfg.GetRetryDelay(); got != 7*time.Second {
		t.Errorf("GetRetryDelay() = %v, want 7s", got)
	}
	if got := cfg.GetOutageGrace(); got != time.Minute {
		t.Errorf("GetOutageGrace() = %v, want 1m", got)
	}

	// Untouched sections keep their defaults.
	if cfg.Bridge.Topics.Layout.SensorIDLength != 3 {
		t.Errorf("Layout.SensorIDLength = %d, want 3", cfg.Bridge.Topics.Layout.SensorIDLength)
	}
	if cfg.Bridge.Commands.TimeSyncCode != "T" {
		t.Errorf("Commands.TimeSyncCode = %q, want %q", cfg.Bridge.Commands.TimeSyncCode, "T")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(path)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfig(t, `
site:
  id: ""
database:
  driver: "postgres"
`)

	_, err := Load(path)
	if err == nil {
		t.Fatal("Load() expected validation error, got nil")
	}
	// All problems are reported together.
	for _, want := range []string{"site.id", "database.dsn"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Load() error = %q, want it to mention %q", err, want)
		}
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "missing site ID", mutate: func(c *Config) { c.Site.ID = "" }, wantErr: true},
		{name: "missing sqlite path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{
			name: "postgres with dsn",
			mutate: func(c *Config) {
				c.Database.Driver = DriverPostgres
				c.Database.DSN = "postgres://bridge@localhost/boards"
			},
		},
		{name: "postgres without dsn", mutate: func(c *Config) { c.Database.Driver = DriverPostgres }, wantErr: true},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "mysql" }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "zero retry delay", mutate: func(c *Config) { c.Bridge.RetryDelay = 0 }, wantErr: true},
		{name: "zero outage grace", mutate: func(c *Config) { c.Bridge.OutageGrace = 0 }, wantErr: true},
		{name: "missing wildcard", mutate: func(c *Config) { c.Bridge.Topics.StatusWildcard = "" }, wantErr: true},
		{name: "missing command prefix", mutate: func(c *Config) { c.Bridge.Topics.CommandPrefix = "" }, wantErr: true},
		{
			name:    "sensor id overlaps suffix",
			mutate:  func(c *Config) { c.Bridge.Topics.Layout.SensorIDLength = 5 },
			wantErr: true,
		},
		{
			name:    "command offset outside address",
			mutate:  func(c *Config) { c.Bridge.Topics.Layout.CommandMACLow = 16 },
			wantErr: true,
		},
		{name: "empty time sync code", mutate: func(c *Config) { c.Bridge.Commands.TimeSyncCode = "" }, wantErr: true},
		{name: "smtp without host", mutate: func(c *Config) { c.Notify.SMTP.Enabled = true; c.Notify.SMTP.From = "a@b" }, wantErr: true},
		{
			name: "smtp complete",
			mutate: func(c *Config) {
				c.Notify.SMTP = SMTPConfig{Enabled: true, Host: "smtp.example.com", Port: 587, From: "bridge@example.com"}
			},
		},
		{name: "invalid port high", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: true},
		{name: "port ignored when api disabled", mutate: func(c *Config) { c.API.Enabled = false; c.API.Port = 0 }},
		{name: "influx without url", mutate: func(c *Config) { c.InfluxDB.Enabled = true }, wantErr: true},
		{name: "cache without addr", mutate: func(c *Config) { c.Cache.Enabled = true; c.Cache.Addr = "" }, wantErr: true},
		{name: "JWT secret too short", mutate: func(c *Config) { c.Security.JWT.Secret = "short" }, wantErr: true},
		{name: "JWT secret empty", mutate: func(c *Config) { c.Security.JWT.Secret = "" }},
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

func TestConfig_GetTimeouts(t *testing.T) {
	cfg := &Config{
		API: APIConfig{
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
				Idle:  60,
			},
		},
		Cache: CacheConfig{TTL: 90},
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
	if got := cfg.GetCacheTTL().Seconds(); got != 90 {
		t.Errorf("GetCacheTTL() = %v, want 90", got)
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("BOARDBRIDGE_DATABASE_PATH", "/custom/path.db")
	t.Setenv("BOARDBRIDGE_DATABASE_DSN", "postgres://x")
	t.Setenv("BOARDBRIDGE_MQTT_HOST", "mqtt.example.com")
	t.Setenv("BOARDBRIDGE_MQTT_USERNAME", "testuser")
	t.Setenv("BOARDBRIDGE_MQTT_PASSWORD", "testpass")
	t.Setenv("BOARDBRIDGE_SMTP_PASSWORD", "smtp-pass")
	t.Setenv("BOARDBRIDGE_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("BOARDBRIDGE_CACHE_PASSWORD", "cache-pass")
	t.Setenv("BOARDBRIDGE_JWT_SECRET", "jwt-secret")

	applyEnvOverrides(cfg)

	checks := []struct {
		field string
		got   string
		want  string
	}{
		{"Database.Path", cfg.Database.Path, "/custom/path.db"},
		{"Database.DSN", cfg.Database.DSN, "postgres://x"},
		{"MQTT.Broker.Host", cfg.MQTT.Broker.Host, "mqtt.example.com"},
		{"MQTT.Auth.Username", cfg.MQTT.Auth.Username, "testuser"},
		{"MQTT.Auth.Password", cfg.MQTT.Auth.Password, "testpass"},
		{"Notify.SMTP.Password", cfg.Notify.SMTP.Password, "smtp-pass"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Cache.Password", cfg.Cache.Password, "cache-pass"},
		{"Security.JWT.Secret", cfg.Security.JWT.Secret, "jwt-secret"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.field, c.got, c.want)
		}
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaultConfig should validate, got %v", err)
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("defaultConfig MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.GetRetryDelay() != 5*time.Second {
		t.Errorf("defaultConfig retry delay = %v, want 5s", cfg.GetRetryDelay())
	}
	if cfg.GetOutageGrace() != 120*time.Second {
		t.Errorf("defaultConfig outage grace = %v, want 120s", cfg.GetOutageGrace())
	}
	if cfg.Bridge.Topics.Layout.LongFormMinLength != 25 {
		t.Errorf("defaultConfig long form min length = %d, want 25", cfg.Bridge.Topics.Layout.LongFormMinLength)
	}
}
