package config

import (
	"os"
	"testing"
	"time"
)

var configEnvVars = []string{
	"COMMS_URL", "SERVICE_NAME", "LOCAL_ADDRESS", "MATCH_POLICY",
	"HOST_API_SUBJECT", "HOST_EVENT_SUBJECT",
	"REQUEST_TIMEOUT", "BOOTSTRAP_FILE",
	"PROTOCOL_VERSION", "PEER_VERSION_CONSTRAINT", "PRESENCE_INTERVAL",
	"DATABASE_URL", "RUN_MIGRATIONS", "MIGRATION_PATH",
	"HTTP_PORT", "HEALTH_CHECK_TIMEOUT", "LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range configEnvVars {
		if val, ok := os.LookupEnv(env); ok {
			os.Unsetenv(env)
			t.Cleanup(func() { os.Setenv(env, val) })
		}
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}

	if cfg.COMMSURL != "nats://127.0.0.1:4222" {
		t.Errorf("config:config_test - COMMSURL = %q, want %q", cfg.COMMSURL, "nats://127.0.0.1:4222")
	}
	if cfg.COMMSName != "peer-services" {
		t.Errorf("config:config_test - COMMSName = %q, want %q", cfg.COMMSName, "peer-services")
	}
	if cfg.LocalAddress != "" {
		t.Errorf("config:config_test - LocalAddress = %q, want empty", cfg.LocalAddress)
	}
	if cfg.MatchPolicy != "keyed" {
		t.Errorf("config:config_test - MatchPolicy = %q, want keyed", cfg.MatchPolicy)
	}
	if cfg.RequestTimeout != 25*time.Second {
		t.Errorf("config:config_test - RequestTimeout = %v, want 25s", cfg.RequestTimeout)
	}
	if cfg.ProtocolVersion != "1.0.0" {
		t.Errorf("config:config_test - ProtocolVersion = %q, want 1.0.0", cfg.ProtocolVersion)
	}
	if cfg.PresenceInterval != 30*time.Second {
		t.Errorf("config:config_test - PresenceInterval = %v, want 30s", cfg.PresenceInterval)
	}
	if cfg.DatabaseURL != "" || cfg.MirrorEnabled() {
		t.Errorf("config:config_test - expected mirror disabled by default, DatabaseURL=%q", cfg.DatabaseURL)
	}
	if cfg.RunMigrations {
		t.Error("config:config_test - expected RunMigrations=false by default")
	}
	if cfg.MigrationPath != "migrations" {
		t.Errorf("config:config_test - MigrationPath = %q, want %q", cfg.MigrationPath, "migrations")
	}
	if cfg.HTTPPort != 8080 {
		t.Errorf("config:config_test - HTTPPort = %d, want 8080", cfg.HTTPPort)
	}
	if cfg.HealthCheckTimeout != 5*time.Second {
		t.Errorf("config:config_test - HealthCheckTimeout = %v, want 5s", cfg.HealthCheckTimeout)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("config:config_test - LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	overrides := map[string]string{
		"COMMS_URL":               "nats://custom:4222",
		"SERVICE_NAME":            "test-peer",
		"LOCAL_ADDRESS":           "alice@example.com",
		"MATCH_POLICY":            "unkeyed",
		"HOST_API_SUBJECT":        "custom.host",
		"HOST_EVENT_SUBJECT":      "custom.events",
		"REQUEST_TIMEOUT":         "10s",
		"BOOTSTRAP_FILE":          "/tmp/bootstrap.json",
		"PROTOCOL_VERSION":        "2.1.0",
		"PEER_VERSION_CONSTRAINT": "^2.0.0",
		"PRESENCE_INTERVAL":       "1m",
		"DATABASE_URL":            "postgres://test@localhost/test",
		"RUN_MIGRATIONS":          "true",
		"MIGRATION_PATH":          "/tmp/migrations",
		"HTTP_PORT":               "9090",
		"HEALTH_CHECK_TIMEOUT":    "10s",
		"LOG_LEVEL":               "debug",
	}
	for key, val := range overrides {
		t.Setenv(key, val)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("config:config_test - unexpected error: %v", err)
	}

	checks := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"COMMSURL", cfg.COMMSURL, "nats://custom:4222"},
		{"COMMSName", cfg.COMMSName, "test-peer"},
		{"LocalAddress", cfg.LocalAddress, "alice@example.com"},
		{"MatchPolicy", cfg.MatchPolicy, "unkeyed"},
		{"HostAPISubject", cfg.HostAPISubject, "custom.host"},
		{"HostEventSubject", cfg.HostEventSubject, "custom.events"},
		{"RequestTimeout", cfg.RequestTimeout, 10 * time.Second},
		{"BootstrapFile", cfg.BootstrapFile, "/tmp/bootstrap.json"},
		{"ProtocolVersion", cfg.ProtocolVersion, "2.1.0"},
		{"PeerVersionConstraint", cfg.PeerVersionConstraint, "^2.0.0"},
		{"PresenceInterval", cfg.PresenceInterval, time.Minute},
		{"DatabaseURL", cfg.DatabaseURL, "postgres://test@localhost/test"},
		{"RunMigrations", cfg.RunMigrations, true},
		{"MigrationPath", cfg.MigrationPath, "/tmp/migrations"},
		{"HTTPPort", cfg.HTTPPort, 9090},
		{"HealthCheckTimeout", cfg.HealthCheckTimeout, 10 * time.Second},
		{"LogLevel", cfg.LogLevel, "debug"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("config:config_test - %s = %v, want %v", c.name, c.got, c.want)
		}
	}
	if !cfg.MirrorEnabled() {
		t.Error("config:config_test - expected mirror enabled when DATABASE_URL is set")
	}
}

func TestValidateForServe(t *testing.T) {
	valid := func() *Config {
		return &Config{
			LocalAddress:       "alice@example.com",
			MatchPolicy:        "keyed",
			RequestTimeout:     time.Second,
			HealthCheckTimeout: time.Second,
			ProtocolVersion:    "1.0.0",
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"unkeyed", func(c *Config) { c.MatchPolicy = "unkeyed" }, false},
		{"missing address", func(c *Config) { c.LocalAddress = "  " }, true},
		{"bad policy", func(c *Config) { c.MatchPolicy = "fuzzy" }, true},
		{"zero timeout", func(c *Config) { c.RequestTimeout = 0 }, true},
		{"zero health timeout", func(c *Config) { c.HealthCheckTimeout = 0 }, true},
		{"negative presence interval", func(c *Config) { c.PresenceInterval = -time.Second }, true},
		{"missing protocol version", func(c *Config) { c.ProtocolVersion = "" }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.ValidateForServe()
			if (err != nil) != tt.wantErr {
				t.Errorf("config:config_test - ValidateForServe() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateForDB(t *testing.T) {
	if err := (&Config{}).ValidateForDB(); err == nil {
		t.Error("config:config_test - expected error without DATABASE_URL")
	}
	if err := (&Config{DatabaseURL: "postgres://x"}).ValidateForDB(); err != nil {
		t.Errorf("config:config_test - unexpected error: %v", err)
	}
}

func TestLoadConfig_LogLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		t.Setenv("LOG_LEVEL", level)
		cfg, err := LoadConfig()
		if err != nil {
			t.Fatalf("config:config_test - unexpected error for level %q: %v", level, err)
		}
		if cfg.LogLevel != level {
			t.Errorf("config:config_test - LogLevel = %q, want %q", cfg.LogLevel, level)
		}
	}
}
