// Package config provides peer-services configuration loaded from environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const logPrefix = "config:LoadConfig"

// Config holds peer-services configuration.
type Config struct {
	// COMMS: connect to standalone NATS at COMMSURL.
	COMMSURL  string `envconfig:"COMMS_URL" default:"nats://127.0.0.1:4222"`
	COMMSName string `envconfig:"SERVICE_NAME" default:"peer-services"`

	// LocalAddress is this peer's stanza address (e.g. "alice@example.com").
	LocalAddress string `envconfig:"LOCAL_ADDRESS"`
	MatchPolicy  string `envconfig:"MATCH_POLICY" default:"keyed"`

	// Host API subject overrides (empty = defaults from commsutil)
	HostAPISubject   string `envconfig:"HOST_API_SUBJECT"`
	HostEventSubject string `envconfig:"HOST_EVENT_SUBJECT"`

	// Timeouts
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"25s"`

	// Bootstrap
	BootstrapFile string `envconfig:"BOOTSTRAP_FILE"`

	// Presence
	ProtocolVersion       string        `envconfig:"PROTOCOL_VERSION" default:"1.0.0"`
	PeerVersionConstraint string        `envconfig:"PEER_VERSION_CONSTRAINT"`
	PresenceInterval      time.Duration `envconfig:"PRESENCE_INTERVAL" default:"30s"`

	// Database (optional; enables the peer directory mirror)
	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RunMigrations bool   `envconfig:"RUN_MIGRATIONS" default:"false"`
	MigrationPath string `envconfig:"MIGRATION_PATH" default:"migrations"`

	// HTTP health endpoint
	HTTPPort           int           `envconfig:"HTTP_PORT" default:"8080"`
	HealthCheckTimeout time.Duration `envconfig:"HEALTH_CHECK_TIMEOUT" default:"5s"`

	// Logging
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// ValidateForServe checks required config when running the peer-services server.
func (c *Config) ValidateForServe() error {
	if strings.TrimSpace(c.LocalAddress) == "" {
		return fmt.Errorf("%s - LOCAL_ADDRESS is required for serve", logPrefix)
	}
	switch c.MatchPolicy {
	case "keyed", "unkeyed":
	default:
		return fmt.Errorf("%s - MATCH_POLICY must be keyed or unkeyed, got %q", logPrefix, c.MatchPolicy)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%s - REQUEST_TIMEOUT must be positive", logPrefix)
	}
	if c.HealthCheckTimeout <= 0 {
		return fmt.Errorf("%s - HEALTH_CHECK_TIMEOUT must be positive", logPrefix)
	}
	if c.PresenceInterval < 0 {
		return fmt.Errorf("%s - PRESENCE_INTERVAL must not be negative", logPrefix)
	}
	if c.ProtocolVersion == "" {
		return fmt.Errorf("%s - PROTOCOL_VERSION is required", logPrefix)
	}
	return nil
}

// ValidateForDB checks required config when running DB-dependent commands (migrate, clear).
func (c *Config) ValidateForDB() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%s - DATABASE_URL is required", logPrefix)
	}
	return nil
}

// MirrorEnabled reports whether the peer directory should be mirrored to Postgres.
func (c *Config) MirrorEnabled() bool {
	return c.DatabaseURL != ""
}
