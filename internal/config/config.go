package config

import (
	"fmt"
	"time"
)

// Config holds client configuration values.
type Config struct {
	Backend  string   `mapstructure:"backend" yaml:"backend"`
	URI      string   `mapstructure:"uri" yaml:"uri"`
	User     string   `mapstructure:"user" yaml:"user"`
	Token    string   `mapstructure:"token" yaml:"token,omitempty"`
	Channels []string `mapstructure:"channels" yaml:"channels"`
	LogLevel string   `mapstructure:"log_level" yaml:"log_level"`

	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay" yaml:"reconnect_delay"`
	RejoinDelay       time.Duration `mapstructure:"rejoin_delay" yaml:"rejoin_delay"`
	RejoinAfterAuth   bool          `mapstructure:"rejoin_after_auth" yaml:"rejoin_after_auth"`
	AuthTimeout       time.Duration `mapstructure:"auth_timeout" yaml:"auth_timeout"`

	// StatusAddr enables the HTTP status endpoint when set.
	StatusAddr        string        `mapstructure:"status_addr" yaml:"status_addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Backend:           "twitch",
		Channels:          []string{},
		LogLevel:          "info",
		HeartbeatInterval: 10 * time.Second,
		ReconnectDelay:    5 * time.Second,
		RejoinDelay:       2 * time.Second,
		AuthTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Backend != "" {
		c.Backend = other.Backend
	}
	if other.URI != "" {
		c.URI = other.URI
	}
	if other.User != "" {
		c.User = other.User
	}
	if other.Token != "" {
		c.Token = other.Token
	}
	if len(other.Channels) > 0 {
		c.Channels = other.Channels
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if other.HeartbeatInterval != 0 {
		c.HeartbeatInterval = other.HeartbeatInterval
	}
	if other.ReconnectDelay != 0 {
		c.ReconnectDelay = other.ReconnectDelay
	}
	if other.RejoinDelay != 0 {
		c.RejoinDelay = other.RejoinDelay
	}
	if other.RejoinAfterAuth {
		c.RejoinAfterAuth = true
	}
	if other.AuthTimeout != 0 {
		c.AuthTimeout = other.AuthTimeout
	}
	if other.StatusAddr != "" {
		c.StatusAddr = other.StatusAddr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	if c.Backend == "" {
		return fmt.Errorf("config: backend is required")
	}
	durations := map[string]time.Duration{
		"heartbeat_interval": c.HeartbeatInterval,
		"reconnect_delay":    c.ReconnectDelay,
		"rejoin_delay":       c.RejoinDelay,
		"auth_timeout":       c.AuthTimeout,
	}
	for name, d := range durations {
		if d < 0 {
			return fmt.Errorf("config: %s must not be negative", name)
		}
	}
	return nil
}
