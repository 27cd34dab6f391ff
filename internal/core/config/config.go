// Package config handles configuration loading and validation for shopwire.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport kinds.
const (
	TransportWebsocket = "websocket"
	TransportPoll      = "poll"
	TransportRedis     = "redis"
)

// Config holds the application configuration.
type Config struct {
	Transport     TransportConfig     `yaml:"transport"`
	Connection    ConnectionConfig    `yaml:"connection"`
	Stores        StoresConfig        `yaml:"stores"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Topics        []string            `yaml:"topics"` // extra topics to hold open, globs allowed
	Metrics       MetricsConfig       `yaml:"metrics"`
}

// TransportConfig selects and configures the transport strategy.
type TransportConfig struct {
	Kind             string        `yaml:"kind"` // websocket, poll or redis
	URL              string        `yaml:"url"`  // ws(s):// for websocket, http(s):// base for poll
	TokenEnv         string        `yaml:"token_env"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	RequestTimeout   time.Duration `yaml:"request_timeout"`
	Redis            RedisConfig   `yaml:"redis"`
}

// RedisConfig configures the redis pub/sub transport.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"` // channel prefix, e.g. "pos:"
}

// ConnectionConfig holds the reconnect and liveness policy.
type ConnectionConfig struct {
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectDelay       time.Duration `yaml:"reconnect_delay"`
	MaxReconnectDelay    time.Duration `yaml:"max_reconnect_delay"`
	Backoff              string        `yaml:"backoff"` // linear or exponential
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout     time.Duration `yaml:"heartbeat_timeout"`
	StableAfter          time.Duration `yaml:"stable_after"`
}

// StoresConfig sizes the aggregation stores.
type StoresConfig struct {
	HistorySize int    `yaml:"history_size"`
	RecentSize  int    `yaml:"recent_size"`
	AlertSize   int    `yaml:"alert_size"`
	DailyReset  string `yaml:"daily_reset"` // cron expression
	Timezone    string `yaml:"timezone"`    // IANA name, empty for local time
}

// NotificationsConfig configures the notification center.
type NotificationsConfig struct {
	MaxItems           int           `yaml:"max_items"`
	AutoMarkRead       bool          `yaml:"auto_mark_read"`
	Sound              bool          `yaml:"sound"`
	BellInterval       time.Duration `yaml:"bell_interval"`
	DisabledCategories []string      `yaml:"disabled_categories"`
	Dedupe             *bool         `yaml:"dedupe"`
	DedupeSize         int           `yaml:"dedupe_size"`
}

// DedupeEnabled reports whether redelivered events are suppressed.
func (n NotificationsConfig) DedupeEnabled() bool {
	return n.Dedupe == nil || *n.Dedupe
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the endpoint
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	dedupe := true
	return Config{
		Transport: TransportConfig{
			Kind:             TransportWebsocket,
			URL:              "ws://localhost:8080/realtime",
			TokenEnv:         "SHOPWIRE_TOKEN",
			HandshakeTimeout: 10 * time.Second,
			WriteTimeout:     5 * time.Second,
			PollInterval:     2 * time.Second,
			RequestTimeout:   10 * time.Second,
			Redis: RedisConfig{
				Addr: "localhost:6379",
			},
		},
		Connection: ConnectionConfig{
			MaxReconnectAttempts: 5,
			ReconnectDelay:       time.Second,
			MaxReconnectDelay:    30 * time.Second,
			Backoff:              "exponential",
			HeartbeatInterval:    30 * time.Second,
			HeartbeatTimeout:     75 * time.Second,
			StableAfter:          10 * time.Second,
		},
		Stores: StoresConfig{
			HistorySize: 100,
			RecentSize:  20,
			AlertSize:   50,
			DailyReset:  "0 0 * * *",
		},
		Notifications: NotificationsConfig{
			MaxItems:     50,
			BellInterval: 2 * time.Second,
			Dedupe:       &dedupe,
			DedupeSize:   512,
		},
	}
}

// Load reads configuration from the given path. If configPath is empty or
// doesn't exist, returns defaults.
func Load(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return nil, fmt.Errorf("read config file: %w", err)
			}

			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for any unset configuration options.
func (c *Config) applyDefaults() {
	defaults := DefaultConfig()

	setDefault(&c.Transport.Kind, defaults.Transport.Kind)
	setDefault(&c.Transport.HandshakeTimeout, defaults.Transport.HandshakeTimeout)
	setDefault(&c.Transport.WriteTimeout, defaults.Transport.WriteTimeout)
	setDefault(&c.Transport.PollInterval, defaults.Transport.PollInterval)
	setDefault(&c.Transport.RequestTimeout, defaults.Transport.RequestTimeout)
	setDefault(&c.Transport.Redis.Addr, defaults.Transport.Redis.Addr)

	setDefault(&c.Connection.ReconnectDelay, defaults.Connection.ReconnectDelay)
	setDefault(&c.Connection.MaxReconnectDelay, defaults.Connection.MaxReconnectDelay)
	setDefault(&c.Connection.Backoff, defaults.Connection.Backoff)

	setDefault(&c.Stores.HistorySize, defaults.Stores.HistorySize)
	setDefault(&c.Stores.RecentSize, defaults.Stores.RecentSize)
	setDefault(&c.Stores.AlertSize, defaults.Stores.AlertSize)
	setDefault(&c.Stores.DailyReset, defaults.Stores.DailyReset)

	setDefault(&c.Notifications.MaxItems, defaults.Notifications.MaxItems)
	setDefault(&c.Notifications.BellInterval, defaults.Notifications.BellInterval)
	setDefault(&c.Notifications.DedupeSize, defaults.Notifications.DedupeSize)
}

func setDefault[T comparable](field *T, def T) {
	var zero T
	if *field == zero {
		*field = def
	}
}

// Location returns the time zone for the daily reset.
func (s StoresConfig) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(s.Timezone)
}
