package config

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxMessageBytes   int64         `mapstructure:"max_message_bytes" yaml:"max_message_bytes"`

	Log      LogConfig      `mapstructure:"log" yaml:"log"`
	Worker   WorkerConfig   `mapstructure:"worker" yaml:"worker"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Fanout   FanoutConfig   `mapstructure:"fanout" yaml:"fanout"`
	Chat     ChatConfig     `mapstructure:"chat" yaml:"chat"`
	Recovery RecoveryConfig `mapstructure:"recovery" yaml:"recovery"`
}

// LogConfig selects log verbosity and output.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"` // console or json
}

// WorkerConfig identifies this process among the workers sharing a store.
type WorkerConfig struct {
	ID         string `mapstructure:"id" yaml:"id"`
	PortOffset int    `mapstructure:"port_offset" yaml:"port_offset"`
}

// StoreConfig selects the message store.
type StoreConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"` // sqlite or postgres
	Path   string `mapstructure:"path" yaml:"path"`
	DSN    string `mapstructure:"dsn" yaml:"dsn"`
}

// FanoutConfig selects how messages reach the other workers.
type FanoutConfig struct {
	Driver   string `mapstructure:"driver" yaml:"driver"` // local, redis or nats
	RedisURL string `mapstructure:"redis_url" yaml:"redis_url"`
	NATSURL  string `mapstructure:"nats_url" yaml:"nats_url"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
}

// ChatConfig tunes room behavior.
type ChatConfig struct {
	DefaultRoom  string        `mapstructure:"default_room" yaml:"default_room"`
	HistoryLimit int           `mapstructure:"history_limit" yaml:"history_limit"`
	ReplayBatch  int           `mapstructure:"replay_batch" yaml:"replay_batch"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	// RateLimit is inbound frames per minute per connection; 0 disables it.
	RateLimit int `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RecoveryConfig controls session resume after a disconnect.
type RecoveryConfig struct {
	Enabled       bool          `mapstructure:"enabled" yaml:"enabled"`
	MaxDisconnect time.Duration `mapstructure:"max_disconnect" yaml:"max_disconnect"`
	Buffer        int           `mapstructure:"buffer" yaml:"buffer"`
	// SweepInterval is how often expired parked sessions are dropped.
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
	Secret        string        `mapstructure:"secret" yaml:"secret"`
	Issuer        string        `mapstructure:"issuer" yaml:"issuer"`
	Audience      string        `mapstructure:"audience" yaml:"audience"`
	TokenTTL      time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		MaxMessageBytes:   1 << 20,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Worker: WorkerConfig{
			ID: "worker-0",
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "wirechat.db",
		},
		Fanout: FanoutConfig{
			Driver: "local",
		},
		Chat: ChatConfig{
			DefaultRoom:  "general",
			HistoryLimit: 100,
			ReplayBatch:  200,
			WriteTimeout: 5 * time.Second,
			RateLimit:    120,
		},
		Recovery: RecoveryConfig{
			Enabled:       true,
			MaxDisconnect: 2 * time.Minute,
			Buffer:        100,
			SweepInterval: 15 * time.Second,
			Issuer:        "wirechat-relay",
			Audience:      "wirechat-clients",
			TokenTTL:      10 * time.Minute,
		},
	}
}

// UpdateFrom overwrites non-zero values from other config into receiver.
func (c *Config) UpdateFrom(other Config) {
	if other.Addr != "" {
		c.Addr = other.Addr
	}
	if other.ReadHeaderTimeout != 0 {
		c.ReadHeaderTimeout = other.ReadHeaderTimeout
	}
	if other.ShutdownTimeout != 0 {
		c.ShutdownTimeout = other.ShutdownTimeout
	}
	if other.MaxMessageBytes != 0 {
		c.MaxMessageBytes = other.MaxMessageBytes
	}
	if other.Log.Level != "" {
		c.Log.Level = other.Log.Level
	}
	if other.Log.Format != "" {
		c.Log.Format = other.Log.Format
	}
	if other.Worker.ID != "" {
		c.Worker.ID = other.Worker.ID
	}
	if other.Worker.PortOffset != 0 {
		c.Worker.PortOffset = other.Worker.PortOffset
	}
	if other.Store.Driver != "" {
		c.Store.Driver = other.Store.Driver
	}
	if other.Store.Path != "" {
		c.Store.Path = other.Store.Path
	}
	if other.Store.DSN != "" {
		c.Store.DSN = other.Store.DSN
	}
	if other.Fanout.Driver != "" {
		c.Fanout.Driver = other.Fanout.Driver
	}
	if other.Fanout.RedisURL != "" {
		c.Fanout.RedisURL = other.Fanout.RedisURL
	}
	if other.Fanout.NATSURL != "" {
		c.Fanout.NATSURL = other.Fanout.NATSURL
	}
}

// ListenAddr returns Addr with the worker port offset applied.
func (c *Config) ListenAddr() (string, error) {
	if c.Worker.PortOffset == 0 {
		return c.Addr, nil
	}
	host, portStr, err := net.SplitHostPort(c.Addr)
	if err != nil {
		return "", fmt.Errorf("parse addr %q: %w", c.Addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", fmt.Errorf("parse port %q: %w", portStr, err)
	}
	return net.JoinHostPort(host, strconv.Itoa(port+c.Worker.PortOffset)), nil
}

// Validate rejects unknown drivers and missing connection settings.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for sqlite")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.Store.Driver)
	}

	switch c.Fanout.Driver {
	case "local":
	case "redis":
		if c.Fanout.RedisURL == "" {
			return fmt.Errorf("fanout.redis_url is required for redis")
		}
	case "nats":
		if c.Fanout.NATSURL == "" {
			return fmt.Errorf("fanout.nats_url is required for nats")
		}
	default:
		return fmt.Errorf("unknown fanout.driver %q", c.Fanout.Driver)
	}

	if c.Chat.DefaultRoom == "" {
		return fmt.Errorf("chat.default_room is required")
	}
	if c.Recovery.Enabled && c.Recovery.SweepInterval <= 0 {
		return fmt.Errorf("recovery.sweep_interval must be positive")
	}
	return nil
}
