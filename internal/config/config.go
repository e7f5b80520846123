// Package config loads server configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all server configuration
// Tags:
//
//	env: Environment variable name
//	envDefault: Default value if not set
//	required: Must be provided (no default)
type Config struct {
	// Listeners
	Addr    string `env:"WS_ADDR" envDefault:":8090"`
	OpsAddr string `env:"OPS_ADDR" envDefault:":9090"`

	// Storage and auth
	DBPath    string `env:"DB_PATH" envDefault:"notebud.db"`
	JWTSecret string `env:"JWT_SECRET,required"`

	// Capacity. MaxConnections=0 derives a limit from the container
	// memory allocation via cgroups.
	MaxConnections int `env:"MAX_CONNECTIONS" envDefault:"0"`

	// Per-connection buffers
	ReadBufferSize int `env:"READ_BUFFER_SIZE" envDefault:"4096"`
	SendQueueSize  int `env:"SEND_QUEUE_SIZE" envDefault:"64"`

	// Per-connection message rate limiting
	MsgRate  int `env:"MSG_RATE" envDefault:"10"`
	MsgBurst int `env:"MSG_BURST" envDefault:"100"`

	// Protocol
	HistoryLimit int `env:"HISTORY_LIMIT" envDefault:"100"`

	// Shutdown
	ShutdownGrace time.Duration `env:"SHUTDOWN_GRACE" envDefault:"10s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads configuration from .env file and environment variables
// Priority: ENV vars > .env file > defaults
func Load(logger *zerolog.Logger) (*Config, error) {
	// The .env file is a development convenience; in containers the
	// environment is set directly.
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("No .env file found (using environment variables only)")
		}
	} else if logger != nil {
		logger.Info().Msg("Loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	if cfg.MaxConnections == 0 {
		limit, err := memoryLimit()
		if err != nil && logger != nil {
			logger.Warn().Err(err).Msg("cgroup memory limit probe failed")
		}
		cfg.MaxConnections = maxConnectionsFor(limit)
	}

	return cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("WS_ADDR is required")
	}
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.MaxConnections < 0 {
		return fmt.Errorf("MAX_CONNECTIONS must be >= 0, got %d", c.MaxConnections)
	}
	if c.ReadBufferSize < 512 {
		return fmt.Errorf("READ_BUFFER_SIZE must be >= 512, got %d", c.ReadBufferSize)
	}
	if c.SendQueueSize < 1 {
		return fmt.Errorf("SEND_QUEUE_SIZE must be > 0, got %d", c.SendQueueSize)
	}
	if c.MsgRate < 1 {
		return fmt.Errorf("MSG_RATE must be > 0, got %d", c.MsgRate)
	}
	if c.MsgBurst < c.MsgRate {
		return fmt.Errorf("MSG_BURST (%d) must be >= MSG_RATE (%d)", c.MsgBurst, c.MsgRate)
	}
	if c.HistoryLimit < 1 {
		return fmt.Errorf("HISTORY_LIMIT must be > 0, got %d", c.HistoryLimit)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got: %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got: %s)", c.LogFormat)
	}

	return nil
}

// LogConfig logs the effective configuration using structured logging.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("addr", c.Addr).
		Str("ops_addr", c.OpsAddr).
		Str("db_path", c.DBPath).
		Int("max_connections", c.MaxConnections).
		Int("read_buffer_size", c.ReadBufferSize).
		Int("send_queue_size", c.SendQueueSize).
		Int("msg_rate", c.MsgRate).
		Int("msg_burst", c.MsgBurst).
		Int("history_limit", c.HistoryLimit).
		Dur("shutdown_grace", c.ShutdownGrace).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("Server configuration loaded")
}
