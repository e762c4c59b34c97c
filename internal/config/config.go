package config

import (
	"fmt"
	"net"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Bounds for the clamped integer options. Values outside these ranges are
// pulled back to the nearest bound rather than rejected, so a misconfigured
// collector still starts with sane limits.
const (
	MinSources       = 10
	MaxSources       = 65536
	MinWriteBuffer   = 1024
	MaxWriteBuffer   = 1 << 20
	MinIdleTimeout   = 5   // seconds
	MaxIdleTimeout   = 600 // seconds
	MinReceiveBuffer = 1 << 16
	MaxReceiveBuffer = 1 << 30
)

// Config represents the complete collector configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	HTTP    HTTPConfig    `yaml:"http"`
	Log     LogConfig     `yaml:"log"`
	Sources SourcesConfig `yaml:"sources"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains UDP listener configuration
type ServerConfig struct {
	ListenAddress     string `yaml:"listen_address"`
	Port              int    `yaml:"port"`
	ReceiveBufferSize int    `yaml:"receive_buffer_size"` // kernel SO_RCVBUF, bytes
}

// HTTPConfig contains the monitoring HTTP server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LogConfig locates the collected output, as opposed to LoggingConfig
// which shapes the collector's own diagnostics.
type LogConfig struct {
	Directory string `yaml:"directory"`
}

// SourcesConfig bounds the per-source reassembly state
type SourcesConfig struct {
	MaxSources      int `yaml:"max_sources"`
	WriteBufferSize int `yaml:"write_buffer_size"` // per-source cap, bytes
	IdleTimeout     int `yaml:"idle_timeout"`      // seconds
}

// LoggingConfig contains diagnostic logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the built-in configuration the collector runs with when no
// file is given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddress:     "0.0.0.0",
			Port:              6666,
			ReceiveBufferSize: 8 << 20,
		},
		HTTP: HTTPConfig{
			Port:    8686,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Log: LogConfig{
			Directory: ".",
		},
		Sources: SourcesConfig{
			MaxSources:      1024,
			WriteBufferSize: 65536,
			IdleTimeout:     10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load builds the effective configuration: the built-in defaults overlaid
// with the YAML file when path is non-empty, then clamped and validated.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	config.Normalize()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Normalize clamps the bounded integer options into their supported ranges.
func (c *Config) Normalize() {
	c.Sources.MaxSources = clamp(c.Sources.MaxSources, MinSources, MaxSources)
	c.Sources.WriteBufferSize = clamp(c.Sources.WriteBufferSize, MinWriteBuffer, MaxWriteBuffer)
	c.Sources.IdleTimeout = clamp(c.Sources.IdleTimeout, MinIdleTimeout, MaxIdleTimeout)
	c.Server.ReceiveBufferSize = clamp(c.Server.ReceiveBufferSize, MinReceiveBuffer, MaxReceiveBuffer)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log config: %w", err)
	}

	if err := c.Sources.Validate(); err != nil {
		return fmt.Errorf("sources config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates the UDP listener configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.ListenAddress == "" {
		return fmt.Errorf("listen_address cannot be empty")
	}
	if net.ParseIP(s.ListenAddress) == nil {
		return fmt.Errorf("listen_address must be an IP address, got '%s'", s.ListenAddress)
	}

	return nil
}

// Validate validates the monitoring HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates the output location
func (l *LogConfig) Validate() error {
	if l.Directory == "" {
		return fmt.Errorf("directory cannot be empty")
	}

	return nil
}

// Validate validates the per-source bounds
func (s *SourcesConfig) Validate() error {
	if s.MaxSources < MinSources || s.MaxSources > MaxSources {
		return fmt.Errorf("max_sources must be between %d and %d, got %d",
			MinSources, MaxSources, s.MaxSources)
	}

	if s.WriteBufferSize < MinWriteBuffer || s.WriteBufferSize > MaxWriteBuffer {
		return fmt.Errorf("write_buffer_size must be between %d and %d, got %d",
			MinWriteBuffer, MaxWriteBuffer, s.WriteBufferSize)
	}

	if s.IdleTimeout < MinIdleTimeout || s.IdleTimeout > MaxIdleTimeout {
		return fmt.Errorf("idle_timeout must be between %d and %d seconds, got %d",
			MinIdleTimeout, MaxIdleTimeout, s.IdleTimeout)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Output is stdout, stderr or a file path; anything non-empty works.
	if l.Output == "" {
		return fmt.Errorf("output cannot be empty")
	}

	return nil
}

// GetIdleTimeoutDuration returns the idle flush timeout as a time.Duration
func (s *SourcesConfig) GetIdleTimeoutDuration() time.Duration {
	return time.Duration(s.IdleTimeout) * time.Second
}
