// Package config loads the steammist configuration file. Defaults are
// applied first and the file is laid over them, so a file only needs the
// settings it changes.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	DefaultConfigFile = "steammist.json"
	DefaultRCONPort   = 27015
	DefaultTimeoutSec = 10
	DefaultDomain     = "api.steampowered.com"
	DefaultListenAddr = "127.0.0.1:27015"
)

// Cache backends accepted in webapi.cache.backend.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheFile   = "file"
	CacheSQLite = "sqlite"
	CacheRedis  = "redis"
)

// Config is the root of the configuration file.
type Config struct {
	path string

	RCON    RCONConfig    `json:"rcon"`
	Server  ServerConfig  `json:"server"`
	WebAPI  WebAPIConfig  `json:"webapi"`
	Logging LoggingConfig `json:"logging"`
}

// RCONConfig is the target of the "rcon" command.
type RCONConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	Password       string `json:"password"`
	TimeoutSec     int    `json:"timeout_sec"`
	LogAuthPackets bool   `json:"log_auth_packets"`
}

// Timeout returns TimeoutSec as a duration.
func (r RCONConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSec) * time.Second
}

// ServerConfig configures the "serve" command.
type ServerConfig struct {
	Listen          string `json:"listen"`
	Password        string `json:"password"`
	MaxFragmentBody int    `json:"max_fragment_body"`
}

// WebAPIConfig configures the "api" command.
type WebAPIConfig struct {
	Domain     string            `json:"domain"`
	Key        string            `json:"key"`
	Arguments  map[string]string `json:"arguments"`
	Connector  string            `json:"connector"`
	TimeoutSec int               `json:"timeout_sec"`
	Cache      CacheConfig       `json:"cache"`
}

// Timeout returns TimeoutSec as a duration.
func (w WebAPIConfig) Timeout() time.Duration {
	return time.Duration(w.TimeoutSec) * time.Second
}

// CacheConfig selects where web API replies are kept.
type CacheConfig struct {
	Backend        string `json:"backend"`
	Mode           string `json:"mode"`
	Path           string `json:"path"`
	RedisAddr      string `json:"redis_addr"`
	RedisPassword  string `json:"redis_password"`
	RedisDB        int    `json:"redis_db"`
	RedisNamespace string `json:"redis_namespace"`
	TTLSec         int    `json:"ttl_sec"`
}

// TTL returns TTLSec as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSec) * time.Second
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
	File    string `json:"file"`
}

// DefaultConfig returns a configuration with every default filled in.
func DefaultConfig() *Config {
	return &Config{
		RCON: RCONConfig{
			Host:       "127.0.0.1",
			Port:       DefaultRCONPort,
			TimeoutSec: DefaultTimeoutSec,
		},
		Server: ServerConfig{
			Listen: DefaultListenAddr,
		},
		WebAPI: WebAPIConfig{
			Domain:     DefaultDomain,
			Arguments:  map[string]string{},
			Connector:  "lazy",
			TimeoutSec: 30,
			Cache: CacheConfig{
				Backend:        CacheNone,
				Mode:           "http",
				Path:           "steammist-cache.json",
				RedisAddr:      "localhost:6379",
				RedisNamespace: "steammist:",
			},
		},
		Logging: LoggingConfig{
			Level:   "info",
			Console: true,
		},
	}
}

// Load reads the configuration at path over the defaults. A missing file is
// not an error; the defaults are returned with Path set to path.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return cfg, nil
}

// Save writes the configuration to its path as indented JSON.
func (c *Config) Save() error {
	if c.path == "" {
		return errors.New("config has no path")
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Path returns the file the configuration was loaded from.
func (c *Config) Path() string {
	return c.path
}

// SetPath changes where Save writes.
func (c *Config) SetPath(path string) {
	c.path = path
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	if c.RCON.Port < 0 || c.RCON.Port > 65535 {
		return fmt.Errorf("rcon.port %d out of range", c.RCON.Port)
	}
	if c.RCON.TimeoutSec < 0 {
		return fmt.Errorf("rcon.timeout_sec must not be negative")
	}
	if c.Server.MaxFragmentBody < 0 {
		return fmt.Errorf("server.max_fragment_body must not be negative")
	}

	switch strings.ToLower(c.WebAPI.Connector) {
	case "", "lazy", "eager":
	default:
		return fmt.Errorf("webapi.connector %q is not lazy or eager", c.WebAPI.Connector)
	}

	switch strings.ToLower(c.WebAPI.Cache.Backend) {
	case "", CacheNone, CacheMemory, CacheFile, CacheSQLite, CacheRedis:
	default:
		return fmt.Errorf("webapi.cache.backend %q is unknown", c.WebAPI.Cache.Backend)
	}

	switch strings.ToLower(c.WebAPI.Cache.Mode) {
	case "", "http", "file":
	default:
		return fmt.Errorf("webapi.cache.mode %q is not http or file", c.WebAPI.Cache.Mode)
	}

	return nil
}
