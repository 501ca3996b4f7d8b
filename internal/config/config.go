// Package config implements TOML configuration loading for the gateway
// with a three-layer override chain: defaults, then the config file, then
// FILES_API_* environment variables. CLI flags (log verbosity) are applied
// by the command layer on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Default values, "layer 0" of the override chain. They let the server
// start with no config file at all.
const (
	defaultListenAddr    = ":8080"
	defaultBasePath      = "./files"
	defaultCacheDir      = "./cache"
	defaultCacheTTL      = "1h"
	defaultDatabasePath  = "./clients.db"
	defaultLogLevel      = "info"
	defaultLogFormat     = "auto"
	defaultPaginationCap = 50
)

// Environment variable names recognized by Resolve.
const (
	EnvConfig   = "FILES_API_CONFIG"
	EnvListen   = "FILES_API_LISTEN"
	EnvBasePath = "FILES_API_BASE_PATH"
	EnvCacheDir = "FILES_API_CACHE_DIR"
	EnvDatabase = "FILES_API_DATABASE"
	EnvLogLevel = "FILES_API_LOG_LEVEL"
)

// Config is the top-level structure parsed from a TOML file.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Providers ProvidersConfig `toml:"providers"`
	Cache     CacheConfig     `toml:"cache"`
	Database  DatabaseConfig  `toml:"database"`
	Logging   LoggingConfig   `toml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Listen        string   `toml:"listen"`
	CORSOrigins   []string `toml:"cors_origins"`
	PaginationCap int      `toml:"pagination_cap"`
}

// ProvidersConfig controls per-provider settings. Remote providers need
// no configuration — credentials arrive with each request — so only the
// local adapter's base path lives here, plus the enabled set.
type ProvidersConfig struct {
	Enabled  []string `toml:"enabled"`
	BasePath string   `toml:"base_path"`
}

// CacheConfig controls the generated-artifact directory.
type CacheConfig struct {
	Dir string `toml:"dir"`
	TTL string `toml:"ttl"`
}

// DatabaseConfig locates the client key store.
type DatabaseConfig struct {
	Path string `toml:"path"`
}

// LoggingConfig controls log output. Format "auto" picks text on a
// terminal and JSON otherwise.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// DefaultConfig returns a Config populated with all default values. Used
// as the starting point for TOML decoding so unset fields keep their
// defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:        defaultListenAddr,
			PaginationCap: defaultPaginationCap,
		},
		Providers: ProvidersConfig{
			Enabled:  []string{"localfs", "googledrive", "onedrive", "gmail"},
			BasePath: defaultBasePath,
		},
		Cache: CacheConfig{
			Dir: defaultCacheDir,
			TTL: defaultCacheTTL,
		},
		Database: DatabaseConfig{
			Path: defaultDatabasePath,
		},
		Logging: LoggingConfig{
			Level:  defaultLogLevel,
			Format: defaultLogFormat,
		},
	}
}

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal: silently ignoring a typo in a
// config file leads to hard-to-debug behavior.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config key %q in %s", undecoded[0].String(), path)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Resolve applies the override chain: defaults, then the config file at
// path (or $FILES_API_CONFIG; missing files fall back to defaults), then
// environment variables.
func Resolve(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvConfig)
	}

	var cfg *Config

	if path == "" {
		cfg = DefaultConfig()
	} else if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg = DefaultConfig()
	} else {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}

		cfg = loaded
	}

	applyEnv(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvListen); v != "" {
		cfg.Server.Listen = v
	}

	if v := os.Getenv(EnvBasePath); v != "" {
		cfg.Providers.BasePath = v
	}

	if v := os.Getenv(EnvCacheDir); v != "" {
		cfg.Cache.Dir = v
	}

	if v := os.Getenv(EnvDatabase); v != "" {
		cfg.Database.Path = v
	}

	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate rejects configurations the server cannot start with.
func Validate(cfg *Config) error {
	if cfg.Server.Listen == "" {
		return errors.New("server.listen must not be empty")
	}

	if cfg.Server.PaginationCap <= 0 {
		return fmt.Errorf("server.pagination_cap must be positive, got %s",
			strconv.Itoa(cfg.Server.PaginationCap))
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug/info/warn/error, got %q", cfg.Logging.Level)
	}

	switch cfg.Logging.Format {
	case "auto", "text", "json":
	default:
		return fmt.Errorf("logging.format must be one of auto/text/json, got %q", cfg.Logging.Format)
	}

	if _, err := cfg.CacheTTL(); err != nil {
		return fmt.Errorf("cache.ttl: %w", err)
	}

	if len(cfg.Providers.Enabled) == 0 {
		return errors.New("providers.enabled must name at least one provider")
	}

	for _, id := range cfg.Providers.Enabled {
		switch id {
		case "localfs", "googledrive", "onedrive", "gmail":
		default:
			return fmt.Errorf("providers.enabled contains unknown provider %q", id)
		}
	}

	return nil
}

// CacheTTL parses the cache TTL duration. "0" disables expiry.
func (c *Config) CacheTTL() (time.Duration, error) {
	if c.Cache.TTL == "" || c.Cache.TTL == "0" {
		return 0, nil
	}

	return time.ParseDuration(c.Cache.TTL)
}
