// Package config loads the service configuration from defaults, an
// optional leadsync.yaml, and LEADSYNC_-prefixed environment variables,
// in that order of precedence (lowest to highest).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// ConfigFileName is the config file looked up in the working directory.
const ConfigFileName = "leadsync.yaml"

// EnvPrefix namespaces the service's environment variables. Nested keys
// use a double underscore: LEADSYNC_SERVER__ADDR maps to server.addr.
const EnvPrefix = "LEADSYNC_"

type ServerConfig struct {
	Addr string `koanf:"addr"`
	// AuthToken, when set, is required as a bearer token on every
	// endpoint except the health check.
	AuthToken       string        `koanf:"auth_token"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type FormSourceConfig struct {
	BaseURL  string `koanf:"base_url"`
	Token    string `koanf:"token"`
	FormID   string `koanf:"form_id"`
	PageSize int    `koanf:"page_size"`
	MaxPages int    `koanf:"max_pages"`
}

type SheetConfig struct {
	BaseURL  string        `koanf:"base_url"`
	Token    string        `koanf:"token"`
	BaseID   string        `koanf:"base_id"`
	Table    string        `koanf:"table"`
	RowDelay time.Duration `koanf:"row_delay"`
}

// Configured reports whether the sheet credentials are all present.
func (s SheetConfig) Configured() bool {
	return s.Token != "" && s.BaseID != "" && s.Table != ""
}

type StoreConfig struct {
	DSN string `koanf:"dsn"`
}

type PollerConfig struct {
	Enabled  bool          `koanf:"enabled"`
	Interval time.Duration `koanf:"interval"`
}

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	FormSource FormSourceConfig `koanf:"form_source"`
	Sheet      SheetConfig      `koanf:"sheet"`
	Store      StoreConfig      `koanf:"store"`
	Poller     PollerConfig     `koanf:"poller"`
	Debug      bool             `koanf:"debug"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"server.addr":             ":8080",
		"server.shutdown_timeout": 10 * time.Second,
		"form_source.base_url":    "https://api.typeform.com",
		"form_source.page_size":   1000,
		"form_source.max_pages":   100,
		"sheet.base_url":          "https://api.airtable.com",
		"sheet.row_delay":         200 * time.Millisecond,
		"store.dsn":               "memory://",
		"poller.enabled":          true,
		"poller.interval":         5 * time.Minute,
		"debug":                   false,
	}
}

// Load reads the configuration, preferring the named config file and
// falling back to leadsync.yaml in the working directory. A missing file
// is not an error.
func Load(cfgFile string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: load defaults: %w", err)
	}

	if cfgFile == "" {
		if _, err := os.Stat(ConfigFileName); err == nil {
			cfgFile = ConfigFileName
		}
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", cfgFile, err)
		}
	}

	// LEADSYNC_FORM_SOURCE__TOKEN -> form_source.token
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("config: load env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &cfg, nil
}

// Validate flags configuration the service cannot start with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config: server.addr is empty")
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("config: store.dsn is empty")
	}
	if c.FormSource.PageSize <= 0 {
		return fmt.Errorf("config: form_source.page_size must be positive")
	}
	if c.FormSource.MaxPages <= 0 {
		return fmt.Errorf("config: form_source.max_pages must be positive")
	}
	if c.Poller.Enabled && c.Poller.Interval <= 0 {
		return fmt.Errorf("config: poller.interval must be positive")
	}
	return nil
}
