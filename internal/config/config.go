// Package config loads configuration from an optional TOML file and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	defaultGraphBaseURL  = "https://graph.microsoft.com/v1.0"
	defaultScopes        = "https://graph.microsoft.com/.default offline_access openid profile"
	defaultInviteMessage = "You've been invited to collaborate on a file."
)

// Config holds all casefiles configuration.
type Config struct {
	// Local API
	ListenAddr  string `toml:"listen_addr"`
	MetricsAddr string `toml:"metrics_addr"`

	// Logging
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`

	// Remote document API
	GraphBaseURL string        `toml:"graph_base_url"`
	GraphTimeout time.Duration `toml:"-"`

	// Enterprise identity provider
	TenantID  string `toml:"tenant_id"`
	ClientID  string `toml:"client_id"`
	Authority string `toml:"authority"`
	Scopes    string `toml:"scopes"`

	// Direct identity service (empty URL disables guest sign-in)
	IdentityURL     string `toml:"identity_url"`
	IdentityAnonKey string `toml:"identity_anon_key"`

	// Local state
	StatePath string `toml:"state_path"`

	// Behaviour
	SortLocale    string `toml:"sort_locale"`
	MaxUploadSize int64  `toml:"max_upload_size"`
	InviteMessage string `toml:"invite_message"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		ListenAddr:    "127.0.0.1:7780",
		MetricsAddr:   "127.0.0.1:9780",
		LogLevel:      "info",
		LogFormat:     "console",
		GraphBaseURL:  defaultGraphBaseURL,
		GraphTimeout:  30 * time.Second,
		Scopes:        defaultScopes,
		StatePath:     defaultStatePath(),
		SortLocale:    "en",
		MaxUploadSize: 100 * 1024 * 1024, // 100MB default
		InviteMessage: defaultInviteMessage,
	}
}

// Load reads CASEFILES_CONFIG (if set), then applies environment overrides.
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv("CASEFILES_CONFIG"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.ListenAddr = envOr("LISTEN_ADDR", c.ListenAddr)
	c.MetricsAddr = envOrEmpty("METRICS_ADDR", c.MetricsAddr)
	c.LogLevel = envOr("LOG_LEVEL", c.LogLevel)
	c.LogFormat = envOr("LOG_FORMAT", c.LogFormat)
	c.GraphBaseURL = envOr("GRAPH_BASE_URL", c.GraphBaseURL)
	c.GraphTimeout = envDuration("GRAPH_TIMEOUT", c.GraphTimeout)
	c.TenantID = envOr("ENTRA_TENANT_ID", c.TenantID)
	c.ClientID = envOr("ENTRA_CLIENT_ID", c.ClientID)
	c.Authority = envOr("ENTRA_AUTHORITY", c.Authority)
	c.Scopes = envOr("ENTRA_SCOPES", c.Scopes)
	c.IdentityURL = envOr("IDENTITY_URL", c.IdentityURL)
	c.IdentityAnonKey = envOr("IDENTITY_ANON_KEY", c.IdentityAnonKey)
	c.StatePath = envOr("STATE_PATH", c.StatePath)
	c.SortLocale = envOr("SORT_LOCALE", c.SortLocale)
	c.MaxUploadSize = envInt64("MAX_UPLOAD_SIZE", c.MaxUploadSize)
	c.InviteMessage = envOr("INVITE_MESSAGE", c.InviteMessage)
}

// Validate checks required fields and fills derived values.
func (c *Config) Validate() error {
	if c.TenantID == "" {
		return errors.New("ENTRA_TENANT_ID is required")
	}
	if c.ClientID == "" {
		return errors.New("ENTRA_CLIENT_ID is required")
	}
	if c.GraphBaseURL == "" {
		return errors.New("GRAPH_BASE_URL must not be empty")
	}
	if c.StatePath == "" {
		return errors.New("STATE_PATH must not be empty")
	}
	if c.IdentityURL != "" && c.IdentityAnonKey == "" {
		return errors.New("IDENTITY_ANON_KEY is required when IDENTITY_URL is set")
	}
	if c.Authority == "" {
		c.Authority = "https://login.microsoftonline.com/" + c.TenantID + "/v2.0"
	}
	c.GraphBaseURL = strings.TrimSuffix(c.GraphBaseURL, "/")
	return nil
}

// ScopeList splits the configured scopes.
func (c *Config) ScopeList() []string {
	return strings.Fields(c.Scopes)
}

// GuestEnabled reports whether the direct identity service is configured.
func (c *Config) GuestEnabled() bool {
	return c.IdentityURL != ""
}

func defaultStatePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "casefiles", "state.db")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envOrEmpty is envOr for settings where an explicitly empty value means off.
func envOrEmpty(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v)
	}
	return fallback
}

// MetricsEnabled reports whether the metrics listener should start.
func (c *Config) MetricsEnabled() bool {
	return c.MetricsAddr != ""
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
