// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Session  SessionConfig  `mapstructure:"session"`
	Proxy    ProxyConfig    `mapstructure:"proxy"`
	Site     SiteConfig     `mapstructure:"site"`
	Platform PlatformConfig `mapstructure:"platform"`
	DB       DBConfig       `mapstructure:"db"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// BrowserConfig configures the headless browser driver.
type BrowserConfig struct {
	Headless        bool     `mapstructure:"headless"`
	InstallBrowsers bool     `mapstructure:"install_browsers"`
	LaunchArgs      []string `mapstructure:"launch_args"`
	NavTimeoutSec   int      `mapstructure:"nav_timeout_seconds"`
}

// SessionConfig governs pooled session lifetime.
type SessionConfig struct {
	IdleTimeoutSec int `mapstructure:"idle_timeout_seconds"`
}

// ProxyConfig governs endpoint rotation.
type ProxyConfig struct {
	CacheTTLSec     int    `mapstructure:"cache_ttl_seconds"`
	UsageThreshold  int    `mapstructure:"usage_threshold"`
	ThresholdStep   int    `mapstructure:"threshold_step"`
	Exclusions      string `mapstructure:"exclusions"`
	FetchTimeoutSec int    `mapstructure:"fetch_timeout_seconds"`

	// Accounts is populated by sequential key discovery, not by Unmarshal.
	Accounts []ProxyAccount `mapstructure:"-"`
}

// ProxyAccount names one credential group and the URL its endpoint list is
// fetched from.
type ProxyAccount struct {
	ID        string
	SourceURL string
}

// SiteConfig points at the booking site the browser drives.
type SiteConfig struct {
	LoginURL         string `mapstructure:"login_url"`
	ScheduleURL      string `mapstructure:"schedule_url"`
	Username         string `mapstructure:"username"`
	Password         string `mapstructure:"password"`
	UserSelector     string `mapstructure:"user_selector"`
	PasswordSelector string `mapstructure:"password_selector"`
	SubmitSelector   string `mapstructure:"submit_selector"`
}

// PlatformConfig configures the downstream scheduling-platform client.
type PlatformConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	APIKey           string `mapstructure:"api_key"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
}

// DBConfig controls access to the run-history database. An empty DSN selects
// the no-op store.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("BOOKBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Proxy.Accounts = discoverAccounts(v)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// discoverAccounts probes proxy.account1.url, proxy.account2.url, ... and
// stops at the first missing key. The resulting order is the round-robin
// order and never changes for the process lifetime.
func discoverAccounts(v *viper.Viper) []ProxyAccount {
	var accounts []ProxyAccount
	for i := 1; ; i++ {
		key := fmt.Sprintf("proxy.account%d.url", i)
		if !v.IsSet(key) {
			break
		}
		accounts = append(accounts, ProxyAccount{
			ID:        fmt.Sprintf("account%d", i),
			SourceURL: v.GetString(key),
		})
	}
	return accounts
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime failures.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth enabled but auth.api_key empty")
	}
	if c.Session.IdleTimeoutSec <= 0 {
		return fmt.Errorf("session.idle_timeout_seconds must be > 0")
	}
	if c.Proxy.CacheTTLSec <= 0 {
		return fmt.Errorf("proxy.cache_ttl_seconds must be > 0")
	}
	if c.Proxy.UsageThreshold <= 0 || c.Proxy.ThresholdStep <= 0 {
		return fmt.Errorf("proxy usage threshold and step must be > 0")
	}
	return nil
}

// IdleTimeout returns the session idle timeout as a duration.
func (c Config) IdleTimeout() time.Duration {
	return time.Duration(c.Session.IdleTimeoutSec) * time.Second
}

// CacheTTL returns the endpoint-list cache TTL as a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Proxy.CacheTTLSec) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("logging.development", false)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.install_browsers", false)
	v.SetDefault("browser.launch_args", []string{})
	v.SetDefault("browser.nav_timeout_seconds", 45)

	// Sessions idle out after five minutes without a checkout.
	v.SetDefault("session.idle_timeout_seconds", 300)

	// Endpoint lists are refetched at most once per hour.
	v.SetDefault("proxy.cache_ttl_seconds", 3600)
	v.SetDefault("proxy.usage_threshold", 10)
	v.SetDefault("proxy.threshold_step", 10)
	v.SetDefault("proxy.exclusions", "")
	v.SetDefault("proxy.fetch_timeout_seconds", 15)

	v.SetDefault("platform.timeout_seconds", 15)
	v.SetDefault("platform.max_retries", 3)
	v.SetDefault("platform.backoff_initial_ms", 250)
	v.SetDefault("platform.backoff_max_ms", 5000)
}
