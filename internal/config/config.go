// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
// Precedence is CLI flag, then ENDOLE_* environment variable, then config
// file, then the built-in default.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Scraper  ScraperConfig  `mapstructure:"scraper"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Stealth  StealthConfig  `mapstructure:"stealth"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// DatabaseConfig controls the SQLite persistence sink.
type DatabaseConfig struct {
	Path          string `mapstructure:"path"`
	Table         string `mapstructure:"table"`
	BusyTimeoutMs int    `mapstructure:"busy_timeout_ms"`
}

// ScraperConfig governs driver and extraction behavior.
type ScraperConfig struct {
	Workers        int    `mapstructure:"workers"`
	BaseURL        string `mapstructure:"base_url"`
	BrowseURL      string `mapstructure:"browse_url"`
	IndexPath      string `mapstructure:"index_path"`
	Headless       bool   `mapstructure:"headless"`
	PageTimeoutSec int    `mapstructure:"page_timeout_seconds"`
	MaxSortCycles  int    `mapstructure:"max_sort_cycles"`
	BrowseDepth    int    `mapstructure:"browse_depth"`
}

// HTTPConfig configures the plain-HTTP probe client.
type HTTPConfig struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	UserAgent      string  `mapstructure:"user_agent"`
	HostQPS        float64 `mapstructure:"host_qps"`
}

// StealthConfig holds the anti-detection dice odds and VPN client settings.
// Each odds value N means a 1-in-N chance per page visit; zero disables
// that mutation.
type StealthConfig struct {
	ViewportOdds         int      `mapstructure:"viewport_odds"`
	SessionOdds          int      `mapstructure:"session_odds"`
	EgressOdds           int      `mapstructure:"egress_odds"`
	VPNEnabled           bool     `mapstructure:"vpn_enabled"`
	VPNBinary            string   `mapstructure:"vpn_binary"`
	VPNRegions           []string `mapstructure:"vpn_regions"`
	VPNConnectTimeoutSec int      `mapstructure:"vpn_connect_timeout_seconds"`
}

// ServerConfig controls the optional status HTTP server. An empty listen
// address disables it.
type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from defaults, an optional config file, the
// environment, and any bound command-line flags.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("ENDOLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		if err := bindFlags(v, flags); err != nil {
			return Config{}, err
		}
	}

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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// bindFlags maps recognised command-line flags onto config keys. Only flags
// actually registered on the set are bound, so every command can expose its
// own subset.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	bindings := map[string]string{
		"database.path":      "database-path",
		"scraper.index_path": "postcodes",
		"scraper.workers":    "workers",
		"server.listen":      "listen",
	}
	for key, name := range bindings {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "endole.db")
	v.SetDefault("database.table", "companies")
	v.SetDefault("database.busy_timeout_ms", 5000)
	v.SetDefault("scraper.workers", 5)
	v.SetDefault("scraper.base_url", "https://suite.endole.co.uk/explorer/postcode")
	v.SetDefault("scraper.browse_url", "https://suite.endole.co.uk/explorer/browse/postcodes/")
	v.SetDefault("scraper.index_path", "postcodes.json")
	v.SetDefault("scraper.headless", true)
	v.SetDefault("scraper.page_timeout_seconds", 90)
	v.SetDefault("scraper.max_sort_cycles", 10)
	v.SetDefault("scraper.browse_depth", 4)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.user_agent", "")
	v.SetDefault("http.host_qps", 1.0)
	v.SetDefault("stealth.viewport_odds", 3)
	v.SetDefault("stealth.session_odds", 20)
	v.SetDefault("stealth.egress_odds", 40)
	v.SetDefault("stealth.vpn_enabled", false)
	v.SetDefault("stealth.vpn_binary", "piactl")
	v.SetDefault("stealth.vpn_regions", []string{})
	v.SetDefault("stealth.vpn_connect_timeout_seconds", 60)
	v.SetDefault("server.listen", "")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must be set")
	}
	if c.Scraper.Workers <= 0 {
		return fmt.Errorf("scraper.workers must be > 0")
	}
	if c.Scraper.BaseURL == "" {
		return fmt.Errorf("scraper.base_url must be set")
	}
	if c.Scraper.PageTimeoutSec <= 0 {
		return fmt.Errorf("scraper.page_timeout_seconds must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	for name, odds := range map[string]int{
		"stealth.viewport_odds": c.Stealth.ViewportOdds,
		"stealth.session_odds":  c.Stealth.SessionOdds,
		"stealth.egress_odds":   c.Stealth.EgressOdds,
	} {
		if odds < 0 {
			return fmt.Errorf("%s must be >= 0", name)
		}
	}
	if c.Stealth.VPNEnabled && c.Stealth.EgressOdds == 0 {
		return fmt.Errorf("stealth.egress_odds must be > 0 when the vpn is enabled")
	}
	return nil
}

// PageTimeout converts the configured seconds into a duration.
func (c Config) PageTimeout() time.Duration {
	return time.Duration(c.Scraper.PageTimeoutSec) * time.Second
}

// ProbeTimeout converts the probe timeout into a duration.
func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// BusyTimeout converts the SQLite busy timeout into a duration.
func (c Config) BusyTimeout() time.Duration {
	return time.Duration(c.Database.BusyTimeoutMs) * time.Millisecond
}

// VPNConnectTimeout converts the VPN connect timeout into a duration.
func (c Config) VPNConnectTimeout() time.Duration {
	return time.Duration(c.Stealth.VPNConnectTimeoutSec) * time.Second
}
