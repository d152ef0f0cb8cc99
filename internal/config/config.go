// Package config provides configuration types, defaults and loading for
// qprofile.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/zjrosen/qprofile/internal/log"
	"github.com/zjrosen/qprofile/internal/profile"
	"github.com/zjrosen/qprofile/internal/tracing"
)

// EnvPrefix prefixes environment overrides, e.g. QPROFILE_LOG_LEVEL.
const EnvPrefix = "QPROFILE"

// LocalConfigPath is checked before the user config directory.
const LocalConfigPath = ".qprofile/config.yaml"

// Config holds all configuration options for qprofile.
type Config struct {
	Endpoints []profile.Endpoint `mapstructure:"endpoints"`
	Discovery DiscoveryConfig    `mapstructure:"discovery"`
	Selection SelectionConfig    `mapstructure:"selection"`
	Identity  IdentityConfig     `mapstructure:"identity"`
	Client    ClientConfig       `mapstructure:"client"`
	Tracing   tracing.Config     `mapstructure:"tracing"`
	Log       LogConfig          `mapstructure:"log"`
}

// DiscoveryConfig controls profile discovery.
type DiscoveryConfig struct {
	PageSize int           `mapstructure:"page_size"`
	Timeout  time.Duration `mapstructure:"timeout"`   // per endpoint
	CacheTTL time.Duration `mapstructure:"cache_ttl"` // 0 disables caching
}

// SelectionConfig controls selection persistence and notification.
type SelectionConfig struct {
	// NotifyOnReselect announces a selection even when it did not change.
	NotifyOnReselect bool   `mapstructure:"notify_on_reselect"`
	DBPath           string `mapstructure:"db_path"`
	Component        string `mapstructure:"component"`
}

// IdentityConfig locates the bearer token cache.
type IdentityConfig struct {
	TokenFile     string        `mapstructure:"token_file"`
	WatchDebounce time.Duration `mapstructure:"watch_debounce"`
}

// ClientConfig configures the backend clients.
type ClientConfig struct {
	// DefaultEndpoint and DefaultRegion bind clients when no profile is
	// selected.
	DefaultEndpoint string        `mapstructure:"default_endpoint"`
	DefaultRegion   string        `mapstructure:"default_region"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
}

// LogConfig controls the debug log.
type LogConfig struct {
	File  string `mapstructure:"file"`
	Level string `mapstructure:"level"`
}

// DefaultConfigDir returns ~/.config/qprofile, or "" if the home directory
// is unknown.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "qprofile")
}

func inConfigDir(name ...string) string {
	dir := DefaultConfigDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(append([]string{dir}, name...)...)
}

// DefaultDBPath returns the default selection database path.
func DefaultDBPath() string {
	return inConfigDir("state.db")
}

// DefaultTracesFilePath returns the default path for trace file export.
func DefaultTracesFilePath() string {
	return inConfigDir("traces", "traces.jsonl")
}

// DefaultTokenFile returns the default bearer token cache location.
func DefaultTokenFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".aws", "sso", "cache", "qprofile.json")
}

// Defaults returns a Config with sensible default values.
func Defaults() Config {
	dir := profile.DefaultDirectoryConfig()
	tr := tracing.DefaultConfig()
	tr.FilePath = DefaultTracesFilePath()
	primary := dir.Endpoints[0]
	return Config{
		Endpoints: dir.Endpoints,
		Discovery: DiscoveryConfig{
			PageSize: dir.PageSize,
			Timeout:  dir.Timeout,
			CacheTTL: dir.CacheTTL,
		},
		Selection: SelectionConfig{
			NotifyOnReselect: false,
			DBPath:           DefaultDBPath(),
			Component:        "codeWhispererProfileStates",
		},
		Identity: IdentityConfig{
			TokenFile:     DefaultTokenFile(),
			WatchDebounce: 500 * time.Millisecond,
		},
		Client: ClientConfig{
			DefaultEndpoint: primary.URL,
			DefaultRegion:   primary.Region,
			MaxRetries:      3,
			RequestTimeout:  30 * time.Second,
		},
		Tracing: tr,
		Log: LogConfig{
			Level: "info",
		},
	}
}

// SetDefaults registers every default with v so env overrides and partial
// files resolve against them.
func SetDefaults(v *viper.Viper) {
	d := Defaults()
	v.SetDefault("endpoints", d.Endpoints)
	v.SetDefault("discovery.page_size", d.Discovery.PageSize)
	v.SetDefault("discovery.timeout", d.Discovery.Timeout)
	v.SetDefault("discovery.cache_ttl", d.Discovery.CacheTTL)
	v.SetDefault("selection.notify_on_reselect", d.Selection.NotifyOnReselect)
	v.SetDefault("selection.db_path", d.Selection.DBPath)
	v.SetDefault("selection.component", d.Selection.Component)
	v.SetDefault("identity.token_file", d.Identity.TokenFile)
	v.SetDefault("identity.watch_debounce", d.Identity.WatchDebounce)
	v.SetDefault("client.default_endpoint", d.Client.DefaultEndpoint)
	v.SetDefault("client.default_region", d.Client.DefaultRegion)
	v.SetDefault("client.max_retries", d.Client.MaxRetries)
	v.SetDefault("client.request_timeout", d.Client.RequestTimeout)
	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.file_path", d.Tracing.FilePath)
	v.SetDefault("tracing.otlp_endpoint", d.Tracing.OTLPEndpoint)
	v.SetDefault("tracing.sample_rate", d.Tracing.SampleRate)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.level", d.Log.Level)
}

// Load resolves the config file, reads it into v and returns the validated
// result along with the file actually used ("" when running on defaults).
//
// Lookup order: explicit path, .qprofile/config.yaml, then
// ~/.config/qprofile/config.yaml.
func Load(v *viper.Viper, explicit string) (Config, string, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	switch {
	case explicit != "":
		v.SetConfigFile(explicit)
	case fileExists(LocalConfigPath):
		v.SetConfigFile(LocalConfigPath)
	default:
		if dir := DefaultConfigDir(); dir != "" {
			v.AddConfigPath(dir)
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if explicit != "" || !errors.As(err, &notFound) {
			return Config{}, "", fmt.Errorf("reading config: %w", err)
		}
		log.Debug(log.CatConfig, "No config file, using defaults")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, "", fmt.Errorf("decoding config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, "", err
	}
	return cfg, v.ConfigFileUsed(), nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Validate checks every section.
func Validate(cfg Config) error {
	if err := ValidateEndpoints(cfg.Endpoints); err != nil {
		return err
	}
	if err := ValidateDiscovery(cfg.Discovery); err != nil {
		return err
	}
	if err := ValidateClient(cfg.Client); err != nil {
		return err
	}
	if err := ValidateTracing(cfg.Tracing); err != nil {
		return err
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", cfg.Log.Level)
	}
	return nil
}

// ValidateEndpoints requires at least one endpoint, each with a unique
// region and an absolute https URL.
func ValidateEndpoints(endpoints []profile.Endpoint) error {
	if len(endpoints) == 0 {
		return fmt.Errorf("endpoints: at least one endpoint is required")
	}
	seen := make(map[string]bool, len(endpoints))
	for i, ep := range endpoints {
		if ep.Region == "" {
			return fmt.Errorf("endpoints[%d]: region is required", i)
		}
		if seen[ep.Region] {
			return fmt.Errorf("endpoints[%d]: duplicate region %q", i, ep.Region)
		}
		seen[ep.Region] = true
		if err := validateURL(ep.URL); err != nil {
			return fmt.Errorf("endpoints[%d].url: %w", i, err)
		}
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("must be an http(s) URL, got %q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host in %q", raw)
	}
	return nil
}

// ValidateDiscovery checks discovery settings.
func ValidateDiscovery(d DiscoveryConfig) error {
	if d.PageSize < 1 {
		return fmt.Errorf("discovery.page_size must be positive, got %d", d.PageSize)
	}
	if d.Timeout <= 0 {
		return fmt.Errorf("discovery.timeout must be positive, got %s", d.Timeout)
	}
	if d.CacheTTL < 0 {
		return fmt.Errorf("discovery.cache_ttl must not be negative, got %s", d.CacheTTL)
	}
	return nil
}

// ValidateClient checks client settings. An empty default endpoint is
// allowed; clients then require a selection.
func ValidateClient(c ClientConfig) error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("client.max_retries must not be negative, got %d", c.MaxRetries)
	}
	if c.RequestTimeout < 0 {
		return fmt.Errorf("client.request_timeout must not be negative, got %s", c.RequestTimeout)
	}
	if c.DefaultEndpoint != "" {
		if err := validateURL(c.DefaultEndpoint); err != nil {
			return fmt.Errorf("client.default_endpoint: %w", err)
		}
	}
	return nil
}

// ValidateTracing checks tracing configuration for errors.
func ValidateTracing(t tracing.Config) error {
	if t.SampleRate < 0.0 || t.SampleRate > 1.0 {
		return fmt.Errorf("tracing.sample_rate must be between 0.0 and 1.0, got %v", t.SampleRate)
	}
	switch t.Exporter {
	case "", "none", "file", "stdout", "otlp":
	default:
		return fmt.Errorf("tracing.exporter must be \"none\", \"file\", \"stdout\", or \"otlp\", got %q", t.Exporter)
	}
	if t.Enabled {
		if t.Exporter == "file" && t.FilePath == "" {
			return fmt.Errorf("tracing.file_path is required when exporter is \"file\"")
		}
		if t.Exporter == "otlp" && t.OTLPEndpoint == "" {
			return fmt.Errorf("tracing.otlp_endpoint is required when exporter is \"otlp\"")
		}
	}
	return nil
}

// DirectoryConfig converts the discovery settings.
func (c Config) DirectoryConfig() profile.DirectoryConfig {
	return profile.DirectoryConfig{
		Endpoints: c.Endpoints,
		PageSize:  c.Discovery.PageSize,
		Timeout:   c.Discovery.Timeout,
		CacheTTL:  c.Discovery.CacheTTL,
	}
}

// DefaultConfigTemplate returns the default config as a YAML string with comments.
func DefaultConfigTemplate() string {
	return `# qprofile configuration

# Regional endpoints queried for profiles. The first is the primary.
endpoints:
  - name: primary
    region: us-east-1
    url: https://codewhisperer.us-east-1.amazonaws.com/
  - name: secondary
    region: eu-central-1
    url: https://q.eu-central-1.amazonaws.com/

discovery:
  page_size: 10     # maxResults per list request
  timeout: 10s      # per endpoint; a slow endpoint contributes nothing
  cache_ttl: 5m     # 0 disables the discovery cache

selection:
  notify_on_reselect: false   # announce re-selecting the active profile
  # db_path: ~/.config/qprofile/state.db
  # component: codeWhispererProfileStates

identity:
  # token_file: ~/.aws/sso/cache/qprofile.json
  watch_debounce: 500ms

client:
  # Used when no profile is selected
  default_endpoint: https://codewhisperer.us-east-1.amazonaws.com/
  default_region: us-east-1
  max_retries: 3
  request_timeout: 30s

# Distributed tracing (disabled by default)
# tracing:
#   enabled: true
#   exporter: file          # none, file, stdout, otlp
#   file_path: ~/.config/qprofile/traces/traces.jsonl
#   otlp_endpoint: localhost:4317
#   sample_rate: 1.0

log:
  level: info   # debug, info, warn, error
  # file: ~/.config/qprofile/debug.log
`
}

// WriteDefaultConfig creates a config file at the given path with default
// settings and comments.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
