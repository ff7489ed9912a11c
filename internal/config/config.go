package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/grantwatch/internal/digest"
	"github.com/ppiankov/grantwatch/internal/fetch"
	"github.com/ppiankov/grantwatch/internal/logger"
	"github.com/ppiankov/grantwatch/internal/notify"
	"github.com/ppiankov/grantwatch/internal/source"
	"github.com/ppiankov/grantwatch/internal/store"
)

const (
	DefaultConfigFile    = "config.yaml"
	DefaultWebhookEnv    = "DISCORD_WEBHOOK_URL"
	DefaultStorageDriver = store.DriverJSON
	DefaultStoragePath   = "posted.json"
	DefaultRedisAddress  = "localhost:6379"
	DefaultParallel      = 4
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "console"
)

// Duration wraps time.Duration for YAML unmarshaling from strings like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

type Config struct {
	Sources    []Source      `yaml:"sources"`
	SourcesCSV string        `yaml:"sources_csv"`
	Notify     NotifyConfig  `yaml:"notify"`
	Fetch      FetchConfig   `yaml:"fetch"`
	Storage    StorageConfig `yaml:"storage"`
	Log        LogConfig     `yaml:"log"`
	Metrics    MetricsConfig `yaml:"metrics"`

	// Dir is the directory the config was loaded from.
	Dir string `yaml:"-"`
}

// Source is one page to scrape. Order in the config is notification order.
type Source struct {
	Name   string            `yaml:"name"`
	URL    string            `yaml:"url"`
	Kind   string            `yaml:"kind"`
	Params map[string]string `yaml:"params,omitempty"`
}

type NotifyConfig struct {
	WebhookURLEnv string   `yaml:"webhook_url_env"`
	Username      string   `yaml:"username"`
	Header        string   `yaml:"header"`
	MaxLen        int      `yaml:"max_len"`
	Timeout       Duration `yaml:"timeout"`
	Interval      Duration `yaml:"interval"`

	// Resolved from env var at load time.
	WebhookURL string `yaml:"-"`
}

type FetchConfig struct {
	Timeout       Duration `yaml:"timeout"`
	Retries       int      `yaml:"retries"` // total attempts
	RetryStatuses []int    `yaml:"retry_statuses"`
	Backoff       Duration `yaml:"backoff"`
	UserAgent     string   `yaml:"user_agent"`
	Parallel      int      `yaml:"parallel"`
}

type StorageConfig struct {
	Driver string      `yaml:"driver"`
	Path   string      `yaml:"path"`
	Redis  RedisConfig `yaml:"redis"`
}

type RedisConfig struct {
	Address     string `yaml:"address"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	Key         string `yaml:"key"`

	// Resolved from env var at load time.
	Password string `yaml:"-"`
}

// MetricsConfig enables the Prometheus textfile written after each run.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"` // relative to the config dir
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config.yaml from dir, appends the CSV site list if configured,
// applies defaults, resolves env vars, and validates.
func Load(dir string) (*Config, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("config dir is required")
	}

	path := filepath.Join(dir, DefaultConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Dir = dir

	if cfg.SourcesCSV != "" {
		csvSources, err := LoadSourcesCSV(cfg.ResolvePath(cfg.SourcesCSV))
		if err != nil {
			return nil, fmt.Errorf("sources_csv: %w", err)
		}
		cfg.Sources = append(cfg.Sources, csvSources...)
	}

	applyDefaults(&cfg)
	resolveEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// ResolvePath resolves p against the config dir unless it is absolute.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Dir, p)
}

// RequireWebhook reports a missing webhook secret. Only commands that
// deliver need it.
func (c *Config) RequireWebhook() error {
	if strings.TrimSpace(c.Notify.WebhookURL) == "" {
		return fmt.Errorf("notify: webhook url is empty; set the %s environment variable", c.Notify.WebhookURLEnv)
	}
	return nil
}

// Secrets returns the resolved credentials, for scrubbing.
func (c *Config) Secrets() []string {
	var out []string
	for _, s := range []string{c.Notify.WebhookURL, c.Storage.Redis.Password} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func applyDefaults(cfg *Config) {
	for i := range cfg.Sources {
		s := &cfg.Sources[i]
		s.Name = strings.TrimSpace(s.Name)
		s.URL = strings.TrimSpace(s.URL)
		s.Kind = strings.ToLower(strings.TrimSpace(s.Kind))
		if s.Kind == "" {
			s.Kind = source.KindGeneric
		}
	}

	if cfg.Notify.WebhookURLEnv == "" {
		cfg.Notify.WebhookURLEnv = DefaultWebhookEnv
	}
	if cfg.Notify.Username == "" {
		cfg.Notify.Username = notify.DefaultUsername
	}
	if cfg.Notify.Header == "" {
		cfg.Notify.Header = digest.DefaultHeader
	}
	if cfg.Notify.MaxLen == 0 {
		cfg.Notify.MaxLen = digest.DefaultMaxLen
	}
	if cfg.Notify.Timeout.Duration == 0 {
		cfg.Notify.Timeout.Duration = notify.DefaultTimeout
	}

	if cfg.Fetch.Timeout.Duration == 0 {
		cfg.Fetch.Timeout.Duration = fetch.DefaultTimeout
	}
	if cfg.Fetch.Retries == 0 {
		cfg.Fetch.Retries = fetch.DefaultAttempts
	}
	if len(cfg.Fetch.RetryStatuses) == 0 {
		cfg.Fetch.RetryStatuses = append([]int(nil), fetch.DefaultRetryStatuses...)
	}
	if cfg.Fetch.Backoff.Duration == 0 {
		cfg.Fetch.Backoff.Duration = fetch.DefaultBackoff
	}
	if cfg.Fetch.UserAgent == "" {
		cfg.Fetch.UserAgent = fetch.DefaultUserAgent
	}
	if cfg.Fetch.Parallel == 0 {
		cfg.Fetch.Parallel = DefaultParallel
	}

	cfg.Storage.Driver = strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DefaultStorageDriver
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = DefaultStoragePath
	}
	if cfg.Storage.Redis.Address == "" {
		cfg.Storage.Redis.Address = DefaultRedisAddress
	}
	if cfg.Storage.Redis.Key == "" {
		cfg.Storage.Redis.Key = store.DefaultRedisKey
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}

func resolveEnv(cfg *Config) {
	if cfg.Notify.WebhookURLEnv != "" {
		cfg.Notify.WebhookURL = strings.TrimSpace(os.Getenv(cfg.Notify.WebhookURLEnv))
	}
	if cfg.Storage.Redis.PasswordEnv != "" {
		cfg.Storage.Redis.Password = os.Getenv(cfg.Storage.Redis.PasswordEnv)
	}
}

func validate(cfg *Config) error {
	if len(cfg.Sources) == 0 {
		return errors.New("sources: at least one source must be configured")
	}

	reg := source.DefaultRegistry()
	names := make(map[string]bool, len(cfg.Sources))
	for i, s := range cfg.Sources {
		if s.Name == "" {
			return fmt.Errorf("sources[%d]: name is required", i)
		}
		if names[s.Name] {
			return fmt.Errorf("sources[%d]: duplicate name %q", i, s.Name)
		}
		names[s.Name] = true

		if err := validateURL(s.URL); err != nil {
			return fmt.Errorf("sources[%d] %s: %w", i, s.Name, err)
		}
		if _, err := reg.New(s.Kind, s.Params); err != nil {
			return fmt.Errorf("sources[%d] %s: %w", i, s.Name, err)
		}
	}

	if cfg.Notify.MaxLen < 0 {
		return fmt.Errorf("notify.max_len: must be positive, got %d", cfg.Notify.MaxLen)
	}
	if cfg.Fetch.Retries < 1 {
		return fmt.Errorf("fetch.retries: must be at least 1, got %d", cfg.Fetch.Retries)
	}
	if cfg.Fetch.Parallel < 1 {
		return fmt.Errorf("fetch.parallel: must be at least 1, got %d", cfg.Fetch.Parallel)
	}
	for _, code := range cfg.Fetch.RetryStatuses {
		if code < 100 || code > 599 {
			return fmt.Errorf("fetch.retry_statuses: invalid status %d", code)
		}
	}

	switch cfg.Storage.Driver {
	case store.DriverJSON, store.DriverSQLite, store.DriverRedis:
		// valid
	default:
		return fmt.Errorf("storage.driver: unknown driver %q (want json, sqlite or redis)", cfg.Storage.Driver)
	}

	if _, err := logger.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	switch cfg.Log.Format {
	case "console", "json":
		// valid
	default:
		return fmt.Errorf("log.format: unknown format %q (want console or json)", cfg.Log.Format)
	}

	return nil
}

func validateURL(raw string) error {
	if raw == "" {
		return errors.New("url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url %q: want an absolute http(s) URL", raw)
	}
	return nil
}
