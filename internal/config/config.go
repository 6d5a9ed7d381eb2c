package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	CurrentProfile string              `yaml:"current_profile" mapstructure:"current_profile"`
	Profiles       map[string]*Profile `yaml:"profiles" mapstructure:"profiles"`
	Defaults       Defaults            `yaml:"defaults" mapstructure:"defaults"`
	HTTP           HTTPConfig          `yaml:"http" mapstructure:"http"`
	List           ListConfig          `yaml:"list" mapstructure:"list"`
	Auth           AuthConfig          `yaml:"auth" mapstructure:"auth"`
	Store          StoreConfig         `yaml:"store" mapstructure:"store"`
	Logging        LoggingConfig       `yaml:"logging" mapstructure:"logging"`
	Metrics        MetricsConfig       `yaml:"metrics" mapstructure:"metrics"`
	path           string
}

// Profile points the console at one BMR deployment.
type Profile struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

type Defaults struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

type HTTPConfig struct {
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
	Proxy     string        `yaml:"proxy,omitempty" mapstructure:"proxy"`
	CSRFToken string        `yaml:"csrf_token,omitempty" mapstructure:"csrf_token"`
	CSRFPage  string        `yaml:"csrf_page,omitempty" mapstructure:"csrf_page"`
}

type ListConfig struct {
	PerPage int `yaml:"per_page" mapstructure:"per_page"`
}

type AuthConfig struct {
	ExpiryBuffer        time.Duration `yaml:"expiry_buffer" mapstructure:"expiry_buffer"`
	AutoRefreshInterval time.Duration `yaml:"auto_refresh_interval" mapstructure:"auto_refresh_interval"`
}

// StoreConfig selects where the session is persisted: file, sqlite, redis
// or memory.
type StoreConfig struct {
	Backend   string `yaml:"backend" mapstructure:"backend"`
	Path      string `yaml:"path,omitempty" mapstructure:"path"`
	RedisAddr string `yaml:"redis_addr,omitempty" mapstructure:"redis_addr"`
	RedisDB   int    `yaml:"redis_db,omitempty" mapstructure:"redis_db"`
	Namespace string `yaml:"namespace,omitempty" mapstructure:"namespace"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr,omitempty" mapstructure:"addr"`
}

func Default() *Config {
	return &Config{
		CurrentProfile: "default",
		Profiles:       make(map[string]*Profile),
		Defaults:       Defaults{BaseURL: "http://localhost:8000"},
		HTTP:           HTTPConfig{Timeout: 30 * time.Second},
		List:           ListConfig{PerPage: 30},
		Auth: AuthConfig{
			ExpiryBuffer:        5 * time.Minute,
			AutoRefreshInterval: time.Minute,
		},
		Store:   StoreConfig{Backend: "file", Namespace: "bmr"},
		Logging: LoggingConfig{Level: "warn", Format: "text"},
	}
}

// Dir returns the configuration directory: $BMR_CONFIG_DIR or ~/.bmr.
func Dir() (string, error) {
	if dir := os.Getenv("BMR_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to determine home directory: %w", err)
	}
	return filepath.Join(home, ".bmr"), nil
}

// Load reads cfgFile (default <Dir>/config.yaml) with BMR_* environment
// overrides. A missing file yields the defaults.
func Load(cfgFile string) (*Config, error) {
	def := Default()
	v := viper.New()

	v.SetDefault("current_profile", def.CurrentProfile)
	v.SetDefault("defaults.base_url", def.Defaults.BaseURL)
	v.SetDefault("http.timeout", def.HTTP.Timeout)
	v.SetDefault("http.proxy", "")
	v.SetDefault("http.csrf_token", "")
	v.SetDefault("http.csrf_page", "")
	v.SetDefault("list.per_page", def.List.PerPage)
	v.SetDefault("auth.expiry_buffer", def.Auth.ExpiryBuffer)
	v.SetDefault("auth.auto_refresh_interval", def.Auth.AutoRefreshInterval)
	v.SetDefault("store.backend", def.Store.Backend)
	v.SetDefault("store.path", "")
	v.SetDefault("store.redis_addr", "")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.namespace", def.Store.Namespace)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)
	v.SetDefault("metrics.addr", "")

	if cfgFile == "" {
		dir, err := Dir()
		if err != nil {
			return nil, err
		}
		cfgFile = filepath.Join(dir, "config.yaml")
	}
	v.SetConfigFile(cfgFile)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("BMR")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Nested keys are only seen by Unmarshal when bound explicitly.
	_ = v.BindEnv("defaults.base_url", "BMR_BASE_URL", "BMR_DEFAULTS_BASE_URL")
	_ = v.BindEnv("http.timeout", "BMR_HTTP_TIMEOUT")
	_ = v.BindEnv("http.proxy", "BMR_HTTP_PROXY")
	_ = v.BindEnv("http.csrf_token", "BMR_CSRF_TOKEN", "BMR_HTTP_CSRF_TOKEN")
	_ = v.BindEnv("http.csrf_page", "BMR_HTTP_CSRF_PAGE")
	_ = v.BindEnv("list.per_page", "BMR_LIST_PER_PAGE")
	_ = v.BindEnv("store.backend", "BMR_STORE_BACKEND")
	_ = v.BindEnv("store.path", "BMR_STORE_PATH")
	_ = v.BindEnv("store.redis_addr", "BMR_REDIS_ADDR", "BMR_STORE_REDIS_ADDR")
	_ = v.BindEnv("store.redis_db", "BMR_STORE_REDIS_DB")
	_ = v.BindEnv("store.namespace", "BMR_STORE_NAMESPACE")
	_ = v.BindEnv("logging.level", "BMR_LOG_LEVEL", "BMR_LOGGING_LEVEL")
	_ = v.BindEnv("logging.format", "BMR_LOG_FORMAT", "BMR_LOGGING_FORMAT")
	_ = v.BindEnv("metrics.addr", "BMR_METRICS_ADDR")

	if err := v.ReadInConfig(); err != nil && !os.IsNotExist(err) {
		if _, statErr := os.Stat(cfgFile); statErr == nil {
			return nil, fmt.Errorf("failed to read config %s: %w", cfgFile, err)
		}
	}

	cfg := Default()
	cfg.path = cfgFile

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]*Profile)
	}

	return cfg, nil
}

// Path returns the file Save writes to.
func (c *Config) Path() string {
	return c.path
}

func (c *Config) Save() error {
	if c.path == "" {
		dir, err := Dir()
		if err != nil {
			return err
		}
		c.path = filepath.Join(dir, "config.yaml")
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(c.path, data, 0600)
}

// SaveProfile records baseURL under name and makes it current.
func (c *Config) SaveProfile(name, baseURL string) error {
	if c.Profiles == nil {
		c.Profiles = make(map[string]*Profile)
	}

	c.Profiles[name] = &Profile{BaseURL: baseURL}
	c.CurrentProfile = name
	return c.Save()
}

func (c *Config) GetProfile(name string) (*Profile, error) {
	if name == "" {
		name = c.CurrentProfile
	}

	profile, ok := c.Profiles[name]
	if !ok {
		return nil, fmt.Errorf("profile '%s' not found", name)
	}

	return profile, nil
}

func (c *Config) RemoveProfile(name string) error {
	if _, ok := c.Profiles[name]; !ok {
		return fmt.Errorf("profile '%s' not found", name)
	}

	delete(c.Profiles, name)

	if c.CurrentProfile == name {
		c.CurrentProfile = ""
	}

	return c.Save()
}

// BaseURL resolves the API root for the named profile, falling back to
// defaults.base_url.
func (c *Config) BaseURL(profile string) string {
	if p, err := c.GetProfile(profile); err == nil && p.BaseURL != "" {
		return p.BaseURL
	}
	return c.Defaults.BaseURL
}

// StorePath returns the session location for file and sqlite backends.
// Sessions are kept per profile.
func (c *Config) StorePath(profile string) string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	if profile == "" {
		profile = c.CurrentProfile
	}
	if profile == "" {
		profile = "default"
	}

	dir := filepath.Dir(c.path)
	if c.path == "" {
		if d, err := Dir(); err == nil {
			dir = d
		}
	}

	ext := ".yaml"
	if c.Store.Backend == "sqlite" {
		ext = ".db"
	}
	return filepath.Join(dir, "sessions", profile+ext)
}
