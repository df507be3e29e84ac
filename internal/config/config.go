package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"panelcal/internal/model"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

// ICSConfig describes a single ICS subscription source. Entities whose
// entity id equals ID are queried through this URL instead of Home Assistant.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is the handle entities refer to.
	ID string `yaml:"id" json:"id"`
}

// HassConfig points at the Home Assistant REST API.
type HassConfig struct {
	URL   string `yaml:"url" json:"url"`
	Token string `yaml:"token" json:"token"`
}

// StorageConfig selects the key-value backend used by the event cache.
//
// Supported drivers:
//   - "memory" (default): bounded in-process map, lost on restart
//   - "sqlite": single-file database at Path
//   - "redis":  Addr / Password / DB
type StorageConfig struct {
	Driver   string `yaml:"driver" json:"driver"`
	Path     string `yaml:"path,omitempty" json:"path,omitempty"`
	Addr     string `yaml:"addr,omitempty" json:"addr,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	DB       int    `yaml:"db,omitempty" json:"db,omitempty"`
	// Capacity caps the total stored bytes for the memory driver.
	Capacity int `yaml:"capacity,omitempty" json:"capacity,omitempty"`
}

// CacheConfig tunes the event cache.
type CacheConfig struct {
	// Namespace pins the cache key prefix. Empty means a random
	// per-instance namespace, so nothing is reused across restarts.
	Namespace string `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	// MemoSize bounds the in-memory grouped-agenda memo.
	MemoSize int `yaml:"memo_size,omitempty" json:"memo_size,omitempty"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// ActionConfig is a raw action descriptor: a "type" key plus type specific
// fields. It is decoded by the action package.
type ActionConfig map[string]any

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used as canonical display zone (e.g. "Asia/Seoul").
	Timezone string `yaml:"timezone" json:"timezone"`

	// Entities is the ordered list of calendar sources.
	Entities []model.CalendarSource `yaml:"entities" json:"entities"`

	// ICS is the list of ICS subscriptions entities may refer to.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// DaysToShow is the number of calendar days displayed, today included.
	DaysToShow int `yaml:"days_to_show" json:"days_to_show"`

	// ShowPastEvents includes events that already ended today.
	ShowPastEvents bool `yaml:"show_past_events" json:"show_past_events"`

	// CacheDuration is how long fetched events are trusted, in minutes.
	CacheDuration int `yaml:"cache_duration" json:"cache_duration"`

	// RefreshInterval is the timer-tick period in minutes. It is used to
	// derive RefreshCron when that is empty.
	RefreshInterval int `yaml:"refresh_interval" json:"refresh_interval"`

	// RefreshCron is a cron-style schedule string (e.g. "*/30 * * * *").
	RefreshCron string `yaml:"refresh" json:"refresh"`

	TapAction  ActionConfig `yaml:"tap_action" json:"tap_action"`
	HoldAction ActionConfig `yaml:"hold_action" json:"hold_action"`

	Hass    HassConfig    `yaml:"hass" json:"hass"`
	Storage StorageConfig `yaml:"storage" json:"storage"`
	Cache   CacheConfig   `yaml:"cache" json:"cache"`

	// ICSCacheDir holds ETag / body caches for ICS subscriptions.
	ICSCacheDir string `yaml:"ics_cache_dir" json:"ics_cache_dir"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	// LogLevel is one of "debug", "info", "error".
	LogLevel string `yaml:"log_level" json:"log_level"`
}

const (
	defaultDaysToShow      = 3
	defaultCacheMinutes    = 30
	defaultRefreshMinutes  = 30
	defaultMemoSize        = 16
	defaultStorageCapacity = 5 << 20
)

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	cfg := &Config{
		Listen:          "127.0.0.1:8080",
		Timezone:        "Asia/Seoul",
		Entities:        []model.CalendarSource{},
		ICS:             []ICSConfig{},
		DaysToShow:      defaultDaysToShow,
		CacheDuration:   defaultCacheMinutes,
		RefreshInterval: defaultRefreshMinutes,
		TapAction:       ActionConfig{"type": "show-details"},
		HoldAction:      ActionConfig{"type": "none"},
		Storage:         StorageConfig{Driver: "memory"},
		ICSCacheDir:     "/var/lib/panelcal/ics-cache",
		LogLevel:        "info",
	}
	cfg.Normalize()
	return cfg
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "Asia/Seoul"
	}
	if c.Entities == nil {
		c.Entities = []model.CalendarSource{}
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	if c.DaysToShow <= 0 {
		c.DaysToShow = defaultDaysToShow
	}
	if c.CacheDuration <= 0 {
		c.CacheDuration = defaultCacheMinutes
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = defaultRefreshMinutes
	}
	// Derive RefreshCron if missing, using RefreshInterval.
	if c.RefreshCron == "" {
		c.RefreshCron = cronForMinutes(c.RefreshInterval)
	}
	if c.TapAction == nil {
		c.TapAction = ActionConfig{"type": "show-details"}
	}
	if c.HoldAction == nil {
		c.HoldAction = ActionConfig{"type": "none"}
	}
	switch c.Storage.Driver {
	case "memory", "sqlite", "redis":
		// ok
	default:
		// Unknown value; fall back to memory rather than refusing to start.
		c.Storage.Driver = "memory"
	}
	if c.Storage.Driver == "sqlite" && c.Storage.Path == "" {
		c.Storage.Path = "/var/lib/panelcal/cache.db"
	}
	if c.Storage.Driver == "redis" && c.Storage.Addr == "" {
		c.Storage.Addr = "127.0.0.1:6379"
	}
	if c.Storage.Capacity <= 0 {
		c.Storage.Capacity = defaultStorageCapacity
	}
	if c.Cache.MemoSize <= 0 {
		c.Cache.MemoSize = defaultMemoSize
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

func cronForMinutes(m int) string {
	if m >= 60 {
		h := m / 60
		if h >= 24 {
			return "0 0 * * *"
		}
		return fmt.Sprintf("0 */%d * * *", h)
	}
	return fmt.Sprintf("*/%d * * * *", m)
}

// CacheTTL returns CacheDuration as a time.Duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheDuration) * time.Minute
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// CacheRelevantChanged reports whether the fields that feed the cache
// fingerprint differ between a and b.
func CacheRelevantChanged(a, b *Config) bool {
	if a == nil || b == nil {
		return a != b
	}
	return a.DaysToShow != b.DaysToShow ||
		a.ShowPastEvents != b.ShowPastEvents ||
		!slices.Equal(a.Entities, b.Entities)
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	return Parse(data)
}

// Parse decodes YAML bytes into a normalized Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".panelcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
