package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListen      = "127.0.0.1:8080"
	defaultTimezone    = "America/Bogota"
	defaultWeekStart   = "monday"
	defaultRefreshCron = "*/15 * * * *"
	defaultCacheDir    = "./var/feed-cache"
	defaultHourHeight  = 60
	defaultCacheTTL    = 30
	defaultAPITimeout  = 15
)

// FeedConfig describes one ICS calendar feed (typically one per doctor or
// consulting room).
type FeedConfig struct {
	// ID is the internal identifier used in appointment IDs and logs.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label.
	Name string `yaml:"name" json:"name"`
	// URL is the ICS endpoint.
	URL string `yaml:"url" json:"url"`
}

// Key returns the identifier to use for this feed: ID, then Name, then URL.
func (f FeedConfig) Key() string {
	switch {
	case f.ID != "":
		return f.ID
	case f.Name != "":
		return f.Name
	default:
		return f.URL
	}
}

// PracticeAPIConfig points at the practice management REST API that owns the
// appointment book.
type PracticeAPIConfig struct {
	BaseURL        string `yaml:"base_url" json:"base_url"`
	Token          string `yaml:"token,omitempty" json:"-"`
	TimeoutSeconds int    `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the HTTP API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA zone days are cut in (e.g. "America/Bogota").
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart is "monday" (default) or "sunday".
	WeekStart string `yaml:"week_start" json:"week_start"`

	// RefreshCron is the cron expression for background cache warm-up.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// LogLevel is DEBUG, INFO, WARN or ERROR.
	LogLevel string `yaml:"log_level" json:"log_level"`

	// CacheDir holds the ICS HTTP cache.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// PreviewPath is where snapshot writes and /preview.png reads the PNG.
	PreviewPath string `yaml:"preview_path" json:"preview_path"`

	// HourHeight is the pixel height of one hour in a day column.
	HourHeight float64 `yaml:"hour_height" json:"hour_height"`

	// WidthMode is "overlap" (per-event overlap set) or "cluster".
	WidthMode string `yaml:"width_mode" json:"width_mode"`

	// HideCancelled drops cancelled appointments before layout.
	HideCancelled bool `yaml:"hide_cancelled" json:"hide_cancelled"`

	// CacheTTLSeconds bounds how long a computed grid is reused.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds" json:"cache_ttl_seconds"`

	Feeds []FeedConfig `yaml:"feeds" json:"feeds"`

	// PracticeAPI, if non-nil with a BaseURL, is queried for appointments.
	PracticeAPI *PracticeAPIConfig `yaml:"practice_api,omitempty" json:"practice_api,omitempty"`

	// BasicAuth, if set, protects every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"-"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:          defaultListen,
		Timezone:        defaultTimezone,
		WeekStart:       defaultWeekStart,
		RefreshCron:     defaultRefreshCron,
		LogLevel:        "INFO",
		CacheDir:        defaultCacheDir,
		PreviewPath:     "./var/preview.png",
		HourHeight:      defaultHourHeight,
		WidthMode:       "overlap",
		HideCancelled:   false,
		CacheTTLSeconds: defaultCacheTTL,
		Feeds:           []FeedConfig{},
	}
}

// Normalize fills in missing or invalid values with defaults.
func (c *Config) Normalize() {
	d := DefaultConfig()
	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	switch c.WeekStart {
	case "monday", "sunday":
	default:
		c.WeekStart = d.WeekStart
	}
	if c.RefreshCron == "" {
		c.RefreshCron = d.RefreshCron
	}
	if c.LogLevel == "" {
		c.LogLevel = d.LogLevel
	}
	if c.CacheDir == "" {
		c.CacheDir = d.CacheDir
	}
	if c.PreviewPath == "" {
		c.PreviewPath = d.PreviewPath
	}
	if c.HourHeight <= 0 {
		c.HourHeight = d.HourHeight
	}
	switch c.WidthMode {
	case "overlap", "cluster":
	default:
		c.WidthMode = d.WidthMode
	}
	if c.CacheTTLSeconds <= 0 {
		c.CacheTTLSeconds = d.CacheTTLSeconds
	}
	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
	if c.PracticeAPI != nil && c.PracticeAPI.TimeoutSeconds <= 0 {
		c.PracticeAPI.TimeoutSeconds = defaultAPITimeout
	}
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local, err
	}
	return loc, nil
}

// CacheTTL is CacheTTLSeconds as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSeconds) * time.Second
}

// Load reads YAML configuration from path.
//
// A missing file is created with DefaultConfig (0600) and the defaults are
// returned. An existing file is unmarshalled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save normalizes cfg and writes it to path atomically (temp file + rename)
// with 0600 permissions, creating the parent directory (0700) if needed.
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

	tmp, err := os.CreateTemp(dir, ".apptgrid-config-*.tmp")
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

// Save is shorthand for Save(path, c).
func (c *Config) Save(path string) error {
	return Save(path, c)
}
