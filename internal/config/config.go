package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env"
	"github.com/xhit/go-str2duration/v2"
	"gopkg.in/yaml.v3"

	"schedadmin/internal/layout"
	"schedadmin/internal/model"
)

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup and logging.
	ID string `yaml:"id" json:"id"`
	// Calendar is the calendar source ("odd" or "even") assigned to events
	// of this feed that do not name one themselves.
	Calendar string `yaml:"calendar" json:"calendar"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// SnapshotConfig controls the headless browser capture of the day view.
type SnapshotConfig struct {
	Width   int    `yaml:"width" json:"width"`
	Height  int    `yaml:"height" json:"height"`
	Timeout string `yaml:"timeout" json:"timeout"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the day view and API.
	Listen string `yaml:"listen" json:"listen"`

	// BackendURL is the base URL of the class scheduling backend. When
	// empty, classes come from the ICS feeds only.
	BackendURL string `yaml:"backend_url" json:"backend_url"`

	// CalendarType selects "odd", "even" or "both" calendars when listing
	// classes from the backend.
	CalendarType string `yaml:"calendar_type" json:"calendar_type"`

	// Timezone is the IANA timezone of the day view (e.g. "Asia/Ho_Chi_Minh").
	Timezone string `yaml:"timezone" json:"timezone"`

	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`

	// Durations accept Go syntax plus days and weeks ("1d", "2w").
	RequestTimeout       string `yaml:"request_timeout" json:"request_timeout"`
	ConflictTimeout      string `yaml:"conflict_timeout" json:"conflict_timeout"`
	ConflictRetryTimeout string `yaml:"conflict_retry_timeout" json:"conflict_retry_timeout"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// used for periodic store refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays and BackfillDays bound ICS expansion around now.
	HorizonDays  int `yaml:"horizon_days" json:"horizon_days"`
	BackfillDays int `yaml:"backfill_days" json:"backfill_days"`

	// LayoutMode is "per-event" (default) or "connected".
	LayoutMode string `yaml:"layout_mode" json:"layout_mode"`

	// CacheDir holds cached ICS bodies.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// ICS is the list of subscribed ICS sources.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`

	Snapshot SnapshotConfig `yaml:"snapshot" json:"snapshot"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	switch c.CalendarType {
	case model.CalendarOdd, model.CalendarEven, model.CalendarBoth:
	default:
		c.CalendarType = model.CalendarBoth
	}
	if c.Timezone == "" {
		c.Timezone = model.DefaultTimezone
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	if c.RequestTimeout == "" {
		c.RequestTimeout = "10s"
	}
	if c.ConflictTimeout == "" {
		c.ConflictTimeout = "60s"
	}
	if c.ConflictRetryTimeout == "" {
		c.ConflictRetryTimeout = "30s"
	}
	if c.RefreshCron == "" {
		c.RefreshCron = "*/15 * * * *"
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = 7
	}
	if c.BackfillDays < 0 {
		c.BackfillDays = 0
	}
	mode, err := layout.ParseMode(c.LayoutMode)
	if err != nil {
		mode = layout.ModePerEvent
	}
	c.LayoutMode = string(mode)
	if c.CacheDir == "" {
		c.CacheDir = filepath.Join(os.TempDir(), "schedadmin", "ics-cache")
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	for i := range c.ICS {
		if c.ICS[i].ID == "" {
			c.ICS[i].ID = c.ICS[i].URL
		}
		if c.ICS[i].Calendar != model.CalendarEven {
			c.ICS[i].Calendar = model.CalendarOdd
		}
	}
	if c.Snapshot.Width <= 0 {
		c.Snapshot.Width = 1280
	}
	if c.Snapshot.Height <= 0 {
		c.Snapshot.Height = 1600
	}
	if c.Snapshot.Timeout == "" {
		c.Snapshot.Timeout = "30s"
	}
}

// Validate checks the values Normalize cannot repair.
func (c *Config) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", c.Timezone, err))
	}
	for name, v := range map[string]string{
		"request_timeout":        c.RequestTimeout,
		"conflict_timeout":       c.ConflictTimeout,
		"conflict_retry_timeout": c.ConflictRetryTimeout,
		"snapshot.timeout":       c.Snapshot.Timeout,
	} {
		if _, err := ParseDuration(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if c.BackendURL == "" && len(c.ICS) == 0 {
		errs = append(errs, errors.New("neither backend_url nor ics sources configured"))
	}
	return errors.Join(errs...)
}

// ParseDuration parses s with day and week units allowed.
func ParseDuration(s string) (time.Duration, error) {
	d, err := str2duration.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

// Duration returns the parsed value of one of the duration settings, or def
// when it does not parse.
func Duration(s string, def time.Duration) time.Duration {
	d, err := ParseDuration(s)
	if err != nil || d == 0 {
		return def
	}
	return d
}

// Location returns the configured timezone, or UTC when it does not load.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

type envOverrides struct {
	Listen     string `env:"SCHEDADMIN_LISTEN"`
	BackendURL string `env:"SCHEDADMIN_BACKEND_URL"`
	Timezone   string `env:"SCHEDADMIN_TIMEZONE"`
	LogLevel   string `env:"SCHEDADMIN_LOG_LEVEL"`
	LogFormat  string `env:"SCHEDADMIN_LOG_FORMAT"`
	Refresh    string `env:"SCHEDADMIN_REFRESH"`
	CacheDir   string `env:"SCHEDADMIN_CACHE_DIR"`
	AuthUser   string `env:"SCHEDADMIN_AUTH_USERNAME"`
	AuthPass   string `env:"SCHEDADMIN_AUTH_PASSWORD"`
}

// ApplyEnv overrides file values with SCHEDADMIN_* environment variables.
func (c *Config) ApplyEnv() error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse environment: %w", err)
	}
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Listen, o.Listen)
	set(&c.BackendURL, o.BackendURL)
	set(&c.Timezone, o.Timezone)
	set(&c.LogLevel, o.LogLevel)
	set(&c.LogFormat, o.LogFormat)
	set(&c.RefreshCron, o.Refresh)
	set(&c.CacheDir, o.CacheDir)
	if o.AuthUser != "" || o.AuthPass != "" {
		if c.BasicAuth == nil {
			c.BasicAuth = &BasicAuthConfig{}
		}
		set(&c.BasicAuth.Username, o.AuthUser)
		set(&c.BasicAuth.Password, o.AuthPass)
	}
	return nil
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
//
// Environment overrides are applied in both cases but never written back.
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
				return cfg, err
			}
			if err := cfg.ApplyEnv(); err != nil {
				return cfg, err
			}
			cfg.Normalize()
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
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

	tmp, err := os.CreateTemp(dir, ".schedadmin-config-*.tmp")
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
