package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	appLog "appdate/internal/log"
	"appdate/internal/store"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions. Environment overrides are layered on top in env.go.

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

var (
	ErrEmptyPath       = errors.New("config path is empty")
	ErrInvalidTimezone = errors.New("invalid timezone")
	ErrInvalidDriver   = errors.New("invalid store driver")
	ErrInvalidCron     = errors.New("invalid cron schedule")
	ErrInvalidLogLevel = errors.New("invalid log level")
)

// StoreConfig selects and configures the event store.
type StoreConfig struct {
	// Driver is "sqlite" (default) or "memory".
	Driver string `yaml:"driver" json:"driver"`
	// Path is the SQLite database file.
	Path string `yaml:"path" json:"path"`
	// Watch publishes writes made by other processes to the same file.
	Watch bool `yaml:"watch" json:"watch"`
}

// BackupConfig controls the scheduled backup export. An empty Cron disables
// it.
type BackupConfig struct {
	Cron string `yaml:"cron" json:"cron"`
	Dir  string `yaml:"dir" json:"dir"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone all dates are grouped and compared in.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart controls which weekday starts the week overview. Supported
	// values:
	//   - "monday" (default)
	//   - "sunday"
	WeekStart string `yaml:"week_start" json:"week_start"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	Store StoreConfig `yaml:"store" json:"store"`

	// MaxBatch is the chunk size for batched deletes and inserts.
	MaxBatch int `yaml:"max_batch" json:"max_batch"`

	// IngestSecret must match the secret of mailed sync payloads. Empty
	// rejects every payload.
	IngestSecret string `yaml:"ingest_secret" json:"-"`

	Backup BackupConfig `yaml:"backup" json:"backup"`

	// RefreshCron recomputes the view so the rolling range follows the
	// calendar day.
	RefreshCron string `yaml:"refresh_cron" json:"refresh_cron"`

	// ICSCacheDir keeps the last fetched ICS feed for conditional requests
	// and offline fallback.
	ICSCacheDir string `yaml:"ics_cache_dir" json:"ics_cache_dir"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"-"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:    "127.0.0.1:8080",
		Timezone:  "Europe/Berlin",
		WeekStart: "monday",
		LogLevel:  "info",
		Store: StoreConfig{
			Driver: DriverSQLite,
			Path:   "data/appdate.db",
			Watch:  true,
		},
		MaxBatch:    400,
		Backup:      BackupConfig{Cron: "0 3 * * *", Dir: "data/backups"},
		RefreshCron: "0 0 * * *",
		ICSCacheDir: "data/ics-cache",
		BasicAuth:   nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	switch c.WeekStart {
	case "monday", "sunday":
	default:
		// Unknown value; fall back to monday to avoid surprising layouts.
		c.WeekStart = "monday"
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Store.Driver == "" {
		c.Store.Driver = def.Store.Driver
	}
	if c.Store.Driver == DriverSQLite && c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = def.MaxBatch
	}
	if c.MaxBatch > store.MaxBatchOps {
		c.MaxBatch = store.MaxBatchOps
	}
	if c.Backup.Cron != "" && c.Backup.Dir == "" {
		c.Backup.Dir = def.Backup.Dir
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.ICSCacheDir == "" {
		c.ICSCacheDir = def.ICSCacheDir
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" {
		c.BasicAuth = nil
	}
}

// Validate reports values Normalize cannot repair.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidTimezone, c.Timezone, err)
	}
	switch c.Store.Driver {
	case DriverMemory, DriverSQLite:
	default:
		return fmt.Errorf("%w %q", ErrInvalidDriver, c.Store.Driver)
	}
	if _, err := appLog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidLogLevel, err)
	}
	for name, expr := range map[string]string{"refresh_cron": c.RefreshCron, "backup.cron": c.Backup.Cron} {
		if expr == "" {
			continue
		}
		if _, err := cron.ParseStandard(expr); err != nil {
			return fmt.Errorf("%w %s=%q: %v", ErrInvalidCron, name, expr, err)
		}
	}
	return nil
}

// Location loads the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidTimezone, c.Timezone, err)
	}
	return loc, nil
}

// Load loads configuration from the given YAML path and applies APPDATE_*
// environment overrides.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - Environment overrides are applied, then defaults normalised and
//     the result validated.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, ErrEmptyPath
	}

	if _, err := os.Stat(path); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
		// First run: create default config file.
		if err := Save(path, DefaultConfig()); err != nil {
			return nil, err
		}
		appLog.Info("default config written", "path", path)
	}

	cfg, err := layered(path)
	if err != nil {
		return nil, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
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
		return ErrEmptyPath
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

	tmp, err := os.CreateTemp(dir, ".appdate-config-*.tmp")
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

func (c *Config) Save(path string) error {
	return Save(path, c)
}
