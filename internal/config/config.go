package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

const (
	DriverYAML   = "yaml"
	DriverSQLite = "sqlite"
)

// StoreConfig selects and configures the schedule repository.
type StoreConfig struct {
	// Driver is "yaml" (default) or "sqlite".
	Driver string `yaml:"driver" json:"driver"`

	// Path is the schedules file (yaml driver; may be an http(s) URL) or
	// the SQLite database file (sqlite driver).
	Path string `yaml:"path" json:"path"`

	// CacheDir holds the disk cache for remote schedule files.
	CacheDir string `yaml:"cache_dir" json:"cache_dir"`

	// Refresh is a cron-style schedule string (e.g. "*/15 * * * *") used to
	// reload the yaml store. Empty disables periodic reloads.
	Refresh string `yaml:"refresh" json:"refresh"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API and feeds.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// Host is appended to schedule IDs to form calendar UIDs
	// ("<schedule id>@<host>").
	Host string `yaml:"host" json:"host"`

	// ProductID is written as the PRODID of every calendar document.
	ProductID string `yaml:"product_id" json:"product_id"`

	// Timezone is the IANA timezone used to compute listing windows
	// (e.g. "Europe/Berlin").
	Timezone string `yaml:"timezone" json:"timezone"`

	// HorizonDays is the default number of future days in listings and
	// occurrence feeds.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	// BackfillDays is the default number of past days in listings.
	BackfillDays int `yaml:"backfill_days" json:"backfill_days"`

	// MaxHorizonDays caps the days and backfill query parameters.
	MaxHorizonDays int `yaml:"max_horizon_days" json:"max_horizon_days"`

	// MaxOccurrencesPerSchedule caps how many occurrences one schedule may
	// expand to in a single listing or feed.
	MaxOccurrencesPerSchedule int `yaml:"max_occurrences_per_schedule" json:"max_occurrences_per_schedule"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Store StoreConfig `yaml:"store" json:"store"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:       "127.0.0.1:8080",
		Host:         "localhost",
		ProductID:    "-//schedcal//Schedule Feed//EN",
		Timezone:     "UTC",
		HorizonDays:  30,
		BackfillDays: 1,
		LogLevel:     "info",

		MaxHorizonDays:            366,
		MaxOccurrencesPerSchedule: 5000,

		Store: StoreConfig{
			Driver:   DriverYAML,
			Path:     "/etc/schedcal/schedules.yaml",
			CacheDir: "/var/lib/schedcal/cache",
			Refresh:  "*/15 * * * *",
		},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Host == "" {
		c.Host = def.Host
	}
	if c.ProductID == "" {
		c.ProductID = def.ProductID
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = def.HorizonDays
	}
	if c.BackfillDays < 0 {
		c.BackfillDays = 0
	}
	if c.MaxHorizonDays <= 0 {
		c.MaxHorizonDays = def.MaxHorizonDays
	}
	if c.HorizonDays > c.MaxHorizonDays {
		c.HorizonDays = c.MaxHorizonDays
	}
	if c.BackfillDays > c.MaxHorizonDays {
		c.BackfillDays = c.MaxHorizonDays
	}
	if c.MaxOccurrencesPerSchedule <= 0 {
		c.MaxOccurrencesPerSchedule = def.MaxOccurrencesPerSchedule
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}

	switch strings.ToLower(c.Store.Driver) {
	case DriverYAML, DriverSQLite:
		c.Store.Driver = strings.ToLower(c.Store.Driver)
	default:
		// Unknown value; fall back to the file store.
		c.Store.Driver = DriverYAML
	}
	if c.Store.Path == "" {
		c.Store.Path = def.Store.Path
	}
	if c.Store.CacheDir == "" {
		c.Store.CacheDir = def.Store.CacheDir
	}
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

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
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

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data)
}

// WriteFileAtomic writes data next to path and renames it into place with
// 0600 permissions, creating the parent directory (0700) if needed.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".schedcal-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	// Flush and close before chmod/rename.
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
