// Package config loads runtime configuration for the MediaVault store.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
package config

import "path/filepath"

// Config holds runtime settings for the attachment store.
//
// Fields:
//   - DataDir: root directory for everything the store persists (database,
//     preferences, encrypted part files).
//   - LogFile: path of the rotating log file; empty means log to stderr.
//   - LogMaxSizeMB / LogMaxBackups: rotation limits for the log file.
type Config struct {
	DataDir       string
	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DataDir = "./vault"
	c.LogFile = ""
	c.LogMaxSizeMB = 10
	c.LogMaxBackups = 3
}

// DatabasePath returns the location of the metadata database inside DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "vault.db")
}

// PrefsPath returns the location of the persisted preferences file.
func (c *Config) PrefsPath() string {
	return filepath.Join(c.DataDir, "prefs.json")
}

// PartsDir returns the app-private directory holding encrypted part files.
func (c *Config) PartsDir() string {
	return filepath.Join(c.DataDir, "parts")
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
