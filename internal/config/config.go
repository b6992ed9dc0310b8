// Package config loads the application configuration: file paths, server
// addresses and tunables, from an optional frigo.yaml with FRIGO_* environment
// overrides on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every knob the subsystem reads.
type Config struct {
	// DataDir is the root for all mutable state.
	DataDir string

	// DBFile is the record store database, relative to DataDir unless
	// absolute.
	DBFile string

	// KVFile is the key-value sidecar file, relative to DataDir unless
	// absolute.
	KVFile string

	// CacheDir holds the per-generation cache buckets.
	CacheDir string

	// ReleasesDir is watched for new release manifests.
	ReleasesDir string

	// PolicyFile is an optional route policy; empty means built-in
	// defaults.
	PolicyFile string

	// BackupDir receives automatic pre-replace backups.
	BackupDir string

	// ServeAddr is the shell server's listen address.
	ServeAddr string

	// UpstreamURL is the origin the shell server fronts. Empty serves
	// DataDir/site from disk.
	UpstreamURL string

	// DashboardPort is the WebSocket dashboard's port.
	DashboardPort int

	// LogFile receives serve-mode logs; empty logs to stderr.
	LogFile string

	// WatchDebounce coalesces release manifest events.
	WatchDebounce time.Duration
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".frigo"
	}
	return filepath.Join(home, ".frigo")
}

// Load reads configuration from file (optional; empty means search the
// working directory and ~/.config/frigo), applies FRIGO_* environment
// overrides, and fills defaults. A missing config file is fine; an explicit
// file that cannot be read is not.
func Load(file string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FRIGO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("data_dir", defaultDataDir())
	v.SetDefault("db_file", "frigo.db")
	v.SetDefault("kv_file", "local.json")
	v.SetDefault("cache_dir", "cache")
	v.SetDefault("releases_dir", "releases")
	v.SetDefault("policy_file", "")
	v.SetDefault("backup_dir", "backups")
	v.SetDefault("serve_addr", ":8080")
	v.SetDefault("upstream_url", "")
	v.SetDefault("dashboard_port", 8765)
	v.SetDefault("log_file", "")
	v.SetDefault("watch_debounce", "500ms")

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("frigo")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "frigo"))
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := &Config{
		DataDir:       v.GetString("data_dir"),
		DBFile:        v.GetString("db_file"),
		KVFile:        v.GetString("kv_file"),
		CacheDir:      v.GetString("cache_dir"),
		ReleasesDir:   v.GetString("releases_dir"),
		PolicyFile:    v.GetString("policy_file"),
		BackupDir:     v.GetString("backup_dir"),
		ServeAddr:     v.GetString("serve_addr"),
		UpstreamURL:   v.GetString("upstream_url"),
		DashboardPort: v.GetInt("dashboard_port"),
		LogFile:       v.GetString("log_file"),
		WatchDebounce: v.GetDuration("watch_debounce"),
	}
	return cfg, nil
}

// resolve joins p under the data dir unless it is already absolute.
func (c *Config) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

// DBPath returns the absolute record store path.
func (c *Config) DBPath() string { return c.resolve(c.DBFile) }

// KVPath returns the absolute key-value sidecar path.
func (c *Config) KVPath() string { return c.resolve(c.KVFile) }

// CachePath returns the absolute cache bucket root.
func (c *Config) CachePath() string { return c.resolve(c.CacheDir) }

// ReleasesPath returns the absolute releases directory.
func (c *Config) ReleasesPath() string { return c.resolve(c.ReleasesDir) }

// BackupPath returns the absolute backup directory.
func (c *Config) BackupPath() string { return c.resolve(c.BackupDir) }
