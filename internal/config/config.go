// Package config resolves carverad's runtime configuration from an optional
// TOML file overlaid on the built-in defaults. Environment variables only
// choose where the file is looked for (see Dir); command-line flags are
// applied on top of the result by the caller.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	carvera "github.com/carvera-sim/carverad"
)

// Config is the resolved server configuration.
type Config struct {
	Host        string        `toml:"host"`
	Port        int           `toml:"port"`
	Verbose     bool          `toml:"verbose"`
	IdleTimeout time.Duration `toml:"-"`
	MaxConns    int           `toml:"max_conns"`
	CatalogPath string        `toml:"catalog_path"`
	VFSSeedPath string        `toml:"vfs_seed_path"`

	// IdleTimeoutSeconds is the TOML-facing form of IdleTimeout, since TOML
	// has no native duration type.
	IdleTimeoutSeconds int `toml:"idle_timeout_seconds"`
}

// Default returns the built-in configuration with no file or flag overrides.
func Default() *Config {
	return &Config{
		Host:               carvera.DefaultHost,
		Port:               carvera.DefaultPort,
		MaxConns:           carvera.MaxConns,
		IdleTimeout:        carvera.IdleTimeout,
		IdleTimeoutSeconds: int(carvera.IdleTimeout / time.Second),
	}
}

// Dir returns the configuration directory.
// Resolution order: $CARVERAD_CONFIG_DIR > $XDG_CONFIG_HOME/carverad > ~/.config/carverad
func Dir() string {
	if dir := os.Getenv("CARVERAD_CONFIG_DIR"); dir != "" {
		return dir
	}
	if configHome := os.Getenv("XDG_CONFIG_HOME"); configHome != "" {
		return filepath.Join(configHome, "carverad")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join("/tmp", "carverad-config")
	}
	return filepath.Join(home, ".config", "carverad")
}

// Path returns the full path to the TOML config file.
func Path() string {
	return filepath.Join(Dir(), "config.toml")
}

// Load reads the config file at Path and overlays it onto Default. A
// missing file yields the default configuration unchanged; a malformed file
// is reported as an error.
func Load() (*Config, error) {
	return LoadFrom(Path())
}

// LoadFrom reads the config file at the given path and overlays it onto
// Default, applying the same missing-file and malformed-file rules as
// Load. Used when --config names an explicit override.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, err
	}

	if cfg.IdleTimeoutSeconds > 0 {
		cfg.IdleTimeout = time.Duration(cfg.IdleTimeoutSeconds) * time.Second
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = carvera.MaxConns
	}
	if cfg.Host == "" {
		cfg.Host = carvera.DefaultHost
	}
	if cfg.Port == 0 {
		cfg.Port = carvera.DefaultPort
	}

	return cfg, nil
}
