// Package config loads server configuration from defaults, an optional
// JSONC config file, and CLI overrides, highest last.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tailscale/hujson"
)

// ConfigFileName is the default config file name, looked up in the
// working directory.
const ConfigFileName = ".keystonelight.json"

// Config errors.
var (
	ErrConfigFileNotFound = errors.New("config file not found")
	ErrConfigInvalid      = errors.New("invalid config file")
)

// Config holds all server configuration options.
type Config struct {
	// Addr is the TCP listen address.
	Addr string `json:"addr,omitempty"`

	// LogFile is the path to the append-only log. The PID file lives
	// beside it.
	LogFile string `json:"log_file,omitempty"` //nolint:tagliatelle // snake_case for config file

	// Workers is the connection worker pool size.
	Workers int `json:"workers,omitempty"`

	// CompactThresholdBytes is the log size that triggers automatic
	// compaction.
	CompactThresholdBytes int64 `json:"compact_threshold_bytes,omitempty"` //nolint:tagliatelle // snake_case for config file
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Addr:                  "127.0.0.1:7878",
		LogFile:               "keystonelight.log",
		Workers:               4,
		CompactThresholdBytes: 1 << 20,
	}
}

// Load resolves the configuration. An explicit configPath must exist;
// otherwise the default file is optional. The file is JSONC (comments
// and trailing commas allowed).
func Load(workDir, configPath string) (Config, error) {
	cfg := DefaultConfig()

	var (
		cfgFile   string
		mustExist bool
	)

	if configPath != "" {
		cfgFile = configPath
		if !filepath.IsAbs(cfgFile) {
			cfgFile = filepath.Join(workDir, cfgFile)
		}

		mustExist = true
	} else {
		cfgFile = filepath.Join(workDir, ConfigFileName)
	}

	data, readErr := os.ReadFile(cfgFile) //nolint:gosec // path is intentionally user-controlled
	if readErr != nil {
		if os.IsNotExist(readErr) && !mustExist {
			return cfg, nil
		}

		return Config{}, fmt.Errorf("%w: %s", ErrConfigFileNotFound, cfgFile)
	}

	fileCfg, parseErr := parse(data)
	if parseErr != nil {
		return Config{}, fmt.Errorf("%w %s: %w", ErrConfigInvalid, cfgFile, parseErr)
	}

	cfg = merge(cfg, fileCfg)

	validateErr := validate(cfg)
	if validateErr != nil {
		return Config{}, fmt.Errorf("%w %s: %w", ErrConfigInvalid, cfgFile, validateErr)
	}

	return cfg, nil
}

func parse(data []byte) (Config, error) {
	// Standardize JSONC to JSON
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("invalid JSONC: %w", err)
	}

	var cfg Config

	unmarshalErr := json.Unmarshal(standardized, &cfg)
	if unmarshalErr != nil {
		return Config{}, fmt.Errorf("invalid JSON: %w", unmarshalErr)
	}

	return cfg, nil
}

func merge(base, overlay Config) Config {
	if overlay.Addr != "" {
		base.Addr = overlay.Addr
	}

	if overlay.LogFile != "" {
		base.LogFile = overlay.LogFile
	}

	if overlay.Workers != 0 {
		base.Workers = overlay.Workers
	}

	if overlay.CompactThresholdBytes != 0 {
		base.CompactThresholdBytes = overlay.CompactThresholdBytes
	}

	return base
}

func validate(cfg Config) error {
	if cfg.Workers < 1 {
		return errors.New("workers must be at least 1")
	}

	if cfg.LogFile == "" {
		return errors.New("log_file cannot be empty")
	}

	if cfg.Addr == "" {
		return errors.New("addr cannot be empty")
	}

	return nil
}
