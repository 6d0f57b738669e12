// Package config loads and validates runner configuration.
//
// Precedence, lowest to highest: built-in defaults, an optional TOML config
// file, environment variables. The pipeline declaration itself is loaded
// separately by the spec package; config covers only runner-level knobs.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all runner configuration.
type Config struct {
	// Root is the pipeline repository root; processors run with this as
	// their working directory.
	Root string

	// LockTimeout bounds lock acquisition polling per stage.
	LockTimeout time.Duration
	// ExecTimeout bounds each processor attempt.
	ExecTimeout time.Duration

	// LogLevel is "debug", "info", "warn", or "error".
	LogLevel string

	// Audit enables the hash-chained audit trail.
	Audit bool
}

// fileConfig is the TOML wire form; durations are strings ("10s", "5m").
type fileConfig struct {
	Root        string `toml:"root"`
	LockTimeout string `toml:"lock_timeout"`
	ExecTimeout string `toml:"exec_timeout"`
	LogLevel    string `toml:"log_level"`
	Audit       *bool  `toml:"audit"`
}

// Load reads configuration with defaults, then the TOML file at path (if
// path is non-empty and the file exists), then environment variables.
func Load(path string) (Config, error) {
	cfg := Config{
		Root:        ".",
		LockTimeout: 10 * time.Second,
		ExecTimeout: 300 * time.Second,
		LogLevel:    "info",
		Audit:       true,
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := applyFile(&cfg, path); err != nil {
				return Config{}, err
			}
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	if fc.Root != "" {
		cfg.Root = fc.Root
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}
	if fc.Audit != nil {
		cfg.Audit = *fc.Audit
	}
	if fc.LockTimeout != "" {
		d, err := time.ParseDuration(fc.LockTimeout)
		if err != nil {
			return fmt.Errorf("config: lock_timeout: %w", err)
		}
		cfg.LockTimeout = d
	}
	if fc.ExecTimeout != "" {
		d, err := time.ParseDuration(fc.ExecTimeout)
		if err != nil {
			return fmt.Errorf("config: exec_timeout: %w", err)
		}
		cfg.ExecTimeout = d
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Root = envStr("STAGEHAND_ROOT", cfg.Root)
	cfg.LockTimeout = envDuration("STAGEHAND_LOCK_TIMEOUT", cfg.LockTimeout)
	cfg.ExecTimeout = envDuration("STAGEHAND_EXEC_TIMEOUT", cfg.ExecTimeout)
	cfg.LogLevel = envStr("STAGEHAND_LOG_LEVEL", cfg.LogLevel)
	cfg.Audit = envBool("STAGEHAND_AUDIT", cfg.Audit)
}

// Validate checks that configuration values are usable.
func (c Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("config: root must not be empty")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("config: lock timeout must be positive")
	}
	if c.ExecTimeout <= 0 {
		return fmt.Errorf("config: exec timeout must be positive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.LogLevel)
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "1" || v == "true" || v == "yes"
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
