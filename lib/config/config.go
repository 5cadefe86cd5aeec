// Copyright 2026 The FATS Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for a fats mount.
type Config struct {
	// ScratchDir is the directory where mutated temporary artifacts
	// are written. Every open of a regular file materializes one
	// artifact here; it is removed when the handle is released.
	// Default: os.TempDir().
	ScratchDir string `yaml:"scratch_dir"`

	// LogLevel sets the minimum level for the structured logger.
	// Values: debug, info, warn, error. Default: info.
	LogLevel string `yaml:"log_level"`

	// JournalFile, when set, enables the CBOR fuzz journal: an
	// append-only stream of open/release/error records for crash
	// reproduction. Empty disables journalling.
	JournalFile string `yaml:"journal_file"`

	// PolicyFile, when set, points to a JSONC mutation policy that
	// decides per open whether a file is mutated or passed through.
	// Empty means every open is mutated.
	PolicyFile string `yaml:"policy_file"`

	// Mutator configures the external mutation tool.
	Mutator MutatorConfig `yaml:"mutator"`

	// Corpus configures artifact preservation. When Dir is set,
	// released artifacts are archived there instead of deleted.
	Corpus CorpusConfig `yaml:"corpus"`

	// Mount configures FUSE mount behavior.
	Mount MountConfig `yaml:"mount"`
}

// MutatorConfig configures the external mutation tool.
type MutatorConfig struct {
	// Command is the mutation tool executable. Resolved via PATH when
	// not an absolute path. Default: radamsa.
	Command string `yaml:"command"`

	// Args are extra arguments placed before the source path. The
	// source path is always appended as the final argument.
	Args []string `yaml:"args"`

	// Timeout bounds a single mutation run, as a Go duration string
	// ("30s", "1m"). Empty or "0" disables the bound; a hung tool
	// then blocks only the open that invoked it.
	Timeout string `yaml:"timeout"`
}

// CorpusConfig configures preservation of served artifacts.
type CorpusConfig struct {
	// Dir is the preservation directory. Empty disables preservation:
	// artifacts are deleted on release.
	Dir string `yaml:"dir"`

	// Compression selects how preserved artifacts are stored.
	// Values: none, lz4, zstd. Default: zstd.
	Compression string `yaml:"compression"`
}

// MountConfig configures FUSE mount behavior.
type MountConfig struct {
	// AllowOther permits other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf.
	AllowOther bool `yaml:"allow_other"`

	// Debug enables FUSE protocol tracing in the kernel connection.
	Debug bool `yaml:"debug"`
}

// Default returns the default configuration. The defaults are complete:
// fats runs without any config file.
func Default() *Config {
	return &Config{
		ScratchDir: os.TempDir(),
		LogLevel:   "info",
		Mutator: MutatorConfig{
			Command: "radamsa",
		},
		Corpus: CorpusConfig{
			Compression: "zstd",
		},
	}
}

// Load loads configuration from the FATS_CONFIG environment variable.
// Unlike LoadFile, this fails when the variable is not set; callers
// that treat configuration as optional should check the variable
// themselves and fall back to Default.
func Load() (*Config, error) {
	configPath := os.Getenv("FATS_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("FATS_CONFIG environment variable not set; " +
			"set it to the path of your fats.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables
// do not override config values. The only expansion performed is
// ${HOME} and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	// Expand ${HOME} and similar variables in paths for portability.
	cfg.expandVariables()

	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME":   os.Getenv("HOME"),
		"TMPDIR": os.TempDir(),
	}

	c.ScratchDir = expandVars(c.ScratchDir, vars)
	c.JournalFile = expandVars(c.JournalFile, vars)
	c.PolicyFile = expandVars(c.PolicyFile, vars)
	c.Corpus.Dir = expandVars(c.Corpus.Dir, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.ScratchDir == "" {
		errs = append(errs, fmt.Errorf("scratch_dir is required"))
	}

	if c.Mutator.Command == "" {
		errs = append(errs, fmt.Errorf("mutator.command is required"))
	}

	if _, err := c.MutationTimeout(); err != nil {
		errs = append(errs, err)
	}

	logLevels := []string{"debug", "info", "warn", "error"}
	if !contains(logLevels, c.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level must be one of: %v", logLevels))
	}

	compressions := []string{"none", "lz4", "zstd"}
	if !contains(compressions, c.Corpus.Compression) {
		errs = append(errs, fmt.Errorf("corpus.compression must be one of: %v", compressions))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// MutationTimeout parses the mutator timeout. Empty means disabled.
func (c *Config) MutationTimeout() (time.Duration, error) {
	if c.Mutator.Timeout == "" {
		return 0, nil
	}
	timeout, err := time.ParseDuration(c.Mutator.Timeout)
	if err != nil {
		return 0, fmt.Errorf("mutator.timeout: %w", err)
	}
	if timeout < 0 {
		return 0, fmt.Errorf("mutator.timeout must not be negative: %s", c.Mutator.Timeout)
	}
	return timeout, nil
}

// Level returns the slog level for the configured log_level. Unknown
// values (rejected by Validate) map to info.
func (c *Config) Level() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// EnsurePaths creates the configured directories if they don't exist:
// the scratch dir, the corpus dir, and the journal file's parent.
func (c *Config) EnsurePaths() error {
	paths := []string{c.ScratchDir, c.Corpus.Dir}
	if c.JournalFile != "" {
		paths = append(paths, filepath.Dir(c.JournalFile))
	}

	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}

	return nil
}

func contains(slice []string, s string) bool {
	for _, v := range slice {
		if v == s {
			return true
		}
	}
	return false
}
