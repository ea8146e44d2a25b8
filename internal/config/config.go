package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Overwrite policies accepted in overwrite_policy.
const (
	PolicyLastWriterWins = "last-writer-wins"
	PolicyFailOnConflict = "fail-on-conflict"
)

// KnownAlgorithms lists the checksum algorithms a sealed bag may use.
var KnownAlgorithms = []string{"md5", "sha1", "sha256", "sha512"}

// Config holds application configuration.
type Config struct {
	// Algorithms are the checksum algorithms used when sealing a bag whose
	// sub-packages don't dictate one (e.g. the metadata bag).
	Algorithms []string `json:"algorithms,omitempty"`

	// ExtraVolatileFields are bag-info fields stripped before comparing
	// sub-package metadata, in addition to the built-in list.
	ExtraVolatileFields []string `json:"extra_volatile_fields,omitempty"`

	// PreserveSymlinks recreates symbolic links verbatim while merging trees
	// instead of copying their targets.
	PreserveSymlinks bool `json:"preserve_symlinks,omitempty"`

	// OverwritePolicy is "last-writer-wins" (default) or "fail-on-conflict".
	OverwritePolicy string `json:"overwrite_policy,omitempty"`

	// HistoryDisabled turns off the run ledger.
	HistoryDisabled bool `json:"history_disabled,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Algorithms:      []string{"sha256"},
		OverwritePolicy: PolicyLastWriterWins,
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.bagsplit.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.bagsplit) and repo (.bagsplit) directories.
// Repo config is found by walking upward from startDir to find the nearest .bagsplit/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repo, err := loadFileRaw(FindRepoConfig(startDir))
	if err != nil {
		return nil, err
	}

	cfg := Merge(Merge(DefaultConfig(), global), repo)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FindRepoConfig walks upward from startDir to find the nearest .bagsplit/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	if startDir == "" {
		return ""
	}
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".bagsplit", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Validate rejects unknown algorithms and overwrite policies.
func (c *Config) Validate() error {
	known := make(map[string]bool, len(KnownAlgorithms))
	for _, alg := range KnownAlgorithms {
		known[alg] = true
	}
	for _, alg := range c.Algorithms {
		if !known[alg] {
			return fmt.Errorf("unknown checksum algorithm %q (known: %v)", alg, KnownAlgorithms)
		}
	}
	switch c.OverwritePolicy {
	case "", PolicyLastWriterWins, PolicyFailOnConflict:
	default:
		return fmt.Errorf("unknown overwrite_policy %q", c.OverwritePolicy)
	}
	return nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the path is empty or the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configPath, err)
	}

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	merged := Merge(DefaultConfig(), cfg)
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated,
// except Algorithms, which the overlay replaces wholesale when set.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.Algorithms = mergeStringSlice(nil, overlay.Algorithms)
	if result.Algorithms == nil {
		result.Algorithms = mergeStringSlice(nil, base.Algorithms)
	}

	result.OverwritePolicy = overlay.OverwritePolicy
	if result.OverwritePolicy == "" {
		result.OverwritePolicy = base.OverwritePolicy
	}

	// Booleans: overlay wins if true, else base
	result.PreserveSymlinks = base.PreserveSymlinks || overlay.PreserveSymlinks
	result.HistoryDisabled = base.HistoryDisabled || overlay.HistoryDisabled

	result.ExtraVolatileFields = mergeStringSlice(base.ExtraVolatileFields, overlay.ExtraVolatileFields)
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string(nil), a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
