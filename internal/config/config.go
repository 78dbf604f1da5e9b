// Package config handles loading, saving, and resolving the repofleet
// configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"go.yaml.in/yaml/v3"
)

const (
	// LocalConfigFilename is the per-directory repofleet config file.
	LocalConfigFilename = ".repofleet.yaml"
	// ConfigAPIVersion is the current config schema apiVersion.
	ConfigAPIVersion = "skaphos.io/repofleet/v1alpha1"
	// ConfigKind is the current config schema kind.
	ConfigKind = "RepoFleetConfig"
	// EnvPrefix prefixes environment overrides, e.g. REPOFLEET_PULL_REBASE.
	EnvPrefix = "REPOFLEET"
	// ConfigEnv names the environment variable holding a config path.
	ConfigEnv = "REPOFLEET_CONFIG"
	// DefaultRegistryFilename is the registry file next to the config.
	DefaultRegistryFilename = "registry.yaml"
)

// Defaults holds default values for operations.
type Defaults struct {
	WriteConcurrency int `yaml:"write_concurrency" mapstructure:"write_concurrency"`
	ReadConcurrency  int `yaml:"read_concurrency" mapstructure:"read_concurrency"`
	LogLines         int `yaml:"log_lines" mapstructure:"log_lines"`
	DiffContext      int `yaml:"diff_context" mapstructure:"diff_context"`
	TickMillis       int `yaml:"tick_millis" mapstructure:"tick_millis"`
}

// LogSettings configures the diagnostic logger.
type LogSettings struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
	// File enables a rotated log file instead of stderr.
	File string `yaml:"file,omitempty" mapstructure:"file"`
}

// Config represents the repofleet configuration.
type Config struct {
	APIVersion        string      `yaml:"apiVersion" mapstructure:"apiVersion"`
	Kind              string      `yaml:"kind" mapstructure:"kind"`
	RegistryPath      string      `yaml:"registry_path,omitempty" mapstructure:"registry_path"`
	RegistryStaleDays int         `yaml:"registry_stale_days" mapstructure:"registry_stale_days"`
	Exclude           []string    `yaml:"exclude" mapstructure:"exclude"`
	PullRebase        bool        `yaml:"pull_rebase" mapstructure:"pull_rebase"`
	StashSentinel     string      `yaml:"stash_sentinel" mapstructure:"stash_sentinel"`
	Defaults          Defaults    `yaml:"defaults" mapstructure:"defaults"`
	Log               LogSettings `yaml:"log" mapstructure:"log"`
}

// DefaultConfig returns a Config with sensible defaults applied.
func DefaultConfig() Config {
	return Config{
		APIVersion:        ConfigAPIVersion,
		Kind:              ConfigKind,
		RegistryPath:      DefaultRegistryFilename,
		RegistryStaleDays: 30,
		Exclude:           []string{"**/node_modules/**", "**/.terraform/**", "**/dist/**", "**/vendor/**"},
		StashSentinel:     "repofleet-sentinel",
		Defaults: Defaults{
			WriteConcurrency: 5,
			ReadConcurrency:  10,
			LogLines:         2000,
			DiffContext:      3,
			TickMillis:       100,
		},
		Log: LogSettings{
			Level:  "warn",
			Format: "console",
		},
	}
}

func defaultValues() map[string]any {
	d := DefaultConfig()
	return map[string]any{
		"apiVersion":                 d.APIVersion,
		"kind":                       d.Kind,
		"registry_path":              d.RegistryPath,
		"registry_stale_days":        d.RegistryStaleDays,
		"exclude":                    d.Exclude,
		"pull_rebase":                d.PullRebase,
		"stash_sentinel":             d.StashSentinel,
		"defaults.write_concurrency": d.Defaults.WriteConcurrency,
		"defaults.read_concurrency":  d.Defaults.ReadConcurrency,
		"defaults.log_lines":         d.Defaults.LogLines,
		"defaults.diff_context":      d.Defaults.DiffContext,
		"defaults.tick_millis":       d.Defaults.TickMillis,
		"log.level":                  d.Log.Level,
		"log.format":                 d.Log.Format,
		"log.file":                   d.Log.File,
	}
}

// ConfigDir returns the platform-appropriate config directory path.
// It checks, in order: the override parameter, REPOFLEET_CONFIG env var,
// and finally os.UserConfigDir()/repofleet.
func ConfigDir(override string) (string, error) {
	if override != "" {
		if isConfigFilePath(override) {
			return filepath.Dir(override), nil
		}
		return override, nil
	}

	if env := os.Getenv(ConfigEnv); env != "" {
		if isConfigFilePath(env) {
			return filepath.Dir(env), nil
		}
		return env, nil
	}

	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "repofleet"), nil
}

// ConfigPath resolves the config file path from override/env/defaults.
func ConfigPath(override string) (string, error) {
	if override != "" {
		if isConfigFilePath(override) {
			return override, nil
		}
		return filepath.Join(override, "config.yaml"), nil
	}

	if env := os.Getenv(ConfigEnv); env != "" {
		if isConfigFilePath(env) {
			return env, nil
		}
		return filepath.Join(env, "config.yaml"), nil
	}

	dir, err := ConfigDir("")
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// InitConfigPath resolves where a new config should be written.
// Order: explicit override, REPOFLEET_CONFIG, then local dotfile in cwd.
func InitConfigPath(override, cwd string) (string, error) {
	if override != "" || os.Getenv(ConfigEnv) != "" {
		return ConfigPath(override)
	}

	if strings.TrimSpace(cwd) == "" {
		var err error
		cwd, err = os.Getwd()
		if err != nil {
			return "", err
		}
	}
	return filepath.Join(cwd, LocalConfigFilename), nil
}

// ResolveConfigPath resolves config for runtime commands.
// Order: explicit override, REPOFLEET_CONFIG, nearest local dotfile in cwd/parents,
// then global platform config path.
func ResolveConfigPath(override, cwd string) (string, error) {
	if override != "" || os.Getenv(ConfigEnv) != "" {
		return ConfigPath(override)
	}

	if strings.TrimSpace(cwd) == "" {
		var err error
		cwd, err = os.Getwd()
		if err != nil {
			return "", err
		}
	}

	localPath, err := FindNearestConfigPath(cwd)
	if err != nil {
		return "", err
	}
	if localPath != "" {
		return localPath, nil
	}

	return ConfigPath("")
}

// FindNearestConfigPath searches cwd and each parent directory for .repofleet.yaml.
// It returns an empty string when no local config file is found.
func FindNearestConfigPath(cwd string) (string, error) {
	dir := cwd
	for {
		candidate := filepath.Join(dir, LocalConfigFilename)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		} else if !os.IsNotExist(err) {
			return "", err
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", nil
		}
		dir = parent
	}
}

// Load reads the config file at path, layering it over the defaults and
// under REPOFLEET_* environment overrides. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, value := range defaultValues() {
		v.SetDefault(key, value)
	}

	if strings.TrimSpace(path) != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.MergeInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read configuration: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	applyConfigGVK(&cfg)
	if err := validateConfigGVK(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	d := DefaultConfig()
	if cfg.Defaults.WriteConcurrency <= 0 {
		cfg.Defaults.WriteConcurrency = d.Defaults.WriteConcurrency
	}
	if cfg.Defaults.ReadConcurrency <= 0 {
		cfg.Defaults.ReadConcurrency = d.Defaults.ReadConcurrency
	}
	if cfg.Defaults.LogLines <= 0 {
		cfg.Defaults.LogLines = d.Defaults.LogLines
	}
	if cfg.Defaults.DiffContext < 0 {
		cfg.Defaults.DiffContext = d.Defaults.DiffContext
	}
	if cfg.Defaults.TickMillis <= 0 {
		cfg.Defaults.TickMillis = d.Defaults.TickMillis
	}
	if strings.TrimSpace(cfg.RegistryPath) == "" {
		cfg.RegistryPath = d.RegistryPath
	}
	if strings.TrimSpace(cfg.StashSentinel) == "" {
		cfg.StashSentinel = d.StashSentinel
	}
}

// RegistryFile returns the registry location for a config loaded from
// configPath.
func (c *Config) RegistryFile(configPath string) string {
	return ResolveRegistryPath(configPath, c.RegistryPath)
}

// ResolveRegistryPath resolves registry_path against the config file location.
// Absolute paths are returned unchanged; relative paths are joined to the
// directory containing configPath.
func ResolveRegistryPath(configPath, registryPath string) string {
	if strings.TrimSpace(registryPath) == "" {
		return ""
	}
	if filepath.IsAbs(registryPath) || strings.TrimSpace(configPath) == "" {
		return filepath.Clean(registryPath)
	}
	return filepath.Clean(filepath.Join(filepath.Dir(configPath), registryPath))
}

// Save writes the config to the given path.
func Save(cfg *Config, path string) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	applyConfigGVK(cfg)
	if err := validateConfigGVK(cfg); err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func isConfigFilePath(path string) bool {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, "config.yaml") || strings.HasSuffix(lower, "config.yml") {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func applyConfigGVK(cfg *Config) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.APIVersion) == "" {
		cfg.APIVersion = ConfigAPIVersion
	}
	if strings.TrimSpace(cfg.Kind) == "" {
		cfg.Kind = ConfigKind
	}
}

func validateConfigGVK(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.APIVersion != ConfigAPIVersion {
		return fmt.Errorf("unsupported config apiVersion %q (expected %q)", cfg.APIVersion, ConfigAPIVersion)
	}
	if cfg.Kind != ConfigKind {
		return fmt.Errorf("unsupported config kind %q (expected %q)", cfg.Kind, ConfigKind)
	}
	return nil
}
