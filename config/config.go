package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/aschepis/backscratcher/llmgate/ratelimit"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// RetryConfig tunes the retry manager.
type RetryConfig struct {
	MaxRetries *int          `yaml:"max_retries,omitempty"` // retries after the first attempt (default: 3)
	BaseDelay  time.Duration `yaml:"base_delay,omitempty"`  // e.g. "1s"
	MaxDelay   time.Duration `yaml:"max_delay,omitempty"`   // cap for a single backoff wait, e.g. "60s"
}

// UsageConfig bounds the in-memory usage ledger.
type UsageConfig struct {
	MaxRecords    int           `yaml:"max_records,omitempty"`
	TrimThreshold int           `yaml:"trim_threshold,omitempty"`
	DefaultWindow time.Duration `yaml:"default_window,omitempty"` // window used when stats are requested without a start time
}

// ReportConfig controls the periodic usage report.
type ReportConfig struct {
	Schedule string `yaml:"schedule,omitempty"` // e.g. "@every 5m", "15m", "0 */15 * * * *" (cron)
	Disabled bool   `yaml:"disabled,omitempty"`
}

// AlertsConfig controls desktop alerts for failures that need a human.
type AlertsConfig struct {
	Desktop  bool          `yaml:"desktop,omitempty"`
	Cooldown time.Duration `yaml:"cooldown,omitempty"` // minimum gap between alerts for the same provider and code
}

// Config is the llmgate configuration file.
type Config struct {
	// RateLimitEnabled turns admission control on for every request that does not opt out.
	RateLimitEnabled *bool `yaml:"rate_limit_enabled,omitempty"`

	// Per-provider admission policies. Providers missing here get ratelimit.DefaultConfig.
	Providers map[string]ratelimit.Config `yaml:"providers,omitempty"`

	Retry  RetryConfig  `yaml:"retry,omitempty"`
	Usage  UsageConfig  `yaml:"usage,omitempty"`
	Report ReportConfig `yaml:"report,omitempty"`
	Alerts AlertsConfig `yaml:"alerts,omitempty"`
}

// RateLimitingEnabled reports whether admission control is on. It defaults to true.
func (c *Config) RateLimitingEnabled() bool {
	return c == nil || c.RateLimitEnabled == nil || *c.RateLimitEnabled
}

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	enabled := true
	maxRetries := 3
	return &Config{
		RateLimitEnabled: &enabled,
		Providers:        make(map[string]ratelimit.Config),
		Retry: RetryConfig{
			MaxRetries: &maxRetries,
			BaseDelay:  time.Second,
			MaxDelay:   60 * time.Second,
		},
		Usage: UsageConfig{
			MaxRecords:    10000,
			TrimThreshold: 12000,
			DefaultWindow: 24 * time.Hour,
		},
		Report: ReportConfig{
			Schedule: "@every 5m",
		},
		Alerts: AlertsConfig{
			Cooldown: 10 * time.Minute,
		},
	}
}

// GetConfigPath returns the default config file path.
// Can be overridden via LLMGATE_CONFIG_PATH environment variable.
func GetConfigPath() string {
	if envPath := os.Getenv("LLMGATE_CONFIG_PATH"); envPath != "" {
		return expandPath(envPath)
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "./.llmgate/config.yaml"
	}
	return filepath.Join(homeDir, ".llmgate", "config.yaml")
}

// expandPath expands ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(homeDir, path[2:])
	}
	return path
}

// LoadEnv loads the first .env file that exists among paths into the process environment.
// Variables that are already set are left alone.
func LoadEnv(paths ...string) {
	for _, path := range paths {
		path = expandPath(path)
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
			return
		}
	}
}

// Load reads the configuration at path and merges it onto Defaults. A missing file yields
// the defaults. LLMGATE_MAX_RETRIES and LLMGATE_RATE_LIMIT_ENABLED override the file.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	expandedPath := expandPath(path)
	if _, err := os.Stat(expandedPath); err == nil {
		data, err := os.ReadFile(expandedPath) //#nosec 304 -- intentional file read for config
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", expandedPath, err)
		}

		var fileConfig Config
		if err := yaml.Unmarshal(data, &fileConfig); err != nil {
			return nil, fmt.Errorf("failed to parse config file %q: %w", expandedPath, err)
		}

		if err := mergo.Merge(cfg, fileConfig, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge config: %w", err)
		}

		// mergo skips zero values, so explicit false/0 settings are carried over by hand.
		if fileConfig.RateLimitEnabled != nil {
			enabled := *fileConfig.RateLimitEnabled
			cfg.RateLimitEnabled = &enabled
		}
		if fileConfig.Retry.MaxRetries != nil {
			maxRetries := *fileConfig.Retry.MaxRetries
			cfg.Retry.MaxRetries = &maxRetries
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if cfg.Providers == nil {
		cfg.Providers = make(map[string]ratelimit.Config)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("LLMGATE_MAX_RETRIES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid LLMGATE_MAX_RETRIES %q: %w", v, err)
		}
		cfg.Retry.MaxRetries = &n
	}
	if v := os.Getenv("LLMGATE_RATE_LIMIT_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid LLMGATE_RATE_LIMIT_ENABLED %q: %w", v, err)
		}
		cfg.RateLimitEnabled = &enabled
	}
	return nil
}

// Save saves the configuration to the specified path.
func Save(cfg *Config, path string) error {
	expandedPath := expandPath(path)

	// Ensure directory exists
	dir := filepath.Dir(expandedPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(expandedPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
