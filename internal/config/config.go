// Package config holds the migrator settings. Values are layered: built-in
// defaults, then an optional YAML file, then environment variables; command
// line flags are applied last by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Config is the root configuration of a migration run
type Config struct {
	// Env selects log formatting: "production" logs JSON, anything else pretty-prints.
	Env      string `yaml:"env"`
	LogLevel string `yaml:"logLevel"`

	// InputFiles are candidate locations of the normalized export; the first
	// existing one is used.
	InputFiles []string `yaml:"inputFiles"`

	// LedgerDSN selects the ledger backend: a file path, file://, sqlite://,
	// postgres:// or memory://.
	LedgerDSN string `yaml:"ledgerDSN"`

	// StatusAddr enables the status server when non-empty (e.g. ":8090").
	StatusAddr string `yaml:"statusAddr"`

	API  APIConfig  `yaml:"api"`
	Test TestConfig `yaml:"test"`
}

// APIConfig tunes the remote client and its retry policy
type APIConfig struct {
	BaseURL              string        `yaml:"baseURL"`
	Version              string        `yaml:"version"`
	Timeout              time.Duration `yaml:"timeout"`
	RequestsPerSecond    float64       `yaml:"requestsPerSecond"`
	Burst                int           `yaml:"burst"`
	BaseDelay            time.Duration `yaml:"baseDelay"`
	MaxDelay             time.Duration `yaml:"maxDelay"`
	MaxThrottleAttempts  int           `yaml:"maxThrottleAttempts"`
	MaxTransientAttempts int           `yaml:"maxTransientAttempts"`
}

// TestConfig configures the bounded rehearsal run
type TestConfig struct {
	Count        int      `yaml:"count"`
	Emails       []string `yaml:"emails"`
	EmailPattern string   `yaml:"emailPattern"`
	Seed         uint64   `yaml:"seed"`
}

// Default returns the configuration used when nothing else is supplied
func Default() *Config {
	return &Config{
		Env:      "development",
		LogLevel: "info",
		InputFiles: []string{
			"data/shopify_orders_ready.json",
			"scripts/data/shopify_orders_ready.json",
		},
		LedgerDSN: "data/upload_progress.json",
		API: APIConfig{
			Version:              "2024-01",
			Timeout:              15 * time.Second,
			RequestsPerSecond:    2,
			Burst:                1,
			BaseDelay:            500 * time.Millisecond,
			MaxDelay:             30 * time.Second,
			MaxThrottleAttempts:  6,
			MaxTransientAttempts: 3,
		},
		Test: TestConfig{
			Count:        10,
			EmailPattern: "test+order%d@example.com",
			Seed:         42,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file at path
// and the environment.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	if v, ok := lookup("ENV"); ok && v != "" {
		c.Env = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := lookup("DEBUG"); ok && v == "true" {
		c.LogLevel = "debug"
	}
	if v, ok := lookup("MIGRATOR_INPUT"); ok && v != "" {
		c.InputFiles = []string{v}
	}
	if v, ok := lookup("MIGRATOR_LEDGER_DSN"); ok && v != "" {
		c.LedgerDSN = v
	}
	if v, ok := lookup("MIGRATOR_STATUS_ADDR"); ok {
		c.StatusAddr = v
	}
	if v, ok := lookup("MIGRATOR_API_BASE_URL"); ok && v != "" {
		c.API.BaseURL = v
	}
	if v, ok := lookup("MIGRATOR_REQUESTS_PER_SECOND"); ok && v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: MIGRATOR_REQUESTS_PER_SECOND=%q", ErrInvalidConfig, v)
		}
		c.API.RequestsPerSecond = rps
	}
	return nil
}

// Validate checks the configuration for values the run cannot work with
func (c *Config) Validate() error {
	var problems []string

	if len(c.InputFiles) == 0 {
		problems = append(problems, "at least one input file is required")
	}
	if strings.TrimSpace(c.LedgerDSN) == "" {
		problems = append(problems, "ledgerDSN is required")
	}
	if c.API.RequestsPerSecond <= 0 {
		problems = append(problems, "api.requestsPerSecond must be positive")
	}
	if c.API.Burst < 1 {
		problems = append(problems, "api.burst must be at least 1")
	}
	if c.API.BaseDelay <= 0 || c.API.MaxDelay < c.API.BaseDelay {
		problems = append(problems, "api.baseDelay must be positive and not exceed api.maxDelay")
	}
	if c.API.MaxThrottleAttempts < 1 || c.API.MaxTransientAttempts < 1 {
		problems = append(problems, "api retry attempts must be at least 1")
	}
	if c.API.Timeout <= 0 {
		problems = append(problems, "api.timeout must be positive")
	}
	if c.Test.Count < 1 {
		problems = append(problems, "test.count must be at least 1")
	}
	if len(c.Test.Emails) == 0 && !strings.Contains(c.Test.EmailPattern, "%d") {
		problems = append(problems, "test.emailPattern must contain %d when no test emails are listed")
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}
