package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 2.0, cfg.API.RequestsPerSecond)
	assert.Equal(t, 10, cfg.Test.Count)
	assert.Equal(t, "data/upload_progress.json", cfg.LedgerDSN)
}

func TestLoad_YAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrator.yaml")
	content := `
ledgerDSN: sqlite://data/ledger.db
inputFiles:
  - exports/orders.json
api:
  requestsPerSecond: 1.5
  maxDelay: 10s
  baseDelay: 250ms
test:
  count: 3
  emails:
    - qa@example.com
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("MIGRATOR_INPUT", "")
	t.Setenv("MIGRATOR_LEDGER_DSN", "")
	t.Setenv("MIGRATOR_REQUESTS_PER_SECOND", "")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite://data/ledger.db", cfg.LedgerDSN)
	assert.Equal(t, []string{"exports/orders.json"}, cfg.InputFiles)
	assert.Equal(t, 1.5, cfg.API.RequestsPerSecond)
	assert.Equal(t, 10*time.Second, cfg.API.MaxDelay)
	assert.Equal(t, 250*time.Millisecond, cfg.API.BaseDelay)
	assert.Equal(t, 3, cfg.Test.Count)
	assert.Equal(t, []string{"qa@example.com"}, cfg.Test.Emails)
	// untouched keys keep their defaults
	assert.Equal(t, "2024-01", cfg.API.Version)
	assert.Equal(t, 6, cfg.API.MaxThrottleAttempts)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"DEBUG":                        "true",
		"MIGRATOR_INPUT":               "/tmp/orders.json",
		"MIGRATOR_LEDGER_DSN":          "memory://",
		"MIGRATOR_REQUESTS_PER_SECOND": "0.5",
	}
	cfg := Default()
	err := cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"/tmp/orders.json"}, cfg.InputFiles)
	assert.Equal(t, "memory://", cfg.LedgerDSN)
	assert.Equal(t, 0.5, cfg.API.RequestsPerSecond)
}

func TestApplyEnv_BadNumber(t *testing.T) {
	cfg := Default()
	err := cfg.applyEnv(func(k string) (string, bool) {
		if k == "MIGRATOR_REQUESTS_PER_SECOND" {
			return "fast", true
		}
		return "", false
	})
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestValidate_ReportsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.API.RequestsPerSecond = 0
	cfg.API.MaxDelay = time.Millisecond
	cfg.Test.EmailPattern = "static@example.com"

	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
	assert.Contains(t, err.Error(), "requestsPerSecond")
	assert.Contains(t, err.Error(), "maxDelay")
	assert.Contains(t, err.Error(), "emailPattern")
}
