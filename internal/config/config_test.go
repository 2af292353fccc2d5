package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, "https://opensky-network.org", cfg.API.BaseURL)
	assert.Equal(t, string(TierAnonymous), cfg.API.Tier)
	assert.Equal(t, 3, cfg.Polling.MaxConcurrentRequests)
	assert.Equal(t, 3, cfg.Quota.FuseThreshold)
	assert.Equal(t, 5, cfg.Push.ReconnectAttempts)
	assert.Equal(t, 10*time.Second, cfg.MinInterval())
	assert.Equal(t, 5*time.Minute, cfg.MaxInterval())
	assert.Equal(t, 30*time.Second, cfg.CacheTTL())
}

func TestLoad_FileOverrides(t *testing.T) {
	path := writeConfig(t, `
api:
  tier: authenticated
  username: tester
  password: secret
polling:
  min_interval_ms: 5000
  max_interval_ms: 60000
  max_concurrent_requests: 5
quota:
  short_limit: 30
  daily_limit: 2000
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, string(TierAuthenticated), cfg.API.Tier)
	assert.Equal(t, 5*time.Second, cfg.MinInterval())
	assert.Equal(t, 5, cfg.Polling.MaxConcurrentRequests)

	limits := cfg.QuotaLimits()
	assert.Equal(t, 30, limits.ShortLimit, "explicit override wins over tier default")
	assert.Equal(t, 2000, limits.DailyLimit)
	assert.Equal(t, 100, limits.MaxBatchSize, "batch size comes from the tier")
}

func TestLoad_EnvCredentials(t *testing.T) {
	t.Setenv("SKYWATCH_API_USERNAME", "envuser")
	t.Setenv("SKYWATCH_API_PASSWORD", "envpass")

	cfg, err := Load(writeConfig(t, "api:\n  tier: authenticated\n"))
	require.NoError(t, err)
	assert.Equal(t, "envuser", cfg.API.Username)
	assert.Equal(t, "envpass", cfg.API.Password)
}

func TestValidate_Errors(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"unknown tier", "api:\n  tier: premium\n"},
		{"authenticated without username", "api:\n  tier: authenticated\n"},
		{"inverted intervals", "polling:\n  min_interval_ms: 60000\n  max_interval_ms: 5000\n"},
		{"zero concurrency", "polling:\n  max_concurrent_requests: 0\n"},
		{"zero ttl", "cache:\n  ttl_seconds: 0\n"},
		{"zero fuse threshold", "quota:\n  fuse_threshold: 0\n"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestTierLimits(t *testing.T) {
	anon := LimitsFor(TierAnonymous)
	auth := LimitsFor(TierAuthenticated)

	assert.Equal(t, 25, anon.MaxBatchSize)
	assert.Equal(t, 100, auth.MaxBatchSize)
	assert.Greater(t, auth.ShortLimit, anon.ShortLimit)
	assert.Greater(t, auth.DailyLimit, anon.DailyLimit)
}

func TestTierFromString(t *testing.T) {
	_, err := TierFromString("anonymous")
	assert.NoError(t, err)
	_, err = TierFromString("authenticated")
	assert.NoError(t, err)
	_, err = TierFromString("premium")
	assert.Error(t, err)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}
