// File: internal/config/config_test.go
package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "console", cfg.Logger.Format)

	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, "auto", cfg.Browser.BackendPreference)
	assert.True(t, cfg.Browser.FallbackOnError)
	assert.Equal(t, "default", cfg.Browser.DefaultProfileID)
	assert.Equal(t, 1280, cfg.Browser.ViewportWidth)
	assert.Equal(t, 800, cfg.Browser.ViewportHeight)
	assert.Equal(t, 30*time.Second, cfg.Browser.NavigationTimeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.Browser.SettleTime)
	assert.NotEmpty(t, cfg.Browser.StateDir)

	assert.Equal(t, 8, cfg.Search.DefaultLimit)
	assert.Equal(t, 8*time.Second, cfg.Search.ProviderTimeout)

	assert.Equal(t, 6, cfg.Planner.MaxActions)
	assert.InDelta(t, 0.62, cfg.Planner.CoverageThreshold, 1e-9)
	assert.Equal(t, 30*time.Minute, cfg.Planner.FrameTTL)

	assert.Equal(t, 4, cfg.Engine.WorkerConcurrency)
	assert.Equal(t, 1, cfg.Engine.BrowserConcurrency)
	assert.Equal(t, 90*time.Second, cfg.Engine.ToolTimeout)

	require.NoError(t, cfg.Validate())
}

func TestNewConfigFromViperOverrides(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	v.Set("browser.headless", false)
	v.Set("browser.max_sessions", 2)
	v.Set("planner.max_actions", 3)
	v.Set("browser.state_dir", t.TempDir())

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 2, cfg.Browser.MaxSessions)
	assert.Equal(t, 3, cfg.Planner.MaxActions)
	assert.Equal(t, 4, cfg.Engine.WorkerConcurrency, "engine defaults backfilled when absent")
}

func TestNewConfigFromViperSecretEnvBinding(t *testing.T) {
	t.Setenv("WEBPILOT_POLICY_SECRET", "env-secret")
	t.Setenv("WEBPILOT_SEARCH_API_KEY", "env-search-key")

	v := viper.New()
	SetDefaults(v)
	v.Set("browser.state_dir", t.TempDir())

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, "env-secret", cfg.Policy.SigningSecret)
	assert.Equal(t, "env-search-key", cfg.Search.DirectAPIKey)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errHas string
	}{
		{"zero workers", func(c *Config) { c.Engine.WorkerConcurrency = 0 }, "worker_concurrency"},
		{"zero browser slots", func(c *Config) { c.Engine.BrowserConcurrency = 0 }, "browser_concurrency"},
		{"zero sessions", func(c *Config) { c.Browser.MaxSessions = 0 }, "max_sessions"},
		{"coverage over one", func(c *Config) { c.Planner.CoverageThreshold = 1.5 }, "coverage_threshold"},
		{"coverage zero", func(c *Config) { c.Planner.CoverageThreshold = 0 }, "coverage_threshold"},
		{"zero max actions", func(c *Config) { c.Planner.MaxActions = 0 }, "max_actions"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errHas)
		})
	}
}

func TestRemoteBackendConfigured(t *testing.T) {
	assert.False(t, RemoteBackendConfig{}.Configured())
	assert.True(t, RemoteBackendConfig{BaseURL: "https://wire.example.com"}.Configured())
}
