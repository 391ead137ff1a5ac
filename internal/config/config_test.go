// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	// Verify a few key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "applypilot", cfg.Logger.ServiceName)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 90*time.Second, cfg.Network.NavigationTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Tabs.DefaultTimeout)
	assert.Equal(t, 3*time.Minute, cfg.Tabs.IdentityTimeout)
	assert.Equal(t, 30*time.Second, cfg.Tabs.EvictionGrace)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Empty(t, cfg.Solver.Backend, "automatic solving is off by default")
}

func TestConfigValidation(t *testing.T) {
	t.Run("Defaults Are Valid", func(t *testing.T) {
		cfg := NewDefaultConfig()
		assert.NoError(t, cfg.Validate())
	})

	t.Run("Identity Timeout Bound", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Tabs.IdentityTimeout = cfg.Tabs.DefaultTimeout + time.Minute
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "identity_timeout")
	})

	t.Run("Postgres Store Requires URL", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Store.Type = "postgres"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "store.url")
	})

	t.Run("Unknown Store Type", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Store.Type = "redis"
		assert.Error(t, cfg.Validate())
	})
}

func TestSolverValidation(t *testing.T) {
	t.Run("Disabled Solver Needs Nothing", func(t *testing.T) {
		s := SolverConfig{}
		assert.NoError(t, s.Validate())
	})

	t.Run("Selected Backend Must Exist", func(t *testing.T) {
		s := SolverConfig{Backend: "main", PollInterval: time.Second, AttemptTimeout: time.Minute}
		err := s.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no entry")
	})

	t.Run("Backend Requires Key And Kind", func(t *testing.T) {
		s := SolverConfig{
			Backend:        "main",
			Backends:       map[string]BackendConfig{"main": {Kind: "twocaptcha"}},
			PollInterval:   time.Second,
			AttemptTimeout: time.Minute,
		}
		err := s.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "api_key")

		s.Backends["main"] = BackendConfig{Kind: "twocaptcha", APIKey: "k"}
		assert.NoError(t, s.Validate())

		b, ok := s.ActiveBackend()
		require.True(t, ok)
		assert.Equal(t, "twocaptcha", b.Kind)
	})
}

func TestNewConfigFromViperYAML(t *testing.T) {
	yaml := []byte(`
logger:
  level: debug
tabs:
  identity_timeout: 2m
solver:
  backend: main
  backends:
    main:
      kind: anticaptcha
      api_key: secret
filler:
  profile:
    email: jane@example.com
`)
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewReader(yaml)))

	cfg, err := NewConfigFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, 2*time.Minute, cfg.Tabs.IdentityTimeout)
	assert.Equal(t, "jane@example.com", cfg.Filler.Profile["email"])

	b, ok := cfg.Solver.ActiveBackend()
	require.True(t, ok)
	assert.Equal(t, "anticaptcha", b.Kind)
	assert.Equal(t, "secret", b.APIKey)
}
