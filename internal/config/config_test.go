package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Providers = []ProviderConfig{
		{ID: "claude", Provider: ProviderAnthropic, APIKey: "sk-ant-test123", Priority: 1},
		{ID: "gpt", Provider: ProviderOpenAI, APIKey: "sk-test123", Priority: 0},
	}
	cfg.applyDefaults()
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Empty(t, cfg.Providers)
	assert.Equal(t, 100000, cfg.Agent.ContextTokenBudget)
	assert.Equal(t, 3, cfg.Agent.CharsPerToken)
	assert.Equal(t, 30*time.Second, cfg.Agent.ToolTimeout)
	assert.Equal(t, 10*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, 10*1024, cfg.Tools.MaxOutputBytes)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Redaction)
	assert.Equal(t, "hostpilot", cfg.Telemetry.ServiceName)

	cfg.applyDefaults()
	assert.Equal(t, []time.Duration{10 * time.Second, 30 * time.Second, 60 * time.Second}, cfg.Agent.RateLimitBackoff)
}

func TestConfigValidate(t *testing.T) {
	t.Run("should accept a valid config", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("should require a provider", func(t *testing.T) {
		cfg := DefaultConfig()
		assert.ErrorIs(t, cfg.Validate(), ErrNoProviders)
	})

	t.Run("should reject unknown provider kinds", func(t *testing.T) {
		cfg := validConfig()
		cfg.Providers[0].Provider = "cohere"
		err := cfg.Validate()
		assert.ErrorIs(t, err, ErrUnknownProviderKind)
		assert.Contains(t, err.Error(), "cohere")
	})

	t.Run("should reject duplicate ids", func(t *testing.T) {
		cfg := validConfig()
		cfg.Providers[1].ID = "claude"
		assert.ErrorIs(t, cfg.Validate(), ErrDuplicateProvider)
	})

	t.Run("should require an api key", func(t *testing.T) {
		cfg := validConfig()
		cfg.Providers[1].APIKey = ""
		assert.ErrorContains(t, cfg.Validate(), "api_key is required")
	})

	t.Run("should resolve the active provider", func(t *testing.T) {
		cfg := validConfig()
		cfg.ActiveProvider = "missing"
		assert.ErrorIs(t, cfg.Validate(), ErrActiveProviderNotFound)
	})

	t.Run("should reject non positive budgets", func(t *testing.T) {
		cases := map[string]func(*Config){
			"negative budget":   func(c *Config) { c.Agent.ContextTokenBudget = -1 },
			"zero chars/token":  func(c *Config) { c.Agent.CharsPerToken = 0 },
			"zero backoff":      func(c *Config) { c.Agent.RateLimitBackoff = []time.Duration{time.Second, 0} },
			"negative timeout":  func(c *Config) { c.Sandbox.Timeout = -time.Second },
			"negative output":   func(c *Config) { c.Tools.MaxOutputBytes = -1 },
			"negative tokens":   func(c *Config) { c.Providers[0].MaxTokens = -5 },
			"negative history":  func(c *Config) { c.Agent.HistorySize = -1 },
			"negative tool cap": func(c *Config) { c.Agent.ToolTimeout = -time.Second },
		}
		for name, mutate := range cases {
			cfg := validConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate(), name)
		}
	})

	t.Run("should allow a zero budget to disable trimming", func(t *testing.T) {
		cfg := validConfig()
		cfg.Agent.ContextTokenBudget = 0
		assert.NoError(t, cfg.Validate())
	})
}

func TestConfigActive(t *testing.T) {
	t.Run("should prefer active_provider", func(t *testing.T) {
		cfg := validConfig()
		cfg.ActiveProvider = "claude"

		p, err := cfg.Active()
		require.NoError(t, err)
		assert.Equal(t, "claude", p.ID)
	})

	t.Run("should fall back to the lowest priority", func(t *testing.T) {
		p, err := validConfig().Active()
		require.NoError(t, err)
		assert.Equal(t, "gpt", p.ID)
	})

	t.Run("should break ties by order", func(t *testing.T) {
		cfg := validConfig()
		cfg.Providers[0].Priority = 0

		p, err := cfg.Active()
		require.NoError(t, err)
		assert.Equal(t, "claude", p.ID)
	})

	t.Run("should fail without providers", func(t *testing.T) {
		_, err := DefaultConfig().Active()
		assert.ErrorIs(t, err, ErrNoProviders)
	})
}

func TestConfigRedacted(t *testing.T) {
	cfg := validConfig()
	red := cfg.Redacted()

	assert.Equal(t, "sk-a********", red.Providers[0].APIKey)
	assert.Equal(t, "sk-test123", cfg.Providers[1].APIKey, "original is untouched")
	assert.NotContains(t, red.String(), "sk-ant-test123")

	var decoded Config
	require.NoError(t, json.Unmarshal([]byte(cfg.String()), &decoded))
	assert.Equal(t, cfg.Providers, decoded.Providers)
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "", MaskKey(""))
	assert.Equal(t, "****", MaskKey("short"))
	assert.Equal(t, "AIza********", MaskKey("AIzaSyExample123"))
}
