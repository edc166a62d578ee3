package config

import (
	"encoding/json"
	"fmt"
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
	assert.Equal(t, 8192, cfg.Provider.MaxTokens)
	assert.Equal(t, 40, cfg.Provider.TopK)
	assert.Equal(t, 60*time.Second, cfg.Provider.Timeout.Duration())
	assert.False(t, cfg.Pipeline.Agents)
	assert.Equal(t, "keyed", cfg.Memory.Backend)
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"bad backend", func(c *Config) { c.Provider.Backend = "mystery" }, "provider.backend"},
		{"zero tokens", func(c *Config) { c.Provider.MaxTokens = 0 }, "provider.max_tokens"},
		{"hot temperature", func(c *Config) { c.Provider.Temperature = 3 }, "provider.temperature"},
		{"bad memory", func(c *Config) { c.Memory.Backend = "redis" }, "memory.backend"},
		{"chromem without collection", func(c *Config) {
			c.Memory.Backend = "chromem"
			c.Memory.Collection = ""
		}, "memory.collection"},
		{"events without url", func(c *Config) {
			c.Events.Enabled = true
			c.Events.URL = ""
		}, "events.url"},
		{"negative budget", func(c *Config) { c.Provider.BudgetUSD = -1 }, "provider.budget"},
		{"negative price", func(c *Config) {
			c.Provider.Prices = map[string]ModelPriceConfig{"house": {Input: -1}}
		}, "provider.prices.house"},
		{"policy temperature order", func(c *Config) {
			c.Provider.Policy.MinTemperature = 0.9
			c.Provider.Policy.MaxTemperature = 0.5
		}, "provider.policy.min_temperature"},
		{"negative policy limit", func(c *Config) { c.Provider.Policy.RequestsPerRun = -1 }, "provider.policy"},
		{"telemetry protocol", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.Protocol = "udp"
		}, "telemetry.protocol"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arcyn.yaml")
	yamlContent := `server:
  port: 9191
provider:
  backend: ollama
  model: llama3
  timeout: 30s
memory:
  backend: chromem
  collection: runs
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0600))

	t.Setenv("ARCYN_PROVIDER_API_KEY", "sk-test")
	t.Setenv("ARCYN_PIPELINE_AGENTS", "true")
	t.Setenv("ARCYN_SERVER_PORT", "9292")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9292, cfg.Server.Port, "env overrides file")
	assert.Equal(t, "ollama", cfg.Provider.Backend)
	assert.Equal(t, "llama3", cfg.Provider.Model)
	assert.Equal(t, 30*time.Second, cfg.Provider.Timeout.Duration())
	assert.Equal(t, "sk-test", cfg.Provider.APIKey.Value())
	assert.True(t, cfg.Pipeline.Agents)
	assert.Equal(t, "runs", cfg.Memory.Collection)
	// untouched defaults survive
	assert.Equal(t, 8192, cfg.Provider.MaxTokens)
}

func TestLoad_ProviderPolicyAndPrices(t *testing.T) {
	path := filepath.Join(t.TempDir(), "arcyn.yaml")
	yamlContent := `provider:
  budget_tokens: 250000
  budget_usd: 3.5
  prices:
    house-model:
      input: 1.25
      output: 5
  policy:
    max_tokens_per_request: 2048
    max_timeout: 45s
    requests_per_run: 12
    authorized_agents: [architect, builder]
    deterministic: true
`
	require.NoError(t, os.WriteFile(path, []byte(yamlContent), 0600))
	t.Setenv("ARCYN_PROVIDER_BUDGET_USD", "4")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 250000, cfg.Provider.BudgetTokens)
	assert.Equal(t, 4.0, cfg.Provider.BudgetUSD, "env overrides file")
	assert.Equal(t, ModelPriceConfig{Input: 1.25, Output: 5}, cfg.Provider.Prices["house-model"])

	policy := cfg.Provider.Policy
	assert.Equal(t, 2048, policy.MaxTokensPerRequest)
	assert.Equal(t, 45*time.Second, policy.MaxTimeout.Duration())
	assert.Equal(t, 12, policy.RequestsPerRun)
	assert.Equal(t, []string{"architect", "builder"}, policy.AuthorizedAgents)
	assert.True(t, policy.Deterministic)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Server.Port, cfg.Server.Port)
}

func TestLoad_InvalidValueFails(t *testing.T) {
	t.Setenv("ARCYN_MEMORY_BACKEND", "redis")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config validation failed")
}

func TestLoad_RejectsDirectory(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "server.port", envKey("ARCYN_SERVER_PORT"))
	assert.Equal(t, "provider.requests_per_minute", envKey("ARCYN_PROVIDER_REQUESTS_PER_MINUTE"))
	assert.Equal(t, "debug", envKey("ARCYN_DEBUG"))
}

func TestSecret_NeverLeaks(t *testing.T) {
	s := Secret("sk-live-123")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.NotContains(t, fmt.Sprintf("%#v", s), "sk-live")

	data, err := json.Marshal(struct{ Key Secret }{s})
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sk-live")

	assert.Equal(t, "sk-live-123", s.Value())
	assert.True(t, s.IsSet())
	assert.Equal(t, "", Secret("").String())
}

func TestDuration_Text(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, 90*time.Second, d.Duration())

	require.Error(t, d.UnmarshalText([]byte("-5s")))
	require.Error(t, d.UnmarshalText([]byte("soon")))

	out, err := json.Marshal(Duration(2 * time.Second))
	require.NoError(t, err)
	assert.JSONEq(t, `"2s"`, string(out))
}
