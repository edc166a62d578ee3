// Package config loads arcyn configuration from a YAML file and ARCYN_*
// environment variables.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete arcyn configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Provider  ProviderConfig  `koanf:"provider"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Memory    MemoryConfig    `koanf:"memory"`
	Events    EventsConfig    `koanf:"events"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	Metrics         bool     `koanf:"metrics"`
}

// ProviderConfig selects and tunes the LLM backend behind the gateway.
type ProviderConfig struct {
	Backend           string   `koanf:"backend"`
	Model             string   `koanf:"model"`
	EmbeddingModel    string   `koanf:"embedding_model"`
	APIKey            Secret   `koanf:"api_key"`
	BaseURL           string   `koanf:"base_url"`
	MaxTokens         int      `koanf:"max_tokens"`
	Temperature       float64  `koanf:"temperature"`
	TopP              float64  `koanf:"top_p"`
	TopK              int      `koanf:"top_k"`
	Timeout           Duration `koanf:"timeout"`
	SystemInstruction string   `koanf:"system_instruction"`

	// RequestsPerMinute paces outgoing calls. Zero disables pacing.
	RequestsPerMinute float64 `koanf:"requests_per_minute"`
	Burst             int     `koanf:"burst"`

	// Prices overrides per-model USD rates, per million tokens. Model names
	// containing dots cannot be expressed as koanf keys.
	Prices       map[string]ModelPriceConfig `koanf:"prices"`
	BudgetTokens int                         `koanf:"budget_tokens"`
	BudgetUSD    float64                     `koanf:"budget_usd"`

	Policy PolicyConfig `koanf:"policy"`
}

// ModelPriceConfig is one model's USD rate per million tokens.
type ModelPriceConfig struct {
	Input  float64 `koanf:"input"`
	Output float64 `koanf:"output"`
}

// PolicyConfig bounds gateway requests before they reach the backend. Zero
// values keep the gateway defaults.
type PolicyConfig struct {
	MaxTokensPerRequest int      `koanf:"max_tokens_per_request"`
	MaxPromptLength     int      `koanf:"max_prompt_length"`
	MinTemperature      float64  `koanf:"min_temperature"`
	MaxTemperature      float64  `koanf:"max_temperature"`
	MaxTimeout          Duration `koanf:"max_timeout"`
	RequestsPerMinute   int      `koanf:"requests_per_minute"`
	RequestsPerRun      int      `koanf:"requests_per_run"`
	// AuthorizedAgents empty allows every agent.
	AuthorizedAgents []string `koanf:"authorized_agents"`
	Deterministic    bool     `koanf:"deterministic"`
}

// PipelineConfig controls orchestrator behavior.
type PipelineConfig struct {
	// Agents enables the LLM-backed stage agents. When false every stage
	// runs its fallback.
	Agents  bool     `koanf:"agents"`
	Timeout Duration `koanf:"timeout"`
}

// MemoryConfig selects the knowledge store used by the store and review stages.
type MemoryConfig struct {
	Backend    string `koanf:"backend"` // "keyed" or "chromem"
	Path       string `koanf:"path"`
	Collection string `koanf:"collection"`
	Compress   bool   `koanf:"compress"`
	Namespace  string `koanf:"namespace"`
}

// EventsConfig controls publishing of stage progress to NATS.
type EventsConfig struct {
	Enabled       bool   `koanf:"enabled"`
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// LoggingConfig is the file/env surface of logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig is the file/env surface of telemetry.Config.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// Default returns a configuration that runs locally without credentials:
// fallback agents, in-process memory, events and telemetry off.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			ShutdownTimeout: Duration(10 * time.Second),
			Metrics:         true,
		},
		Provider: ProviderConfig{
			Backend:      "openai",
			Model:        "gpt-4o-mini",
			MaxTokens:    8192,
			Temperature:  0.7,
			TopP:         1.0,
			TopK:         40,
			Timeout:      Duration(60 * time.Second),
			Burst:        1,
			BudgetTokens: 1_000_000,
			BudgetUSD:    10,
		},
		Pipeline: PipelineConfig{
			Agents:  false,
			Timeout: Duration(10 * time.Minute),
		},
		Memory: MemoryConfig{
			Backend:    "keyed",
			Collection: "arcyn_runs",
			Namespace:  "arcyn",
		},
		Events: EventsConfig{
			URL:           "nats://127.0.0.1:4222",
			SubjectPrefix: "arcyn.pipeline",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			Insecure:    true,
			ServiceName: "arcyn",
			SampleRate:  1.0,
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be 0-65535, got %d", c.Server.Port))
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must be positive"))
	}

	switch c.Provider.Backend {
	case "openai", "anthropic", "ollama":
	default:
		errs = append(errs, fmt.Errorf("provider.backend must be openai, anthropic or ollama, got %q", c.Provider.Backend))
	}
	if c.Provider.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("provider.max_tokens must be positive, got %d", c.Provider.MaxTokens))
	}
	if c.Provider.Temperature < 0 || c.Provider.Temperature > 2 {
		errs = append(errs, fmt.Errorf("provider.temperature must be 0-2, got %v", c.Provider.Temperature))
	}
	if c.Provider.Timeout.Duration() <= 0 {
		errs = append(errs, errors.New("provider.timeout must be positive"))
	}
	if c.Provider.RequestsPerMinute < 0 {
		errs = append(errs, errors.New("provider.requests_per_minute cannot be negative"))
	}
	if c.Provider.BudgetTokens < 0 || c.Provider.BudgetUSD < 0 {
		errs = append(errs, errors.New("provider.budget_tokens and provider.budget_usd cannot be negative"))
	}
	for model, price := range c.Provider.Prices {
		if price.Input < 0 || price.Output < 0 {
			errs = append(errs, fmt.Errorf("provider.prices.%s cannot be negative", model))
		}
	}
	errs = append(errs, c.Provider.Policy.validate()...)

	switch c.Memory.Backend {
	case "keyed":
	case "chromem":
		if c.Memory.Collection == "" {
			errs = append(errs, errors.New("memory.collection is required for the chromem backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("memory.backend must be keyed or chromem, got %q", c.Memory.Backend))
	}

	if c.Events.Enabled && c.Events.URL == "" {
		errs = append(errs, errors.New("events.url is required when events are enabled"))
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			errs = append(errs, errors.New("telemetry.endpoint is required when telemetry is enabled"))
		}
		if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http" {
			errs = append(errs, fmt.Errorf("telemetry.protocol must be grpc or http, got %q", c.Telemetry.Protocol))
		}
	}

	return errors.Join(errs...)
}

func (p PolicyConfig) validate() []error {
	var errs []error
	if p.MaxTokensPerRequest < 0 || p.MaxPromptLength < 0 || p.RequestsPerMinute < 0 || p.RequestsPerRun < 0 {
		errs = append(errs, errors.New("provider.policy limits cannot be negative"))
	}
	if p.MinTemperature < 0 || p.MaxTemperature < 0 || p.MaxTemperature > 2 {
		errs = append(errs, errors.New("provider.policy temperatures must be 0-2"))
	}
	if p.MaxTemperature > 0 && p.MinTemperature > p.MaxTemperature {
		errs = append(errs, fmt.Errorf("provider.policy.min_temperature %v exceeds max_temperature %v", p.MinTemperature, p.MaxTemperature))
	}
	if p.MaxTimeout.Duration() < 0 {
		errs = append(errs, errors.New("provider.policy.max_timeout cannot be negative"))
	}
	return errs
}
