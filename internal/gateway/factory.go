package gateway

import (
	"fmt"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/arcyn/internal/config"
)

// Backend names accepted by New.
const (
	BackendOpenAI    = "openai"
	BackendAnthropic = "anthropic"
	BackendOllama    = "ollama"
)

// BackendConfig selects and authenticates a backend.
type BackendConfig struct {
	Backend        string
	Model          string
	EmbeddingModel string
	APIKey         config.Secret
	BaseURL        string

	RequestsPerMinute float64
	Burst             int
}

// BackendFromSettings converts the file/env provider surface.
func BackendFromSettings(s config.ProviderConfig) BackendConfig {
	return BackendConfig{
		Backend:           s.Backend,
		Model:             s.Model,
		EmbeddingModel:    s.EmbeddingModel,
		APIKey:            s.APIKey,
		BaseURL:           s.BaseURL,
		RequestsPerMinute: s.RequestsPerMinute,
		Burst:             s.Burst,
	}
}

// ConfigFromSettings builds per-call defaults from the provider settings.
func ConfigFromSettings(s config.ProviderConfig) ProviderConfig {
	cfg := DefaultProviderConfig()
	if s.MaxTokens > 0 {
		cfg.MaxTokens = s.MaxTokens
	}
	cfg.Temperature = s.Temperature
	if s.TopP > 0 {
		cfg.TopP = s.TopP
	}
	if s.TopK > 0 {
		cfg.TopK = s.TopK
	}
	if secs := int(s.Timeout.Duration().Seconds()); secs > 0 {
		cfg.TimeoutSeconds = secs
	}
	if s.SystemInstruction != "" {
		cfg = cfg.WithSystemInstruction(s.SystemInstruction)
	}
	return cfg
}

// New builds a provider for cfg.Backend. Failures are *ConfigError with
// CodeAuth for missing credentials and CodeImport for anything that keeps a
// client from being built.
func New(cfg BackendConfig, opts ...Option) (*LangChainProvider, error) {
	if cfg.RequestsPerMinute > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		opts = append([]Option{WithRateLimiter(rate.NewLimiter(rate.Limit(cfg.RequestsPerMinute/60), burst))}, opts...)
	}

	switch cfg.Backend {
	case BackendOpenAI:
		return newOpenAI(cfg, opts)
	case BackendAnthropic:
		return newAnthropic(cfg, opts)
	case BackendOllama:
		return newOllama(cfg, opts)
	default:
		return nil, &ConfigError{Code: CodeImport, Provider: cfg.Backend, Err: fmt.Errorf("unknown backend %q", cfg.Backend)}
	}
}

func newOpenAI(cfg BackendConfig, opts []Option) (*LangChainProvider, error) {
	if !cfg.APIKey.IsSet() {
		return nil, &ConfigError{Code: CodeAuth, Provider: BackendOpenAI, Err: fmt.Errorf("api key is required")}
	}
	clientOpts := []openai.Option{
		openai.WithToken(cfg.APIKey.Value()),
		openai.WithModel(cfg.Model),
	}
	if cfg.EmbeddingModel != "" {
		clientOpts = append(clientOpts, openai.WithEmbeddingModel(cfg.EmbeddingModel))
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, openai.WithBaseURL(cfg.BaseURL))
	}
	llm, err := openai.New(clientOpts...)
	if err != nil {
		return nil, &ConfigError{Code: CodeImport, Provider: BackendOpenAI, Err: err}
	}
	embedder, err := embeddings.NewEmbedder(llm)
	if err != nil {
		return nil, &ConfigError{Code: CodeImport, Provider: BackendOpenAI, Err: err}
	}
	opts = append([]Option{WithEmbedder(embedder, cfg.EmbeddingModel)}, opts...)
	return NewLangChainProvider(BackendOpenAI, cfg.Model, llm, opts...), nil
}

func newAnthropic(cfg BackendConfig, opts []Option) (*LangChainProvider, error) {
	if !cfg.APIKey.IsSet() {
		return nil, &ConfigError{Code: CodeAuth, Provider: BackendAnthropic, Err: fmt.Errorf("api key is required")}
	}
	clientOpts := []anthropic.Option{
		anthropic.WithToken(cfg.APIKey.Value()),
		anthropic.WithModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, anthropic.WithBaseURL(cfg.BaseURL))
	}
	llm, err := anthropic.New(clientOpts...)
	if err != nil {
		return nil, &ConfigError{Code: CodeImport, Provider: BackendAnthropic, Err: err}
	}
	return NewLangChainProvider(BackendAnthropic, cfg.Model, llm, opts...), nil
}

func newOllama(cfg BackendConfig, opts []Option) (*LangChainProvider, error) {
	clientOpts := []ollama.Option{ollama.WithModel(cfg.Model)}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, ollama.WithServerURL(cfg.BaseURL))
	}
	llm, err := ollama.New(clientOpts...)
	if err != nil {
		return nil, &ConfigError{Code: CodeImport, Provider: BackendOllama, Err: err}
	}

	embedClient := llm
	if cfg.EmbeddingModel != "" && cfg.EmbeddingModel != cfg.Model {
		embedOpts := []ollama.Option{ollama.WithModel(cfg.EmbeddingModel)}
		if cfg.BaseURL != "" {
			embedOpts = append(embedOpts, ollama.WithServerURL(cfg.BaseURL))
		}
		if embedClient, err = ollama.New(embedOpts...); err != nil {
			return nil, &ConfigError{Code: CodeImport, Provider: BackendOllama, Err: err}
		}
	}
	embedder, err := embeddings.NewEmbedder(embedClient)
	if err != nil {
		return nil, &ConfigError{Code: CodeImport, Provider: BackendOllama, Err: err}
	}
	opts = append([]Option{WithEmbedder(embedder, cfg.EmbeddingModel)}, opts...)
	return NewLangChainProvider(BackendOllama, cfg.Model, llm, opts...), nil
}
