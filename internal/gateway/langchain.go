package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/arcyn/internal/logging"
)

// ContentGenerator is the part of a langchaingo llms.Model the gateway uses.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error)
}

// DocumentEmbedder is the part of a langchaingo embeddings.Embedder the
// gateway uses.
type DocumentEmbedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

var (
	errEmptyChoices = errors.New("backend returned no choices")
	errNoEmbedder   = errors.New("embeddings are not supported by this backend")
	errNoTexts      = errors.New("no texts to embed")
)

const defaultEmbedTimeout = 60 * time.Second

// LangChainProvider adapts a langchaingo model, and optionally an embedder,
// to Provider.
type LangChainProvider struct {
	healthState

	name           string
	model          string
	embeddingModel string
	client         ContentGenerator
	embedder       DocumentEmbedder
	limiter        *rate.Limiter
	metrics        *Metrics
	usage          *UsageTracker
	policy         *Policy
	logger         *logging.Logger
}

// Option configures a LangChainProvider.
type Option func(*LangChainProvider)

// WithEmbedder enables GenerateEmbedding.
func WithEmbedder(e DocumentEmbedder, model string) Option {
	return func(p *LangChainProvider) {
		p.embedder = e
		p.embeddingModel = model
	}
}

// WithRateLimiter paces outgoing calls. Waiting counts against the call's
// timeout but not its reported latency.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(p *LangChainProvider) { p.limiter = l }
}

// WithMetrics records call metrics.
func WithMetrics(m *Metrics) Option {
	return func(p *LangChainProvider) { p.metrics = m }
}

// WithUsageTracker records token usage per calling agent.
func WithUsageTracker(u *UsageTracker) Option {
	return func(p *LangChainProvider) { p.usage = u }
}

// WithPolicy checks every request against policy before the backend sees it.
func WithPolicy(policy *Policy) Option {
	return func(p *LangChainProvider) { p.policy = policy }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *LangChainProvider) { p.logger = l }
}

// NewLangChainProvider wraps client. A nil client yields a provider whose
// HealthCheck fails and whose calls return PROVIDER_ERROR.
func NewLangChainProvider(name, model string, client ContentGenerator, opts ...Option) *LangChainProvider {
	p := &LangChainProvider{
		name:   name,
		model:  model,
		client: client,
		logger: logging.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.embeddingModel == "" {
		p.embeddingModel = model
	}
	return p
}

func (p *LangChainProvider) Name() string  { return p.name }
func (p *LangChainProvider) Model() string { return p.model }

// HealthCheck implements Provider.
func (p *LangChainProvider) HealthCheck() bool {
	if p.client == nil {
		p.setStatus(StatusUnavailable)
		return false
	}
	p.setStatus(StatusHealthy)
	return true
}

// Generate implements Provider.
func (p *LangChainProvider) Generate(ctx context.Context, prompt string, cfg ProviderConfig) *ProviderResponse {
	resp := &ProviderResponse{
		Model:        p.model,
		Provider:     p.name,
		FinishReason: "completed",
		Metadata:     map[string]any{},
		Timestamp:    time.Now(),
	}
	if p.client == nil {
		p.setStatus(StatusUnavailable)
		return p.fail(ctx, resp, CodeProvider, fmt.Errorf("%s: %w", p.name, ErrNoClient))
	}
	if p.policy != nil {
		d, err := p.policy.Evaluate(ctx, prompt, cfg)
		if err != nil {
			return p.deny(ctx, resp, err)
		}
		cfg = d.Config
		if len(d.Warnings) > 0 {
			resp.Metadata["policy_warnings"] = d.Warnings
		}
	}

	callCtx, cancel := withTimeout(ctx, cfg.timeout())
	defer cancel()

	if err := p.wait(callCtx); err != nil {
		code, status := Classify(err)
		p.setStatus(status)
		return p.fail(ctx, resp, code, err)
	}

	messages := make([]llms.MessageContent, 0, 2)
	if sys := cfg.system(); sys != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, sys))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt))

	p.logger.Trace(ctx, "provider request", zap.String("provider", p.name), zap.String("prompt", prompt))

	start := time.Now()
	out, err := p.generateContent(callCtx, messages,
		llms.WithMaxTokens(cfg.MaxTokens),
		llms.WithTemperature(cfg.Temperature),
		llms.WithTopP(cfg.TopP),
		llms.WithTopK(cfg.TopK),
	)
	resp.LatencyMS = millis(time.Since(start))
	if err == nil && (out == nil || len(out.Choices) == 0 || out.Choices[0] == nil) {
		err = errEmptyChoices
	}
	if err != nil {
		code, status := Classify(err)
		p.setStatus(status)
		return p.fail(ctx, resp, code, err)
	}

	choice := out.Choices[0]
	resp.Success = true
	resp.Content = choice.Content
	if choice.StopReason != "" {
		resp.FinishReason = choice.StopReason
	}
	resp.TokensInput, resp.TokensOutput, resp.TokensTotal = tokenUsage(choice.GenerationInfo)
	p.setStatus(StatusHealthy)

	p.record(ctx, "generate", resp.LatencyMS, resp.TokensInput, resp.TokensOutput, "")
	p.logger.Debug(ctx, "provider call completed",
		zap.String("provider", p.name),
		zap.String("model", p.model),
		zap.Float64("latency_ms", resp.LatencyMS),
		zap.Int("tokens_total", resp.TokensTotal),
	)
	return resp
}

// GenerateStructured implements Provider.
func (p *LangChainProvider) GenerateStructured(ctx context.Context, prompt string, cfg ProviderConfig, schema map[string]any) *ProviderResponse {
	resp := generateStructured(ctx, p.Generate, prompt, cfg, schema)
	if resp.ErrorCode == CodeJSONParse {
		if p.metrics != nil {
			p.metrics.RecordError(ctx, p.name, p.model, "generate_structured", CodeJSONParse)
		}
		p.logger.Warn(ctx, "structured response was not valid JSON",
			zap.String("provider", p.name),
			zap.String("error", resp.Error),
		)
	}
	return resp
}

// GenerateEmbedding implements Provider.
func (p *LangChainProvider) GenerateEmbedding(ctx context.Context, texts []string) *EmbeddingResponse {
	resp := &EmbeddingResponse{
		Model:      p.embeddingModel,
		Provider:   p.name,
		Embeddings: [][]float32{},
		Timestamp:  time.Now(),
	}
	fail := func(err error) *EmbeddingResponse {
		resp.Success = false
		resp.Embeddings = [][]float32{}
		resp.Error = err.Error()
		resp.ErrorCode = CodeEmbedding
		p.record(ctx, "embed", resp.LatencyMS, 0, 0, CodeEmbedding)
		p.logger.Warn(ctx, "embedding failed", zap.String("provider", p.name), zap.Error(err))
		return resp
	}

	if len(texts) == 0 {
		return fail(errNoTexts)
	}
	if p.embedder == nil {
		return fail(errNoEmbedder)
	}
	if p.policy != nil {
		if err := p.policy.EvaluateEmbedding(ctx); err != nil {
			return fail(fmt.Errorf("request denied by policy: %w", err))
		}
	}

	callCtx, cancel := withTimeout(ctx, defaultEmbedTimeout)
	defer cancel()
	if err := p.wait(callCtx); err != nil {
		return fail(err)
	}

	start := time.Now()
	vectors, err := p.embedDocuments(callCtx, texts)
	resp.LatencyMS = millis(time.Since(start))
	if err == nil && len(vectors) != len(texts) {
		err = fmt.Errorf("backend returned %d embeddings for %d texts", len(vectors), len(texts))
	}
	if err != nil {
		_, status := Classify(err)
		p.setStatus(status)
		return fail(err)
	}

	resp.Success = true
	resp.Embeddings = vectors
	if len(vectors) > 0 {
		resp.Dimensions = len(vectors[0])
	}
	p.setStatus(StatusHealthy)
	p.record(ctx, "embed", resp.LatencyMS, 0, 0, "")
	return resp
}

// generateContent calls the client, turning a panic into ErrBackendPanic.
func (p *LangChainProvider) generateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (out *llms.ContentResponse, err error) {
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%s: %w: %v", p.name, ErrBackendPanic, r)
		}
	}()
	return p.client.GenerateContent(ctx, messages, options...)
}

// embedDocuments calls the embedder, turning a panic into ErrBackendPanic.
func (p *LangChainProvider) embedDocuments(ctx context.Context, texts []string) (vectors [][]float32, err error) {
	defer func() {
		if r := recover(); r != nil {
			vectors, err = nil, fmt.Errorf("%s: %w: %v", p.name, ErrBackendPanic, r)
		}
	}()
	return p.embedder.EmbedDocuments(ctx, texts)
}

func (p *LangChainProvider) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

func (p *LangChainProvider) fail(ctx context.Context, resp *ProviderResponse, code ErrorCode, err error) *ProviderResponse {
	resp.Success = false
	resp.Content = ""
	resp.Error = err.Error()
	resp.ErrorCode = code
	p.record(ctx, "generate", resp.LatencyMS, 0, 0, code)
	p.logger.Warn(ctx, "provider call failed",
		zap.String("provider", p.name),
		zap.String("model", p.model),
		zap.String("error_code", string(code)),
		zap.Error(err),
	)
	return resp
}

// deny reports a policy refusal. The backend was not called, so health and
// usage are left alone.
func (p *LangChainProvider) deny(ctx context.Context, resp *ProviderResponse, err error) *ProviderResponse {
	code := CodePolicyDenied
	var pe *PolicyError
	if errors.As(err, &pe) {
		code = pe.Code
	}
	resp.Success = false
	resp.Content = ""
	resp.Error = err.Error()
	resp.ErrorCode = code
	if p.metrics != nil {
		p.metrics.RecordError(ctx, p.name, p.model, "generate", code)
	}
	p.logger.Warn(ctx, "provider request denied by policy",
		zap.String("provider", p.name),
		zap.String("agent", CallerFromContext(ctx)),
		zap.String("error_code", string(code)),
		zap.Error(err),
	)
	return resp
}

func (p *LangChainProvider) record(ctx context.Context, op string, latencyMS float64, in, out int, code ErrorCode) {
	if p.metrics != nil {
		p.metrics.RecordCall(ctx, p.name, p.model, op, latencyMS, in, out, code)
	}
	if p.usage != nil {
		p.usage.Record(UsageRecord{
			Timestamp:    time.Now(),
			Agent:        CallerFromContext(ctx),
			Model:        p.model,
			Provider:     p.name,
			Operation:    op,
			TokensInput:  in,
			TokensOutput: out,
			LatencyMS:    latencyMS,
			Success:      code == "",
		})
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

// tokenUsage reads token counts from backend generation info. Backends name
// them differently; missing counts are 0 and a missing total is the sum.
func tokenUsage(info map[string]any) (in, out, total int) {
	in = firstInt(info, "PromptTokens", "InputTokens", "prompt_tokens", "input_tokens")
	out = firstInt(info, "CompletionTokens", "OutputTokens", "completion_tokens", "output_tokens")
	total = firstInt(info, "TotalTokens", "total_tokens")
	if total == 0 {
		total = in + out
	}
	return in, out, total
}

func firstInt(info map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := info[k].(type) {
		case int:
			return v
		case int32:
			return int(v)
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}
