package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/arcyn/internal/config"
	"github.com/fyrsmithlabs/arcyn/internal/logging"
)

func requirePolicyCode(t *testing.T, err error, code ErrorCode) {
	t.Helper()
	var pe *PolicyError
	require.True(t, errors.As(err, &pe), "want *PolicyError, got %v", err)
	assert.Equal(t, code, pe.Code)
}

func TestPolicy_AuthorizedAgents(t *testing.T) {
	cfg := DefaultPolicyConfig()
	cfg.AuthorizedAgents = []string{"architect", "builder"}
	p := NewPolicy(cfg, nil)

	_, err := p.Evaluate(WithCaller(context.Background(), "builder"), "plan it", DefaultProviderConfig())
	require.NoError(t, err)

	_, err = p.Evaluate(WithCaller(context.Background(), "intruder"), "plan it", DefaultProviderConfig())
	requirePolicyCode(t, err, CodePolicyDenied)
	assert.Contains(t, err.Error(), "intruder")

	_, err = p.Evaluate(context.Background(), "plan it", DefaultProviderConfig())
	requirePolicyCode(t, err, CodePolicyDenied)

	requirePolicyCode(t, p.EvaluateEmbedding(context.Background()), CodePolicyDenied)
}

func TestPolicy_NoAuthorizedListAllowsAnyCaller(t *testing.T) {
	p := NewPolicy(DefaultPolicyConfig(), nil)
	_, err := p.Evaluate(context.Background(), "hello", DefaultProviderConfig())
	assert.NoError(t, err)
}

func TestPolicy_PromptChecks(t *testing.T) {
	cfg := DefaultPolicyConfig()
	cfg.MaxPromptLength = 5
	p := NewPolicy(cfg, nil)

	tests := []struct {
		name   string
		prompt string
		ok     bool
	}{
		{"empty", "", false},
		{"whitespace", "  \n\t", false},
		{"at limit", "héllo", true},
		{"over limit", "hello!", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Evaluate(context.Background(), tt.prompt, DefaultProviderConfig())
			if tt.ok {
				assert.NoError(t, err)
				return
			}
			requirePolicyCode(t, err, CodePolicyDenied)
		})
	}
}

func TestPolicy_BudgetExhausted(t *testing.T) {
	usage := NewUsageTracker(WithBudget(10, 10))
	p := NewPolicy(DefaultPolicyConfig(), usage)

	d, err := p.Evaluate(context.Background(), "x", DefaultProviderConfig())
	require.NoError(t, err)
	assert.Equal(t, 10, d.Config.MaxTokens, "max_tokens capped to remaining budget")

	usage.Record(UsageRecord{Agent: "builder", Model: "m", TokensInput: 15, TokensOutput: 5, Success: true})

	_, err = p.Evaluate(context.Background(), "x", DefaultProviderConfig())
	requirePolicyCode(t, err, CodeBudgetExhausted)
	assert.Contains(t, err.Error(), "20/10 tokens")
}

func TestPolicy_PerAgentRateLimit(t *testing.T) {
	cfg := DefaultPolicyConfig()
	cfg.RequestsPerMinute = 1
	p := NewPolicy(cfg, nil)

	builder := WithCaller(context.Background(), "builder")
	_, err := p.Evaluate(builder, "x", DefaultProviderConfig())
	require.NoError(t, err)

	_, err = p.Evaluate(builder, "x", DefaultProviderConfig())
	requirePolicyCode(t, err, CodeRateLimit)

	_, err = p.Evaluate(WithCaller(context.Background(), "architect"), "x", DefaultProviderConfig())
	assert.NoError(t, err, "limits are per agent")
}

func TestPolicy_PerRunCap(t *testing.T) {
	cfg := DefaultPolicyConfig()
	cfg.RequestsPerRun = 2
	p := NewPolicy(cfg, nil)

	run := logging.WithRunID(context.Background(), "run-1")
	for _, agent := range []string{"persona", "architect"} {
		_, err := p.Evaluate(WithCaller(run, agent), "x", DefaultProviderConfig())
		require.NoError(t, err)
	}
	_, err := p.Evaluate(WithCaller(run, "builder"), "x", DefaultProviderConfig())
	requirePolicyCode(t, err, CodeRateLimit)
	requirePolicyCode(t, p.EvaluateEmbedding(run), CodeRateLimit)
	assert.Equal(t, 2, p.RunRequests("run-1"), "refusals are not counted")

	other := logging.WithRunID(context.Background(), "run-2")
	_, err = p.Evaluate(WithCaller(other, "builder"), "x", DefaultProviderConfig())
	assert.NoError(t, err)
}

func TestPolicy_Clamps(t *testing.T) {
	cfg := DefaultPolicyConfig()
	cfg.MaxTokensPerRequest = 1000
	cfg.MinTemperature = 0.1
	cfg.MaxTemperature = 0.9
	cfg.MaxTimeoutSeconds = 30
	p := NewPolicy(cfg, nil)

	req := DefaultProviderConfig()
	req.MaxTokens = 4000
	req.Temperature = 1.5
	req.TimeoutSeconds = 300

	d, err := p.Evaluate(context.Background(), "x", req)
	require.NoError(t, err)
	assert.Equal(t, 1000, d.Config.MaxTokens)
	assert.Equal(t, 0.9, d.Config.Temperature)
	assert.Equal(t, 30, d.Config.TimeoutSeconds)
	assert.Len(t, d.Warnings, 3)

	req.Temperature = 0
	d, err = p.Evaluate(context.Background(), "x", req)
	require.NoError(t, err)
	assert.Equal(t, 0.1, d.Config.Temperature)
}

func TestPolicy_Deterministic(t *testing.T) {
	cfg := DefaultPolicyConfig()
	cfg.Deterministic = true
	p := NewPolicy(cfg, nil)

	d, err := p.Evaluate(context.Background(), "x", DefaultProviderConfig())
	require.NoError(t, err)
	assert.Equal(t, 0.0, d.Config.Temperature)
	assert.Equal(t, 1, d.Config.TopK)
	assert.Contains(t, d.Warnings, "deterministic mode enforced")
}

func TestPolicyFromSettings(t *testing.T) {
	got := PolicyFromSettings(config.PolicyConfig{
		MaxTokensPerRequest: 2048,
		MaxTimeout:          config.Duration(45 * time.Second),
		AuthorizedAgents:    []string{"builder"},
		Deterministic:       true,
	})

	want := DefaultPolicyConfig()
	want.MaxTokensPerRequest = 2048
	want.MaxTimeoutSeconds = 45
	want.AuthorizedAgents = []string{"builder"}
	want.Deterministic = true
	assert.Equal(t, want, got)
}

func TestLangChainProvider_PolicyDenialSkipsBackend(t *testing.T) {
	cfg := DefaultPolicyConfig()
	cfg.AuthorizedAgents = []string{"builder"}
	usage := NewUsageTracker()
	tl := logging.NewTestLogger()

	gen := &mockGenerator{}
	p := NewLangChainProvider("openai", "m", gen,
		WithUsageTracker(usage),
		WithPolicy(NewPolicy(cfg, usage)),
		WithLogger(tl.Logger),
	)
	require.True(t, p.HealthCheck())

	resp := p.Generate(WithCaller(context.Background(), "intruder"), "x", DefaultProviderConfig())

	assert.False(t, resp.Success)
	assert.Empty(t, resp.Content)
	assert.Equal(t, CodePolicyDenied, resp.ErrorCode)
	assert.Contains(t, resp.Error, "not authorized")
	assert.Equal(t, StatusHealthy, p.Status(), "denials leave health alone")
	assert.Equal(t, 0, usage.Snapshot().Session.Requests)
	tl.AssertLogged(t, zapcore.WarnLevel, "provider request denied by policy")
	gen.AssertNotCalled(t, "GenerateContent", mock.Anything, mock.Anything)
}

func TestLangChainProvider_PolicyBudgetExhausted(t *testing.T) {
	usage := NewUsageTracker(WithBudget(100, 10))
	gen := &mockGenerator{}
	gen.On("GenerateContent", mock.Anything, mock.Anything).
		Return(contentResponse("ok", "stop", map[string]any{"PromptTokens": 90, "CompletionTokens": 20}), nil).Once()

	p := NewLangChainProvider("openai", "gpt-4o-mini", gen, WithUsageTracker(usage), WithPolicy(NewPolicy(DefaultPolicyConfig(), usage)))
	ctx := WithCaller(context.Background(), "builder")

	first := p.Generate(ctx, "one", DefaultProviderConfig())
	require.True(t, first.Success)
	assert.NotEmpty(t, first.Metadata["policy_warnings"])

	second := p.Generate(ctx, "two", DefaultProviderConfig())
	assert.False(t, second.Success)
	assert.Equal(t, CodeBudgetExhausted, second.ErrorCode)
	gen.AssertNumberOfCalls(t, "GenerateContent", 1)
}

func TestLangChainProvider_PolicyClampsReachBackend(t *testing.T) {
	gen := &stubGenerator{fn: func(context.Context) (*llms.ContentResponse, error) {
		return contentResponse("ok", "stop", nil), nil
	}}
	cfg := DefaultPolicyConfig()
	cfg.Deterministic = true
	tl := logging.NewTestLogger()
	p := NewLangChainProvider("openai", "m", gen, WithPolicy(NewPolicy(cfg, nil)), WithLogger(tl.Logger))

	resp := p.Generate(context.Background(), strings.Repeat("a", 10), DefaultProviderConfig())

	require.True(t, resp.Success)
	tl.AssertNotLogged(t, zapcore.WarnLevel, "denied by policy")
	assert.Equal(t, 0.0, gen.options.Temperature)
	assert.Equal(t, 1, gen.options.TopK)
}

func TestLangChainProvider_EmbeddingPolicyDenial(t *testing.T) {
	emb := &mockEmbedder{}
	cfg := DefaultPolicyConfig()
	cfg.AuthorizedAgents = []string{"builder"}
	p := NewLangChainProvider("openai", "m", &mockGenerator{}, WithEmbedder(emb, ""), WithPolicy(NewPolicy(cfg, nil)))

	resp := p.GenerateEmbedding(WithCaller(context.Background(), "intruder"), []string{"a"})

	assert.False(t, resp.Success)
	assert.Equal(t, CodeEmbedding, resp.ErrorCode)
	assert.Contains(t, resp.Error, "denied by policy")
	emb.AssertNotCalled(t, "EmbedDocuments", mock.Anything, mock.Anything)
}
