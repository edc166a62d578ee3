package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/arcyn/internal/config"
	"github.com/fyrsmithlabs/arcyn/internal/logging"
)

// maxTrackedRuns bounds the per-run request counters.
const maxTrackedRuns = 256

// PolicyConfig bounds every request before it reaches a backend. Zero
// limits are not enforced.
type PolicyConfig struct {
	MaxTokensPerRequest int
	// MaxPromptLength is in characters.
	MaxPromptLength   int
	MinTemperature    float64
	MaxTemperature    float64
	MaxTimeoutSeconds int

	// RequestsPerMinute limits each calling agent.
	RequestsPerMinute int
	// RequestsPerRun caps provider calls made within one pipeline run.
	RequestsPerRun int

	// AuthorizedAgents lists the callers allowed through. Empty allows any.
	AuthorizedAgents []string

	// Deterministic forces temperature 0 and top_k 1.
	Deterministic bool
}

// DefaultPolicyConfig returns the gateway's standard limits.
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		MaxTokensPerRequest: 8192,
		MaxPromptLength:     100_000,
		MinTemperature:      0,
		MaxTemperature:      1,
		MaxTimeoutSeconds:   120,
		RequestsPerMinute:   60,
		RequestsPerRun:      50,
	}
}

// PolicyFromSettings converts the file/env policy surface. Unset limits
// keep their defaults.
func PolicyFromSettings(s config.PolicyConfig) PolicyConfig {
	cfg := DefaultPolicyConfig()
	if s.MaxTokensPerRequest > 0 {
		cfg.MaxTokensPerRequest = s.MaxTokensPerRequest
	}
	if s.MaxPromptLength > 0 {
		cfg.MaxPromptLength = s.MaxPromptLength
	}
	if s.MaxTemperature > 0 {
		cfg.MaxTemperature = s.MaxTemperature
	}
	cfg.MinTemperature = s.MinTemperature
	if secs := int(s.MaxTimeout.Duration().Seconds()); secs > 0 {
		cfg.MaxTimeoutSeconds = secs
	}
	if s.RequestsPerMinute > 0 {
		cfg.RequestsPerMinute = s.RequestsPerMinute
	}
	if s.RequestsPerRun > 0 {
		cfg.RequestsPerRun = s.RequestsPerRun
	}
	cfg.AuthorizedAgents = s.AuthorizedAgents
	cfg.Deterministic = s.Deterministic
	return cfg
}

// PolicyError is a request refused before it reached the backend.
type PolicyError struct {
	Code   ErrorCode
	Reason string
}

func (e *PolicyError) Error() string {
	return e.Reason
}

// Decision is an admitted request with the config it should run with.
type Decision struct {
	Config   ProviderConfig
	Warnings []string
}

// Policy admits, adjusts or refuses provider requests. Limits are keyed by
// the caller set with WithCaller and the run id carried by the logging
// context. It is safe for concurrent use.
type Policy struct {
	cfg        PolicyConfig
	authorized map[string]bool
	usage      *UsageTracker

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	runs     map[string]int
	runOrder []string
}

// NewPolicy creates a policy. usage may be nil, which disables the budget
// check.
func NewPolicy(cfg PolicyConfig, usage *UsageTracker) *Policy {
	p := &Policy{
		cfg:      cfg,
		usage:    usage,
		limiters: make(map[string]*rate.Limiter),
		runs:     make(map[string]int),
	}
	if len(cfg.AuthorizedAgents) > 0 {
		p.authorized = make(map[string]bool, len(cfg.AuthorizedAgents))
		for _, a := range cfg.AuthorizedAgents {
			p.authorized[a] = true
		}
	}
	return p
}

// Config returns the limits in force.
func (p *Policy) Config() PolicyConfig {
	return p.cfg
}

// Evaluate checks a generation request. Refusals are *PolicyError with
// CodePolicyDenied, CodeBudgetExhausted or CodeRateLimit.
func (p *Policy) Evaluate(ctx context.Context, prompt string, cfg ProviderConfig) (Decision, error) {
	if err := p.checkCaller(ctx); err != nil {
		return Decision{}, err
	}
	if strings.TrimSpace(prompt) == "" {
		return Decision{}, &PolicyError{Code: CodePolicyDenied, Reason: "prompt is empty"}
	}
	if n := len([]rune(prompt)); p.cfg.MaxPromptLength > 0 && n > p.cfg.MaxPromptLength {
		return Decision{}, &PolicyError{
			Code:   CodePolicyDenied,
			Reason: fmt.Sprintf("prompt length (%d) exceeds max (%d)", n, p.cfg.MaxPromptLength),
		}
	}

	budget, err := p.checkBudget()
	if err != nil {
		return Decision{}, err
	}
	if err := p.admit(ctx); err != nil {
		return Decision{}, err
	}

	d := Decision{Config: cfg}
	if limit := p.cfg.MaxTokensPerRequest; limit > 0 && d.Config.MaxTokens > limit {
		d.Warnings = append(d.Warnings, fmt.Sprintf("max_tokens %d capped to %d", d.Config.MaxTokens, limit))
		d.Config.MaxTokens = limit
	}
	if budget != nil && budget.TokenLimit > 0 && d.Config.MaxTokens > budget.TokensRemaining {
		d.Warnings = append(d.Warnings, fmt.Sprintf("max_tokens capped to remaining session budget %d", budget.TokensRemaining))
		d.Config.MaxTokens = budget.TokensRemaining
	}
	switch {
	case d.Config.Temperature < p.cfg.MinTemperature:
		d.Warnings = append(d.Warnings, fmt.Sprintf("temperature %.2f raised to %.2f", d.Config.Temperature, p.cfg.MinTemperature))
		d.Config.Temperature = p.cfg.MinTemperature
	case p.cfg.MaxTemperature > 0 && d.Config.Temperature > p.cfg.MaxTemperature:
		d.Warnings = append(d.Warnings, fmt.Sprintf("temperature %.2f lowered to %.2f", d.Config.Temperature, p.cfg.MaxTemperature))
		d.Config.Temperature = p.cfg.MaxTemperature
	}
	if limit := p.cfg.MaxTimeoutSeconds; limit > 0 && d.Config.TimeoutSeconds > limit {
		d.Warnings = append(d.Warnings, fmt.Sprintf("timeout %ds capped to %ds", d.Config.TimeoutSeconds, limit))
		d.Config.TimeoutSeconds = limit
	}
	if p.cfg.Deterministic {
		d.Config.Temperature = 0
		d.Config.TopK = 1
		d.Warnings = append(d.Warnings, "deterministic mode enforced")
	}
	return d, nil
}

// EvaluateEmbedding checks an embedding request: caller and request limits
// only.
func (p *Policy) EvaluateEmbedding(ctx context.Context) error {
	if err := p.checkCaller(ctx); err != nil {
		return err
	}
	return p.admit(ctx)
}

// RunRequests returns how many requests the run has been admitted.
func (p *Policy) RunRequests(runID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.runs[runID]
}

func (p *Policy) checkCaller(ctx context.Context) error {
	if p.authorized == nil {
		return nil
	}
	if caller := CallerFromContext(ctx); !p.authorized[caller] {
		return &PolicyError{
			Code:   CodePolicyDenied,
			Reason: fmt.Sprintf("agent %q is not authorized to make provider requests", caller),
		}
	}
	return nil
}

func (p *Policy) checkBudget() (*BudgetStatus, error) {
	if p.usage == nil {
		return nil, nil
	}
	b := p.usage.Budget()
	if !b.WithinBudget {
		return nil, &PolicyError{
			Code: CodeBudgetExhausted,
			Reason: fmt.Sprintf("session budget exhausted: %d/%d tokens, $%.4f/$%.2f",
				b.TokensUsed, b.TokenLimit, b.USDUsed, b.USDLimit),
		}
	}
	return &b, nil
}

// admit applies the per-run cap, then the caller's per-minute limit. A
// refused request consumes neither.
func (p *Policy) admit(ctx context.Context) error {
	runID := logging.RunIDFromContext(ctx)
	caller := CallerFromContext(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()

	if runID != "" && p.cfg.RequestsPerRun > 0 && p.runs[runID] >= p.cfg.RequestsPerRun {
		return &PolicyError{
			Code:   CodeRateLimit,
			Reason: fmt.Sprintf("run %s reached max requests (%d)", runID, p.cfg.RequestsPerRun),
		}
	}
	if p.cfg.RequestsPerMinute > 0 && !p.limiter(caller).Allow() {
		return &PolicyError{
			Code:   CodeRateLimit,
			Reason: fmt.Sprintf("agent %q exceeded %d requests per minute", caller, p.cfg.RequestsPerMinute),
		}
	}
	if runID != "" {
		p.countRun(runID)
	}
	return nil
}

func (p *Policy) limiter(caller string) *rate.Limiter {
	l, ok := p.limiters[caller]
	if !ok {
		n := p.cfg.RequestsPerMinute
		l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(n)), n)
		p.limiters[caller] = l
	}
	return l
}

func (p *Policy) countRun(runID string) {
	if _, ok := p.runs[runID]; !ok {
		if len(p.runOrder) >= maxTrackedRuns {
			delete(p.runs, p.runOrder[0])
			p.runOrder = p.runOrder[1:]
		}
		p.runOrder = append(p.runOrder, runID)
	}
	p.runs[runID]++
}
