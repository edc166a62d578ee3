package gateway

import (
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/arcyn/internal/config"
)

// ModelPrice is an approximate USD price per million tokens.
type ModelPrice struct {
	Input  float64 `json:"input"`
	Output float64 `json:"output"`
}

// DefaultPrices is used when no price table is supplied. The "default"
// entry covers unknown models.
var DefaultPrices = map[string]ModelPrice{
	"gpt-4o":                   {Input: 2.50, Output: 10.00},
	"gpt-4o-mini":              {Input: 0.15, Output: 0.60},
	"claude-3-5-sonnet-latest": {Input: 3.00, Output: 15.00},
	"claude-3-5-haiku-latest":  {Input: 0.80, Output: 4.00},
	"text-embedding-3-small":   {Input: 0.02},
	"default":                  {Input: 0.10, Output: 0.40},
}

// UsageRecord is one provider call as seen by the tracker.
type UsageRecord struct {
	Timestamp        time.Time `json:"timestamp"`
	Agent            string    `json:"agent"`
	Model            string    `json:"model"`
	Provider         string    `json:"provider"`
	Operation        string    `json:"operation"`
	TokensInput      int       `json:"tokens_input"`
	TokensOutput     int       `json:"tokens_output"`
	EstimatedCostUSD float64   `json:"estimated_cost_usd"`
	LatencyMS        float64   `json:"latency_ms"`
	Success          bool      `json:"success"`
}

// UsageSummary aggregates records.
type UsageSummary struct {
	Requests         int     `json:"requests"`
	Successes        int     `json:"successes"`
	Failures         int     `json:"failures"`
	TokensInput      int     `json:"tokens_input"`
	TokensOutput     int     `json:"tokens_output"`
	TokensTotal      int     `json:"tokens_total"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
	AverageLatencyMS float64 `json:"average_latency_ms"`
}

func (s *UsageSummary) add(r UsageRecord) {
	s.Requests++
	if r.Success {
		s.Successes++
	} else {
		s.Failures++
	}
	s.TokensInput += r.TokensInput
	s.TokensOutput += r.TokensOutput
	s.TokensTotal += r.TokensInput + r.TokensOutput
	s.EstimatedCostUSD += r.EstimatedCostUSD
	s.AverageLatencyMS += (r.LatencyMS - s.AverageLatencyMS) / float64(s.Requests)
}

// BudgetStatus compares session usage with the configured budgets. A zero
// limit is not enforced. Policy refuses requests once WithinBudget is false.
type BudgetStatus struct {
	TokenLimit      int     `json:"token_limit"`
	TokensUsed      int     `json:"tokens_used"`
	TokensRemaining int     `json:"tokens_remaining"`
	USDLimit        float64 `json:"usd_limit"`
	USDUsed         float64 `json:"usd_used"`
	USDRemaining    float64 `json:"usd_remaining"`
	WithinBudget    bool    `json:"within_budget"`
}

// SessionUsage is the tracker snapshot served over the API.
type SessionUsage struct {
	Started time.Time               `json:"started"`
	Session UsageSummary            `json:"session"`
	Agents  map[string]UsageSummary `json:"agents"`
	Budget  BudgetStatus            `json:"budget"`
}

// UsageTracker accumulates provider usage per calling agent. It is safe for
// concurrent use.
type UsageTracker struct {
	mu          sync.Mutex
	prices      map[string]ModelPrice
	tokenBudget int
	usdBudget   float64
	maxRecent   int

	started time.Time
	session UsageSummary
	agents  map[string]*UsageSummary
	recent  []UsageRecord
}

// UsageOption configures a UsageTracker.
type UsageOption func(*UsageTracker)

// WithPrices replaces the price table.
func WithPrices(p map[string]ModelPrice) UsageOption {
	return func(t *UsageTracker) { t.prices = p }
}

// WithBudget sets the session token and USD budgets.
func WithBudget(tokens int, usd float64) UsageOption {
	return func(t *UsageTracker) {
		t.tokenBudget = tokens
		t.usdBudget = usd
	}
}

// UsageOptionsFromSettings builds tracker options from provider settings.
// Configured prices extend DefaultPrices, replacing entries of the same model.
func UsageOptionsFromSettings(s config.ProviderConfig) []UsageOption {
	opts := []UsageOption{WithBudget(s.BudgetTokens, s.BudgetUSD)}
	if len(s.Prices) > 0 {
		prices := make(map[string]ModelPrice, len(DefaultPrices)+len(s.Prices))
		for model, p := range DefaultPrices {
			prices[model] = p
		}
		for model, p := range s.Prices {
			prices[model] = ModelPrice{Input: p.Input, Output: p.Output}
		}
		opts = append(opts, WithPrices(prices))
	}
	return opts
}

// NewUsageTracker creates a tracker with a one million token, ten dollar
// session budget.
func NewUsageTracker(opts ...UsageOption) *UsageTracker {
	t := &UsageTracker{
		prices:      DefaultPrices,
		tokenBudget: 1_000_000,
		usdBudget:   10,
		maxRecent:   100,
		started:     time.Now(),
		agents:      make(map[string]*UsageSummary),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// EstimateCost prices a call in USD.
func (t *UsageTracker) EstimateCost(model string, in, out int) float64 {
	price, ok := t.prices[model]
	if !ok {
		price = t.prices["default"]
	}
	return float64(in)/1e6*price.Input + float64(out)/1e6*price.Output
}

// Record adds r, pricing it when no estimate is set.
func (t *UsageTracker) Record(r UsageRecord) {
	if r.EstimatedCostUSD == 0 {
		r.EstimatedCostUSD = t.EstimateCost(r.Model, r.TokensInput, r.TokensOutput)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.session.add(r)
	agent, ok := t.agents[r.Agent]
	if !ok {
		agent = &UsageSummary{}
		t.agents[r.Agent] = agent
	}
	agent.add(r)

	t.recent = append(t.recent, r)
	if len(t.recent) > t.maxRecent {
		t.recent = t.recent[len(t.recent)-t.maxRecent:]
	}
}

// Agent returns the summary for one agent.
func (t *UsageTracker) Agent(name string) UsageSummary {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.agents[name]; ok {
		return *s
	}
	return UsageSummary{}
}

// Recent returns up to limit of the latest records, newest first.
func (t *UsageTracker) Recent(limit int) []UsageRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	if limit <= 0 || limit > len(t.recent) {
		limit = len(t.recent)
	}
	out := make([]UsageRecord, 0, limit)
	for i := len(t.recent) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, t.recent[i])
	}
	return out
}

// Snapshot returns session, per-agent and budget state.
func (t *UsageTracker) Snapshot() SessionUsage {
	t.mu.Lock()
	defer t.mu.Unlock()

	agents := make(map[string]UsageSummary, len(t.agents))
	for name, s := range t.agents {
		agents[name] = *s
	}
	return SessionUsage{
		Started: t.started,
		Session: t.session,
		Agents:  agents,
		Budget:  t.budgetLocked(),
	}
}

// Budget returns the current budget status.
func (t *UsageTracker) Budget() BudgetStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.budgetLocked()
}

func (t *UsageTracker) budgetLocked() BudgetStatus {
	tokensLeft := t.tokenBudget - t.session.TokensTotal
	usdLeft := t.usdBudget - t.session.EstimatedCostUSD
	return BudgetStatus{
		TokenLimit:      t.tokenBudget,
		TokensUsed:      t.session.TokensTotal,
		TokensRemaining: max(0, tokensLeft),
		USDLimit:        t.usdBudget,
		USDUsed:         t.session.EstimatedCostUSD,
		USDRemaining:    max(0, usdLeft),
		WithinBudget:    (t.tokenBudget == 0 || tokensLeft > 0) && (t.usdBudget == 0 || usdLeft > 0),
	}
}

// AgentNames returns tracked agents in sorted order.
func (t *UsageTracker) AgentNames() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := make([]string, 0, len(t.agents))
	for name := range t.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
