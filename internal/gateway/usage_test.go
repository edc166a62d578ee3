package gateway

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/arcyn/internal/config"
)

func TestUsageTracker_EstimateCost(t *testing.T) {
	u := NewUsageTracker()
	assert.InDelta(t, 0.15+0.60, u.EstimateCost("gpt-4o-mini", 1_000_000, 1_000_000), 1e-9)
	assert.InDelta(t, 0.10, u.EstimateCost("unknown-model", 1_000_000, 0), 1e-9)
}

func TestUsageTracker_RecordAndSummaries(t *testing.T) {
	u := NewUsageTracker(WithBudget(1000, 1))

	u.Record(UsageRecord{Agent: "S-1", Model: "gpt-4o-mini", TokensInput: 100, TokensOutput: 20, LatencyMS: 10, Success: true})
	u.Record(UsageRecord{Agent: "S-1", Model: "gpt-4o-mini", LatencyMS: 30, Success: false})
	u.Record(UsageRecord{Agent: "A-1", Model: "gpt-4o-mini", TokensInput: 500, TokensOutput: 500, LatencyMS: 20, Success: true})

	s1 := u.Agent("S-1")
	assert.Equal(t, 2, s1.Requests)
	assert.Equal(t, 1, s1.Successes)
	assert.Equal(t, 1, s1.Failures)
	assert.Equal(t, 120, s1.TokensTotal)
	assert.InDelta(t, 20.0, s1.AverageLatencyMS, 1e-9)

	snap := u.Snapshot()
	assert.Equal(t, 3, snap.Session.Requests)
	assert.Equal(t, 1120, snap.Session.TokensTotal)
	assert.Len(t, snap.Agents, 2)
	assert.False(t, snap.Budget.WithinBudget, "token budget exhausted")
	assert.Equal(t, 0, snap.Budget.TokensRemaining)

	assert.Equal(t, []string{"A-1", "S-1"}, u.AgentNames())
	assert.Equal(t, UsageSummary{}, u.Agent("missing"))
}

func TestUsageTracker_RecentNewestFirst(t *testing.T) {
	u := NewUsageTracker()
	for i := 0; i < 150; i++ {
		u.Record(UsageRecord{Agent: "F-1", TokensInput: i, Success: true})
	}

	recent := u.Recent(3)
	require.Len(t, recent, 3)
	assert.Equal(t, 149, recent[0].TokensInput)
	assert.Equal(t, 147, recent[2].TokensInput)
	assert.Len(t, u.Recent(0), 100)
}

func TestUsageTracker_Concurrent(t *testing.T) {
	u := NewUsageTracker()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u.Record(UsageRecord{Agent: "F-2", TokensInput: 1, Success: true})
		}()
	}
	wg.Wait()
	assert.Equal(t, 20, u.Agent("F-2").Requests)
}

func TestUsageTracker_ZeroBudgetIsUnlimited(t *testing.T) {
	u := NewUsageTracker(WithBudget(0, 0))
	u.Record(UsageRecord{Agent: "F-3", Model: "gpt-4o", TokensInput: 5_000_000, Success: true})
	assert.True(t, u.Budget().WithinBudget)
}

func TestUsageOptionsFromSettings(t *testing.T) {
	settings := config.Default().Provider
	settings.BudgetTokens = 500
	settings.BudgetUSD = 2
	settings.Prices = map[string]config.ModelPriceConfig{
		"house-model": {Input: 4, Output: 8},
	}

	u := NewUsageTracker(UsageOptionsFromSettings(settings)...)

	assert.InDelta(t, 12.0, u.EstimateCost("house-model", 1_000_000, 1_000_000), 1e-9)
	assert.InDelta(t, 0.15, u.EstimateCost("gpt-4o-mini", 1_000_000, 0), 1e-9, "defaults survive")

	b := u.Budget()
	assert.Equal(t, 500, b.TokenLimit)
	assert.InDelta(t, 2.0, b.USDLimit, 1e-9)

	u.Record(UsageRecord{Agent: "F-4", Model: "house-model", TokensInput: 250_000, TokensOutput: 0, Success: true})
	assert.InDelta(t, 1.0, u.Budget().USDUsed, 1e-9)
	assert.False(t, u.Budget().WithinBudget, "token budget spent")
}
