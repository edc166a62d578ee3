// Package agents provides the LLM-backed agents that serve pipeline stages.
// Each agent prompts a gateway.Provider for structured JSON and hands the
// parsed object to the orchestrator.
package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/arcyn/internal/gateway"
	"github.com/fyrsmithlabs/arcyn/internal/logging"
	"github.com/fyrsmithlabs/arcyn/internal/orchestrator"
)

// ProviderError is returned when the provider call behind an agent fails.
type ProviderError struct {
	Agent   string
	Code    gateway.ErrorCode
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Agent, e.Code, e.Message)
}

// llmAgent holds what every provider-backed agent shares.
type llmAgent struct {
	name     string
	system   string
	provider gateway.Provider
	cfg      gateway.ProviderConfig
	logger   *logging.Logger
}

func newLLMAgent(name, system string, p gateway.Provider, o options) llmAgent {
	return llmAgent{
		name:     name,
		system:   system,
		provider: p,
		cfg:      o.config.WithSystemInstruction(system),
		logger:   o.logger.Named(name),
	}
}

func (a *llmAgent) Name() string { return a.name }

// Healthy reports false once the provider has been marked unavailable.
func (a *llmAgent) Healthy() bool {
	return a.provider.Status() != gateway.StatusUnavailable
}

// ask sends prompt and returns the parsed JSON object.
func (a *llmAgent) ask(ctx context.Context, prompt string, schema map[string]any) (orchestrator.Output, error) {
	ctx = gateway.WithCaller(ctx, a.name)
	a.logger.Trace(ctx, "agent prompt", zap.String("prompt", prompt))

	resp := a.provider.GenerateStructured(ctx, prompt, a.cfg, schema)
	if !resp.Success {
		return nil, &ProviderError{Agent: a.name, Code: resp.ErrorCode, Message: resp.Error}
	}
	obj, ok := resp.ParsedObject()
	if !ok {
		return nil, &ProviderError{Agent: a.name, Code: gateway.CodeJSONParse, Message: "response is not a JSON object"}
	}

	a.logger.Debug(ctx, "agent response",
		zap.Int("tokens_total", resp.TokensTotal),
		zap.Float64("latency_ms", resp.LatencyMS),
	)
	return orchestrator.Output(obj), nil
}

// summarize renders v as JSON capped at n bytes for inclusion in prompts
// and memory records.
func summarize(v any, n int) string {
	if v == nil {
		return "{}"
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	if len(data) > n {
		for n > 0 && !utf8.RuneStart(data[n]) {
			n--
		}
		return string(data[:n]) + "..."
	}
	return string(data)
}

// withoutStageTag drops the provenance tag before an output goes into a
// prompt.
func withoutStageTag(o orchestrator.Output) map[string]any {
	if o == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(o))
	for k, v := range o {
		if k != orchestrator.OutputStageKey {
			out[k] = v
		}
	}
	return out
}

func stringList(desc string) map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": desc}
}
