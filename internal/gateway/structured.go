package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
)

const (
	jsonOnlyInstruction = "\n\nRespond with valid JSON only. No markdown code blocks, no explanations, just the JSON object."
	jsonSystemDefault   = "You are a helpful assistant that always responds with valid JSON only."
	maxJSONTemperature  = 0.3
)

type generateFunc func(ctx context.Context, prompt string, cfg ProviderConfig) *ProviderResponse

// structuredPrompt appends the schema hint, when present, and the JSON-only
// instruction.
func structuredPrompt(prompt string, schema map[string]any) string {
	var b strings.Builder
	b.WriteString(prompt)
	if len(schema) > 0 {
		if hint, err := json.MarshalIndent(schema, "", "  "); err == nil {
			b.WriteString("\n\nExpected JSON structure:\n```json\n")
			b.Write(hint)
			b.WriteString("\n```")
		}
	}
	b.WriteString(jsonOnlyInstruction)
	return b.String()
}

// structuredConfig clamps temperature and fills in the JSON system
// instruction when none is set.
func structuredConfig(cfg ProviderConfig) ProviderConfig {
	if cfg.Temperature > maxJSONTemperature {
		cfg.Temperature = maxJSONTemperature
	}
	if cfg.system() == "" {
		cfg = cfg.WithSystemInstruction(jsonSystemDefault)
	}
	return cfg
}

// stripCodeFence removes a leading ``` line and a trailing ``` line.
func stripCodeFence(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	lines := strings.Split(content, "\n")
	if len(lines) > 1 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		return strings.Join(lines[1:len(lines)-1], "\n")
	}
	return strings.Join(lines[1:], "\n")
}

// generateStructured runs gen with the structured prompt and config, then
// parses the result. Generation failures are returned unchanged.
func generateStructured(ctx context.Context, gen generateFunc, prompt string, cfg ProviderConfig, schema map[string]any) *ProviderResponse {
	resp := gen(ctx, structuredPrompt(prompt, schema), structuredConfig(cfg))
	if !resp.Success {
		return resp
	}

	var parsed any
	if err := json.Unmarshal([]byte(stripCodeFence(resp.Content)), &parsed); err != nil {
		return jsonFailure(resp, err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(parsed); err != nil {
		return jsonFailure(resp, err)
	}

	resp.Content = strings.TrimSuffix(buf.String(), "\n")
	if resp.Metadata == nil {
		resp.Metadata = map[string]any{}
	}
	resp.Metadata[MetadataParsedJSON] = parsed
	return resp
}

// jsonFailure keeps the raw content so callers can log what the model sent.
func jsonFailure(resp *ProviderResponse, err error) *ProviderResponse {
	resp.Success = false
	resp.Error = "JSON parse error: " + err.Error()
	resp.ErrorCode = CodeJSONParse
	return resp
}
