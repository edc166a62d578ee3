package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStructuredPrompt(t *testing.T) {
	plain := structuredPrompt("Classify this", nil)
	assert.Equal(t, "Classify this"+jsonOnlyInstruction, plain)

	withSchema := structuredPrompt("Classify this", map[string]any{"intent": "string"})
	assert.True(t, strings.HasPrefix(withSchema, "Classify this\n\nExpected JSON structure:\n```json\n{\n  \"intent\": \"string\"\n}\n```"))
	assert.True(t, strings.HasSuffix(withSchema, jsonOnlyInstruction))
}

func TestStructuredConfig(t *testing.T) {
	cfg := structuredConfig(DefaultProviderConfig())
	assert.Equal(t, 0.3, cfg.Temperature)
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, jsonSystemDefault, *cfg.SystemInstruction)

	cool := DefaultProviderConfig()
	cool.Temperature = 0.1
	cool = cool.WithSystemInstruction("custom")
	cfg = structuredConfig(cool)
	assert.Equal(t, 0.1, cfg.Temperature)
	assert.Equal(t, "custom", *cfg.SystemInstruction)
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"fenced no lang", "```\n[1,2]\n```", `[1,2]`},
		{"unterminated", "```json\n{\"a\":1}", `{"a":1}`},
		{"surrounding space", "  \n```\n{}\n```  \n", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stripCodeFence(tt.in))
		})
	}
}

func fixedGen(resp ProviderResponse, seen *ProviderConfig, prompt *string) generateFunc {
	return func(_ context.Context, p string, cfg ProviderConfig) *ProviderResponse {
		if seen != nil {
			*seen = cfg
		}
		if prompt != nil {
			*prompt = p
		}
		r := resp
		return &r
	}
}

func TestGenerateStructured_FencedResponse(t *testing.T) {
	var seen ProviderConfig
	var prompt string
	gen := fixedGen(ProviderResponse{
		Success:   true,
		Content:   "```json\n{\n  \"intent\": \"BUILD_REQUEST\",\n  \"confidence\": 0.9\n}\n```",
		LatencyMS: 12,
	}, &seen, &prompt)

	resp := generateStructured(context.Background(), gen, "goal", DefaultProviderConfig(), map[string]any{"intent": "string"})

	require.True(t, resp.Success)
	assert.Equal(t, `{"confidence":0.9,"intent":"BUILD_REQUEST"}`, resp.Content)
	assert.True(t, json.Valid([]byte(resp.Content)))
	obj, ok := resp.ParsedObject()
	require.True(t, ok)
	assert.Equal(t, "BUILD_REQUEST", obj["intent"])

	assert.Equal(t, 0.3, seen.Temperature)
	assert.Contains(t, prompt, "Expected JSON structure")
}

func TestGenerateStructured_InvalidJSON(t *testing.T) {
	gen := fixedGen(ProviderResponse{Success: true, Content: "Sure! Here you go", LatencyMS: 33, Model: "m"}, nil, nil)

	resp := generateStructured(context.Background(), gen, "goal", DefaultProviderConfig(), nil)

	assert.False(t, resp.Success)
	assert.Equal(t, CodeJSONParse, resp.ErrorCode)
	assert.True(t, strings.HasPrefix(resp.Error, "JSON parse error: "))
	assert.Equal(t, 33.0, resp.LatencyMS)
	assert.Equal(t, "m", resp.Model)
}

func TestGenerateStructured_TrailingGarbage(t *testing.T) {
	gen := fixedGen(ProviderResponse{Success: true, Content: `{"a":1} and more`}, nil, nil)
	resp := generateStructured(context.Background(), gen, "goal", DefaultProviderConfig(), nil)
	assert.Equal(t, CodeJSONParse, resp.ErrorCode)
}

func TestGenerateStructured_FailurePassesThrough(t *testing.T) {
	gen := fixedGen(ProviderResponse{Success: false, Error: "429", ErrorCode: CodeRateLimit}, nil, nil)
	resp := generateStructured(context.Background(), gen, "goal", DefaultProviderConfig(), nil)
	assert.False(t, resp.Success)
	assert.Equal(t, CodeRateLimit, resp.ErrorCode)
	assert.Equal(t, "429", resp.Error)
}

func TestGenerateStructured_NoHTMLEscaping(t *testing.T) {
	gen := fixedGen(ProviderResponse{Success: true, Content: `{"html":"<b>&</b>"}`}, nil, nil)
	resp := generateStructured(context.Background(), gen, "goal", DefaultProviderConfig(), nil)
	require.True(t, resp.Success)
	assert.Equal(t, `{"html":"<b>&</b>"}`, resp.Content)
}
