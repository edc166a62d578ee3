package gateway

import (
	"encoding/json"
	"time"
)

// Status is the last observed health of a provider.
type Status string

const (
	StatusUnknown     Status = "unknown"
	StatusHealthy     Status = "healthy"
	StatusDegraded    Status = "degraded"
	StatusUnavailable Status = "unavailable"
)

// ErrorCode classifies a failed provider call.
type ErrorCode string

const (
	CodeRateLimit ErrorCode = "RATE_LIMIT"
	CodeAuth      ErrorCode = "AUTH_ERROR"
	CodeTimeout   ErrorCode = "TIMEOUT"
	CodeJSONParse ErrorCode = "JSON_PARSE_ERROR"
	CodeEmbedding ErrorCode = "EMBEDDING_ERROR"
	CodeProvider  ErrorCode = "PROVIDER_ERROR"

	// Raised by Policy before a request reaches the backend.
	CodePolicyDenied    ErrorCode = "POLICY_DENIED"
	CodeBudgetExhausted ErrorCode = "BUDGET_EXHAUSTED"

	// CodeImport is only raised at construction, when a backend client
	// cannot be built.
	CodeImport ErrorCode = "IMPORT_ERROR"
)

// MetadataParsedJSON is the metadata key holding the decoded payload of a
// structured generation.
const MetadataParsedJSON = "parsed_json"

// ProviderResponse is the outcome of one text generation call. Failures are
// reported in-band: Success is false, Content is empty, ErrorCode is set.
type ProviderResponse struct {
	Success      bool
	Content      string
	Model        string
	Provider     string
	TokensInput  int
	TokensOutput int
	TokensTotal  int
	LatencyMS    float64
	FinishReason string
	Error        string
	ErrorCode    ErrorCode
	Metadata     map[string]any
	Timestamp    time.Time
}

type tokenCounts struct {
	Input  int `json:"input"`
	Output int `json:"output"`
	Total  int `json:"total"`
}

type providerResponseJSON struct {
	Success      bool           `json:"success"`
	Content      string         `json:"content"`
	Model        string         `json:"model"`
	Provider     string         `json:"provider"`
	Tokens       tokenCounts    `json:"tokens"`
	LatencyMS    float64        `json:"latency_ms"`
	FinishReason string         `json:"finish_reason"`
	Error        *string        `json:"error"`
	ErrorCode    *ErrorCode     `json:"error_code"`
	Metadata     map[string]any `json:"metadata"`
	Timestamp    time.Time      `json:"timestamp"`
}

// MarshalJSON renders the canonical export shape with token counts nested
// under "tokens" and null error fields on success.
func (r ProviderResponse) MarshalJSON() ([]byte, error) {
	out := providerResponseJSON{
		Success:      r.Success,
		Content:      r.Content,
		Model:        r.Model,
		Provider:     r.Provider,
		Tokens:       tokenCounts{Input: r.TokensInput, Output: r.TokensOutput, Total: r.TokensTotal},
		LatencyMS:    r.LatencyMS,
		FinishReason: r.FinishReason,
		Metadata:     r.Metadata,
		Timestamp:    r.Timestamp,
	}
	if out.Metadata == nil {
		out.Metadata = map[string]any{}
	}
	if r.Error != "" {
		out.Error = &r.Error
	}
	if r.ErrorCode != "" {
		out.ErrorCode = &r.ErrorCode
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the canonical export shape.
func (r *ProviderResponse) UnmarshalJSON(data []byte) error {
	var in providerResponseJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*r = ProviderResponse{
		Success:      in.Success,
		Content:      in.Content,
		Model:        in.Model,
		Provider:     in.Provider,
		TokensInput:  in.Tokens.Input,
		TokensOutput: in.Tokens.Output,
		TokensTotal:  in.Tokens.Total,
		LatencyMS:    in.LatencyMS,
		FinishReason: in.FinishReason,
		Metadata:     in.Metadata,
		Timestamp:    in.Timestamp,
	}
	if in.Error != nil {
		r.Error = *in.Error
	}
	if in.ErrorCode != nil {
		r.ErrorCode = *in.ErrorCode
	}
	return nil
}

// ParsedJSON returns the decoded payload of a successful structured
// generation, or nil.
func (r *ProviderResponse) ParsedJSON() any {
	if r == nil || r.Metadata == nil {
		return nil
	}
	return r.Metadata[MetadataParsedJSON]
}

// ParsedObject returns the structured payload when it is a JSON object.
func (r *ProviderResponse) ParsedObject() (map[string]any, bool) {
	obj, ok := r.ParsedJSON().(map[string]any)
	return obj, ok
}

// EmbeddingResponse is the outcome of one embedding call.
type EmbeddingResponse struct {
	Success    bool        `json:"success"`
	Embeddings [][]float32 `json:"embeddings"`
	Model      string      `json:"model"`
	Provider   string      `json:"provider"`
	Dimensions int         `json:"dimensions"`
	LatencyMS  float64     `json:"latency_ms"`
	Error      string      `json:"error"`
	ErrorCode  ErrorCode   `json:"error_code"`
	Timestamp  time.Time   `json:"timestamp"`
}

// MarshalJSON writes null error fields on success and an empty embeddings
// list on failure, the same shape ProviderResponse uses.
func (r EmbeddingResponse) MarshalJSON() ([]byte, error) {
	type plain EmbeddingResponse
	out := struct {
		plain
		Error     *string    `json:"error"`
		ErrorCode *ErrorCode `json:"error_code"`
	}{plain: plain(r)}
	if out.Embeddings == nil {
		out.Embeddings = [][]float32{}
	}
	if r.Error != "" {
		out.Error = &r.Error
	}
	if r.ErrorCode != "" {
		out.ErrorCode = &r.ErrorCode
	}
	return json.Marshal(out)
}

// ProviderConfig tunes a single generation call.
type ProviderConfig struct {
	MaxTokens         int     `json:"max_tokens"`
	Temperature       float64 `json:"temperature"`
	TopP              float64 `json:"top_p"`
	TopK              int     `json:"top_k"`
	TimeoutSeconds    int     `json:"timeout_seconds"`
	SystemInstruction *string `json:"system_instruction"`
}

// DefaultProviderConfig returns the documented defaults.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		MaxTokens:      8192,
		Temperature:    0.7,
		TopP:           1.0,
		TopK:           40,
		TimeoutSeconds: 60,
	}
}

// WithSystemInstruction returns a copy of c with the system instruction set.
func (c ProviderConfig) WithSystemInstruction(s string) ProviderConfig {
	c.SystemInstruction = &s
	return c
}

// UnmarshalJSON starts from the defaults so omitted fields keep them.
func (c *ProviderConfig) UnmarshalJSON(data []byte) error {
	type plain ProviderConfig
	p := plain(DefaultProviderConfig())
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = ProviderConfig(p)
	return nil
}

func (c ProviderConfig) timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

func (c ProviderConfig) system() string {
	if c.SystemInstruction == nil {
		return ""
	}
	return *c.SystemInstruction
}
