// Package gateway is the single entry point for LLM calls. Every backend
// is exposed through Provider, reports failures in-band with a typed error
// code, and tracks its own health from the outcome of each call.
package gateway

import (
	"context"
	"sync"
	"time"
)

// Provider is a text generation and embedding backend.
//
// Generate, GenerateStructured and GenerateEmbedding never return Go errors:
// failures come back as responses with Success=false and an ErrorCode.
type Provider interface {
	Name() string
	Model() string
	Status() Status
	LastHealthCheck() time.Time

	Generate(ctx context.Context, prompt string, cfg ProviderConfig) *ProviderResponse
	GenerateStructured(ctx context.Context, prompt string, cfg ProviderConfig, schema map[string]any) *ProviderResponse
	GenerateEmbedding(ctx context.Context, texts []string) *EmbeddingResponse

	// HealthCheck reports whether a client is configured. It makes no
	// network call.
	HealthCheck() bool
}

// HealthReport is the exported view of a provider's health.
type HealthReport struct {
	Provider        string    `json:"provider"`
	Model           string    `json:"model"`
	Status          Status    `json:"status"`
	Healthy         bool      `json:"healthy"`
	LastHealthCheck time.Time `json:"last_health_check"`
}

// Report runs p.HealthCheck and returns the resulting state.
func Report(p Provider) HealthReport {
	healthy := p.HealthCheck()
	return HealthReport{
		Provider:        p.Name(),
		Model:           p.Model(),
		Status:          p.Status(),
		Healthy:         healthy,
		LastHealthCheck: p.LastHealthCheck(),
	}
}

// healthState is embedded by backends to track status and the time it
// last changed.
type healthState struct {
	mu        sync.RWMutex
	status    Status
	lastCheck time.Time
}

func (h *healthState) Status() Status {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.status == "" {
		return StatusUnknown
	}
	return h.status
}

func (h *healthState) LastHealthCheck() time.Time {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.lastCheck
}

func (h *healthState) setStatus(s Status) {
	h.mu.Lock()
	h.status = s
	h.lastCheck = time.Now()
	h.mu.Unlock()
}

type callerKey struct{}

// WithCaller tags ctx with the agent making provider calls, for usage
// accounting.
func WithCaller(ctx context.Context, agent string) context.Context {
	return context.WithValue(ctx, callerKey{}, agent)
}

// CallerFromContext returns the calling agent, or "unknown".
func CallerFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(callerKey{}).(string); ok && s != "" {
		return s
	}
	return "unknown"
}
