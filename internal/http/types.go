package http

import (
	"github.com/fyrsmithlabs/arcyn/internal/gateway"
	"github.com/fyrsmithlabs/arcyn/internal/memory"
	"github.com/fyrsmithlabs/arcyn/internal/orchestrator"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// StatusResponse is the response body for GET /api/v1/status.
type StatusResponse struct {
	Status   string                    `json:"status"`
	Version  string                    `json:"version,omitempty"`
	Pipeline orchestrator.StatusReport `json:"pipeline"`
	Memory   *memory.Stats             `json:"memory,omitempty"`
	Provider *gateway.HealthReport     `json:"provider,omitempty"`
	Events   bool                      `json:"events"`
}

// ExecuteRequest is the request body for POST /api/v1/execute.
type ExecuteRequest struct {
	Goal string `json:"goal"`
	// Verbose keeps every stage output in the response.
	Verbose bool `json:"verbose"`
}

// GoalRequest is the request body for POST /api/v1/classify.
type GoalRequest struct {
	Goal string `json:"goal"`
}

// PlanRequest is the request body for POST /api/v1/plan. Either a prior
// classification or a raw goal, which is classified first.
type PlanRequest struct {
	Classification orchestrator.Output `json:"classification,omitempty"`
	Goal           string              `json:"goal,omitempty"`
}

// StageResponse wraps the output of a single stage.
type StageResponse struct {
	Stage  orchestrator.Stage  `json:"stage"`
	Output orchestrator.Output `json:"output"`
}

// ErrorResponse is returned when a stage fails.
type ErrorResponse struct {
	Error string             `json:"error"`
	Stage orchestrator.Stage `json:"stage,omitempty"`
}

// UsageResponse is the response body for GET /api/v1/provider/usage.
type UsageResponse struct {
	gateway.SessionUsage
	Recent []gateway.UsageRecord `json:"recent"`
}
