package orchestrator

import (
	"context"
)

// Agent performs one stage. Returning an error fails the stage.
type Agent interface {
	Name() string
	Run(ctx context.Context, in StageInput) (Output, error)
}

// HealthChecker is implemented by agents that can report their health.
type HealthChecker interface {
	Healthy() bool
}

// AgentFactory builds the agent for a stage. Returning a nil agent or an
// error leaves the stage in fallback mode.
type AgentFactory func(ctx context.Context) (Agent, error)

// StageInput is what a stage receives.
type StageInput struct {
	Stage Stage

	// Goal is the user goal. For the plan stage it is the goal carried by
	// the classification output.
	Goal string

	// Previous is the output of the stage immediately before this one.
	Previous Output

	// Outputs holds all outputs completed so far, keyed by stage.
	Outputs map[Stage]Output
}

// Output returns the completed output of s, or nil.
func (in StageInput) Output(s Stage) Output {
	return in.Outputs[s]
}

// StoredRecord reports whether key names the record the store stage wrote
// during this run.
func (in StageInput) StoredRecord(key string) bool {
	if key == "" {
		return false
	}
	stored := in.Output(StageStore)
	return key == stored.String("key") || key == stored.String("record_id")
}

// handler runs one stage. It is chosen once per stage when agents are
// resolved.
type handler interface {
	agentID() string
	run(ctx context.Context, o *Orchestrator, in StageInput) (Output, error)
}

type agentHandler struct {
	id    string
	agent Agent
}

func (h agentHandler) agentID() string { return h.id }

func (h agentHandler) run(ctx context.Context, _ *Orchestrator, in StageInput) (Output, error) {
	return h.agent.Run(ctx, in)
}

type fallbackFunc func(ctx context.Context, o *Orchestrator, in StageInput) (Output, error)

type fallbackHandler struct {
	fn fallbackFunc
}

func (h fallbackHandler) agentID() string { return FallbackAgentID }

func (h fallbackHandler) run(ctx context.Context, o *Orchestrator, in StageInput) (Output, error) {
	return h.fn(ctx, o, in)
}
