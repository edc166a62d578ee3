package orchestrator

import (
	"context"

	"go.uber.org/zap"
)

// AgentStatus describes the handler of one stage.
type AgentStatus struct {
	Loaded  bool   `json:"loaded"`
	Name    string `json:"name"`
	AgentID string `json:"agent_id"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// StatusReport summarizes the orchestrator and its agents.
type StatusReport struct {
	Orchestrator Lifecycle             `json:"orchestrator"`
	AgentsLoaded int                   `json:"agents_loaded"`
	AgentsTotal  int                   `json:"agents_total"`
	Agents       map[Stage]AgentStatus `json:"agents"`
	Stages       []Descriptor          `json:"stages"`
}

// Status resolves agents if needed and reports on each stage. It never
// panics; a failing health check is reported on that agent.
func (o *Orchestrator) Status(ctx context.Context) StatusReport {
	o.Resolve(ctx)

	o.mu.Lock()
	handlers := make(map[Stage]handler, len(o.handlers))
	for s, h := range o.handlers {
		handlers[s] = h
	}
	state := o.state
	o.mu.Unlock()

	report := StatusReport{
		Orchestrator: state,
		AgentsTotal:  StageCount,
		Agents:       make(map[Stage]AgentStatus, StageCount),
		Stages:       make([]Descriptor, 0, StageCount),
	}
	for _, s := range stageOrder {
		report.Stages = append(report.Stages, Describe(s))
		h, ok := handlers[s]
		if !ok {
			report.Agents[s] = AgentStatus{Name: FallbackAgentID, AgentID: FallbackAgentID, Healthy: true}
			continue
		}
		st := o.agentStatus(ctx, s, h)
		if st.Loaded {
			report.AgentsLoaded++
		}
		report.Agents[s] = st
	}
	return report
}

func (o *Orchestrator) agentStatus(ctx context.Context, s Stage, h handler) (st AgentStatus) {
	st = AgentStatus{AgentID: h.agentID(), Healthy: true}
	ah, ok := h.(agentHandler)
	if !ok {
		st.Name = FallbackAgentID
		return st
	}
	st.Loaded = true

	defer func() {
		if r := recover(); r != nil {
			o.logger.Warn(ctx, "agent status panicked", zap.String("stage", string(s)), zap.Any("panic", r))
			st.Healthy = false
			st.Error = "status check failed"
		}
	}()

	st.Name = ah.agent.Name()
	if hc, ok := ah.agent.(HealthChecker); ok {
		st.Healthy = hc.Healthy()
	}
	return st
}
