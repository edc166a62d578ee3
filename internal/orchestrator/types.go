package orchestrator

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Stage identifies one step of the pipeline.
type Stage string

const (
	// StageClassify turns the raw goal into an intent and routing decision.
	StageClassify Stage = "classify"

	// StagePlan breaks the goal into tasks and milestones.
	StagePlan Stage = "plan"

	// StageBuild generates code for each planned task.
	StageBuild Stage = "build"

	// StageValidate checks the build against the plan's architecture.
	StageValidate Stage = "validate"

	// StageIntegrate checks compatibility and decides APPROVED or BLOCKED.
	StageIntegrate Stage = "integrate"

	// StageStore records the run in memory.
	StageStore Stage = "store"

	// StageReview produces risks and recommendations.
	StageReview Stage = "review"
)

// StageCount is the fixed number of pipeline stages.
const StageCount = 7

var stageOrder = [StageCount]Stage{
	StageClassify, StagePlan, StageBuild, StageValidate, StageIntegrate, StageStore, StageReview,
}

// AllStages returns all stages in execution order.
func AllStages() []Stage {
	out := make([]Stage, StageCount)
	copy(out, stageOrder[:])
	return out
}

// Valid reports whether s is one of the pipeline stages.
func (s Stage) Valid() bool {
	return s.index() >= 0
}

func (s Stage) index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// ParseStage converts a stage name.
func ParseStage(name string) (Stage, error) {
	s := Stage(name)
	if !s.Valid() {
		return "", fmt.Errorf("unknown stage %q", name)
	}
	return s, nil
}

// Descriptor is the static metadata of a stage.
type Descriptor struct {
	Stage       Stage  `json:"stage"`
	AgentID     string `json:"agent_id"`
	Description string `json:"description"`
}

var descriptors = map[Stage]Descriptor{
	StageClassify:  {StageClassify, "S-1", "Intent classification & routing"},
	StagePlan:      {StagePlan, "A-1", "Goal to structured plan"},
	StageBuild:     {StageBuild, "F-1", "Plan to code generation"},
	StageValidate:  {StageValidate, "F-2", "Architectural validation"},
	StageIntegrate: {StageIntegrate, "F-3", "Compatibility & standards check"},
	StageStore:     {StageStore, "S-2", "Knowledge storage & indexing"},
	StageReview:    {StageReview, "S-3", "Strategic analysis & recommendations"},
}

// Describe returns the descriptor for s.
func Describe(s Stage) Descriptor {
	return descriptors[s]
}

// FallbackAgentID marks stage output produced without an agent.
const FallbackAgentID = "fallback"

// StageStatus is the state of a stage or of a whole run.
type StageStatus string

const (
	StatusPending   StageStatus = "pending"
	StatusRunning   StageStatus = "running"
	StatusCompleted StageStatus = "completed"
	StatusFailed    StageStatus = "failed"
)

// Terminal reports whether s is completed or failed.
func (s StageStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Output is the structured payload of one stage. Every output carries the
// producing stage's name under OutputStageKey.
type Output map[string]any

// OutputStageKey tags an Output with its stage.
const OutputStageKey = "_stage"

// Stage returns the tagged stage name.
func (o Output) Stage() Stage {
	s, _ := o[OutputStageKey].(string)
	return Stage(s)
}

// String returns o[key] if it is a string.
func (o Output) String(key string) string {
	s, _ := o[key].(string)
	return s
}

// Bool returns o[key] if it is a bool.
func (o Output) Bool(key string) bool {
	b, _ := o[key].(bool)
	return b
}

// Slice returns o[key] as a slice, accepting []any and []map[string]any.
func (o Output) Slice(key string) []any {
	switch v := o[key].(type) {
	case []any:
		return v
	case []map[string]any:
		out := make([]any, len(v))
		for i, m := range v {
			out[i] = m
		}
		return out
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	}
	return nil
}

// Map returns o[key] if it is an object.
func (o Output) Map(key string) map[string]any {
	switch v := o[key].(type) {
	case map[string]any:
		return v
	case Output:
		return v
	}
	return nil
}

// Clone returns a shallow copy of o.
func (o Output) Clone() Output {
	out := make(Output, len(o)+1)
	for k, v := range o {
		out[k] = v
	}
	return out
}

// PipelineStage is the record of one stage within a run.
type PipelineStage struct {
	Name        Stage       `json:"name"`
	AgentID     string      `json:"agent_id"`
	Description string      `json:"description"`
	Status      StageStatus `json:"status"`
	StartedAt   *time.Time  `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at"`
	DurationMS  float64     `json:"duration_ms"`
	Output      Output      `json:"output,omitempty"`
	Error       *string     `json:"error"`
}

func newPipelineStage(s Stage) PipelineStage {
	d := Describe(s)
	return PipelineStage{
		Name:        s,
		AgentID:     d.AgentID,
		Description: d.Description,
		Status:      StatusPending,
	}
}

// start moves pending to running.
func (p *PipelineStage) start(agentID string, now time.Time) bool {
	if p.Status != StatusPending {
		return false
	}
	p.AgentID = agentID
	p.Status = StatusRunning
	p.StartedAt = &now
	return true
}

// complete moves running to completed.
func (p *PipelineStage) complete(out Output, now time.Time) bool {
	if p.Status != StatusRunning {
		return false
	}
	p.finish(now)
	p.Status = StatusCompleted
	p.Output = out
	return true
}

// fail moves running to failed.
func (p *PipelineStage) fail(msg string, now time.Time) bool {
	if p.Status != StatusRunning {
		return false
	}
	p.finish(now)
	p.Status = StatusFailed
	p.Error = &msg
	return true
}

func (p *PipelineStage) finish(now time.Time) {
	p.CompletedAt = &now
	if p.StartedAt != nil {
		p.DurationMS = float64(now.Sub(*p.StartedAt).Microseconds()) / 1000
	}
}

// ErrorMessage returns the stage error or "".
func (p *PipelineStage) ErrorMessage() string {
	if p.Error == nil {
		return ""
	}
	return *p.Error
}

// PipelineResult is the record of one Execute call.
type PipelineResult struct {
	RunID           string           `json:"run_id"`
	Goal            string           `json:"goal"`
	Status          StageStatus      `json:"status"`
	Stages          []PipelineStage  `json:"stages"`
	Outputs         map[Stage]Output `json:"outputs"`
	Error           *string          `json:"error"`
	FailedStage     Stage            `json:"failed_stage,omitempty"`
	StartedAt       time.Time        `json:"started_at"`
	CompletedAt     time.Time        `json:"completed_at"`
	TotalDurationMS float64          `json:"total_duration_ms"`
}

// NewPipelineResult returns a pending result with all stages pending.
func NewPipelineResult(goal string) *PipelineResult {
	r := &PipelineResult{
		RunID:   uuid.NewString(),
		Goal:    goal,
		Status:  StatusPending,
		Stages:  make([]PipelineStage, 0, StageCount),
		Outputs: make(map[Stage]Output, StageCount),
	}
	for _, s := range stageOrder {
		r.Stages = append(r.Stages, newPipelineStage(s))
	}
	return r
}

// Stage returns the record for s, or nil.
func (r *PipelineResult) Stage(s Stage) *PipelineStage {
	if i := s.index(); i >= 0 && i < len(r.Stages) {
		return &r.Stages[i]
	}
	return nil
}

// ErrorMessage returns the run error or "".
func (r *PipelineResult) ErrorMessage() string {
	if r.Error == nil {
		return ""
	}
	return *r.Error
}

// Succeeded reports whether every stage completed.
func (r *PipelineResult) Succeeded() bool {
	return r.Status == StatusCompleted
}

// CompletedStages counts stages that completed.
func (r *PipelineResult) CompletedStages() int {
	n := 0
	for _, s := range r.Stages {
		if s.Status == StatusCompleted {
			n++
		}
	}
	return n
}

// Compact returns a copy without stage and run outputs.
func (r *PipelineResult) Compact() *PipelineResult {
	c := *r
	c.Stages = make([]PipelineStage, len(r.Stages))
	for i, s := range r.Stages {
		s.Output = nil
		c.Stages[i] = s
	}
	c.Outputs = map[Stage]Output{}
	return &c
}

func (r *PipelineResult) fail(stage Stage, msg string) {
	full := fmt.Sprintf("Pipeline failed at stage '%s': %s", stage, msg)
	r.Status = StatusFailed
	r.Error = &full
	r.FailedStage = stage
}
