package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/arcyn/internal/gateway"
	"github.com/fyrsmithlabs/arcyn/internal/orchestrator"
)

// Intents a Persona can assign.
var intents = []any{
	"BUILD_REQUEST", "DESIGN_REQUEST", "INTEGRATE_REQUEST",
	"STATUS_REQUEST", "EXPLAIN_REQUEST", "HELP_REQUEST",
}

// Persona classifies the raw goal (S-1).
type Persona struct{ llmAgent }

// NewPersona creates the classify agent.
func NewPersona(p gateway.Provider, opts ...Option) *Persona {
	return &Persona{newLLMAgent("persona",
		"You are the Persona Agent (S-1) of Arcyn OS. You classify user requests and route them to the right agent.",
		p, collect(opts))}
}

var personaSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"intent":     map[string]any{"type": "string", "enum": intents},
		"goal":       map[string]any{"type": "string", "description": "the goal restated as one actionable sentence"},
		"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
		"entities":   map[string]any{"type": "object"},
		"routing": map[string]any{
			"type":       "object",
			"properties": map[string]any{"target_agent": map[string]any{"type": "string"}},
		},
		"assumptions":  stringList("assumptions made about the request"),
		"missing_info": stringList("information the user should still provide"),
	},
	"required": []any{"intent", "goal", "confidence"},
}

// Run implements orchestrator.Agent.
func (a *Persona) Run(ctx context.Context, in orchestrator.StageInput) (orchestrator.Output, error) {
	prompt := fmt.Sprintf("Classify this request and extract the goal.\n\nRequest:\n%s", in.Goal)
	return a.ask(ctx, prompt, personaSchema)
}

// Architect turns a classified goal into a plan (A-1).
type Architect struct{ llmAgent }

// NewArchitect creates the plan agent.
func NewArchitect(p gateway.Provider, opts ...Option) *Architect {
	return &Architect{newLLMAgent("architect",
		"You are the Architect Agent (A-1) of Arcyn OS. You turn goals into small, ordered, buildable tasks.",
		p, collect(opts))}
}

var architectSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"goal": map[string]any{"type": "string"},
		"tasks": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":          map[string]any{"type": "string"},
					"name":        map[string]any{"type": "string"},
					"description": map[string]any{"type": "string"},
					"type":        map[string]any{"type": "string", "enum": []any{"feature", "test", "refactor", "docs", "infra"}},
					"effort":      map[string]any{"type": "string", "enum": []any{"low", "medium", "high"}},
					"target_path": map[string]any{"type": "string"},
					"depends_on":  stringList("ids of tasks this one depends on"),
				},
				"required": []any{"id", "name"},
			},
		},
		"milestones": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":    map[string]any{"type": "string"},
					"name":  map[string]any{"type": "string"},
					"tasks": stringList("task ids"),
				},
			},
		},
		"execution_order": stringList("task ids in execution order"),
		"warnings":        stringList("planning risks"),
	},
	"required": []any{"goal", "tasks"},
}

// Run implements orchestrator.Agent.
func (a *Architect) Run(ctx context.Context, in orchestrator.StageInput) (orchestrator.Output, error) {
	prompt := fmt.Sprintf("Create an implementation plan.\n\nGoal:\n%s\n\nClassification:\n%s",
		in.Goal, summarize(withoutStageTag(in.Previous), 4000))
	return a.ask(ctx, prompt, architectSchema)
}

// Builder generates code for each planned task (F-1). A failing task is
// recorded in task_results and does not fail the stage.
type Builder struct{ llmAgent }

// NewBuilder creates the build agent.
func NewBuilder(p gateway.Provider, opts ...Option) *Builder {
	return &Builder{newLLMAgent("builder",
		"You are the Builder Agent (F-1) of Arcyn OS. You write complete, idiomatic source files for one task at a time.",
		p, collect(opts))}
}

var builderSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"files_changed": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path":     map[string]any{"type": "string"},
					"language": map[string]any{"type": "string"},
					"content":  map[string]any{"type": "string"},
				},
				"required": []any{"path", "content"},
			},
		},
		"summary":  map[string]any{"type": "string"},
		"warnings": stringList("problems found while building"),
	},
	"required": []any{"files_changed"},
}

// Run implements orchestrator.Agent.
func (a *Builder) Run(ctx context.Context, in orchestrator.StageInput) (orchestrator.Output, error) {
	tasks := in.Previous.Slice("tasks")
	results := make([]any, 0, len(tasks))
	files := make([]any, 0)
	warnings := make([]any, 0)

	for _, t := range tasks {
		task, _ := t.(map[string]any)
		id := taskField(task, "id", "unknown")
		desc := taskField(task, "name", taskField(task, "description", ""))

		prompt := fmt.Sprintf("Implement this task.\n\nTask %s: %s\nTarget path: %s\n\nPlan:\n%s",
			id, desc, taskField(task, "target_path", "(choose one)"), summarize(withoutStageTag(in.Previous), 4000))
		out, err := a.ask(ctx, prompt, builderSchema)
		if err != nil {
			a.logger.Warn(ctx, "build task failed", zap.String("task_id", id), zap.Error(err))
			results = append(results, map[string]any{"task_id": id, "status": "failed", "error": err.Error()})
			warnings = append(warnings, fmt.Sprintf("Task %s failed: %v", id, err))
			continue
		}
		results = append(results, map[string]any{"task_id": id, "status": "completed", "result": map[string]any(out)})
		files = append(files, out.Slice("files_changed")...)
		warnings = append(warnings, out.Slice("warnings")...)
	}

	return orchestrator.Output{
		"action":        "build",
		"files_changed": files,
		"summary":       fmt.Sprintf("Built %d file(s) from %d task(s)", len(files), len(tasks)),
		"warnings":      warnings,
		"task_results":  results,
	}, nil
}

func taskField(task map[string]any, key, def string) string {
	if s, ok := task[key].(string); ok && s != "" {
		return s
	}
	return def
}

// SystemDesigner validates the build against the plan (F-2).
type SystemDesigner struct{ llmAgent }

// NewSystemDesigner creates the validate agent.
func NewSystemDesigner(p gateway.Provider, opts ...Option) *SystemDesigner {
	return &SystemDesigner{newLLMAgent("system_designer",
		"You are the System Designer Agent (F-2) of Arcyn OS. You check that generated code matches the planned architecture.",
		p, collect(opts))}
}

var designerSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"valid":           map[string]any{"type": "boolean"},
		"errors":          stringList("architectural violations"),
		"warnings":        stringList("non-blocking concerns"),
		"recommendations": stringList("suggested improvements"),
	},
	"required": []any{"valid"},
}

// Run implements orchestrator.Agent.
func (a *SystemDesigner) Run(ctx context.Context, in orchestrator.StageInput) (orchestrator.Output, error) {
	prompt := fmt.Sprintf("Validate the architecture of this build.\n\nPlan:\n%s\n\nBuild output:\n%s",
		summarize(withoutStageTag(in.Output(orchestrator.StagePlan)), 4000),
		summarize(withoutStageTag(in.Previous), 8000))
	return a.ask(ctx, prompt, designerSchema)
}

// Integrator decides whether the outputs can be integrated (F-3). A
// BLOCKED status fails the run.
type Integrator struct{ llmAgent }

// NewIntegrator creates the integrate agent.
func NewIntegrator(p gateway.Provider, opts ...Option) *Integrator {
	return &Integrator{newLLMAgent("integrator",
		"You are the Integrator Agent (F-3) of Arcyn OS. You are an enforcer, not a creator: approve or block integration of agent outputs.",
		p, collect(opts))}
}

var integratorSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"status":              map[string]any{"type": "string", "enum": []any{"APPROVED", "BLOCKED", "WARNINGS"}},
		"blocking_issues":     stringList("reasons integration must not proceed"),
		"violations":          stringList("standards violations"),
		"warnings":            stringList("non-blocking concerns"),
		"actions_required":    stringList("follow-up actions"),
		"integration_summary": map[string]any{"type": "string"},
	},
	"required": []any{"status"},
}

// Run implements orchestrator.Agent.
func (a *Integrator) Run(ctx context.Context, in orchestrator.StageInput) (orchestrator.Output, error) {
	payload := map[string]any{
		"architect_plan": withoutStageTag(in.Output(orchestrator.StagePlan)),
		"builder_output": withoutStageTag(in.Output(orchestrator.StageBuild)),
		"system_design":  withoutStageTag(in.Previous),
	}
	prompt := fmt.Sprintf("Check these outputs for compatibility and standards compliance.\n\n%s", summarize(payload, 12000))
	out, err := a.ask(ctx, prompt, integratorSchema)
	if err != nil {
		return nil, err
	}
	out["status"] = strings.ToUpper(out.String("status"))
	return out, nil
}
