package agents

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/arcyn/internal/gateway"
	"github.com/fyrsmithlabs/arcyn/internal/logging"
	"github.com/fyrsmithlabs/arcyn/internal/memory"
	"github.com/fyrsmithlabs/arcyn/internal/orchestrator"
)

const (
	summaryBytes      = 2000
	relatedRunsLimit  = 5
	reviewPromptBytes = 12000
)

// Knowledge stores a summary of the run in memory (S-2). It makes no
// provider calls.
type Knowledge struct {
	store  memory.Store
	logger *logging.Logger
}

// NewKnowledge creates the store agent.
func NewKnowledge(store memory.Store, opts ...Option) *Knowledge {
	return &Knowledge{store: store, logger: collect(opts).logger.Named("knowledge")}
}

func (k *Knowledge) Name() string { return "knowledge" }

// Run implements orchestrator.Agent.
func (k *Knowledge) Run(ctx context.Context, in orchestrator.StageInput) (orchestrator.Output, error) {
	integration := in.Output(orchestrator.StageIntegrate)
	content := map[string]any{
		"goal":               in.Goal,
		"intent":             in.Output(orchestrator.StageClassify).String("intent"),
		"plan_summary":       summarize(withoutStageTag(in.Output(orchestrator.StagePlan)), summaryBytes),
		"build_summary":      summarize(withoutStageTag(in.Output(orchestrator.StageBuild)), summaryBytes),
		"integration_status": integration.String("status"),
		"metadata": map[string]any{
			"source_agent":    "orchestrator",
			"pipeline_status": "completed",
			"run_id":          logging.RunIDFromContext(ctx),
			"timestamp":       time.Now().UTC().Format(time.RFC3339),
		},
	}

	res, err := k.store.Store(ctx, in.Goal, content)
	if err != nil {
		return nil, fmt.Errorf("storing run: %w", err)
	}
	k.logger.Info(ctx, "run stored", zap.String("key", res.Key), zap.String("backend", res.Backend))

	return orchestrator.Output{
		"success":   res.Success,
		"record_id": res.RecordID,
		"key":       res.Key,
		"namespace": res.Namespace,
		"backend":   res.Backend,
	}, nil
}

// Evolution reviews the run against related past runs (S-3).
type Evolution struct {
	llmAgent
	store memory.Store
}

// NewEvolution creates the review agent. store may be nil, in which case
// no related runs are consulted.
func NewEvolution(p gateway.Provider, store memory.Store, opts ...Option) *Evolution {
	return &Evolution{
		llmAgent: newLLMAgent("evolution",
			"You are the Evolution Agent (S-3) of Arcyn OS. Be critical and strategic, not just safe observations.",
			p, collect(opts)),
		store: store,
	}
}

var evolutionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"risks": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"component":      map[string]any{"type": "string"},
					"issue":          map[string]any{"type": "string"},
					"impact":         map[string]any{"type": "string"},
					"recommendation": map[string]any{"type": "string"},
					"risk_level":     map[string]any{"type": "string", "enum": []any{"low", "medium", "high", "critical"}},
				},
			},
		},
		"inefficiencies": stringList("performance or process inefficiencies"),
		"suggested_changes": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":     map[string]any{"type": "string"},
					"priority":  map[string]any{"type": "string", "enum": []any{"low", "medium", "high"}},
					"effort":    map[string]any{"type": "string", "enum": []any{"low", "medium", "high"}},
					"rationale": map[string]any{"type": "string"},
				},
			},
		},
		"priority":   map[string]any{"type": "string", "enum": []any{"low", "medium", "high"}},
		"confidence": map[string]any{"type": "number", "minimum": 0, "maximum": 1},
	},
	"required": []any{"risks", "priority"},
}

// Run implements orchestrator.Agent.
func (a *Evolution) Run(ctx context.Context, in orchestrator.StageInput) (orchestrator.Output, error) {
	related := a.related(ctx, in)

	observation := map[string]any{
		"goal":         in.Goal,
		"plan":         withoutStageTag(in.Output(orchestrator.StagePlan)),
		"validation":   withoutStageTag(in.Output(orchestrator.StageValidate)),
		"integration":  withoutStageTag(in.Output(orchestrator.StageIntegrate)),
		"related_runs": related,
	}
	prompt := fmt.Sprintf("Review this pipeline run and give strategic recommendations: risks, inefficiencies and suggested changes with priority and effort.\n\nObservation:\n%s",
		summarize(observation, reviewPromptBytes))

	out, err := a.ask(ctx, prompt, evolutionSchema)
	if err != nil {
		return nil, err
	}
	out["related"] = related
	return out, nil
}

// related returns earlier runs with a similar goal, leaving out the record
// stored by this run.
func (a *Evolution) related(ctx context.Context, in orchestrator.StageInput) []any {
	related := []any{}
	if a.store == nil || in.Goal == "" {
		return related
	}
	res, err := a.store.Search(ctx, in.Goal, relatedRunsLimit+1)
	if err != nil {
		a.logger.Warn(ctx, "related run search failed", zap.Error(err))
		return related
	}
	for _, hit := range res.Results {
		if len(related) == relatedRunsLimit {
			break
		}
		if in.StoredRecord(hit.Record.Key) || in.StoredRecord(hit.Record.ID) {
			continue
		}
		related = append(related, map[string]any{
			"key":                hit.Record.Key,
			"goal":               hit.Record.Goal,
			"score":              hit.Score,
			"integration_status": hit.Record.Content["integration_status"],
		})
	}
	return related
}
