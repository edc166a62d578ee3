package orchestrator

import (
	"context"
	"fmt"
	"unicode/utf8"

	"go.uber.org/zap"
)

// relatedRunsLimit caps the memory hits attached to a fallback review.
const relatedRunsLimit = 5

// planSummaryBytes caps the plan text kept in a fallback memory record.
const planSummaryBytes = 1000

var fallbacks = map[Stage]fallbackFunc{
	StageClassify:  classifyFallback,
	StagePlan:      planFallback,
	StageBuild:     buildFallback,
	StageValidate:  validateFallback,
	StageIntegrate: integrateFallback,
	StageStore:     storeFallback,
	StageReview:    reviewFallback,
}

func classifyFallback(_ context.Context, _ *Orchestrator, in StageInput) (Output, error) {
	return Output{
		"goal":       in.Goal,
		"intent":     "BUILD_REQUEST",
		"confidence": 0.7,
		"routing": map[string]any{
			"target_agent": "architect",
		},
		"assumptions":  []any{"Treating as a build request"},
		"missing_info": []any{},
	}, nil
}

func planFallback(_ context.Context, _ *Orchestrator, in StageInput) (Output, error) {
	return Output{
		"goal": in.Goal,
		"tasks": []any{
			map[string]any{"id": "T1", "name": in.Goal, "type": "feature", "effort": "medium"},
		},
		"milestones": []any{
			map[string]any{"id": "M1", "name": "MVP", "tasks": []any{"T1"}},
		},
		"execution_order": []any{"T1"},
		"warnings":        []any{"Architect agent not available; minimal plan generated"},
	}, nil
}

func buildFallback(_ context.Context, _ *Orchestrator, in StageInput) (Output, error) {
	tasks := in.Previous.Slice("tasks")
	results := make([]any, 0, len(tasks))
	for _, t := range tasks {
		id := "unknown"
		if m, ok := t.(map[string]any); ok {
			if s, ok := m["id"].(string); ok && s != "" {
				id = s
			}
		}
		results = append(results, map[string]any{"task_id": id, "status": "skipped"})
	}
	return Output{
		"action":        "build",
		"files_changed": []any{},
		"summary":       fmt.Sprintf("Builder agent not available; %d task(s) not built", len(tasks)),
		"warnings":      []any{},
		"task_results":  results,
	}, nil
}

func validateFallback(_ context.Context, _ *Orchestrator, _ StageInput) (Output, error) {
	return Output{
		"valid":           true,
		"errors":          []any{},
		"warnings":        []any{"System designer not available; validation skipped"},
		"recommendations": []any{},
	}, nil
}

func integrateFallback(_ context.Context, _ *Orchestrator, _ StageInput) (Output, error) {
	return Output{
		"status":             IntegrationApproved,
		"warnings":           []any{"Integrator not available; auto-approved"},
		"actions_required":   []any{},
		"validation_details": map[string]any{},
	}, nil
}

// storeFallback writes a minimal record. Memory failures are reported in
// the output rather than failing the run.
func storeFallback(ctx context.Context, o *Orchestrator, in StageInput) (Output, error) {
	record := map[string]any{
		"goal":               in.Goal,
		"plan":               truncate(fmt.Sprint(in.Output(StagePlan)), planSummaryBytes),
		"integration_status": integrationStatus(in.Output(StageIntegrate)),
	}

	if o.memory == nil {
		return Output{
			"success":   true,
			"record_id": nil,
			"record":    record,
			"warnings":  []any{"Knowledge engine not available; record kept in run output only"},
		}, nil
	}

	res, err := o.memory.Store(ctx, in.Goal, record)
	if err != nil {
		o.logger.Warn(ctx, "memory store failed", zap.Error(err))
		return Output{
			"success":   false,
			"record_id": nil,
			"record":    record,
			"warnings":  []any{"Memory store failed: " + err.Error()},
		}, nil
	}
	return Output{
		"success":   res.Success,
		"record_id": res.RecordID,
		"key":       res.Key,
		"namespace": res.Namespace,
		"backend":   res.Backend,
		"warnings":  []any{"Knowledge engine not available; stored to memory only"},
	}, nil
}

func reviewFallback(ctx context.Context, o *Orchestrator, in StageInput) (Output, error) {
	out := Output{
		"risks":             []any{},
		"inefficiencies":    []any{},
		"suggested_changes": []any{},
		"priority":          "low",
		"confidence":        0.0,
	}
	warnings := []any{"Evolution agent not available; review skipped"}

	if o.memory != nil && in.Goal != "" {
		res, err := o.memory.Search(ctx, in.Goal, relatedRunsLimit+1)
		if err != nil {
			warnings = append(warnings, "Memory search failed: "+err.Error())
		} else {
			related := make([]any, 0, len(res.Results))
			for _, hit := range res.Results {
				if len(related) == relatedRunsLimit {
					break
				}
				if in.StoredRecord(hit.Record.Key) || in.StoredRecord(hit.Record.ID) {
					continue
				}
				related = append(related, map[string]any{
					"key":   hit.Record.Key,
					"goal":  hit.Record.Goal,
					"score": hit.Score,
				})
			}
			out["related"] = related
		}
	}
	out["warnings"] = warnings
	return out, nil
}

func integrationStatus(o Output) string {
	if s := o.String("status"); s != "" {
		return s
	}
	return "unknown"
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
