package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/arcyn/internal/logging"
	"github.com/fyrsmithlabs/arcyn/internal/memory"
)

// Integration statuses understood by the pipeline.
const (
	IntegrationApproved = "APPROVED"
	IntegrationBlocked  = "BLOCKED"
)

// Lifecycle is the orchestrator state.
type Lifecycle string

const (
	LifecycleConstructed Lifecycle = "constructed"
	LifecycleReady       Lifecycle = "ready"
)

// Orchestrator runs goals through the seven pipeline stages.
//
// Each stage is served by the agent its factory produced or, when there is
// none, by a deterministic fallback. The choice is made once by Resolve.
// An Orchestrator is safe for concurrent use; runs share no state beyond
// the resolved handlers.
type Orchestrator struct {
	mu        sync.Mutex
	state     Lifecycle
	factories map[Stage]AgentFactory
	handlers  map[Stage]handler

	memory   memory.Store
	logger   *logging.Logger
	metrics  *Metrics
	tracer   trace.Tracer
	progress []ProgressFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithAgent registers the factory for stage. Unknown stages are ignored.
func WithAgent(stage Stage, f AgentFactory) Option {
	return func(o *Orchestrator) {
		if stage.Valid() && f != nil {
			o.factories[stage] = f
		}
	}
}

// WithAgents registers several factories.
func WithAgents(fs map[Stage]AgentFactory) Option {
	return func(o *Orchestrator) {
		for s, f := range fs {
			WithAgent(s, f)(o)
		}
	}
}

// WithMemory sets the store used by the store and review fallbacks.
func WithMemory(m memory.Store) Option {
	return func(o *Orchestrator) {
		o.memory = m
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the stage instruments.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithTracer overrides the tracer used for run and stage spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithProgress adds a progress listener.
func WithProgress(fn ProgressFunc) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.progress = append(o.progress, fn)
		}
	}
}

// New returns an orchestrator in the constructed state.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		state:     LifecycleConstructed,
		factories: make(map[Stage]AgentFactory),
		logger:    logging.Nop(),
		tracer:    otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the lifecycle state.
func (o *Orchestrator) State() Lifecycle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Resolve builds the agent for every stage and selects each stage's
// handler. Factories that fail or return nil leave the stage in fallback
// mode. Only the first call does any work.
func (o *Orchestrator) Resolve(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == LifecycleReady {
		return
	}

	handlers := make(map[Stage]handler, StageCount)
	for _, s := range stageOrder {
		handlers[s] = o.resolveStage(ctx, s)
	}
	o.handlers = handlers
	o.state = LifecycleReady

	loaded := 0
	for _, h := range handlers {
		if h.agentID() != FallbackAgentID {
			loaded++
		}
	}
	o.logger.Info(ctx, "orchestrator ready",
		zap.Int("agents_loaded", loaded),
		zap.Int("agents_total", StageCount),
	)
}

func (o *Orchestrator) resolveStage(ctx context.Context, s Stage) (h handler) {
	fallback := fallbackHandler{fn: fallbacks[s]}
	f, ok := o.factories[s]
	if !ok {
		return fallback
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Warn(ctx, "agent factory panicked, using fallback",
				zap.String("stage", string(s)), zap.Any("panic", r))
			h = fallback
		}
	}()

	agent, err := f(ctx)
	if err != nil {
		o.logger.Warn(ctx, "agent unavailable, using fallback",
			zap.String("stage", string(s)), zap.Error(err))
		return fallback
	}
	if agent == nil {
		o.logger.Debug(ctx, "no agent configured, using fallback", zap.String("stage", string(s)))
		return fallback
	}
	return agentHandler{id: Describe(s).AgentID, agent: agent}
}

func (o *Orchestrator) handler(ctx context.Context, s Stage) handler {
	o.Resolve(ctx)
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.handlers[s]
}

// Execute runs goal through every stage in order and returns the result.
// A failed stage stops the run and leaves later stages pending. Execute
// never panics and always returns a complete result.
func (o *Orchestrator) Execute(ctx context.Context, goal string) (result *PipelineResult) {
	o.Resolve(ctx)

	result = NewPipelineResult(goal)
	ctx = logging.WithRunID(ctx, result.RunID)
	ctx, span := o.tracer.Start(ctx, "pipeline.execute", trace.WithAttributes(
		attribute.String("run.id", result.RunID),
	))
	start := time.Now()
	result.StartedAt = start
	result.Status = StatusRunning

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error(ctx, "pipeline panicked", zap.Any("panic", r))
			if result.Status == StatusRunning {
				o.abort(result, fmt.Sprintf("unexpected error: %v", r))
			}
		}
		result.CompletedAt = time.Now()
		result.TotalDurationMS = float64(result.CompletedAt.Sub(start).Microseconds()) / 1000
		if result.Status == StatusFailed {
			span.SetStatus(codes.Error, result.ErrorMessage())
		}
		span.SetAttributes(attribute.String("run.status", string(result.Status)))
		span.End()
		o.metrics.RecordRun(ctx, result.Status)
		o.logger.Info(ctx, "pipeline finished",
			zap.String("status", string(result.Status)),
			zap.Int("stages_completed", result.CompletedStages()),
			zap.Float64("total_duration_ms", result.TotalDurationMS),
		)
	}()

	o.logger.Info(ctx, "pipeline started", zap.String("goal", goal))

	for i, s := range stageOrder {
		in := inputFor(s, goal, result.Outputs)
		out, serr := o.runStage(ctx, result, i, in)
		if serr != nil {
			result.fail(s, serr.Message)
			return result
		}
		result.Outputs[s] = out
	}

	result.Status = StatusCompleted
	return result
}

// abort fails the running stage, or the first pending one, with msg.
func (o *Orchestrator) abort(r *PipelineResult, msg string) {
	for i := range r.Stages {
		st := &r.Stages[i]
		switch st.Status {
		case StatusPending:
			st.start(st.AgentID, time.Now())
			fallthrough
		case StatusRunning:
			st.fail(msg, time.Now())
			r.fail(st.Name, msg)
			return
		}
	}
	r.fail(StageReview, msg)
}

// runStage drives one stage record from pending to its terminal status.
func (o *Orchestrator) runStage(ctx context.Context, result *PipelineResult, idx int, in StageInput) (Output, *StageError) {
	rec := &result.Stages[idx]
	h := o.handler(ctx, in.Stage)
	ctx = logging.WithStage(ctx, string(in.Stage))
	ctx, span := o.tracer.Start(ctx, "pipeline.stage."+string(in.Stage), trace.WithAttributes(
		attribute.String("stage", string(in.Stage)),
		attribute.String("agent.id", h.agentID()),
	))
	defer span.End()

	rec.start(h.agentID(), time.Now())
	o.emit(Progress{
		RunID:      result.RunID,
		Stage:      in.Stage,
		Status:     StatusRunning,
		AgentID:    h.agentID(),
		Message:    fmt.Sprintf("Starting stage: %s", in.Stage),
		Percentage: (idx * 100) / StageCount,
	})

	var (
		out  Output
		serr *StageError
	)
	if err := ctx.Err(); err != nil {
		serr = asStageError(in.Stage, err)
	} else {
		out, serr = o.invoke(ctx, h, in)
	}

	mode := "agent"
	if h.agentID() == FallbackAgentID {
		mode = "fallback"
	}

	if serr != nil {
		rec.fail(serr.Message, time.Now())
		span.RecordError(serr)
		span.SetStatus(codes.Error, serr.Message)
		o.metrics.RecordStage(ctx, in.Stage, mode, StatusFailed, rec.DurationMS)
		o.logger.Warn(ctx, "stage failed",
			zap.String("agent_id", h.agentID()),
			zap.String("error", serr.Message),
			zap.Float64("duration_ms", rec.DurationMS),
		)
		o.emit(Progress{
			RunID:      result.RunID,
			Stage:      in.Stage,
			Status:     StatusFailed,
			AgentID:    h.agentID(),
			Message:    fmt.Sprintf("Stage failed: %s", in.Stage),
			Percentage: (idx * 100) / StageCount,
			DurationMS: rec.DurationMS,
			Error:      serr.Message,
		})
		return nil, serr
	}

	rec.complete(out, time.Now())
	o.metrics.RecordStage(ctx, in.Stage, mode, StatusCompleted, rec.DurationMS)
	o.logger.Debug(ctx, "stage completed",
		zap.String("agent_id", h.agentID()),
		zap.Float64("duration_ms", rec.DurationMS),
	)
	o.emit(Progress{
		RunID:      result.RunID,
		Stage:      in.Stage,
		Status:     StatusCompleted,
		AgentID:    h.agentID(),
		Message:    fmt.Sprintf("Completed stage: %s", in.Stage),
		Percentage: ((idx + 1) * 100) / StageCount,
		DurationMS: rec.DurationMS,
	})
	return out, nil
}

// invoke runs a handler with input checks, panic recovery and output
// normalization. The returned output is tagged with its stage.
func (o *Orchestrator) invoke(ctx context.Context, h handler, in StageInput) (out Output, serr *StageError) {
	if err := checkInput(in); err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			o.logger.Error(ctx, "stage panicked", zap.Any("panic", r), zap.Stack("stack"))
			out, serr = nil, stageErrorf(in.Stage, "unexpected error: %v", r)
		}
	}()

	raw, err := h.run(ctx, o, in)
	if err != nil {
		return nil, asStageError(in.Stage, err)
	}

	out = normalize(in, raw)
	if err := checkOutput(in.Stage, out); err != nil {
		return nil, err
	}
	out[OutputStageKey] = string(in.Stage)
	return out, nil
}

func checkInput(in StageInput) *StageError {
	switch in.Stage {
	case StageClassify:
		if strings.TrimSpace(in.Goal) == "" {
			return stageErrorf(StageClassify, "goal is required")
		}
	case StagePlan:
		if strings.TrimSpace(in.Goal) == "" {
			return stageErrorf(StagePlan, "classification has no goal")
		}
	}
	return nil
}

// normalize copies the handler output and fills fields later stages rely
// on.
func normalize(in StageInput, raw Output) Output {
	out := raw.Clone()
	switch in.Stage {
	case StageClassify, StagePlan:
		if out.String("goal") == "" {
			out["goal"] = in.Goal
		}
		if in.Stage == StagePlan && out["tasks"] == nil {
			out["tasks"] = []any{}
		}
	}
	return out
}

func checkOutput(stage Stage, out Output) *StageError {
	switch stage {
	case StageClassify, StagePlan, StageBuild:
		if msg := out.String("error"); msg != "" {
			return stageErrorf(stage, "%s", msg)
		}
	case StageIntegrate:
		if out.String("status") == IntegrationBlocked {
			return stageErrorf(stage, "Integration blocked: %s", describeIssues(out["blocking_issues"]))
		}
	}
	return nil
}

func describeIssues(v any) string {
	switch issues := v.(type) {
	case nil:
		return "no reason given"
	case string:
		return issues
	case []string:
		return strings.Join(issues, "; ")
	case []any:
		parts := make([]string, 0, len(issues))
		for _, i := range issues {
			parts = append(parts, fmt.Sprint(i))
		}
		return strings.Join(parts, "; ")
	default:
		return fmt.Sprint(issues)
	}
}

// inputFor builds the input of stage s inside a run.
func inputFor(s Stage, goal string, outputs map[Stage]Output) StageInput {
	in := StageInput{Stage: s, Goal: goal, Outputs: copyOutputs(outputs)}
	if i := s.index(); i > 0 {
		in.Previous = outputs[stageOrder[i-1]]
	}
	if s == StagePlan {
		in.Goal = in.Previous.String("goal")
	}
	return in
}

func copyOutputs(outputs map[Stage]Output) map[Stage]Output {
	c := make(map[Stage]Output, len(outputs))
	for k, v := range outputs {
		c[k] = v
	}
	return c
}

func (o *Orchestrator) runSingle(ctx context.Context, in StageInput) (Output, error) {
	ctx = logging.WithStage(ctx, string(in.Stage))
	out, serr := o.invoke(ctx, o.handler(ctx, in.Stage), in)
	if serr != nil {
		return nil, serr
	}
	return out, nil
}

// Classify runs the classify stage alone.
func (o *Orchestrator) Classify(ctx context.Context, goal string) (Output, error) {
	return o.runSingle(ctx, StageInput{Stage: StageClassify, Goal: goal, Outputs: map[Stage]Output{}})
}

// Plan runs the plan stage on a classification.
func (o *Orchestrator) Plan(ctx context.Context, classification Output) (Output, error) {
	return o.runSingle(ctx, StageInput{
		Stage:    StagePlan,
		Goal:     classification.String("goal"),
		Previous: classification,
		Outputs:  map[Stage]Output{StageClassify: classification},
	})
}

// Build runs the build stage on a plan.
func (o *Orchestrator) Build(ctx context.Context, plan Output) (Output, error) {
	return o.runSingle(ctx, StageInput{
		Stage:    StageBuild,
		Goal:     plan.String("goal"),
		Previous: plan,
		Outputs:  map[Stage]Output{StagePlan: plan},
	})
}

// Validate runs the validate stage on a build and its plan.
func (o *Orchestrator) Validate(ctx context.Context, build, plan Output) (Output, error) {
	return o.runSingle(ctx, StageInput{
		Stage:    StageValidate,
		Goal:     plan.String("goal"),
		Previous: build,
		Outputs:  map[Stage]Output{StagePlan: plan, StageBuild: build},
	})
}

// Integrate runs the integrate stage on a validation and the outputs so far.
func (o *Orchestrator) Integrate(ctx context.Context, validation Output, outputs map[Stage]Output) (Output, error) {
	all := copyOutputs(outputs)
	all[StageValidate] = validation
	return o.runSingle(ctx, StageInput{
		Stage:    StageIntegrate,
		Goal:     all[StagePlan].String("goal"),
		Previous: validation,
		Outputs:  all,
	})
}

// Store runs the store stage for goal.
func (o *Orchestrator) Store(ctx context.Context, goal string, outputs map[Stage]Output) (Output, error) {
	return o.runSingle(ctx, StageInput{
		Stage:    StageStore,
		Goal:     goal,
		Previous: outputs[StageIntegrate],
		Outputs:  copyOutputs(outputs),
	})
}

// Review runs the review stage.
func (o *Orchestrator) Review(ctx context.Context, store Output, outputs map[Stage]Output) (Output, error) {
	all := copyOutputs(outputs)
	all[StageStore] = store
	return o.runSingle(ctx, StageInput{
		Stage:    StageReview,
		Goal:     all[StageClassify].String("goal"),
		Previous: store,
		Outputs:  all,
	})
}
