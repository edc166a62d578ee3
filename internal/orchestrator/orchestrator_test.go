package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/arcyn/internal/logging"
	"github.com/fyrsmithlabs/arcyn/internal/memory"
)

// mockAgent is a testify mock of Agent.
type mockAgent struct {
	mock.Mock
	name string
}

func (m *mockAgent) Name() string { return m.name }

func (m *mockAgent) Run(ctx context.Context, in StageInput) (Output, error) {
	args := m.Called(ctx, in)
	out, _ := args.Get(0).(Output)
	return out, args.Error(1)
}

// funcAgent adapts a function to Agent.
type funcAgent struct {
	name    string
	healthy bool
	fn      func(StageInput) (Output, error)
}

func (a *funcAgent) Name() string  { return a.name }
func (a *funcAgent) Healthy() bool { return a.healthy }

func (a *funcAgent) Run(_ context.Context, in StageInput) (Output, error) {
	return a.fn(in)
}

func factoryFor(a Agent) AgentFactory {
	return func(context.Context) (Agent, error) { return a, nil }
}

func stageStatuses(r *PipelineResult) []StageStatus {
	out := make([]StageStatus, len(r.Stages))
	for i, s := range r.Stages {
		out[i] = s.Status
	}
	return out
}

func TestExecute_NoAgents(t *testing.T) {
	o := New()
	result := o.Execute(context.Background(), "Simple test")

	require.NotNil(t, result)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Nil(t, result.Error)
	assert.NotEmpty(t, result.RunID)
	require.Len(t, result.Stages, StageCount)

	var sum float64
	for i, s := range result.Stages {
		assert.Equal(t, AllStages()[i], s.Name, "stage order")
		assert.Equal(t, StatusCompleted, s.Status)
		assert.Equal(t, FallbackAgentID, s.AgentID)
		assert.Nil(t, s.Error)
		require.NotNil(t, s.StartedAt)
		require.NotNil(t, s.CompletedAt)
		assert.GreaterOrEqual(t, s.DurationMS, 0.0)
		assert.Equal(t, s.Name, result.Outputs[s.Name].Stage())
		sum += s.DurationMS
	}
	assert.Len(t, result.Outputs, StageCount)
	assert.GreaterOrEqual(t, result.TotalDurationMS, sum-1)
	assert.Equal(t, LifecycleReady, o.State())
}

func TestClassify_Fallback(t *testing.T) {
	out, err := New().Classify(context.Background(), "Build a REST API")
	require.NoError(t, err)

	assert.Equal(t, "Build a REST API", out["goal"])
	assert.Equal(t, "BUILD_REQUEST", out["intent"])
	assert.Equal(t, "classify", out[OutputStageKey])
}

func TestClassify_EmptyGoal(t *testing.T) {
	_, err := New().Classify(context.Background(), "   ")

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageClassify, se.Stage)
}

func TestPlan_Fallback(t *testing.T) {
	o := New()
	out, err := o.Plan(context.Background(), Output{"goal": "Write a CLI"})
	require.NoError(t, err)

	tasks := out.Slice("tasks")
	require.NotEmpty(t, tasks)
	assert.Equal(t, "T1", tasks[0].(map[string]any)["id"])
	assert.Equal(t, "plan", out[OutputStageKey])

	_, err = o.Plan(context.Background(), Output{})
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StagePlan, se.Stage)
}

func TestBuild_EmptyTasks(t *testing.T) {
	out, err := New().Build(context.Background(), Output{"tasks": []any{}})
	require.NoError(t, err)

	assert.Equal(t, []any{}, out["warnings"])
	assert.Equal(t, "build", out[OutputStageKey])
	assert.Empty(t, out.Slice("task_results"))
}

func TestStageFallbacks(t *testing.T) {
	ctx := context.Background()
	o := New()

	v, err := o.Validate(ctx, Output{}, Output{"goal": "g"})
	require.NoError(t, err)
	assert.Equal(t, true, v["valid"])

	i, err := o.Integrate(ctx, v, map[Stage]Output{})
	require.NoError(t, err)
	assert.Equal(t, IntegrationApproved, i["status"])

	s, err := o.Store(ctx, "g", map[Stage]Output{StageIntegrate: i})
	require.NoError(t, err)
	assert.Equal(t, true, s["success"])
	assert.Equal(t, "APPROVED", s.Map("record")["integration_status"])

	r, err := o.Review(ctx, s, map[Stage]Output{})
	require.NoError(t, err)
	assert.Equal(t, []any{}, r["risks"])
	assert.Equal(t, "review", r[OutputStageKey])
}

func TestExecute_EmptyGoalFailsAtClassify(t *testing.T) {
	result := New().Execute(context.Background(), "")

	assert.Equal(t, StatusFailed, result.Status)
	require.NotNil(t, result.Error)
	assert.Contains(t, *result.Error, "Pipeline failed at stage 'classify'")
	assert.Equal(t, StageClassify, result.FailedStage)
	assert.Equal(t, StatusFailed, result.Stages[0].Status)
	for _, s := range result.Stages[1:] {
		assert.Equal(t, StatusPending, s.Status)
		assert.Nil(t, s.StartedAt)
	}
	assert.Empty(t, result.Outputs)
}

func TestExecute_IntegrationBlocked(t *testing.T) {
	integrator := &funcAgent{name: "integrator", fn: func(StageInput) (Output, error) {
		return Output{"status": "BLOCKED", "blocking_issues": []any{"schema mismatch", "missing auth"}}, nil
	}}
	result := New(WithAgent(StageIntegrate, factoryFor(integrator))).Execute(context.Background(), "Build a REST API")

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, []StageStatus{
		StatusCompleted, StatusCompleted, StatusCompleted, StatusCompleted,
		StatusFailed, StatusPending, StatusPending,
	}, stageStatuses(result))
	assert.Equal(t, "Integration blocked: schema mismatch; missing auth", result.Stage(StageIntegrate).ErrorMessage())
	assert.Equal(t, "F-3", result.Stage(StageIntegrate).AgentID)
	assert.Len(t, result.Outputs, 4)
	assert.NotContains(t, result.Outputs, StageIntegrate)
}

func TestExecute_AgentErrorFailsStage(t *testing.T) {
	builder := &mockAgent{name: "builder"}
	builder.On("Run", mock.Anything, mock.MatchedBy(func(in StageInput) bool {
		return in.Stage == StageBuild && in.Previous.Stage() == StagePlan
	})).Return(nil, errors.New("provider unavailable")).Once()

	log := logging.NewTestLogger()
	result := New(WithAgent(StageBuild, factoryFor(builder)), WithLogger(log.Logger)).
		Execute(context.Background(), "Build a REST API")

	builder.AssertExpectations(t)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, StageBuild, result.FailedStage)
	assert.Equal(t, "provider unavailable", result.Stage(StageBuild).ErrorMessage())
	assert.Equal(t, StatusPending, result.Stage(StageValidate).Status)
	log.AssertLogged(t, zapcore.WarnLevel, "stage failed")
	log.AssertField(t, "stage failed", "run.stage", "build")
	assert.NotEmpty(t, log.ForRun(result.RunID))
	assert.Equal(t, []string{"classify", "plan", "build"}, log.StagesLogged())
}

func TestExecute_AgentOutputErrorFailsStage(t *testing.T) {
	persona := &funcAgent{name: "persona", fn: func(StageInput) (Output, error) {
		return Output{"error": "could not classify"}, nil
	}}
	result := New(WithAgent(StageClassify, factoryFor(persona))).Execute(context.Background(), "x")

	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, "could not classify", result.Stages[0].ErrorMessage())
}

func TestExecute_AgentPanicIsRecovered(t *testing.T) {
	designer := &funcAgent{name: "designer", fn: func(StageInput) (Output, error) {
		panic("boom")
	}}

	var result *PipelineResult
	require.NotPanics(t, func() {
		result = New(WithAgent(StageValidate, factoryFor(designer))).Execute(context.Background(), "goal")
	})
	assert.Equal(t, StatusFailed, result.Status)
	assert.Contains(t, result.Stage(StageValidate).ErrorMessage(), "boom")
	assert.Equal(t, StatusPending, result.Stage(StageIntegrate).Status)
}

func TestExecute_AgentOutputsFlowBetweenStages(t *testing.T) {
	persona := &funcAgent{name: "persona", fn: func(in StageInput) (Output, error) {
		return Output{"intent": "QUESTION"}, nil
	}}
	var planIn StageInput
	architect := &funcAgent{name: "architect", fn: func(in StageInput) (Output, error) {
		planIn = in
		return nil, nil
	}}

	result := New(
		WithAgent(StageClassify, factoryFor(persona)),
		WithAgent(StagePlan, factoryFor(architect)),
	).Execute(context.Background(), "Explain the plan")

	require.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, "Explain the plan", result.Outputs[StageClassify]["goal"], "goal is filled when an agent omits it")
	assert.Equal(t, "Explain the plan", planIn.Goal)
	assert.Equal(t, "QUESTION", planIn.Previous["intent"])
	assert.Equal(t, []any{}, result.Outputs[StagePlan]["tasks"])
	assert.Equal(t, "S-1", result.Stages[0].AgentID)
	assert.Equal(t, FallbackAgentID, result.Stages[2].AgentID)
}

func TestExecute_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := New().Execute(ctx, "goal")
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, StageClassify, result.FailedStage)
}

func TestResolve_Idempotent(t *testing.T) {
	var calls int
	var mu sync.Mutex
	f := func(context.Context) (Agent, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return &funcAgent{name: "persona", fn: func(in StageInput) (Output, error) {
			return Output{"goal": in.Goal, "intent": "BUILD_REQUEST"}, nil
		}}, nil
	}
	o := New(WithAgent(StageClassify, f))
	assert.Equal(t, LifecycleConstructed, o.State())

	o.Resolve(context.Background())
	o.Resolve(context.Background())
	o.Execute(context.Background(), "a")
	o.Execute(context.Background(), "b")

	assert.Equal(t, 1, calls)
	assert.Equal(t, LifecycleReady, o.State())
}

func TestResolve_UnavailableAgentsFallBack(t *testing.T) {
	o := New(
		WithAgent(StageClassify, func(context.Context) (Agent, error) { return nil, errors.New("no api key") }),
		WithAgent(StagePlan, func(context.Context) (Agent, error) { return nil, nil }),
		WithAgent(StageBuild, func(context.Context) (Agent, error) { panic("bad factory") }),
		WithAgent(StageReview, factoryFor(&funcAgent{name: "evolution", healthy: true, fn: func(StageInput) (Output, error) {
			return Output{"risks": []any{}}, nil
		}})),
	)

	report := o.Status(context.Background())
	assert.Equal(t, 1, report.AgentsLoaded)
	assert.Equal(t, StageCount, report.AgentsTotal)
	assert.False(t, report.Agents[StageClassify].Loaded)
	assert.Equal(t, FallbackAgentID, report.Agents[StageBuild].AgentID)
	assert.Equal(t, AgentStatus{Loaded: true, Name: "evolution", AgentID: "S-3", Healthy: true}, report.Agents[StageReview])

	result := o.Execute(context.Background(), "goal")
	assert.Equal(t, StatusCompleted, result.Status)
}

func TestStatus_BeforeExecute(t *testing.T) {
	o := New()
	var report StatusReport
	require.NotPanics(t, func() { report = o.Status(context.Background()) })

	assert.Equal(t, LifecycleReady, report.Orchestrator)
	assert.Equal(t, StageCount, report.AgentsTotal)
	assert.Zero(t, report.AgentsLoaded)
	assert.Len(t, report.Agents, StageCount)
	assert.Len(t, report.Stages, StageCount)
}

func TestStatus_UnhealthyAgent(t *testing.T) {
	o := New(WithAgent(StageBuild, factoryFor(&funcAgent{name: "builder", healthy: false})))
	report := o.Status(context.Background())
	assert.True(t, report.Agents[StageBuild].Loaded)
	assert.False(t, report.Agents[StageBuild].Healthy)
}

func TestProgress(t *testing.T) {
	var events []Progress
	o := New(WithProgress(func(p Progress) { events = append(events, p) }))

	result := o.Execute(context.Background(), "goal")
	require.Len(t, events, 2*StageCount)
	for i, s := range AllStages() {
		start, end := events[2*i], events[2*i+1]
		assert.Equal(t, s, start.Stage)
		assert.Equal(t, StatusRunning, start.Status)
		assert.Equal(t, StatusCompleted, end.Status)
		assert.Equal(t, result.RunID, end.RunID)
	}
	assert.Equal(t, 100, events[len(events)-1].Percentage)

	events = nil
	o.Execute(context.Background(), "")
	require.Len(t, events, 2)
	assert.Equal(t, StatusFailed, events[1].Status)
	assert.NotEmpty(t, events[1].Error)
}

func TestProgress_ListenerPanicIgnored(t *testing.T) {
	o := New(WithProgress(func(Progress) { panic("listener") }))
	result := o.Execute(context.Background(), "goal")
	assert.Equal(t, StatusCompleted, result.Status)
}

func TestExecute_WithMemory(t *testing.T) {
	ctx := context.Background()
	store := memory.NewKeyedStore("arcyn", nil)
	o := New(WithMemory(store))

	first := o.Execute(ctx, "Build a REST API")
	require.Equal(t, StatusCompleted, first.Status)
	stored := first.Outputs[StageStore]
	assert.Equal(t, true, stored["success"])
	assert.Equal(t, memory.BackendKeyed, stored["backend"])
	assert.NotEmpty(t, stored["record_id"])

	second := o.Execute(ctx, "Build a REST API")
	related := second.Outputs[StageReview].Slice("related")
	require.Len(t, related, 1, "the record stored by this run is left out")
	assert.Equal(t, stored["key"], related[0].(map[string]any)["key"])
	assert.NotEqual(t, second.Outputs[StageStore]["key"], related[0].(map[string]any)["key"])

	st, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Records)
}

func TestReviewFallback_RelatedCappedAfterSkippingCurrentRun(t *testing.T) {
	ctx := context.Background()
	store := memory.NewKeyedStore("arcyn", nil)
	for i := 0; i < relatedRunsLimit+2; i++ {
		_, err := store.Store(ctx, "Build a REST API", nil)
		require.NoError(t, err)
	}
	current, err := store.Store(ctx, "Build a REST API", nil)
	require.NoError(t, err)

	out, err := reviewFallback(ctx, New(WithMemory(store)), StageInput{
		Stage: StageReview,
		Goal:  "Build a REST API",
		Outputs: map[Stage]Output{
			StageStore: {"key": current.Key, "record_id": current.RecordID},
		},
	})
	require.NoError(t, err)

	related := out.Slice("related")
	assert.Len(t, related, relatedRunsLimit)
	for _, r := range related {
		assert.NotEqual(t, current.Key, r.(map[string]any)["key"])
	}
}

func TestTruncate_CutsOnRuneBoundary(t *testing.T) {
	s := strings.Repeat("ação", 10)
	for n := 0; n <= len(s); n++ {
		got := truncate(s, n)
		assert.True(t, utf8.ValidString(got), "n=%d", n)
		assert.LessOrEqual(t, len(got), n)
		assert.True(t, strings.HasPrefix(s, got))
	}
	assert.Equal(t, "ab", truncate("ab", 5))
}

// failingStore fails every operation.
type failingStore struct{}

func (failingStore) Store(context.Context, string, map[string]any) (*memory.StoreResult, error) {
	return nil, errors.New("disk full")
}

func (failingStore) Search(context.Context, string, int) (*memory.SearchResult, error) {
	return nil, errors.New("index offline")
}

func (failingStore) Stats(context.Context) (*memory.Stats, error) {
	return nil, errors.New("offline")
}

func TestExecute_MemoryFailuresAreAbsorbed(t *testing.T) {
	result := New(WithMemory(failingStore{})).Execute(context.Background(), "goal")

	require.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, false, result.Outputs[StageStore]["success"])
	assert.Contains(t, result.Outputs[StageReview].Slice("warnings"), "Memory search failed: index offline")
}

func TestMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	m := newMetrics(provider.Meter("test"), zap.NewNop())

	o := New(WithMetrics(m))
	o.Execute(context.Background(), "goal")
	o.Execute(context.Background(), "")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	found := map[string]bool{}
	for _, sm := range rm.ScopeMetrics {
		for _, metric := range sm.Metrics {
			found[metric.Name] = true
			if metric.Name == "arcyn.pipeline.runs_total" {
				sum := metric.Data.(metricdata.Sum[int64])
				assert.Len(t, sum.DataPoints, 2, "one series per status")
			}
		}
	}
	assert.True(t, found["arcyn.pipeline.stage_duration_seconds"])
	assert.True(t, found["arcyn.pipeline.stage_failures_total"])
	assert.True(t, found["arcyn.pipeline.runs_total"])
}

func TestPipelineStage_TransitionsOnlyForward(t *testing.T) {
	s := newPipelineStage(StagePlan)
	assert.Equal(t, "A-1", s.AgentID)

	assert.False(t, s.complete(Output{}, time.Now()), "pending cannot complete")
	assert.False(t, s.fail("x", time.Now()), "pending cannot fail")
	assert.True(t, s.start(FallbackAgentID, time.Now()))
	assert.False(t, s.start(FallbackAgentID, time.Now()), "running cannot restart")
	assert.True(t, s.complete(Output{"k": "v"}, time.Now()))
	assert.False(t, s.fail("late", time.Now()), "completed cannot fail")
	assert.Equal(t, StatusCompleted, s.Status)
	assert.Nil(t, s.Error)
}

func TestPipelineResult_JSON(t *testing.T) {
	result := New().Execute(context.Background(), "")
	data, err := json.Marshal(result)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "failed", decoded["status"])
	assert.NotNil(t, decoded["error"])

	stages := decoded["stages"].([]any)
	require.Len(t, stages, StageCount)
	pending := stages[1].(map[string]any)
	assert.Equal(t, "pending", pending["status"])
	assert.Nil(t, pending["error"])
	assert.Nil(t, pending["started_at"])

	compact := New().Execute(context.Background(), "goal").Compact()
	assert.Empty(t, compact.Outputs)
	assert.Nil(t, compact.Stages[0].Output)
}

func TestParseStage(t *testing.T) {
	s, err := ParseStage("review")
	require.NoError(t, err)
	assert.Equal(t, StageReview, s)

	_, err = ParseStage("deploy")
	assert.Error(t, err)
}
