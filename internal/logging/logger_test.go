package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/fyrsmithlabs/arcyn/internal/config"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(zapcore.InfoLevel))
	assert.False(t, logger.Enabled(zapcore.DebugLevel))
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"
	_, err := NewLogger(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestLogger_Levels(t *testing.T) {
	tl := NewTestLogger()
	ctx := context.Background()

	tl.Trace(ctx, "trace message")
	tl.Debug(ctx, "debug message")
	tl.Info(ctx, "info message")
	tl.Warn(ctx, "warn message")
	tl.Error(ctx, "error message")

	tl.AssertLogged(t, TraceLevel, "trace message")
	tl.AssertLogged(t, zapcore.DebugLevel, "debug message")
	tl.AssertLogged(t, zapcore.InfoLevel, "info message")
	tl.AssertLogged(t, zapcore.WarnLevel, "warn message")
	tl.AssertLogged(t, zapcore.ErrorLevel, "error message")
	assert.Len(t, tl.All(), 5)
}

func TestLogger_ContextFields(t *testing.T) {
	tl := NewTestLogger()

	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithStage(ctx, "plan")
	ctx = WithRequestID(ctx, "req-9")

	tl.Info(ctx, "stage started", zap.String("agent", "A-1"))

	tl.AssertField(t, "stage started", "run.id", "run-1")
	tl.AssertField(t, "stage started", "run.stage", "plan")
	tl.AssertField(t, "stage started", "request.id", "req-9")
	tl.AssertField(t, "stage started", "agent", "A-1")
}

func TestContextFields_Trace(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	fields := ContextFields(ctx)
	require.Len(t, fields, 2)
	assert.Equal(t, "trace_id", fields[0].Key)
	assert.Equal(t, traceID.String(), fields[0].String)
}

func TestLogger_WithAndNamed(t *testing.T) {
	core, observed := observer.New(zapcore.InfoLevel)
	logger := New(zap.New(core)).Named("gateway").With(zap.String("backend", "openai"))

	logger.Info(context.Background(), "call")

	entries := observed.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "gateway", entries[0].LoggerName)
	assert.Equal(t, "openai", entries[0].ContextMap()["backend"])
}

func TestLevelFromString(t *testing.T) {
	lvl, err := LevelFromString("trace")
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, lvl)

	lvl, err = LevelFromString("warn")
	require.NoError(t, err)
	assert.Equal(t, zapcore.WarnLevel, lvl)

	_, err = LevelFromString("loud")
	require.Error(t, err)
}

func TestFromSettings(t *testing.T) {
	cfg, err := FromSettings(config.LoggingConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "console", cfg.Format)

	_, err = FromSettings(config.LoggingConfig{Level: "nope"})
	require.Error(t, err)
}

func TestSampledCore_ErrorsNeverSampled(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	sampled := newSampledCore(core, SamplingConfig{
		Enabled:    true,
		Tick:       config.Duration(1e9),
		Initial:    1,
		Thereafter: 0,
	})
	logger := New(zap.New(sampled))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		logger.Info(ctx, "repeated")
		logger.Error(ctx, "failure")
	}

	assert.Equal(t, 1, observed.FilterMessage("repeated").Len())
	assert.Equal(t, 5, observed.FilterMessage("failure").Len())
}
