package orchestrator

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/arcyn/internal/orchestrator"

// Metrics holds pipeline instruments.
type Metrics struct {
	meter    metric.Meter
	logger   *zap.Logger
	duration metric.Float64Histogram
	failures metric.Int64Counter
	runs     metric.Int64Counter
}

// NewMetrics creates Metrics on the global meter provider.
func NewMetrics(logger *zap.Logger) *Metrics {
	return newMetrics(otel.Meter(instrumentationName), logger)
}

func newMetrics(meter metric.Meter, logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{meter: meter, logger: logger}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.duration, err = m.meter.Float64Histogram(
		"arcyn.pipeline.stage_duration_seconds",
		metric.WithDescription("Duration of pipeline stages in seconds, labeled by stage, mode and status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120),
	)
	if err != nil {
		m.logger.Warn("failed to create stage duration histogram", zap.Error(err))
	}

	m.failures, err = m.meter.Int64Counter(
		"arcyn.pipeline.stage_failures_total",
		metric.WithDescription("Pipeline stages that failed, labeled by stage"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		m.logger.Warn("failed to create stage failures counter", zap.Error(err))
	}

	m.runs, err = m.meter.Int64Counter(
		"arcyn.pipeline.runs_total",
		metric.WithDescription("Pipeline runs by final status"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		m.logger.Warn("failed to create runs counter", zap.Error(err))
	}
}

// RecordStage records one finished stage. mode is "agent" or "fallback".
func (m *Metrics) RecordStage(ctx context.Context, stage Stage, mode string, status StageStatus, durationMS float64) {
	if m == nil {
		return
	}
	if m.duration != nil {
		m.duration.Record(ctx, durationMS/1000, metric.WithAttributes(
			attribute.String("stage", string(stage)),
			attribute.String("mode", mode),
			attribute.String("status", string(status)),
		))
	}
	if status == StatusFailed && m.failures != nil {
		m.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", string(stage))))
	}
}

// RecordRun counts a finished run.
func (m *Metrics) RecordRun(ctx context.Context, status StageStatus) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}
