package gateway

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/arcyn/internal/gateway"

// Metrics holds provider call instruments.
type Metrics struct {
	meter    metric.Meter
	logger   *zap.Logger
	duration metric.Float64Histogram
	tokens   metric.Int64Counter
	errors   metric.Int64Counter
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
		"arcyn.provider.call_duration_seconds",
		metric.WithDescription("Duration of provider calls in seconds, labeled by provider, model and operation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		m.logger.Warn("failed to create duration histogram", zap.Error(err))
	}

	m.tokens, err = m.meter.Int64Counter(
		"arcyn.provider.tokens_total",
		metric.WithDescription("Tokens consumed by provider calls, labeled by direction (input, output)"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		m.logger.Warn("failed to create tokens counter", zap.Error(err))
	}

	m.errors, err = m.meter.Int64Counter(
		"arcyn.provider.errors_total",
		metric.WithDescription("Failed provider calls by error code"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		m.logger.Warn("failed to create errors counter", zap.Error(err))
	}
}

// RecordCall records one backend call. code is empty on success.
func (m *Metrics) RecordCall(ctx context.Context, provider, model, op string, latencyMS float64, tokensIn, tokensOut int, code ErrorCode) {
	attrs := []attribute.KeyValue{
		attribute.String("provider", provider),
		attribute.String("model", model),
		attribute.String("operation", op),
	}

	if m.duration != nil {
		m.duration.Record(ctx, latencyMS/1000, metric.WithAttributes(attrs...))
	}
	if m.tokens != nil {
		if tokensIn > 0 {
			m.tokens.Add(ctx, int64(tokensIn), metric.WithAttributes(append(attrs, attribute.String("direction", "input"))...))
		}
		if tokensOut > 0 {
			m.tokens.Add(ctx, int64(tokensOut), metric.WithAttributes(append(attrs, attribute.String("direction", "output"))...))
		}
	}
	if code != "" {
		m.RecordError(ctx, provider, model, op, code)
	}
}

// RecordError counts a failed call without a duration sample.
func (m *Metrics) RecordError(ctx context.Context, provider, model, op string, code ErrorCode) {
	if m.errors == nil {
		return
	}
	m.errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("model", model),
		attribute.String("operation", op),
		attribute.String("error_code", string(code)),
	))
}
