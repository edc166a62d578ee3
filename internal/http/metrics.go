package http

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/arcyn/internal/orchestrator"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/arcyn/internal/http"

// runResultKey is the echo context key under which handlers leave the
// pipeline result for the metrics middleware.
const runResultKey = "arcyn.run_result"

// HTTPMetrics records request and pipeline-run instruments for the API.
type HTTPMetrics struct {
	logger         *zap.Logger
	requestsTotal  metric.Int64Counter
	requestDur     metric.Float64Histogram
	responseSize   metric.Int64Histogram
	activeRequests metric.Int64UpDownCounter
	runsTotal      metric.Int64Counter
}

// NewHTTPMetrics creates HTTPMetrics on the global meter provider.
func NewHTTPMetrics(logger *zap.Logger) *HTTPMetrics {
	return newHTTPMetrics(otel.Meter(httpInstrumentationName), logger)
}

func newHTTPMetrics(meter metric.Meter, logger *zap.Logger) *HTTPMetrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &HTTPMetrics{logger: logger}

	var err error
	m.requestsTotal, err = meter.Int64Counter("arcyn.http.requests_total",
		metric.WithDescription("API requests by method, route and status code."),
		metric.WithUnit("{request}"))
	m.warn("arcyn.http.requests_total", err)

	// Execute runs all seven stages, so the buckets reach minutes.
	m.requestDur, err = meter.Float64Histogram("arcyn.http.request_duration_seconds",
		metric.WithDescription("API request duration by method, route and status code."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300))
	m.warn("arcyn.http.request_duration_seconds", err)

	m.responseSize, err = meter.Int64Histogram("arcyn.http.response_size_bytes",
		metric.WithDescription("Response body size. Verbose execute responses carry every stage output."),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(100, 500, 1000, 5000, 10000, 50000, 100000, 500000))
	m.warn("arcyn.http.response_size_bytes", err)

	m.activeRequests, err = meter.Int64UpDownCounter("arcyn.http.active_requests",
		metric.WithDescription("Requests currently in flight."),
		metric.WithUnit("{request}"))
	m.warn("arcyn.http.active_requests", err)

	m.runsTotal, err = meter.Int64Counter("arcyn.http.pipeline_runs_total",
		metric.WithDescription("Pipeline runs started through the API, by outcome and failed stage."),
		metric.WithUnit("{run}"))
	m.warn("arcyn.http.pipeline_runs_total", err)

	return m
}

func (m *HTTPMetrics) warn(name string, err error) {
	if err != nil {
		m.logger.Warn("failed to create instrument", zap.String("instrument", name), zap.Error(err))
	}
}

// MetricsMiddleware returns an Echo middleware that records request
// instruments and, for execute calls, the run outcome.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			ctx := c.Request().Context()

			if m.activeRequests != nil {
				m.activeRequests.Add(ctx, 1)
				defer m.activeRequests.Add(ctx, -1)
			}

			err := next(c)

			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", normalizePath(c.Path())),
				attribute.Int("status", c.Response().Status),
			)
			if m.requestsTotal != nil {
				m.requestsTotal.Add(ctx, 1, attrs)
			}
			if m.requestDur != nil {
				m.requestDur.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.responseSize != nil {
				m.responseSize.Record(ctx, c.Response().Size, attrs)
			}
			if r, ok := c.Get(runResultKey).(*orchestrator.PipelineResult); ok && m.runsTotal != nil {
				m.runsTotal.Add(ctx, 1, metric.WithAttributes(
					attribute.String("status", string(r.Status)),
					attribute.String("failed_stage", string(r.FailedStage)),
				))
			}
			return err
		}
	}
}

// normalizePath maps a route to its metric label. Echo reports the route
// pattern, not the raw URL.
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}
