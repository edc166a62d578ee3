package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/fyrsmithlabs/arcyn/internal/config"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.False(t, tel.Health().Enabled)
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_WithTestExporters(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	spans := tracetest.NewInMemoryExporter()
	reader := sdkmetric.NewManualReader()

	tel, err := New(context.Background(), cfg, WithSpanExporter(spans), WithMetricReader(reader))
	require.NoError(t, err)
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	ctx, span := tel.Tracer("arcyn/test").Start(context.Background(), "stage")
	span.End()

	counter, err := tel.Meter("arcyn/test").Int64Counter("runs")
	require.NoError(t, err)
	counter.Add(ctx, 2)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	sum := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Sum[int64])
	assert.Equal(t, int64(2), sum.DataPoints[0].Value)

	require.NoError(t, tel.tracerProvider.ForceFlush(ctx))
	require.Len(t, spans.GetSpans(), 1)
	assert.Equal(t, "stage", spans.GetSpans()[0].Name)
	assert.False(t, tel.Health().Degraded)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"disabled always valid", func(c *Config) { c.Endpoint = "" }, false},
		{"local insecure", func(c *Config) { c.Enabled = true }, false},
		{"remote insecure", func(c *Config) {
			c.Enabled = true
			c.Endpoint = "otel.example.com:4317"
		}, true},
		{"remote tls", func(c *Config) {
			c.Enabled = true
			c.Endpoint = "otel.example.com:4317"
			c.Insecure = false
		}, false},
		{"bad protocol", func(c *Config) {
			c.Enabled = true
			c.Protocol = "udp"
		}, true},
		{"bad sample rate", func(c *Config) {
			c.Enabled = true
			c.SampleRate = 2
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestIsLocalEndpoint(t *testing.T) {
	assert.True(t, isLocalEndpoint("localhost:4317"))
	assert.True(t, isLocalEndpoint("127.0.0.1:4318"))
	assert.True(t, isLocalEndpoint("http://[::1]:4318"))
	assert.False(t, isLocalEndpoint("collector:4317"))
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.TelemetryConfig{
		Enabled:    true,
		Endpoint:   "127.0.0.1:4318",
		Protocol:   "http",
		Insecure:   true,
		SampleRate: 0.5,
	}, "1.2.3")
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "http", cfg.Protocol)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, "arcyn", cfg.ServiceName)
	require.NoError(t, cfg.Validate())
}
