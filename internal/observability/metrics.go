package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsCollector records leaf-collaborator activity (inference, sandbox)
// through the OpenTelemetry metric API, exported to the Prometheus registry.
// A zero collector is valid and records nothing.
type MetricsCollector struct {
	llmRequests     metric.Int64Counter
	llmTokens       metric.Int64Counter
	llmLatency      metric.Float64Histogram
	sandboxRuns     metric.Int64Counter
	sandboxDuration metric.Float64Histogram
}

// MetricsConfig configures the metrics collector
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(config MetricsConfig) (*MetricsCollector, error) {
	if !config.Enabled {
		return &MetricsCollector{}, nil
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)
	meter := provider.Meter(instrumentationName)

	c := &MetricsCollector{}
	if c.llmRequests, err = meter.Int64Counter("beam.llm.requests.total",
		metric.WithDescription("Inference requests by tag and status"),
		metric.WithUnit("{request}")); err != nil {
		return nil, fmt.Errorf("failed to create llm_requests counter: %w", err)
	}
	if c.llmTokens, err = meter.Int64Counter("beam.llm.tokens.total",
		metric.WithDescription("Prompt plus completion tokens reported by the inference service"),
		metric.WithUnit("{token}")); err != nil {
		return nil, fmt.Errorf("failed to create llm_tokens counter: %w", err)
	}
	if c.llmLatency, err = meter.Float64Histogram("beam.llm.latency",
		metric.WithDescription("Inference latency in seconds"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create llm_latency histogram: %w", err)
	}
	if c.sandboxRuns, err = meter.Int64Counter("beam.sandbox.executions.total",
		metric.WithDescription("Sandbox executions by outcome"),
		metric.WithUnit("{execution}")); err != nil {
		return nil, fmt.Errorf("failed to create sandbox_executions counter: %w", err)
	}
	if c.sandboxDuration, err = meter.Float64Histogram("beam.sandbox.duration",
		metric.WithDescription("Sandbox execution wall time in seconds"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create sandbox_duration histogram: %w", err)
	}
	return c, nil
}

// RecordLLMRequest records one inference call.
func (m *MetricsCollector) RecordLLMRequest(ctx context.Context, model, tag, status string, latency time.Duration, totalTokens int) {
	if m == nil || m.llmRequests == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("tag", tag),
		attribute.String("status", status),
	)
	m.llmRequests.Add(ctx, 1, attrs)
	m.llmLatency.Record(ctx, latency.Seconds(), attrs)
	if totalTokens > 0 {
		m.llmTokens.Add(ctx, int64(totalTokens), metric.WithAttributes(attribute.String("model", model)))
	}
}

// RecordSandboxExecution records one sandbox run.
func (m *MetricsCollector) RecordSandboxExecution(ctx context.Context, outcome string, duration time.Duration) {
	if m == nil || m.sandboxRuns == nil {
		return
	}
	m.sandboxRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.sandboxDuration.Record(ctx, duration.Seconds())
}
