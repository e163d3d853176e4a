// Package observability wires OpenTelemetry tracing for the gateway.
//
// Spans are exported over OTLP HTTP to a local collector agent. The agent
// handles authentication, buffering and forwarding to whatever backend the
// deployment uses, so the gateway never needs backend credentials.
package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"

	"github.com/libreai/aigate/internal/config"
	"github.com/libreai/aigate/internal/log"
)

// DefaultAgentHost is the conventional local OTLP HTTP endpoint.
const DefaultAgentHost = "localhost:4318"

// noopShutdown is returned when tracing is disabled or unavailable so
// callers can defer the shutdown unconditionally.
func noopShutdown(context.Context) error { return nil }

// Setup installs a global tracer provider exporting to the configured
// agent. It returns a shutdown function that flushes pending spans; when
// tracing is disabled or the exporter cannot be created the gateway runs
// untraced and the shutdown function is a no-op.
func Setup(ctx context.Context, cfg config.TracingConfig, logger log.Logger) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return noopShutdown, nil
	}

	agentHost := cfg.AgentHost
	if agentHost == "" {
		agentHost = DefaultAgentHost
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "aigate"
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(agentHost),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		logger.Warn("trace exporter unavailable, tracing disabled",
			"agent", agentHost, "error", err)
		return noopShutdown, nil
	}

	attrs := []attribute.KeyValue{semconv.ServiceName(serviceName)}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentName(cfg.Environment))
	}
	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
	if err != nil {
		return noopShutdown, fmt.Errorf("build trace resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	logger.Info("tracing enabled",
		"agent", agentHost,
		"service", serviceName,
		"environment", cfg.Environment,
	)

	return provider.Shutdown, nil
}
