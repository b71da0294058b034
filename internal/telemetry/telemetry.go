package telemetry

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// Service information
	ServiceName    = "github.com/irfndi/distance-pairs"
	ServiceVersion = "1.0.0"
)

// Exporter names accepted by TelemetryConfig.Exporter.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
)

// TelemetryConfig holds configuration for telemetry
type TelemetryConfig struct {
	Enabled     bool
	Exporter    string
	Endpoint    string
	Environment string
	Release     string
	SampleRate  float64
}

// DefaultConfig returns default telemetry configuration
func DefaultConfig() *TelemetryConfig {
	return &TelemetryConfig{
		Enabled:     true,
		Exporter:    ExporterStdout,
		Endpoint:    "http://localhost:4318",
		Environment: "development",
		Release:     ServiceVersion,
		SampleRate:  1.0,
	}
}

// Provider holds the telemetry provider
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
}

// InitTelemetry builds a tracer provider for the configured exporter and
// installs it globally. A disabled config returns a no-op Provider.
func InitTelemetry(ctx context.Context, config TelemetryConfig) (*Provider, error) {
	if !config.Enabled || config.Exporter == "" || config.Exporter == ExporterNone {
		return &Provider{}, nil
	}

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch config.Exporter {
	case ExporterStdout:
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	case ExporterOTLP:
		hostport, urlPath, insecure, _, nerr := normalizeOTLPEndpoint(config.Endpoint)
		if nerr != nil {
			return nil, nerr
		}
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(hostport),
			otlptracehttp.WithURLPath(urlPath),
		}
		if insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("unknown telemetry exporter %q", config.Exporter)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s trace exporter: %w", config.Exporter, err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(ServiceName),
			semconv.ServiceVersion(config.Release),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	sampleRate := config.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate))),
	)
	otel.SetTracerProvider(tp)
	return &Provider{tracerProvider: tp}, nil
}

// Shutdown flushes and stops the tracer provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tracerProvider == nil {
		return nil
	}
	return p.tracerProvider.Shutdown(ctx)
}

// Tracer returns the service tracer from the global provider.
func Tracer() trace.Tracer {
	return otel.Tracer(ServiceName)
}

// normalizeOTLPEndpoint splits a collector URL into the pieces the OTLP/HTTP
// exporter wants, appending /v1/traces when the path does not already end with it.
func normalizeOTLPEndpoint(raw string) (hostport, urlPath string, insecure bool, resolved string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", false, "", fmt.Errorf("invalid OTLP endpoint %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", "", false, "", fmt.Errorf("invalid OTLP endpoint %q: expected http(s)://host:port", raw)
	}

	path := strings.TrimRight(u.Path, "/")
	if !strings.HasSuffix(path, "/v1/traces") {
		path += "/v1/traces"
	}
	insecure = u.Scheme == "http"
	resolved = u.Scheme + "://" + u.Host + path
	return u.Host, path, insecure, resolved, nil
}
