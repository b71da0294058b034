package logging

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// OTLPConfig holds configuration for OpenTelemetry logging
type OTLPConfig struct {
	Enabled        bool
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	Environment    string
}

// NewOTLPProvider creates a logger provider exporting over OTLP/HTTP.
// It returns nil when export is disabled.
func NewOTLPProvider(ctx context.Context, config OTLPConfig) (*log.LoggerProvider, error) {
	if !config.Enabled {
		return nil, nil
	}

	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:4318"
	}

	exporter, err := otlploghttp.New(ctx,
		otlploghttp.WithEndpointURL(endpoint+"/v1/logs"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	return log.NewLoggerProvider(
		log.WithProcessor(log.NewBatchProcessor(exporter)),
		log.WithResource(res),
	), nil
}

// OTLPHook forwards logrus entries to an OpenTelemetry logger.
type OTLPHook struct {
	logger otellog.Logger
	levels []logrus.Level
}

// NewOTLPHook creates a hook emitting through the named logger of provider.
func NewOTLPHook(provider *log.LoggerProvider, name string) *OTLPHook {
	return &OTLPHook{
		logger: provider.Logger(name),
		levels: logrus.AllLevels,
	}
}

// Levels implements logrus.Hook
func (h *OTLPHook) Levels() []logrus.Level {
	return h.levels
}

// Fire implements logrus.Hook
func (h *OTLPHook) Fire(entry *logrus.Entry) error {
	ctx := entry.Context
	if ctx == nil {
		ctx = context.Background()
	}

	attrs := make([]otellog.KeyValue, 0, len(entry.Data))
	for k, v := range entry.Data {
		if err, ok := v.(error); ok {
			attrs = append(attrs, otellog.String(k, err.Error()))
			continue
		}
		attrs = append(attrs, otellog.String(k, fmt.Sprint(v)))
	}

	record := otellog.Record{}
	record.SetTimestamp(entry.Time)
	record.SetObservedTimestamp(time.Now())
	record.SetSeverity(convertLogrusLevelToSeverity(entry.Level))
	record.SetSeverityText(entry.Level.String())
	record.SetBody(otellog.StringValue(entry.Message))
	record.AddAttributes(attrs...)

	h.logger.Emit(ctx, record)
	return nil
}

func convertLogrusLevelToSeverity(level logrus.Level) otellog.Severity {
	switch level {
	case logrus.TraceLevel:
		return otellog.SeverityTrace
	case logrus.DebugLevel:
		return otellog.SeverityDebug
	case logrus.InfoLevel:
		return otellog.SeverityInfo
	case logrus.WarnLevel:
		return otellog.SeverityWarn
	case logrus.ErrorLevel:
		return otellog.SeverityError
	case logrus.FatalLevel, logrus.PanicLevel:
		return otellog.SeverityFatal
	default:
		return otellog.SeverityInfo
	}
}
