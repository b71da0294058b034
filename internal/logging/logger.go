package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// StandardLogger wraps a logrus logger with the field conventions used across the service.
type StandardLogger struct {
	logger *logrus.Logger
}

// NewLogger builds a logrus logger. Development uses the text formatter, every
// other environment emits JSON.
func NewLogger(logLevel string, environment string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetLevel(ParseLogrusLevel(logLevel))
	if strings.EqualFold(environment, "development") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

// NewStandardLogger creates a new standardized logger based on configuration
func NewStandardLogger(logLevel string, environment string) *StandardLogger {
	return &StandardLogger{logger: NewLogger(logLevel, environment)}
}

// NewStandardLoggerFrom wraps an existing logrus logger.
func NewStandardLoggerFrom(logger *logrus.Logger) *StandardLogger {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &StandardLogger{logger: logger}
}

// SetOutput redirects the underlying logger.
func (l *StandardLogger) SetOutput(w io.Writer) {
	l.logger.SetOutput(w)
}

// AddHook attaches a logrus hook, e.g. the OTLP exporter hook.
func (l *StandardLogger) AddHook(hook logrus.Hook) {
	l.logger.AddHook(hook)
}

// Logger returns the underlying *logrus.Logger
func (l *StandardLogger) Logger() *logrus.Logger {
	return l.logger
}

// WithService creates a logger with service context
func (l *StandardLogger) WithService(serviceName string) *logrus.Entry {
	return l.logger.WithField("service", serviceName)
}

// WithComponent creates a logger with component context
func (l *StandardLogger) WithComponent(componentName string) *logrus.Entry {
	return l.logger.WithField("component", componentName)
}

// WithOperation creates a logger with operation context
func (l *StandardLogger) WithOperation(operationName string) *logrus.Entry {
	return l.logger.WithField("operation", operationName)
}

// WithRunID creates a logger scoped to a backtest run
func (l *StandardLogger) WithRunID(runID string) *logrus.Entry {
	return l.logger.WithField("run_id", runID)
}

// WithPair creates a logger scoped to a pair name such as "A/B"
func (l *StandardLogger) WithPair(pair string) *logrus.Entry {
	return l.logger.WithField("pair", pair)
}

// WithRequestID creates a logger with request ID context
func (l *StandardLogger) WithRequestID(requestID string) *logrus.Entry {
	return l.logger.WithField("request_id", requestID)
}

// WithError creates a logger with error context
func (l *StandardLogger) WithError(err error) *logrus.Entry {
	return l.logger.WithError(err)
}

// WithMetrics creates a logger with metrics context
func (l *StandardLogger) WithMetrics(metrics map[string]interface{}) *logrus.Entry {
	return l.logger.WithFields(logrus.Fields(metrics))
}

// LogStartup logs application startup information
func (l *StandardLogger) LogStartup(serviceName string, version string, port int) {
	l.logger.WithFields(logrus.Fields{
		"event":   "startup",
		"service": serviceName,
		"version": version,
		"port":    port,
	}).Info("Service starting")
}

// LogShutdown logs application shutdown information
func (l *StandardLogger) LogShutdown(serviceName string, reason string) {
	l.logger.WithFields(logrus.Fields{
		"event":   "shutdown",
		"service": serviceName,
		"reason":  reason,
	}).Info("Service shutting down")
}

// LogCacheOperation logs cache operations in a standardized format
func (l *StandardLogger) LogCacheOperation(operation string, key string, hit bool, duration int64) {
	l.logger.WithFields(logrus.Fields{
		"event":       "cache_operation",
		"operation":   operation,
		"key":         key,
		"hit":         hit,
		"duration_ms": duration,
	}).Debug("Cache operation")
}

// LogDatabaseOperation logs database operations in a standardized format
func (l *StandardLogger) LogDatabaseOperation(operation string, table string, duration int64, rowsAffected int64) {
	l.logger.WithFields(logrus.Fields{
		"event":         "database_operation",
		"operation":     operation,
		"table":         table,
		"duration_ms":   duration,
		"rows_affected": rowsAffected,
	}).Debug("Database operation")
}

// LogAPIRequest logs API requests in a standardized format
func (l *StandardLogger) LogAPIRequest(method string, path string, statusCode int, duration int64, requestID string) {
	entry := l.logger.WithFields(logrus.Fields{
		"event":       "api_request",
		"method":      method,
		"path":        path,
		"status_code": statusCode,
		"duration_ms": duration,
		"request_id":  requestID,
	})
	switch {
	case statusCode >= 500:
		entry.Error("API request")
	case statusCode >= 400:
		entry.Warn("API request")
	default:
		entry.Info("API request")
	}
}

// LogBusinessEvent logs business events in a standardized format
func (l *StandardLogger) LogBusinessEvent(eventType string, details map[string]interface{}) {
	fields := logrus.Fields{
		"event": "business_event",
		"type":  eventType,
	}
	for k, v := range details {
		fields[k] = v
	}
	l.logger.WithFields(fields).Info("Business event")
}

// ParseLogrusLevel converts string level to logrus.Level
func ParseLogrusLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
