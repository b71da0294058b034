package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeOTLPEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		hostport string
		urlPath  string
		insecure bool
		resolved string
		wantErr  bool
	}{
		{"default localhost", "http://localhost:4318", "localhost:4318", "/v1/traces", true, "http://localhost:4318/v1/traces", false},
		{"trailing slash base", "http://collector:4318/", "collector:4318", "/v1/traces", true, "http://collector:4318/v1/traces", false},
		{"already traces path", "http://collector:4318/v1/traces", "collector:4318", "/v1/traces", true, "http://collector:4318/v1/traces", false},
		{"custom base path", "https://otlp.example.com:4318/otlp", "otlp.example.com:4318", "/otlp/v1/traces", false, "https://otlp.example.com:4318/otlp/v1/traces", false},
		{"invalid no scheme", "collector:4318", "", "", true, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hp, path, insecure, resolved, err := normalizeOTLPEndpoint(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.hostport, hp)
			assert.Equal(t, tt.urlPath, path)
			assert.Equal(t, tt.insecure, insecure)
			assert.Equal(t, tt.resolved, resolved)
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	assert.NotNil(t, config)
	assert.True(t, config.Enabled)
	assert.Equal(t, ExporterStdout, config.Exporter)
	assert.Equal(t, ServiceVersion, config.Release)
	assert.Equal(t, 1.0, config.SampleRate)
}

func TestInitTelemetry_Disabled(t *testing.T) {
	for _, cfg := range []TelemetryConfig{
		{Enabled: false, Exporter: ExporterOTLP},
		{Enabled: true, Exporter: ExporterNone},
		{Enabled: true},
	} {
		provider, err := InitTelemetry(context.Background(), cfg)
		require.NoError(t, err)
		assert.NoError(t, provider.Shutdown(context.Background()))
	}
}

func TestInitTelemetry_UnknownExporter(t *testing.T) {
	_, err := InitTelemetry(context.Background(), TelemetryConfig{Enabled: true, Exporter: "zipkin"})
	assert.Error(t, err)
}

func TestInitTelemetry_InvalidOTLPEndpoint(t *testing.T) {
	_, err := InitTelemetry(context.Background(), TelemetryConfig{Enabled: true, Exporter: ExporterOTLP, Endpoint: "collector:4318"})
	assert.Error(t, err)
}

func TestInitTelemetry_Stdout(t *testing.T) {
	provider, err := InitTelemetry(context.Background(), TelemetryConfig{
		Enabled:     true,
		Exporter:    ExporterStdout,
		Environment: "test",
		Release:     "test",
	})
	require.NoError(t, err)
	assert.NotNil(t, Tracer())
	assert.NoError(t, provider.Shutdown(context.Background()))
}

func TestProvider_ShutdownNil(t *testing.T) {
	var p *Provider
	assert.NoError(t, p.Shutdown(context.Background()))
}
