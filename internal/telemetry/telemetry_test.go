package telemetry

import (
	"context"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/canary-release-guard/crg/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		config config.TelemetryConfig
	}{
		{
			name:   "disabled telemetry",
			config: config.TelemetryConfig{Enabled: false},
		},
		{
			name: "enabled telemetry with basic config",
			config: config.TelemetryConfig{
				Enabled:        true,
				ServiceName:    "test-service",
				ServiceVersion: "1.0.0",
				SampleRate:     1.0,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tel, err := New(tt.config, zaptest.NewLogger(t))
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if tel == nil {
				t.Fatal("Expected telemetry to be created")
			}

			if err := tel.Stop(context.Background()); err != nil {
				t.Errorf("Expected clean shutdown, got %v", err)
			}
		})
	}
}

func TestTelemetry_DisabledAccessors(t *testing.T) {
	tel, err := New(config.TelemetryConfig{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if tel.MeterProvider() != nil {
		t.Error("Expected nil meter provider when disabled")
	}

	tracer := tel.Tracer()
	if tracer == nil {
		t.Fatal("Expected no-op tracer when disabled")
	}

	ctx, span := tel.StartSpan(context.Background(), "test-span")
	if ctx == nil || span == nil {
		t.Error("Expected no-op span when disabled")
	}
	span.End()
}

func TestTelemetry_EnabledProviders(t *testing.T) {
	tel, err := New(config.TelemetryConfig{
		Enabled:        true,
		ServiceName:    "test-service",
		ServiceVersion: "1.0.0",
	}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	defer tel.Stop(context.Background())

	if tel.MeterProvider() == nil {
		t.Error("Expected meter provider when enabled")
	}

	ctx, span := tel.StartSpan(context.Background(), "analysis")
	if !span.SpanContext().IsValid() {
		t.Error("Expected a recording span when enabled")
	}
	_ = ctx
	span.End()
}
