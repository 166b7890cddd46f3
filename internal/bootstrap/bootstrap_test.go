package bootstrap

import (
	"context"
	"os"
	"testing"
)

func TestBootstrapLifecycle(t *testing.T) {
	// Avoid binding the metrics port in tests
	os.Setenv("CRG_TELEMETRY_PROMETHEUS_PORT", "0")
	defer os.Unsetenv("CRG_TELEMETRY_PROMETHEUS_PORT")

	bootstrap := New()
	ctx := context.Background()

	err := bootstrap.Initialize(ctx, "")
	if err != nil {
		t.Fatalf("Failed to initialize bootstrap: %v", err)
	}

	if bootstrap.Config == nil {
		t.Error("Expected config to be initialized")
	}

	if bootstrap.Logger == nil {
		t.Error("Expected logger to be initialized")
	}

	if bootstrap.Telemetry == nil {
		t.Error("Expected telemetry to be initialized")
	}

	err = bootstrap.Start(ctx)
	if err != nil {
		t.Fatalf("Failed to start bootstrap: %v", err)
	}

	err = bootstrap.Stop(ctx)
	if err != nil {
		t.Fatalf("Failed to stop bootstrap: %v", err)
	}
}

func TestBootstrapWithConfigFile(t *testing.T) {
	configContent := `
service: payments
logging:
  level: debug
  format: console
telemetry:
  enabled: false
`
	tmpFile, err := os.CreateTemp("", "test-config-*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp config file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.WriteString(configContent); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	tmpFile.Close()

	bootstrap := New()
	ctx := context.Background()

	if err := bootstrap.Initialize(ctx, tmpFile.Name()); err != nil {
		t.Fatalf("Failed to initialize with config file: %v", err)
	}

	if bootstrap.Config.Service != "payments" {
		t.Errorf("Expected service 'payments', got '%s'", bootstrap.Config.Service)
	}

	if bootstrap.Config.Logging.Level != "debug" {
		t.Errorf("Expected log level 'debug', got '%s'", bootstrap.Config.Logging.Level)
	}

	if bootstrap.Config.Telemetry.Enabled {
		t.Error("Expected telemetry to be disabled")
	}

	if err := bootstrap.Stop(ctx); err != nil {
		t.Fatalf("Failed to stop bootstrap: %v", err)
	}
}

func TestBootstrapStartWithoutInitialize(t *testing.T) {
	bootstrap := New()
	if err := bootstrap.Start(context.Background()); err == nil {
		t.Error("Expected error when starting uninitialized bootstrap")
	}
}
