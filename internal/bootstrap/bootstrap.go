package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/canary-release-guard/crg/internal/config"
	"github.com/canary-release-guard/crg/internal/logging"
	"github.com/canary-release-guard/crg/internal/telemetry"
)

// Bootstrap initializes the core components shared by every run:
// configuration, logging, and telemetry.
type Bootstrap struct {
	Config    *config.Config
	Logger    *zap.Logger
	Telemetry *telemetry.Telemetry
}

// New creates a new bootstrap instance
func New() *Bootstrap {
	return &Bootstrap{}
}

// Initialize loads configuration and sets up logging and telemetry
func (b *Bootstrap) Initialize(ctx context.Context, configFile string) error {
	cfg, err := b.loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	b.Config = cfg

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	b.Logger = logger

	logger.Info("configuration loaded",
		zap.String("config_file", configFile),
		zap.String("service", cfg.Service),
		zap.String("log_level", cfg.Logging.Level))

	tel, err := telemetry.New(cfg.Telemetry, logger)
	if err != nil {
		logger.Error("failed to initialize telemetry", zap.Error(err))
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	b.Telemetry = tel

	if cfg.Telemetry.Enabled {
		logger.Info("telemetry initialized",
			zap.String("service_name", cfg.Telemetry.ServiceName),
			zap.Int("prometheus_port", cfg.Telemetry.PrometheusPort))
	} else {
		logger.Info("telemetry is disabled")
	}

	return nil
}

// Start starts the initialized components
func (b *Bootstrap) Start(ctx context.Context) error {
	if b.Logger == nil {
		return fmt.Errorf("bootstrap not initialized")
	}

	if b.Telemetry != nil {
		if err := b.Telemetry.Start(ctx); err != nil {
			b.Logger.Error("failed to start telemetry", zap.Error(err))
			return fmt.Errorf("failed to start telemetry: %w", err)
		}
	}
	return nil
}

// Stop stops all components gracefully
func (b *Bootstrap) Stop(ctx context.Context) error {
	if b.Logger == nil {
		return nil
	}

	if b.Telemetry != nil {
		if err := b.Telemetry.Stop(ctx); err != nil {
			b.Logger.Error("failed to stop telemetry", zap.Error(err))
			return fmt.Errorf("failed to stop telemetry: %w", err)
		}
	}

	// Sync failures on stdout are benign
	_ = b.Logger.Sync()
	return nil
}

func (b *Bootstrap) loadConfig(configFile string) (*config.Config, error) {
	if configFile != "" {
		return config.LoadFromFile(configFile)
	}
	return config.Load()
}
