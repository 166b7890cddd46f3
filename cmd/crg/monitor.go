package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/canary-release-guard/crg/internal/api"
	"github.com/canary-release-guard/crg/internal/bootstrap"
	"github.com/canary-release-guard/crg/internal/config"
	"github.com/canary-release-guard/crg/internal/eventbus"
	"github.com/canary-release-guard/crg/internal/metrics"
	"github.com/canary-release-guard/crg/internal/models"
	"github.com/canary-release-guard/crg/internal/monitor"
	"github.com/canary-release-guard/crg/internal/policy"
	"github.com/canary-release-guard/crg/internal/recorder"
	"github.com/canary-release-guard/crg/internal/report"
)

type monitorOptions struct {
	configFile    string
	service       string
	duration      time.Duration
	checkInterval time.Duration
	prometheusURL string
}

func newMonitorCommand() *cobra.Command {
	opts := &monitorOptions{}

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run a canary monitoring session",
		Long: `monitor samples the canary and stable cohorts on a fixed cadence,
analyzes the trailing window periodically, and exits 0 when the canary
is fit for promotion, 1 when it must be rolled back, and 2 on errors,
cancellation, or an inconclusive run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			code := runMonitor(cmd, opts)
			os.Exit(code)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "path to configuration file")
	flags.StringVar(&opts.service, "service", "", "service name under canary release")
	flags.DurationVar(&opts.duration, "duration", 0, "total monitoring duration")
	flags.DurationVar(&opts.checkInterval, "check-interval", 0, "interval between cohort checks")
	flags.StringVar(&opts.prometheusURL, "prometheus-url", "", "Prometheus base URL")
	return cmd
}

func runMonitor(cmd *cobra.Command, opts *monitorOptions) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bs := bootstrap.New()
	if err := bs.Initialize(ctx, opts.configFile); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		return exitError
	}
	logger := bs.Logger

	cfg := bs.Config
	applyOverrides(cmd.Flags(), cfg, opts)
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return exitError
	}

	if err := bs.Start(ctx); err != nil {
		logger.Error("failed to start components", zap.Error(err))
		return exitError
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		bs.Stop(shutdownCtx)
	}()

	record, err := executeRun(ctx, cfg, bs, logger)
	if err != nil {
		logger.Error("monitoring run failed", zap.Error(err))
	}
	if record == nil {
		return exitError
	}

	logger.Info("monitoring run finished",
		zap.String("run_id", record.RunID),
		zap.String("outcome", string(record.FinalOutcome)),
		zap.Int("total_checks", record.TotalChecks),
		zap.Bool("degraded", record.Degraded))

	if cfg.Report.Enabled {
		if err := generateReport(ctx, cfg, record, logger); err != nil {
			logger.Error("failed to generate deployment report", zap.Error(err))
		}
	}

	switch record.FinalOutcome {
	case models.OutcomePromote:
		return exitPromote
	case models.OutcomeRollback:
		return exitRollback
	default:
		return exitError
	}
}

// executeRun wires the metric source, recorder, event bus, and status
// server around a single monitor run.
func executeRun(ctx context.Context, cfg *config.Config, bs *bootstrap.Bootstrap, logger *zap.Logger) (*models.RunRecord, error) {
	httpClient, closeIdentity, err := metrics.NewIdentityClient(ctx, metrics.IdentityConfig{
		Enabled:     cfg.Security.SPIFFEEnabled,
		SocketPath:  cfg.Security.SPIFFESocketPath,
		TrustDomain: cfg.Security.TrustDomain,
	}, cfg.Probe.FetchTimeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create identity client: %w", err)
	}
	defer closeIdentity()

	monCfg := monitor.Config{
		Service:       cfg.Service,
		Run:           cfg.RunSettings(),
		Logger:        logger,
		MeterProvider: bs.Telemetry.MeterProvider(),
	}

	if cfg.Probe.Enabled {
		probe, err := metrics.NewProbeSource(metrics.ProbeConfig{
			Endpoints: map[models.Cohort]string{
				models.CohortCanary: cfg.Probe.CanaryEndpoint,
				models.CohortStable: cfg.Probe.StableEndpoint,
			},
			HealthPath:   cfg.Probe.HealthPath,
			FetchTimeout: cfg.Probe.FetchTimeout,
			Client:       httpClient,
			Logger:       logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create probe source: %w", err)
		}
		monCfg.Source = probe
		monCfg.FetchTimeout = cfg.Probe.FetchTimeout

		if len(cfg.Discovery.Candidates) > 0 {
			monCfg.Discoverer = metrics.NewDiscoverer(metrics.DiscoveryConfig{
				Candidates:     cfg.Discovery.Candidates,
				StableEndpoint: cfg.Probe.StableEndpoint,
				HealthPath:     cfg.Discovery.HealthPath,
				CheckTimeout:   cfg.Discovery.CheckTimeout,
				Logger:         logger,
			})
			monCfg.OnDiscovered = func(res metrics.Resolution) {
				probe.SetEndpoint(models.CohortCanary, res.Endpoint)
			}
		}
	} else {
		source, err := metrics.NewPrometheusSource(metrics.PrometheusConfig{
			BaseURL:          cfg.Prometheus.BaseURL,
			FetchTimeout:     cfg.Prometheus.FetchTimeout,
			CanaryLabel:      cfg.Prometheus.CanaryLabel,
			StableLabel:      cfg.Prometheus.StableLabel,
			QueriesPerSecond: cfg.Prometheus.QueriesPerSecond,
			Logger:           logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create prometheus source: %w", err)
		}
		monCfg.Source = source
		monCfg.FetchTimeout = cfg.Prometheus.FetchTimeout
	}

	var recorders recorder.Multi
	if cfg.Recorder.File.Enabled {
		recorders = append(recorders, recorder.NewFileRecorder(cfg.Recorder.File.Dir, logger))
	}
	if cfg.Recorder.YDB.Enabled {
		conn := cfg.Recorder.YDB.Endpoint + cfg.Recorder.YDB.Database
		ydbRec, err := recorder.NewYDBRecorder(ctx, conn, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to YDB: %w", err)
		}
		defer ydbRec.Close(context.Background())

		if err := ydbRec.InitializeSchema(ctx); err != nil {
			return nil, fmt.Errorf("failed to initialize YDB schema: %w", err)
		}
		recorders = append(recorders, ydbRec)
	}
	if len(recorders) == 0 {
		monCfg.Recorder = recorder.Nop{}
	} else {
		monCfg.Recorder = recorders
	}

	if cfg.EventBus.Enabled {
		busCfg := eventbus.DefaultNATSConfig()
		busCfg.URL = cfg.EventBus.URL
		busCfg.StreamName = cfg.EventBus.StreamName
		busCfg.SubjectPrefix = cfg.EventBus.SubjectPrefix

		publisher, err := eventbus.NewNATSPublisher(busCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to event bus: %w", err)
		}
		defer publisher.Close()
		monCfg.Publisher = publisher
	}

	mon, err := monitor.New(monCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create monitor: %w", err)
	}

	if cfg.API.Enabled {
		statusServer, err := api.NewServer(api.Config{
			Addr:         cfg.API.Addr,
			ReadTimeout:  cfg.API.ReadTimeout,
			WriteTimeout: cfg.API.WriteTimeout,
			Provider:     mon,
			Logger:       logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create status server: %w", err)
		}
		statusServer.Start()
		defer statusServer.Stop(context.Background())
	}

	return mon.Run(ctx)
}

func generateReport(ctx context.Context, cfg *config.Config, record *models.RunRecord, logger *zap.Logger) error {
	engine, err := policy.NewDefaultEngine()
	if err != nil {
		return fmt.Errorf("failed to create policy engine: %w", err)
	}

	gen := report.NewGenerator(report.GeneratorConfig{
		Dir:    cfg.Report.Dir,
		Engine: engine,
		Logger: logger,
	})

	rep, err := gen.Build(ctx, record, report.Scores{
		Quality:  cfg.Report.QualityScore,
		Security: cfg.Report.SecurityScore,
		Coverage: cfg.Report.TestCoverage,
	})
	if err != nil {
		return err
	}

	_, err = gen.Save(rep)
	return err
}

// applyOverrides copies explicitly set flags over the loaded
// configuration; unset flags never clobber file or env values.
func applyOverrides(flags *pflag.FlagSet, cfg *config.Config, opts *monitorOptions) {
	if flags.Changed("service") {
		cfg.Service = opts.service
	}
	if flags.Changed("duration") {
		cfg.Run.Duration = opts.duration
	}
	if flags.Changed("check-interval") {
		cfg.Run.CheckInterval = opts.checkInterval
	}
	if flags.Changed("prometheus-url") {
		cfg.Prometheus.BaseURL = opts.prometheusURL
	}
}
