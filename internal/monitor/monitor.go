// Package monitor drives a canary monitoring run: it samples both
// cohorts on a fixed cadence, invokes the comparative analyzer over the
// trailing window, reacts to early rollback verdicts, and produces the
// terminal promote/rollback decision at duration expiry.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/canary-release-guard/crg/internal/analyzer"
	"github.com/canary-release-guard/crg/internal/metrics"
	"github.com/canary-release-guard/crg/internal/models"
	"github.com/canary-release-guard/crg/internal/recorder"
	"github.com/canary-release-guard/crg/internal/samples"
)

// Phase tracks where a run is in its lifecycle
type Phase string

const (
	PhaseInit          Phase = "init"
	PhaseDiscovering   Phase = "discovering"
	PhaseSampling      Phase = "sampling"
	PhaseAnalyzing     Phase = "analyzing"
	PhaseFinalAnalysis Phase = "final_analysis"
	PhaseTerminated    Phase = "terminated"
)

// degradedNote is appended to analysis reasons for the whole run once
// discovery substitutes the stable endpoint for the canary.
const degradedNote = "degraded mode: canary endpoint unresolved, stable endpoint substituted"

// Publisher receives run lifecycle notifications. The NATS event bus
// implements it; a nil publisher disables notification.
type Publisher interface {
	PublishAnalysis(ctx context.Context, runID string, result models.AnalysisResult) error
	PublishRunFinished(ctx context.Context, record *models.RunRecord) error
}

// Discoverer resolves the canary endpoint before sampling starts
type Discoverer interface {
	Resolve(ctx context.Context) (metrics.Resolution, error)
}

// Config holds everything one monitoring run needs
type Config struct {
	Service string
	Run     models.RunConfig

	Source     metrics.Source
	Discoverer Discoverer // optional
	Recorder   recorder.Recorder
	Publisher  Publisher // optional

	// OnDiscovered receives the resolved canary endpoint, letting the
	// probe source retarget before the first fetch.
	OnDiscovered func(metrics.Resolution)

	FetchTimeout  time.Duration
	Logger        *zap.Logger
	MeterProvider metric.MeterProvider
}

// Monitor owns the state of a single monitoring run. Each run holds
// its own sample store and history; concurrent runs for different
// services do not interfere.
type Monitor struct {
	cfg    Config
	logger *zap.Logger
	store  *samples.Store

	mu          sync.RWMutex
	runID       string
	phase       Phase
	startedAt   time.Time
	totalChecks int
	degraded    bool
	history     []models.AnalysisResult

	checksCounter    metric.Int64Counter
	failureCounter   metric.Int64Counter
	verdictCounter   metric.Int64Counter
	fetchDuration    metric.Float64Histogram
	analysisDuration metric.Float64Histogram
}

// New validates the configuration and creates a monitor. Invalid
// thresholds are fatal here; the run never starts.
func New(cfg Config) (*Monitor, error) {
	if cfg.Source == nil {
		return nil, fmt.Errorf("metric source is required")
	}
	if cfg.Recorder == nil {
		return nil, fmt.Errorf("decision recorder is required")
	}
	if err := cfg.Run.Thresholds.Validate(); err != nil {
		return nil, fmt.Errorf("invalid thresholds: %w", err)
	}
	if cfg.Run.Duration <= 0 {
		return nil, fmt.Errorf("duration must be > 0")
	}
	if cfg.Run.CheckInterval <= 0 {
		return nil, fmt.Errorf("check interval must be > 0")
	}
	if cfg.Run.AnalyzeEvery <= 0 {
		cfg.Run.AnalyzeEvery = 5
	}
	if cfg.Run.AnalysisWindow <= 0 {
		cfg.Run.AnalysisWindow = 5 * time.Minute
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	m := &Monitor{
		cfg:    cfg,
		logger: cfg.Logger,
		store:  samples.NewStore(),
		runID:  uuid.New().String(),
		phase:  PhaseInit,
	}

	if cfg.MeterProvider != nil {
		meter := cfg.MeterProvider.Meter("canary_monitor")

		var err error
		m.checksCounter, err = meter.Int64Counter(
			"canary_checks_total",
			metric.WithDescription("Total sampling ticks performed"),
		)
		if err != nil {
			return nil, err
		}
		m.failureCounter, err = meter.Int64Counter(
			"canary_fetch_failures_total",
			metric.WithDescription("Metric fetches that failed and were skipped"),
		)
		if err != nil {
			return nil, err
		}
		m.verdictCounter, err = meter.Int64Counter(
			"canary_verdicts_total",
			metric.WithDescription("Analysis verdicts by type"),
		)
		if err != nil {
			return nil, err
		}
		m.fetchDuration, err = meter.Float64Histogram(
			"canary_fetch_duration_seconds",
			metric.WithDescription("Duration of per-cohort metric fetches"),
		)
		if err != nil {
			return nil, err
		}
		m.analysisDuration, err = meter.Float64Histogram(
			"canary_analysis_duration_seconds",
			metric.WithDescription("Duration of comparative analysis passes"),
		)
		if err != nil {
			return nil, err
		}
	}

	return m, nil
}

// RunID returns the unique identifier of this run
func (m *Monitor) RunID() string {
	return m.runID
}

// RunSettings returns the effective run configuration after defaults
// were applied.
func (m *Monitor) RunSettings() models.RunConfig {
	return m.cfg.Run
}

// History returns a copy of all analysis results produced so far
func (m *Monitor) History() []models.AnalysisResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.AnalysisResult, len(m.history))
	copy(out, m.history)
	return out
}

// Snapshot returns the current phase and history for status reporting
func (m *Monitor) Snapshot() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := Status{
		RunID:       m.runID,
		Service:     m.cfg.Service,
		Phase:       m.phase,
		StartedAt:   m.startedAt,
		TotalChecks: m.totalChecks,
		Degraded:    m.degraded,
	}
	if n := len(m.history); n > 0 {
		last := m.history[n-1]
		status.LastAnalysis = &last
	}
	return status
}

// Status is a point-in-time view of a run for the status API
type Status struct {
	RunID        string                 `json:"run_id"`
	Service      string                 `json:"service"`
	Phase        Phase                  `json:"phase"`
	StartedAt    time.Time              `json:"started_at"`
	TotalChecks  int                    `json:"total_checks"`
	Degraded     bool                   `json:"degraded"`
	LastAnalysis *models.AnalysisResult `json:"last_analysis,omitempty"`
}

// Run executes the monitoring loop until an early rollback, duration
// expiry, or cancellation. It always hands the run record to the
// recorder before returning, including on cancellation.
func (m *Monitor) Run(ctx context.Context) (*models.RunRecord, error) {
	m.mu.Lock()
	m.startedAt = time.Now().UTC()
	m.phase = PhaseDiscovering
	m.mu.Unlock()

	m.logger.Info("starting canary monitoring",
		zap.String("run_id", m.runID),
		zap.String("service", m.cfg.Service),
		zap.Duration("duration", m.cfg.Run.Duration),
		zap.Duration("check_interval", m.cfg.Run.CheckInterval))

	if m.cfg.Discoverer != nil {
		resolution, err := m.cfg.Discoverer.Resolve(ctx)
		if err != nil {
			return m.terminate(ctx, models.OutcomeUnknown, nil), fmt.Errorf("discovery failed: %w", err)
		}
		if resolution.Degraded {
			m.mu.Lock()
			m.degraded = true
			m.mu.Unlock()
		}
		if m.cfg.OnDiscovered != nil {
			m.cfg.OnDiscovered(resolution)
		}
	}

	m.setPhase(PhaseSampling)

	deadline := time.NewTimer(m.cfg.Run.Duration)
	defer deadline.Stop()
	ticker := time.NewTicker(m.cfg.Run.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Warn("monitoring canceled, run outcome is unknown",
				zap.String("run_id", m.runID))
			return m.terminate(ctx, models.OutcomeUnknown, nil), ctx.Err()

		case <-deadline.C:
			return m.finalAnalysis(ctx)

		case <-ticker.C:
			m.collectTick(ctx)

			m.mu.RLock()
			checks := m.totalChecks
			m.mu.RUnlock()

			if checks%m.cfg.Run.AnalyzeEvery != 0 {
				continue
			}

			m.setPhase(PhaseAnalyzing)
			result := m.analyze(ctx)
			m.recordAnalysis(ctx, result)

			if result.Verdict == models.VerdictRollback {
				m.logger.Error("canary analysis failed, rolling back early",
					zap.String("run_id", m.runID),
					zap.Strings("reasons", result.Reasons),
					zap.Int("checks_completed", checks))
				return m.terminate(ctx, models.OutcomeRollback, &result), nil
			}

			m.store.Prune()
			m.setPhase(PhaseSampling)
		}
	}
}

// collectTick fetches one sample per cohort concurrently under a shared
// deadline. Both fetches finish before anything is committed; a failed
// cohort is skipped for the tick, never retried within it.
func (m *Monitor) collectTick(ctx context.Context) {
	tickCtx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
	defer cancel()

	cohorts := models.Cohorts()
	fetched := make([]*models.MetricSample, len(cohorts))

	var wg sync.WaitGroup
	for i, cohort := range cohorts {
		wg.Add(1)
		go func(i int, cohort models.Cohort) {
			defer wg.Done()
			start := time.Now()
			sample, err := m.cfg.Source.Fetch(tickCtx, cohort)
			m.observeFetch(ctx, cohort, start, err)
			if err != nil {
				m.logger.Warn("metric fetch failed, skipping tick sample",
					zap.String("run_id", m.runID),
					zap.String("cohort", string(cohort)),
					zap.Error(err))
				return
			}
			fetched[i] = sample
		}(i, cohort)
	}
	wg.Wait()

	// Both cohorts have completed or failed; commit together.
	for _, sample := range fetched {
		if sample == nil {
			continue
		}
		if err := m.store.Append(*sample); err != nil {
			m.logger.Warn("dropping sample",
				zap.String("run_id", m.runID),
				zap.String("cohort", string(sample.Cohort)),
				zap.Error(err))
		}
	}

	m.mu.Lock()
	m.totalChecks++
	checks := m.totalChecks
	m.mu.Unlock()

	if m.checksCounter != nil {
		m.checksCounter.Add(ctx, 1,
			metric.WithAttributes(attribute.String("service", m.cfg.Service)))
	}

	m.logger.Debug("collected tick samples",
		zap.String("run_id", m.runID),
		zap.Int("check", checks),
		zap.Int("canary_samples", m.store.Count(models.CohortCanary)),
		zap.Int("stable_samples", m.store.Count(models.CohortStable)))
}

func (m *Monitor) analyze(ctx context.Context) models.AnalysisResult {
	start := time.Now()
	defer func() {
		if m.analysisDuration != nil {
			m.analysisDuration.Record(ctx, time.Since(start).Seconds(),
				metric.WithAttributes(attribute.String("service", m.cfg.Service)))
		}
	}()

	canaryAgg := m.store.Aggregate(models.CohortCanary, m.cfg.Run.AnalysisWindow)
	stableAgg := m.store.Aggregate(models.CohortStable, m.cfg.Run.AnalysisWindow)

	opts := analyzer.Options{
		StaleData: m.store.Count(models.CohortCanary) > 0 && m.store.Count(models.CohortStable) > 0,
	}
	m.mu.RLock()
	if m.degraded {
		opts.DegradedNote = degradedNote
	}
	m.mu.RUnlock()

	return analyzer.Analyze(canaryAgg, stableAgg, m.cfg.Run.Thresholds, opts)
}

func (m *Monitor) recordAnalysis(ctx context.Context, result models.AnalysisResult) {
	m.mu.Lock()
	m.history = append(m.history, result)
	m.mu.Unlock()

	if m.verdictCounter != nil {
		m.verdictCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("service", m.cfg.Service),
			attribute.String("verdict", string(result.Verdict))))
	}

	m.logger.Info("analysis completed",
		zap.String("run_id", m.runID),
		zap.String("verdict", string(result.Verdict)),
		zap.Strings("reasons", result.Reasons),
		zap.Float64("canary_error_rate", result.CanaryAggregate.MeanErrorRate),
		zap.Float64("canary_p95_ms", result.CanaryAggregate.MeanP95LatencyMs))

	if m.cfg.Publisher != nil {
		if err := m.cfg.Publisher.PublishAnalysis(ctx, m.runID, result); err != nil {
			m.logger.Warn("failed to publish analysis event", zap.Error(err))
		}
	}
}

// finalAnalysis runs the mandatory end-of-duration analysis and maps
// its verdict to the terminal outcome. A run that never produced a
// conclusive analysis ends inconclusive, never promoted.
func (m *Monitor) finalAnalysis(ctx context.Context) (*models.RunRecord, error) {
	m.setPhase(PhaseFinalAnalysis)

	result := m.analyze(ctx)
	m.recordAnalysis(ctx, result)

	var outcome models.RunOutcome
	switch result.Verdict {
	case models.VerdictContinue:
		outcome = models.OutcomePromote
	case models.VerdictRollback:
		outcome = models.OutcomeRollback
	default:
		outcome = models.OutcomeInconclusive
	}

	m.logger.Info("canary monitoring completed",
		zap.String("run_id", m.runID),
		zap.String("final_outcome", string(outcome)),
		zap.Strings("reasons", result.Reasons))

	return m.terminate(ctx, outcome, &result), nil
}

// terminate assembles the run record, hands it to the recorder, and
// notifies the publisher. Recorder failures are logged, not returned;
// the decision itself must still reach the caller.
func (m *Monitor) terminate(ctx context.Context, outcome models.RunOutcome, final *models.AnalysisResult) *models.RunRecord {
	m.setPhase(PhaseTerminated)

	m.mu.RLock()
	record := &models.RunRecord{
		RunID:       m.runID,
		Service:     m.cfg.Service,
		Config:      m.cfg.Run,
		StartedAt:   m.startedAt,
		FinishedAt:  time.Now().UTC(),
		TotalChecks: m.totalChecks,
		SampleCounts: map[models.Cohort]int{
			models.CohortCanary: m.store.Count(models.CohortCanary),
			models.CohortStable: m.store.Count(models.CohortStable),
		},
		History:      append([]models.AnalysisResult(nil), m.history...),
		FinalResult:  final,
		FinalOutcome: outcome,
		Degraded:     m.degraded,
	}
	m.mu.RUnlock()

	// The record must be persisted even when ctx is already canceled.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if err := m.cfg.Recorder.Write(writeCtx, record); err != nil {
		m.logger.Error("failed to record run outcome",
			zap.String("run_id", m.runID),
			zap.Error(err))
	}

	if m.cfg.Publisher != nil {
		if err := m.cfg.Publisher.PublishRunFinished(writeCtx, record); err != nil {
			m.logger.Warn("failed to publish run finished event", zap.Error(err))
		}
	}

	return record
}

func (m *Monitor) setPhase(phase Phase) {
	m.mu.Lock()
	m.phase = phase
	m.mu.Unlock()
}

func (m *Monitor) observeFetch(ctx context.Context, cohort models.Cohort, start time.Time, err error) {
	if m.fetchDuration != nil {
		m.fetchDuration.Record(ctx, time.Since(start).Seconds(),
			metric.WithAttributes(attribute.String("cohort", string(cohort))))
	}
	if err != nil && m.failureCounter != nil {
		kind := "unknown"
		if fe, ok := metrics.AsFetchError(err); ok {
			kind = string(fe.Kind)
		}
		m.failureCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.String("cohort", string(cohort)),
			attribute.String("kind", kind)))
	}
}
