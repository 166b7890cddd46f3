package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/canary-release-guard/crg/internal/models"
)

// Defaults substituted when a probed service does not expose the
// corresponding telemetry. Samples built on these are flagged degraded
// so the analyzer output never presents them as measured data.
const (
	defaultProbeCPUPct = 65.0
	defaultProbeMemPct = 70.0
)

// ProbeConfig holds settings for the direct health-endpoint probe
type ProbeConfig struct {
	// Endpoints maps each cohort to its service base URL. Discovery
	// fills the canary entry before the first fetch.
	Endpoints map[models.Cohort]string

	HealthPath   string        `mapstructure:"health_path"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`

	// Client overrides the HTTP client, e.g. for mTLS via the
	// workload identity helper. Nil uses a plain client.
	Client *http.Client

	Logger *zap.Logger
}

// ProbeSource derives approximate cohort metrics from a service's own
// health endpoint. It is the fallback path when no query backend is
// reachable and is inherently lower fidelity than PrometheusSource.
type ProbeSource struct {
	endpoints  map[models.Cohort]string
	healthPath string
	client     *http.Client
	logger     *zap.Logger
	now        func() time.Time
}

// healthPayload models the structured health response the probe
// understands. Services that expose only a status field still yield a
// valid, degraded sample.
type healthPayload struct {
	Status      string `json:"status"`
	Performance *struct {
		ErrorRate    *float64 `json:"errorRate"`
		P95LatencyMs *float64 `json:"p95LatencyMs"`
		RequestRate  *float64 `json:"requestRate"`
		CPUPct       *float64 `json:"cpuPct"`
		MemoryUsage  *struct {
			HeapUsed string `json:"heapUsed"`
		} `json:"memoryUsage"`
	} `json:"performance"`
}

// NewProbeSource creates a direct-probe metric source
func NewProbeSource(cfg ProbeConfig) (*ProbeSource, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("probe endpoints are required")
	}
	if cfg.HealthPath == "" {
		cfg.HealthPath = "/api/v1/health"
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}
	client.Timeout = cfg.FetchTimeout

	endpoints := make(map[models.Cohort]string, len(cfg.Endpoints))
	for cohort, endpoint := range cfg.Endpoints {
		endpoints[cohort] = strings.TrimRight(endpoint, "/")
	}

	return &ProbeSource{
		endpoints:  endpoints,
		healthPath: cfg.HealthPath,
		client:     client,
		logger:     cfg.Logger,
		now:        time.Now,
	}, nil
}

// SetEndpoint updates a cohort's base URL, used by discovery
func (p *ProbeSource) SetEndpoint(cohort models.Cohort, endpoint string) {
	p.endpoints[cohort] = strings.TrimRight(endpoint, "/")
}

// Fetch probes the cohort's health endpoint and derives a sample.
// Missing telemetry fields fall back to defaults and mark the sample
// degraded.
func (p *ProbeSource) Fetch(ctx context.Context, cohort models.Cohort) (*models.MetricSample, error) {
	endpoint, ok := p.endpoints[cohort]
	if !ok || endpoint == "" {
		return nil, &FetchError{Cohort: cohort, Kind: FailureConnection, Err: fmt.Errorf("no endpoint configured for cohort %q", cohort)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+p.healthPath, nil)
	if err != nil {
		return nil, &FetchError{Cohort: cohort, Kind: FailureMalformed, Err: err}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		kind := FailureConnection
		var ne net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
			kind = FailureTimeout
		}
		return nil, &FetchError{Cohort: cohort, Kind: kind, Err: err}
	}
	defer resp.Body.Close()

	// 206 means partial health; still carries usable telemetry.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return nil, &FetchError{Cohort: cohort, Kind: FailureStatus, Err: fmt.Errorf("health check returned %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &FetchError{Cohort: cohort, Kind: FailureConnection, Err: err}
	}

	var payload healthPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &FetchError{Cohort: cohort, Kind: FailureMalformed, Err: err}
	}

	sample := p.deriveSample(cohort, &payload)

	p.logger.Debug("fetched probe sample",
		zap.String("cohort", string(cohort)),
		zap.String("endpoint", endpoint),
		zap.Bool("degraded", sample.Degraded),
		zap.Float64("error_rate", sample.ErrorRate))

	return sample, nil
}

func (p *ProbeSource) deriveSample(cohort models.Cohort, payload *healthPayload) *models.MetricSample {
	sample := &models.MetricSample{
		Cohort:    cohort,
		Timestamp: p.now().UTC(),
	}

	perf := payload.Performance
	if perf == nil {
		sample.Degraded = true
		cpu, mem := defaultProbeCPUPct, defaultProbeMemPct
		sample.CPUPct = &cpu
		sample.MemPct = &mem
		return sample
	}

	if perf.ErrorRate != nil {
		sample.ErrorRate = clamp01(*perf.ErrorRate)
	} else {
		sample.Degraded = true
	}
	if perf.P95LatencyMs != nil {
		sample.P95LatencyMs = *perf.P95LatencyMs
	} else {
		sample.Degraded = true
	}
	if perf.RequestRate != nil {
		sample.RequestRate = *perf.RequestRate
	} else {
		sample.Degraded = true
	}

	if perf.CPUPct != nil {
		cpu := *perf.CPUPct
		sample.CPUPct = &cpu
	} else {
		cpu := defaultProbeCPUPct
		sample.CPUPct = &cpu
		sample.Degraded = true
	}

	if perf.MemoryUsage != nil && perf.MemoryUsage.HeapUsed != "" {
		if mem, ok := heapUsedToPct(perf.MemoryUsage.HeapUsed); ok {
			sample.MemPct = &mem
		}
	}
	if sample.MemPct == nil {
		mem := defaultProbeMemPct
		sample.MemPct = &mem
		sample.Degraded = true
	}

	return sample
}

// heapUsedToPct converts a "123MB" heap figure into a rough percentage
// of a 1GiB budget, capped at 100.
func heapUsedToPct(heapUsed string) (float64, bool) {
	trimmed := strings.TrimSuffix(strings.TrimSpace(heapUsed), "MB")
	mb, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, false
	}
	pct := mb / 1024 * 100
	if pct > 100 {
		pct = 100
	}
	return pct, true
}
