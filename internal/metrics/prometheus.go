package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/canary-release-guard/crg/internal/models"
)

// Query expressions mirror the instrumentation contract of the services
// under test: http_requests_total and http_request_duration_seconds,
// both carrying a version label that scopes the cohort.
const (
	errorRateQuery = `rate(http_requests_total{version=%q,status=~"4..|5.."}[5m]) / rate(http_requests_total{version=%q}[5m])`
	latencyQuery   = `histogram_quantile(0.95, rate(http_request_duration_seconds_bucket{version=%q}[5m]))`
	requestQuery   = `rate(http_requests_total{version=%q}[5m])`
)

// PrometheusConfig holds settings for the Prometheus query source
type PrometheusConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	FetchTimeout time.Duration `mapstructure:"fetch_timeout"`
	CanaryLabel  string        `mapstructure:"canary_label"`
	StableLabel  string        `mapstructure:"stable_label"`

	// QueriesPerSecond caps the query rate against the backend.
	// Zero disables limiting.
	QueriesPerSecond float64 `mapstructure:"queries_per_second"`

	Logger *zap.Logger
}

// PrometheusSource fetches cohort samples from a Prometheus-compatible
// query API, aggregated server-side.
type PrometheusSource struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	labels  map[models.Cohort]string
	logger  *zap.Logger
	now     func() time.Time
}

// NewPrometheusSource creates a query-backed metric source
func NewPrometheusSource(cfg PrometheusConfig) (*PrometheusSource, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("prometheus base URL is required")
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.CanaryLabel == "" {
		cfg.CanaryLabel = string(models.CohortCanary)
	}
	if cfg.StableLabel == "" {
		cfg.StableLabel = string(models.CohortStable)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if cfg.QueriesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.QueriesPerSecond), 3)
	}

	return &PrometheusSource{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: cfg.FetchTimeout},
		limiter: limiter,
		labels: map[models.Cohort]string{
			models.CohortCanary: cfg.CanaryLabel,
			models.CohortStable: cfg.StableLabel,
		},
		logger: cfg.Logger,
		now:    time.Now,
	}, nil
}

// Fetch runs the three cohort queries and assembles one sample. A query
// returning "no data" contributes a zero value, matching server-side
// rate() behavior for absent series.
func (p *PrometheusSource) Fetch(ctx context.Context, cohort models.Cohort) (*models.MetricSample, error) {
	label, ok := p.labels[cohort]
	if !ok {
		return nil, &FetchError{Cohort: cohort, Kind: FailureMalformed, Err: fmt.Errorf("no version label for cohort %q", cohort)}
	}

	errorRate, err := p.queryScalar(ctx, fmt.Sprintf(errorRateQuery, label, label))
	if err != nil {
		return nil, p.wrap(cohort, err)
	}

	latencySec, err := p.queryScalar(ctx, fmt.Sprintf(latencyQuery, label))
	if err != nil {
		return nil, p.wrap(cohort, err)
	}

	requestRate, err := p.queryScalar(ctx, fmt.Sprintf(requestQuery, label))
	if err != nil {
		return nil, p.wrap(cohort, err)
	}

	sample := &models.MetricSample{
		Cohort:       cohort,
		Timestamp:    p.now().UTC(),
		ErrorRate:    clamp01(errorRate),
		P95LatencyMs: latencySec * 1000,
		RequestRate:  requestRate,
	}

	p.logger.Debug("fetched prometheus sample",
		zap.String("cohort", string(cohort)),
		zap.Float64("error_rate", sample.ErrorRate),
		zap.Float64("p95_latency_ms", sample.P95LatencyMs),
		zap.Float64("request_rate", sample.RequestRate))

	return sample, nil
}

// promResponse models the subset of the Prometheus query API response
// the source consumes.
type promResponse struct {
	Status string `json:"status"`
	Data   struct {
		ResultType string `json:"resultType"`
		Result     []struct {
			Value [2]interface{} `json:"value"`
		} `json:"result"`
	} `json:"data"`
}

func (p *PrometheusSource) queryScalar(ctx context.Context, query string) (float64, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return 0, err
		}
	}

	endpoint := fmt.Sprintf("%s/api/v1/query?%s", p.baseURL,
		url.Values{"query": {query}}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, &statusError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, err
	}

	var parsed promResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, &malformedError{err: err}
	}
	if parsed.Status != "success" {
		return 0, &malformedError{err: fmt.Errorf("query status %q", parsed.Status)}
	}

	// Absent series means no data for the cohort yet; report zero the
	// way rate() over an empty range would.
	if len(parsed.Data.Result) == 0 {
		return 0, nil
	}

	raw, ok := parsed.Data.Result[0].Value[1].(string)
	if !ok {
		return 0, &malformedError{err: fmt.Errorf("non-string sample value")}
	}

	var value float64
	if _, err := fmt.Sscanf(raw, "%g", &value); err != nil {
		return 0, &malformedError{err: fmt.Errorf("parse sample value %q: %w", raw, err)}
	}
	return value, nil
}

type statusError struct{ code int }

func (e *statusError) Error() string { return fmt.Sprintf("unexpected status %d", e.code) }

type malformedError struct{ err error }

func (e *malformedError) Error() string { return fmt.Sprintf("malformed response: %v", e.err) }
func (e *malformedError) Unwrap() error { return e.err }

func (p *PrometheusSource) wrap(cohort models.Cohort, err error) error {
	kind := FailureConnection
	var se *statusError
	var me *malformedError
	var ne net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &ne) && ne.Timeout():
		kind = FailureTimeout
	case errors.As(err, &se):
		kind = FailureStatus
	case errors.As(err, &me):
		kind = FailureMalformed
	}
	return &FetchError{Cohort: cohort, Kind: kind, Err: err}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
