package models

import (
	"fmt"
	"time"
)

// Cohort identifies one of the two service versions under comparison
type Cohort string

const (
	CohortCanary Cohort = "canary"
	CohortStable Cohort = "stable"
)

// Cohorts lists all cohorts in a fixed order
func Cohorts() []Cohort {
	return []Cohort{CohortCanary, CohortStable}
}

// MetricSample is a single point-in-time observation for one cohort.
// Samples are immutable after creation and ordered by timestamp within
// a cohort.
type MetricSample struct {
	Cohort       Cohort    `json:"cohort"`
	Timestamp    time.Time `json:"timestamp"`
	ErrorRate    float64   `json:"error_rate"`     // 0.0 to 1.0
	P95LatencyMs float64   `json:"p95_latency_ms"` // >= 0
	RequestRate  float64   `json:"request_rate"`   // requests/sec, >= 0
	CPUPct       *float64  `json:"cpu_pct,omitempty"`
	MemPct       *float64  `json:"mem_pct,omitempty"`

	// Degraded marks samples produced through a fallback data path
	// (simulated resource values or a substituted endpoint).
	Degraded bool `json:"degraded,omitempty"`
}

// Validate checks sample field ranges
func (s *MetricSample) Validate() error {
	if s.Cohort != CohortCanary && s.Cohort != CohortStable {
		return fmt.Errorf("unknown cohort %q", s.Cohort)
	}
	if s.ErrorRate < 0 || s.ErrorRate > 1 {
		return fmt.Errorf("error rate %f out of range [0,1]", s.ErrorRate)
	}
	if s.P95LatencyMs < 0 {
		return fmt.Errorf("p95 latency %f must be >= 0", s.P95LatencyMs)
	}
	if s.RequestRate < 0 {
		return fmt.Errorf("request rate %f must be >= 0", s.RequestRate)
	}
	return nil
}

// ThresholdConfig holds the safety thresholds for one monitoring run.
// Immutable after validation.
type ThresholdConfig struct {
	ErrorRateMax        float64 `json:"error_rate_max" mapstructure:"error_rate_max"`
	LatencyMsMax        float64 `json:"latency_ms_max" mapstructure:"latency_ms_max"`
	SuccessRateMin      float64 `json:"success_rate_min" mapstructure:"success_rate_min"`
	RatioAlarmFactor    float64 `json:"ratio_alarm_factor" mapstructure:"ratio_alarm_factor"`
	LatencyDeltaAlarmMs float64 `json:"latency_delta_alarm_ms" mapstructure:"latency_delta_alarm_ms"`
}

// DefaultThresholds returns the default threshold configuration
func DefaultThresholds() ThresholdConfig {
	return ThresholdConfig{
		ErrorRateMax:        0.01,
		LatencyMsMax:        500,
		SuccessRateMin:      0.99,
		RatioAlarmFactor:    2.0,
		LatencyDeltaAlarmMs: 100,
	}
}

// Validate rejects threshold configurations that could never drive a
// meaningful decision. Returns the first violation found.
func (t ThresholdConfig) Validate() error {
	if t.ErrorRateMax < 0 || t.ErrorRateMax > 1 {
		return fmt.Errorf("error_rate_max %f out of range [0,1]", t.ErrorRateMax)
	}
	if t.SuccessRateMin < 0 || t.SuccessRateMin > 1 {
		return fmt.Errorf("success_rate_min %f out of range [0,1]", t.SuccessRateMin)
	}
	if t.LatencyMsMax <= 0 {
		return fmt.Errorf("latency_ms_max %f must be > 0", t.LatencyMsMax)
	}
	if t.RatioAlarmFactor <= 0 {
		return fmt.Errorf("ratio_alarm_factor %f must be > 0", t.RatioAlarmFactor)
	}
	if t.LatencyDeltaAlarmMs <= 0 {
		return fmt.Errorf("latency_delta_alarm_ms %f must be > 0", t.LatencyDeltaAlarmMs)
	}
	return nil
}

// WindowAggregate holds arithmetic means over a trailing sample window.
// SampleCount == 0 is a valid, distinguishable state and means the
// window held no samples.
type WindowAggregate struct {
	Cohort           Cohort  `json:"cohort"`
	MeanErrorRate    float64 `json:"mean_error_rate"`
	MeanP95LatencyMs float64 `json:"mean_p95_latency_ms"`
	MeanRequestRate  float64 `json:"mean_request_rate"`
	SampleCount      int     `json:"sample_count"`
}

// Verdict is the categorical outcome of a single analysis pass
type Verdict string

const (
	VerdictContinue     Verdict = "continue"
	VerdictRollback     Verdict = "rollback"
	VerdictInconclusive Verdict = "inconclusive"
)

// RunOutcome is the terminal outcome of a whole monitoring run
type RunOutcome string

const (
	OutcomePromote      RunOutcome = "promote"
	OutcomeRollback     RunOutcome = "rollback"
	OutcomeInconclusive RunOutcome = "inconclusive"
	// OutcomeUnknown reports an interrupted run; distinct from both
	// promote and rollback so callers never mistake a canceled run
	// for a passing one.
	OutcomeUnknown RunOutcome = "unknown"
)

// Comparison holds the canary-vs-stable deltas computed per analysis
type Comparison struct {
	ErrorRateDiff  float64 `json:"error_rate_diff"`
	LatencyDiffMs  float64 `json:"latency_diff_ms"`
	ErrorRateRatio float64 `json:"error_rate_ratio"`
}

// AnalysisResult is the immutable output of one analyzer invocation
type AnalysisResult struct {
	Verdict         Verdict         `json:"verdict"`
	Reasons         []string        `json:"reasons"`
	CanaryAggregate WindowAggregate `json:"canary_aggregate"`
	StableAggregate WindowAggregate `json:"stable_aggregate"`
	Comparison      Comparison      `json:"comparison"`
	ProducedAt      time.Time       `json:"produced_at"`
}

// RunConfig captures the monitoring parameters recorded with each run
type RunConfig struct {
	Duration       time.Duration   `json:"duration"`
	CheckInterval  time.Duration   `json:"check_interval"`
	AnalyzeEvery   int             `json:"analyze_every"`
	AnalysisWindow time.Duration   `json:"analysis_window"`
	Thresholds     ThresholdConfig `json:"thresholds"`
}

// RunRecord is the serializable unit handed to the decision recorder
// at the end of a run.
type RunRecord struct {
	RunID        string           `json:"run_id"`
	Service      string           `json:"service"`
	Config       RunConfig        `json:"config"`
	StartedAt    time.Time        `json:"started_at"`
	FinishedAt   time.Time        `json:"finished_at"`
	TotalChecks  int              `json:"total_checks"`
	SampleCounts map[Cohort]int   `json:"sample_counts"`
	History      []AnalysisResult `json:"history"`
	FinalResult  *AnalysisResult  `json:"final_result,omitempty"`
	FinalOutcome RunOutcome       `json:"final_outcome"`
	Degraded     bool             `json:"degraded,omitempty"`
}
