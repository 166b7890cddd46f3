// Package analyzer implements the comparative canary analysis. Analyze
// is a pure function of two window aggregates and a threshold
// configuration; given identical inputs it produces identical results.
package analyzer

import (
	"fmt"
	"time"

	"github.com/canary-release-guard/crg/internal/models"
)

// epsilon guards the error-rate ratio against division by zero when the
// stable cohort reports a zero error rate. The value is part of the
// decision contract and must not change between runs.
const epsilon = 0.001

// ReasonInsufficientData is returned when a cohort never produced samples
const ReasonInsufficientData = "insufficient metrics data"

// ReasonNoRecentData is returned when samples exist but none fall
// inside the analysis window.
const ReasonNoRecentData = "no recent metrics available"

// condition is one named rollback predicate. Conditions are evaluated
// in declaration order and each appends its own reason on failure, so
// several can fire in a single analysis.
type condition struct {
	name      string
	violated  func(c, s models.WindowAggregate, cmp models.Comparison, t models.ThresholdConfig) bool
	reasonFor func(c, s models.WindowAggregate, cmp models.Comparison, t models.ThresholdConfig) string
}

var rollbackConditions = []condition{
	{
		name: "error_rate_max",
		violated: func(c, _ models.WindowAggregate, _ models.Comparison, t models.ThresholdConfig) bool {
			return c.MeanErrorRate > t.ErrorRateMax
		},
		reasonFor: func(c, _ models.WindowAggregate, _ models.Comparison, t models.ThresholdConfig) string {
			return fmt.Sprintf("error rate %.4f exceeds threshold %g", c.MeanErrorRate, t.ErrorRateMax)
		},
	},
	{
		name: "latency_ms_max",
		violated: func(c, _ models.WindowAggregate, _ models.Comparison, t models.ThresholdConfig) bool {
			return c.MeanP95LatencyMs > t.LatencyMsMax
		},
		reasonFor: func(c, _ models.WindowAggregate, _ models.Comparison, t models.ThresholdConfig) string {
			return fmt.Sprintf("p95 latency %.1fms exceeds threshold %gms", c.MeanP95LatencyMs, t.LatencyMsMax)
		},
	},
	{
		name: "error_rate_ratio",
		violated: func(_, _ models.WindowAggregate, cmp models.Comparison, t models.ThresholdConfig) bool {
			return cmp.ErrorRateRatio > t.RatioAlarmFactor
		},
		reasonFor: func(_, _ models.WindowAggregate, cmp models.Comparison, t models.ThresholdConfig) string {
			return fmt.Sprintf("error rate is %.1fx higher than stable", cmp.ErrorRateRatio)
		},
	},
	{
		name: "latency_delta",
		violated: func(_, _ models.WindowAggregate, cmp models.Comparison, t models.ThresholdConfig) bool {
			return cmp.LatencyDiffMs > t.LatencyDeltaAlarmMs
		},
		reasonFor: func(_, _ models.WindowAggregate, cmp models.Comparison, t models.ThresholdConfig) string {
			return fmt.Sprintf("latency is %.1fms higher than stable", cmp.LatencyDiffMs)
		},
	},
}

// ConditionNames returns the rollback condition names in evaluation order
func ConditionNames() []string {
	names := make([]string, len(rollbackConditions))
	for i, c := range rollbackConditions {
		names[i] = c.name
	}
	return names
}

// Options adjust analysis output without changing the decision logic
type Options struct {
	// StaleData switches the inconclusive reason from "insufficient"
	// to "no recent", for callers that know samples exist outside the
	// window.
	StaleData bool

	// DegradedNote, when non-empty, is appended to every result's
	// reasons. The scheduler sets it after discovery falls back to a
	// substituted endpoint.
	DegradedNote string

	// Now supplies the ProducedAt timestamp; defaults to time.Now.
	// Injected so repeated analyses over the same inputs can be
	// compared bit for bit.
	Now func() time.Time
}

// Analyze compares a canary window against a stable window under the
// given thresholds and returns the verdict with its ordered reasons.
//
// Any single violated rollback condition forces ROLLBACK, overriding
// an otherwise passing success rate. An empty window on either side
// yields INCONCLUSIVE, never CONTINUE or ROLLBACK.
func Analyze(canary, stable models.WindowAggregate, thresholds models.ThresholdConfig, opts Options) models.AnalysisResult {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	result := models.AnalysisResult{
		CanaryAggregate: canary,
		StableAggregate: stable,
		ProducedAt:      now().UTC(),
	}

	if canary.SampleCount == 0 || stable.SampleCount == 0 {
		result.Verdict = models.VerdictInconclusive
		reason := ReasonInsufficientData
		if opts.StaleData {
			reason = ReasonNoRecentData
		}
		result.Reasons = append(result.Reasons, reason)
		return finish(result, opts)
	}

	denom := stable.MeanErrorRate
	if denom < epsilon {
		denom = epsilon
	}
	result.Comparison = models.Comparison{
		ErrorRateDiff:  canary.MeanErrorRate - stable.MeanErrorRate,
		LatencyDiffMs:  canary.MeanP95LatencyMs - stable.MeanP95LatencyMs,
		ErrorRateRatio: canary.MeanErrorRate / denom,
	}

	for _, cond := range rollbackConditions {
		if cond.violated(canary, stable, result.Comparison, thresholds) {
			result.Reasons = append(result.Reasons, cond.reasonFor(canary, stable, result.Comparison, thresholds))
		}
	}

	if len(result.Reasons) > 0 {
		result.Verdict = models.VerdictRollback
		return finish(result, opts)
	}

	successRate := 1 - canary.MeanErrorRate
	if successRate >= thresholds.SuccessRateMin {
		result.Verdict = models.VerdictContinue
		result.Reasons = append(result.Reasons,
			fmt.Sprintf("all metrics within thresholds (success rate: %.3f)", successRate))
	} else {
		result.Verdict = models.VerdictRollback
		result.Reasons = append(result.Reasons,
			fmt.Sprintf("success rate %.3f below threshold %g", successRate, thresholds.SuccessRateMin))
	}
	return finish(result, opts)
}

func finish(result models.AnalysisResult, opts Options) models.AnalysisResult {
	if opts.DegradedNote != "" {
		result.Reasons = append(result.Reasons, opts.DegradedNote)
	}
	return result
}
