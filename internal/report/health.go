package report

import "math"

// Scores holds the release metrics the pipeline supplies for the
// deployment health calculation.
type Scores struct {
	Quality  int     `json:"quality" mapstructure:"quality"`
	Security int     `json:"security" mapstructure:"security"`
	Coverage float64 `json:"coverage" mapstructure:"coverage"`
}

// Health is the weighted deployment health assessment.
type Health struct {
	OverallScore float64   `json:"overall_score"`
	Status       string    `json:"status"`
	Grade        string    `json:"grade"`
	Breakdown    Breakdown `json:"breakdown"`
	Weights      Weights   `json:"weights"`
}

// Breakdown shows how much each metric contributed to the score.
type Breakdown struct {
	QualityContribution  float64 `json:"quality_contribution"`
	SecurityContribution float64 `json:"security_contribution"`
	CoverageContribution float64 `json:"coverage_contribution"`
}

// Weights are the metric weights used for the overall score.
type Weights struct {
	Quality  float64 `json:"quality"`
	Security float64 `json:"security"`
	Coverage float64 `json:"coverage"`
}

// DefaultWeights returns the standard metric weighting.
func DefaultWeights() Weights {
	return Weights{Quality: 0.3, Security: 0.4, Coverage: 0.3}
}

const (
	StatusExcellent  = "EXCELLENT"
	StatusGood       = "GOOD"
	StatusAcceptable = "ACCEPTABLE"
	StatusPoor       = "POOR"
	StatusCritical   = "CRITICAL"
)

// CalculateHealth computes the weighted health score for the release.
// Coverage is a ratio in [0, 1] and is normalized to a 0-100 scale
// before weighting.
func CalculateHealth(scores Scores) Health {
	weights := DefaultWeights()

	coverageScore := math.Min(scores.Coverage*100, 100)
	overall := float64(scores.Quality)*weights.Quality +
		float64(scores.Security)*weights.Security +
		coverageScore*weights.Coverage

	var status, grade string
	switch {
	case overall >= 90:
		status, grade = StatusExcellent, "A+"
	case overall >= 80:
		status, grade = StatusGood, "A"
	case overall >= 70:
		status, grade = StatusAcceptable, "B"
	case overall >= 60:
		status, grade = StatusPoor, "C"
	default:
		status, grade = StatusCritical, "D"
	}

	return Health{
		OverallScore: round1(overall),
		Status:       status,
		Grade:        grade,
		Breakdown: Breakdown{
			QualityContribution:  round1(float64(scores.Quality) * weights.Quality),
			SecurityContribution: round1(float64(scores.Security) * weights.Security),
			CoverageContribution: round1(coverageScore * weights.Coverage),
		},
		Weights: weights,
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// Recommendations groups follow-up actions by urgency.
type Recommendations struct {
	Immediate []string `json:"immediate"`
	ShortTerm []string `json:"short_term"`
	LongTerm  []string `json:"long_term"`
}

// BuildRecommendations derives follow-up actions from the release
// metrics.
func BuildRecommendations(scores Scores) Recommendations {
	var rec Recommendations

	if scores.Quality < 70 {
		rec.Immediate = append(rec.Immediate,
			"address code quality issues before deployment",
			"fix linting errors and code smells")
	} else if scores.Quality < 85 {
		rec.ShortTerm = append(rec.ShortTerm,
			"refactor complex code sections",
			"improve code documentation")
	}

	if scores.Security < 80 {
		rec.Immediate = append(rec.Immediate,
			"fix critical security vulnerabilities",
			"update dependencies with known vulnerabilities")
	} else if scores.Security < 90 {
		rec.ShortTerm = append(rec.ShortTerm,
			"implement additional security headers",
			"enhance input validation")
	}

	if scores.Coverage < 0.7 {
		rec.Immediate = append(rec.Immediate,
			"increase test coverage before deployment")
		rec.ShortTerm = append(rec.ShortTerm,
			"add integration and end-to-end tests")
	} else if scores.Coverage < 0.9 {
		rec.ShortTerm = append(rec.ShortTerm,
			"add tests for edge cases")
		rec.LongTerm = append(rec.LongTerm,
			"implement property-based testing")
	}

	rec.LongTerm = append(rec.LongTerm,
		"implement continuous performance monitoring",
		"set up automated security scanning")

	return rec
}

// NextSteps derives the post-release checklist from the health score.
func NextSteps(health Health) []string {
	switch {
	case health.OverallScore >= 90:
		return []string{
			"deployment approved: excellent quality metrics",
			"proceed with production rollout",
			"monitor post-deployment metrics",
		}
	case health.OverallScore >= 80:
		return []string{
			"deployment approved: good quality metrics",
			"monitor closely during rollout",
			"conduct post-deployment review",
		}
	case health.OverallScore >= 70:
		return []string{
			"conditional approval: address critical issues",
			"fix high-priority recommendations",
			"stakeholder review required",
		}
	default:
		return []string{
			"deployment blocked: quality threshold not met",
			"address critical issues immediately",
			"re-run the pipeline after fixes",
		}
	}
}
