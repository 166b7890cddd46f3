package policy

import "context"

// DefaultGates returns the standard promotion gates applied to a
// release before its report is marked approved.
func DefaultGates() []*Gate {
	return []*Gate{
		{
			Name:        "code_quality",
			Description: "Static analysis quality score",
			Threshold:   70,
			Rule: `
package code_quality

default allow := false

actual := input.quality_score

allow if input.quality_score >= 70`,
		},
		{
			Name:        "security_scan",
			Description: "Vulnerability scan score",
			Threshold:   80,
			Rule: `
package security_scan

default allow := false

actual := input.security_score

allow if input.security_score >= 80`,
		},
		{
			Name:        "test_coverage",
			Description: "Unit test coverage ratio",
			Threshold:   0.8,
			Rule: `
package test_coverage

default allow := false

actual := input.test_coverage

allow if input.test_coverage >= 0.8`,
		},
	}
}

// NewDefaultEngine creates an engine preloaded with DefaultGates.
func NewDefaultEngine() (*OPAEngine, error) {
	engine := NewOPAEngine()
	for _, gate := range DefaultGates() {
		if err := engine.AddGate(context.Background(), gate); err != nil {
			return nil, err
		}
	}
	return engine, nil
}
