package policy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOPAEngine_AddGate(t *testing.T) {
	engine := NewOPAEngine()
	ctx := context.Background()

	gate := &Gate{
		Name:      "code_quality",
		Threshold: 70,
		Rule: `
package code_quality

default allow := false

actual := input.quality_score

allow if input.quality_score >= 70`,
	}

	err := engine.AddGate(ctx, gate)
	require.NoError(t, err)

	retrieved, err := engine.GetGate("code_quality")
	require.NoError(t, err)
	assert.Equal(t, "code_quality", retrieved.Name)
	assert.Equal(t, float64(70), retrieved.Threshold)
}

func TestOPAEngine_AddGate_Duplicate(t *testing.T) {
	engine := NewOPAEngine()
	ctx := context.Background()

	gate := DefaultGates()[0]
	require.NoError(t, engine.AddGate(ctx, gate))

	err := engine.AddGate(ctx, gate)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestOPAEngine_AddGate_InvalidRule(t *testing.T) {
	engine := NewOPAEngine()
	ctx := context.Background()

	gate := &Gate{
		Name: "broken",
		Rule: `this is not rego`,
	}

	err := engine.AddGate(ctx, gate)
	assert.Error(t, err)

	_, err = engine.GetGate("broken")
	assert.Error(t, err)
}

func TestOPAEngine_RemoveGate(t *testing.T) {
	engine, err := NewDefaultEngine()
	require.NoError(t, err)

	require.NoError(t, engine.RemoveGate("test_coverage"))
	assert.Len(t, engine.ListGates(), 2)

	err = engine.RemoveGate("test_coverage")
	assert.Error(t, err)
}

func TestOPAEngine_ListGates_Order(t *testing.T) {
	engine, err := NewDefaultEngine()
	require.NoError(t, err)

	gates := engine.ListGates()
	require.Len(t, gates, 3)
	assert.Equal(t, "code_quality", gates[0].Name)
	assert.Equal(t, "security_scan", gates[1].Name)
	assert.Equal(t, "test_coverage", gates[2].Name)
}

func TestOPAEngine_Evaluate_AllPass(t *testing.T) {
	engine, err := NewDefaultEngine()
	require.NoError(t, err)

	decision, err := engine.Evaluate(context.Background(), &GateInput{
		QualityScore:  85,
		SecurityScore: 92,
		TestCoverage:  0.87,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusPass, decision.OverallStatus)
	assert.Equal(t, 3, decision.PassedCount)
	assert.Equal(t, 3, decision.TotalCount)
	for _, gate := range decision.Gates {
		assert.True(t, gate.Passed, gate.Name)
		assert.Equal(t, StatusPass, gate.Status)
	}
}

func TestOPAEngine_Evaluate_FailingGate(t *testing.T) {
	engine, err := NewDefaultEngine()
	require.NoError(t, err)

	decision, err := engine.Evaluate(context.Background(), &GateInput{
		QualityScore:  85,
		SecurityScore: 60,
		TestCoverage:  0.9,
	})
	require.NoError(t, err)

	assert.Equal(t, StatusFail, decision.OverallStatus)
	assert.Equal(t, 2, decision.PassedCount)

	var security GateResult
	for _, gate := range decision.Gates {
		if gate.Name == "security_scan" {
			security = gate
		}
	}
	assert.False(t, security.Passed)
	assert.Equal(t, StatusFail, security.Status)
	assert.Equal(t, float64(60), security.Actual)
}

func TestOPAEngine_Evaluate_BoundaryValues(t *testing.T) {
	engine, err := NewDefaultEngine()
	require.NoError(t, err)

	// Thresholds are inclusive.
	decision, err := engine.Evaluate(context.Background(), &GateInput{
		QualityScore:  70,
		SecurityScore: 80,
		TestCoverage:  0.8,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPass, decision.OverallStatus)

	decision, err = engine.Evaluate(context.Background(), &GateInput{
		QualityScore:  69,
		SecurityScore: 80,
		TestCoverage:  0.8,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusFail, decision.OverallStatus)
	assert.Equal(t, 2, decision.PassedCount)
}

func TestOPAEngine_Evaluate_ReportsActuals(t *testing.T) {
	engine, err := NewDefaultEngine()
	require.NoError(t, err)

	decision, err := engine.Evaluate(context.Background(), &GateInput{
		QualityScore:  75,
		SecurityScore: 88,
		TestCoverage:  0.65,
	})
	require.NoError(t, err)

	actuals := make(map[string]float64)
	for _, gate := range decision.Gates {
		actuals[gate.Name] = gate.Actual
	}
	assert.Equal(t, float64(75), actuals["code_quality"])
	assert.Equal(t, float64(88), actuals["security_scan"])
	assert.InDelta(t, 0.65, actuals["test_coverage"], 1e-9)
}

func TestOPAEngine_Evaluate_NoGates(t *testing.T) {
	engine := NewOPAEngine()

	decision, err := engine.Evaluate(context.Background(), &GateInput{})
	require.NoError(t, err)
	assert.Equal(t, StatusPass, decision.OverallStatus)
	assert.Equal(t, 0, decision.TotalCount)
}
