package report

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/canary-release-guard/crg/internal/models"
	"github.com/canary-release-guard/crg/internal/policy"
)

func testRecord() *models.RunRecord {
	started := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	return &models.RunRecord{
		RunID:        "run-123",
		Service:      "checkout",
		StartedAt:    started,
		FinishedAt:   started.Add(10 * time.Minute),
		TotalChecks:  20,
		FinalOutcome: models.OutcomePromote,
		FinalResult: &models.AnalysisResult{
			Verdict: models.VerdictContinue,
		},
	}
}

func TestGenerator_Build(t *testing.T) {
	engine, err := policy.NewDefaultEngine()
	require.NoError(t, err)

	gen := NewGenerator(GeneratorConfig{
		Engine: engine,
		Logger: zaptest.NewLogger(t),
	})

	rep, err := gen.Build(context.Background(), testRecord(), Scores{
		Quality:  85,
		Security: 90,
		Coverage: 0.88,
	})
	require.NoError(t, err)

	assert.Equal(t, "checkout", rep.Metadata.Service)
	assert.Equal(t, "run-123", rep.Metadata.RunID)
	assert.Equal(t, models.OutcomePromote, rep.Run.Outcome)
	assert.Equal(t, 20, rep.Run.TotalChecks)
	assert.NotNil(t, rep.Run.FinalAnalysis)

	require.NotNil(t, rep.Gates)
	assert.Equal(t, policy.StatusPass, rep.Gates.OverallStatus)
	assert.Equal(t, 3, rep.Gates.PassedCount)

	assert.Equal(t, StatusGood, rep.Health.Status)
	assert.NotEmpty(t, rep.NextSteps)
}

func TestGenerator_Build_WithoutEngine(t *testing.T) {
	gen := NewGenerator(GeneratorConfig{Logger: zaptest.NewLogger(t)})

	rep, err := gen.Build(context.Background(), testRecord(), Scores{
		Quality:  70,
		Security: 80,
		Coverage: 0.8,
	})
	require.NoError(t, err)
	assert.Nil(t, rep.Gates)
}

func TestGenerator_Build_NilRecord(t *testing.T) {
	gen := NewGenerator(GeneratorConfig{})

	_, err := gen.Build(context.Background(), nil, Scores{})
	assert.Error(t, err)
}

func TestGenerator_Save(t *testing.T) {
	dir := t.TempDir()
	gen := NewGenerator(GeneratorConfig{
		Dir:    dir,
		Logger: zaptest.NewLogger(t),
	})

	rep, err := gen.Build(context.Background(), testRecord(), Scores{
		Quality:  85,
		Security: 90,
		Coverage: 0.88,
	})
	require.NoError(t, err)

	path, err := gen.Save(rep)
	require.NoError(t, err)
	assert.Contains(t, path, "deployment_report_")

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var decoded Report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, rep.Metadata.RunID, decoded.Metadata.RunID)
	assert.Equal(t, rep.Health.Grade, decoded.Health.Grade)
}
