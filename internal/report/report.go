package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/canary-release-guard/crg/internal/models"
	"github.com/canary-release-guard/crg/internal/policy"
)

// Report is the full deployment report assembled after a canary run.
type Report struct {
	Metadata        Metadata         `json:"metadata"`
	Run             RunSummary       `json:"run"`
	Health          Health           `json:"deployment_health"`
	Gates           *policy.Decision `json:"quality_gates,omitempty"`
	Recommendations Recommendations  `json:"recommendations"`
	NextSteps       []string         `json:"next_steps"`
}

// Metadata identifies the report and the run it describes.
type Metadata struct {
	GeneratedAt time.Time `json:"generated_at"`
	Service     string    `json:"service"`
	RunID       string    `json:"run_id"`
}

// RunSummary is the condensed view of a finished canary run.
type RunSummary struct {
	Outcome       models.RunOutcome      `json:"outcome"`
	StartedAt     time.Time              `json:"started_at"`
	FinishedAt    time.Time              `json:"finished_at"`
	TotalChecks   int                    `json:"total_checks"`
	Degraded      bool                   `json:"degraded"`
	FinalAnalysis *models.AnalysisResult `json:"final_analysis,omitempty"`
}

// Generator assembles and persists deployment reports.
type Generator struct {
	dir    string
	engine policy.Engine
	logger *zap.Logger
}

// GeneratorConfig configures a Generator.
type GeneratorConfig struct {
	// Dir is the output directory for saved reports. Defaults to the
	// working directory.
	Dir    string
	Engine policy.Engine
	Logger *zap.Logger
}

// NewGenerator creates a report generator. The policy engine is
// optional; without one the report carries no quality gates section.
func NewGenerator(cfg GeneratorConfig) *Generator {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Dir == "" {
		cfg.Dir = "."
	}
	return &Generator{
		dir:    cfg.Dir,
		engine: cfg.Engine,
		logger: cfg.Logger,
	}
}

// Build assembles a deployment report for a finished run.
func (g *Generator) Build(ctx context.Context, record *models.RunRecord, scores Scores) (*Report, error) {
	if record == nil {
		return nil, fmt.Errorf("run record is nil")
	}

	health := CalculateHealth(scores)
	rep := &Report{
		Metadata: Metadata{
			GeneratedAt: time.Now().UTC(),
			Service:     record.Service,
			RunID:       record.RunID,
		},
		Run: RunSummary{
			Outcome:       record.FinalOutcome,
			StartedAt:     record.StartedAt,
			FinishedAt:    record.FinishedAt,
			TotalChecks:   record.TotalChecks,
			Degraded:      record.Degraded,
			FinalAnalysis: record.FinalResult,
		},
		Health:          health,
		Recommendations: BuildRecommendations(scores),
		NextSteps:       NextSteps(health),
	}

	if g.engine != nil {
		decision, err := g.engine.Evaluate(ctx, &policy.GateInput{
			QualityScore:  scores.Quality,
			SecurityScore: scores.Security,
			TestCoverage:  scores.Coverage,
			Outcome:       string(record.FinalOutcome),
			Degraded:      record.Degraded,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate quality gates: %w", err)
		}
		rep.Gates = decision
	}

	return rep, nil
}

// Save writes the report as indented JSON and returns the file path.
func (g *Generator) Save(rep *Report) (string, error) {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}

	name := fmt.Sprintf("deployment_report_%s.json",
		rep.Metadata.GeneratedAt.Format("20060102_150405"))
	path := filepath.Join(g.dir, name)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	g.logger.Info("deployment report saved",
		zap.String("path", path),
		zap.Float64("health_score", rep.Health.OverallScore),
		zap.String("grade", rep.Health.Grade))

	return path, nil
}
