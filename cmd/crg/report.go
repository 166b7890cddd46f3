package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/canary-release-guard/crg/internal/config"
	"github.com/canary-release-guard/crg/internal/logging"
	"github.com/canary-release-guard/crg/internal/models"
	"github.com/canary-release-guard/crg/internal/policy"
	"github.com/canary-release-guard/crg/internal/report"
)

type reportOptions struct {
	recordFile    string
	outputDir     string
	qualityScore  int
	securityScore int
	testCoverage  float64
}

func newReportCommand() *cobra.Command {
	opts := &reportOptions{}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a deployment report from a saved run record",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.recordFile, "run-record", "", "path to a saved run record JSON file")
	flags.StringVar(&opts.outputDir, "output-dir", ".", "directory for the generated report")
	flags.IntVar(&opts.qualityScore, "quality-score", 0, "code quality score (0-100)")
	flags.IntVar(&opts.securityScore, "security-score", 0, "security scan score (0-100)")
	flags.Float64Var(&opts.testCoverage, "test-coverage", 0, "test coverage ratio (0-1)")
	cmd.MarkFlagRequired("run-record")
	cmd.MarkFlagRequired("quality-score")
	cmd.MarkFlagRequired("security-score")
	cmd.MarkFlagRequired("test-coverage")
	return cmd
}

func runReport(opts *reportOptions) error {
	logger, err := logging.New(config.LoggingConfig{Level: "info", Format: "console"})
	if err != nil {
		return err
	}
	defer logger.Sync()

	data, err := os.ReadFile(opts.recordFile)
	if err != nil {
		return fmt.Errorf("failed to read run record: %w", err)
	}

	var record models.RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return fmt.Errorf("failed to parse run record: %w", err)
	}

	engine, err := policy.NewDefaultEngine()
	if err != nil {
		return fmt.Errorf("failed to create policy engine: %w", err)
	}

	gen := report.NewGenerator(report.GeneratorConfig{
		Dir:    opts.outputDir,
		Engine: engine,
		Logger: logger,
	})

	rep, err := gen.Build(context.Background(), &record, report.Scores{
		Quality:  opts.qualityScore,
		Security: opts.securityScore,
		Coverage: opts.testCoverage,
	})
	if err != nil {
		return err
	}

	path, err := gen.Save(rep)
	if err != nil {
		return err
	}

	logger.Info("report generated",
		zap.String("path", path),
		zap.String("overall_status", rep.Gates.OverallStatus),
		zap.Float64("health_score", rep.Health.OverallScore))
	return nil
}
