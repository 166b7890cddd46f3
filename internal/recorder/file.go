package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/canary-release-guard/crg/internal/models"
)

// FileRecorder writes each run record as a standalone JSON report,
// named canary_monitoring_report_<timestamp>.json under the configured
// directory.
type FileRecorder struct {
	dir    string
	logger *zap.Logger
}

// NewFileRecorder creates a JSON report sink. An empty dir means the
// current working directory.
func NewFileRecorder(dir string, logger *zap.Logger) *FileRecorder {
	if dir == "" {
		dir = "."
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileRecorder{dir: dir, logger: logger}
}

// Write serializes the record to its report file
func (f *FileRecorder) Write(_ context.Context, record *models.RunRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}

	name := fmt.Sprintf("canary_monitoring_report_%s.json",
		record.FinishedAt.Format("20060102_150405"))
	path := filepath.Join(f.dir, name)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write run record: %w", err)
	}

	f.logger.Info("run record written",
		zap.String("run_id", record.RunID),
		zap.String("path", path))
	return nil
}
