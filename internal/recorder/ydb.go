package recorder

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ydb-platform/ydb-go-sdk/v3"
	"github.com/ydb-platform/ydb-go-sdk/v3/table"
	"github.com/ydb-platform/ydb-go-sdk/v3/table/types"
	"go.uber.org/zap"

	"github.com/canary-release-guard/crg/internal/models"
)

const runTable = "canary_runs"

// YDBRecorder persists run records to a YDB table, one row per run
// with the analysis history stored as a JSON document.
type YDBRecorder struct {
	driver *ydb.Driver
	logger *zap.Logger
}

// NewYDBRecorder connects to YDB using a connection string like
// grpc://host:2136/local.
func NewYDBRecorder(ctx context.Context, connectionString string, logger *zap.Logger) (*YDBRecorder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	driver, err := ydb.Open(ctx, connectionString)
	if err != nil {
		return nil, fmt.Errorf("connect to YDB: %w", err)
	}

	return &YDBRecorder{driver: driver, logger: logger}, nil
}

// InitializeSchema creates the run table if it does not exist
func (y *YDBRecorder) InitializeSchema(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			run_id Utf8 NOT NULL,
			service Utf8,
			started_at Timestamp,
			finished_at Timestamp,
			total_checks Int64,
			final_outcome Utf8,
			degraded Bool,
			record Json,
			PRIMARY KEY (run_id)
		)`, runTable)

	return y.driver.Table().Do(ctx, func(ctx context.Context, s table.Session) error {
		_, _, err := s.Execute(ctx, table.DefaultTxControl(), ddl, nil)
		return err
	})
}

// Write upserts one run record
func (y *YDBRecorder) Write(ctx context.Context, record *models.RunRecord) error {
	doc, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal run record: %w", err)
	}

	query := fmt.Sprintf(`
		DECLARE $run_id AS Utf8;
		DECLARE $service AS Utf8;
		DECLARE $started_at AS Timestamp;
		DECLARE $finished_at AS Timestamp;
		DECLARE $total_checks AS Int64;
		DECLARE $final_outcome AS Utf8;
		DECLARE $degraded AS Bool;
		DECLARE $record AS Json;

		UPSERT INTO %s (run_id, service, started_at, finished_at,
			total_checks, final_outcome, degraded, record)
		VALUES ($run_id, $service, $started_at, $finished_at,
			$total_checks, $final_outcome, $degraded, $record)`, runTable)

	params := table.NewQueryParameters(
		table.ValueParam("$run_id", types.UTF8Value(record.RunID)),
		table.ValueParam("$service", types.UTF8Value(record.Service)),
		table.ValueParam("$started_at", types.TimestampValueFromTime(record.StartedAt)),
		table.ValueParam("$finished_at", types.TimestampValueFromTime(record.FinishedAt)),
		table.ValueParam("$total_checks", types.Int64Value(int64(record.TotalChecks))),
		table.ValueParam("$final_outcome", types.UTF8Value(string(record.FinalOutcome))),
		table.ValueParam("$degraded", types.BoolValue(record.Degraded)),
		table.ValueParam("$record", types.JSONValueFromBytes(doc)),
	)

	err = y.driver.Table().Do(ctx, func(ctx context.Context, s table.Session) error {
		_, _, err := s.Execute(ctx, table.DefaultTxControl(), query, params)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert run record: %w", err)
	}

	y.logger.Info("run record persisted",
		zap.String("run_id", record.RunID),
		zap.String("final_outcome", string(record.FinalOutcome)))
	return nil
}

// Close releases the YDB driver
func (y *YDBRecorder) Close(ctx context.Context) error {
	return y.driver.Close(ctx)
}
