//go:build ignore

// Standalone schema setup for the YDB decision recorder. Run against a
// fresh database before enabling the YDB sink:
//
//	go run scripts/setup-ydb-schema.go grpc://localhost:2136/local
package main

import (
	"context"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/canary-release-guard/crg/internal/recorder"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("Usage: go run setup-ydb-schema.go <connection_string>")
	}

	ctx := context.Background()
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	rec, err := recorder.NewYDBRecorder(ctx, os.Args[1], logger)
	if err != nil {
		log.Fatalf("Failed to connect to YDB: %v", err)
	}
	defer rec.Close(ctx)

	if err := rec.InitializeSchema(ctx); err != nil {
		log.Fatalf("Failed to create schema: %v", err)
	}

	logger.Info("YDB schema ready")
}
