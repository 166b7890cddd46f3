// Package recorder persists monitoring run records. Sinks are
// synchronous; the monitor hands each finished run to exactly one
// Write call and treats failures as non-fatal.
package recorder

import (
	"context"

	"github.com/canary-release-guard/crg/internal/models"
)

// Recorder accepts a finished run record for persistence
type Recorder interface {
	Write(ctx context.Context, record *models.RunRecord) error
}

// Multi fans a record out to several sinks, returning the first error
// after attempting all of them.
type Multi []Recorder

func (m Multi) Write(ctx context.Context, record *models.RunRecord) error {
	var firstErr error
	for _, r := range m {
		if err := r.Write(ctx, record); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Nop discards records; used in tests and dry runs
type Nop struct{}

func (Nop) Write(context.Context, *models.RunRecord) error { return nil }
