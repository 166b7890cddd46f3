// Package metrics retrieves point-in-time metric samples for the canary
// and stable cohorts. Two source implementations exist: a Prometheus
// query backend (preferred, aggregated server-side) and a direct HTTP
// probe against the service's own health endpoint. Discovery resolves
// the canary endpoint before the first fetch and falls back to the
// stable address in degraded mode when it cannot.
package metrics

import (
	"context"
	"errors"
	"fmt"

	"github.com/canary-release-guard/crg/internal/models"
)

// Source fetches one sample for a cohort. Implementations must honor
// the context deadline; a fetch that cannot complete in time returns a
// FetchError rather than hanging.
type Source interface {
	Fetch(ctx context.Context, cohort models.Cohort) (*models.MetricSample, error)
}

// FailureKind classifies a fetch failure
type FailureKind string

const (
	FailureTimeout    FailureKind = "timeout"
	FailureConnection FailureKind = "connection"
	FailureMalformed  FailureKind = "malformed"
	FailureStatus     FailureKind = "status"
	FailureNoData     FailureKind = "no_data"
)

// FetchError is a typed, non-fatal fetch failure. The scheduler skips
// the tick's sample for the affected cohort and keeps running.
type FetchError struct {
	Cohort models.Cohort
	Kind   FailureKind
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s metrics: %s: %v", e.Cohort, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// AsFetchError extracts a FetchError from an error chain
func AsFetchError(err error) (*FetchError, bool) {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
