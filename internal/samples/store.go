// Package samples implements the per-run windowed sample store. It keeps
// an append-only, time-ordered buffer of metric samples per cohort and
// answers trailing-window queries and aggregates for the analyzer.
package samples

import (
	"fmt"
	"sync"
	"time"

	"github.com/canary-release-guard/crg/internal/models"
)

// Store holds metric samples per cohort for the lifetime of one
// monitoring run. Appends and reads are safe to issue concurrently;
// each cohort has its own lock so readers of one cohort never block
// on writers of the other.
type Store struct {
	cohorts map[models.Cohort]*cohortBuffer

	// maxWindow tracks the largest window ever queried so pruning
	// never discards samples a caller could still ask for.
	mu        sync.Mutex
	maxWindow time.Duration

	now func() time.Time
}

type cohortBuffer struct {
	mu      sync.RWMutex
	samples []models.MetricSample
}

// NewStore creates a sample store for the standard cohorts
func NewStore() *Store {
	s := &Store{
		cohorts: make(map[models.Cohort]*cohortBuffer),
		now:     time.Now,
	}
	for _, cohort := range models.Cohorts() {
		s.cohorts[cohort] = &cohortBuffer{}
	}
	return s
}

// Append adds a sample to its cohort's buffer. Samples must arrive in
// timestamp order within a cohort; an out-of-order or invalid sample
// is rejected so the buffer stays linearizable by timestamp.
func (s *Store) Append(sample models.MetricSample) error {
	if err := sample.Validate(); err != nil {
		return fmt.Errorf("invalid sample: %w", err)
	}

	buf, ok := s.cohorts[sample.Cohort]
	if !ok {
		return fmt.Errorf("unknown cohort %q", sample.Cohort)
	}

	buf.mu.Lock()
	defer buf.mu.Unlock()

	if n := len(buf.samples); n > 0 && sample.Timestamp.Before(buf.samples[n-1].Timestamp) {
		return fmt.Errorf("sample for %s at %s is older than last appended %s",
			sample.Cohort, sample.Timestamp.Format(time.RFC3339Nano),
			buf.samples[n-1].Timestamp.Format(time.RFC3339Nano))
	}

	buf.samples = append(buf.samples, sample)
	return nil
}

// Recent returns the samples for a cohort with timestamp >= now-window,
// inclusive, in chronological order. It never blocks on appends to
// other cohorts and never returns an error for an empty window.
func (s *Store) Recent(cohort models.Cohort, window time.Duration) []models.MetricSample {
	buf, ok := s.cohorts[cohort]
	if !ok {
		return nil
	}

	s.noteWindow(window)
	cutoff := s.now().Add(-window)

	buf.mu.RLock()
	defer buf.mu.RUnlock()

	// Samples are timestamp-ordered, so find the first in-window index.
	idx := len(buf.samples)
	for i, sample := range buf.samples {
		if !sample.Timestamp.Before(cutoff) {
			idx = i
			break
		}
	}

	if idx == len(buf.samples) {
		return nil
	}

	out := make([]models.MetricSample, len(buf.samples)-idx)
	copy(out, buf.samples[idx:])
	return out
}

// Aggregate computes arithmetic means over the trailing window for a
// cohort. A zero SampleCount aggregate is a valid result, not an error.
func (s *Store) Aggregate(cohort models.Cohort, window time.Duration) models.WindowAggregate {
	recent := s.Recent(cohort, window)

	agg := models.WindowAggregate{
		Cohort:      cohort,
		SampleCount: len(recent),
	}
	if len(recent) == 0 {
		return agg
	}

	for _, sample := range recent {
		agg.MeanErrorRate += sample.ErrorRate
		agg.MeanP95LatencyMs += sample.P95LatencyMs
		agg.MeanRequestRate += sample.RequestRate
	}

	n := float64(len(recent))
	agg.MeanErrorRate /= n
	agg.MeanP95LatencyMs /= n
	agg.MeanRequestRate /= n
	return agg
}

// Count returns the total number of samples appended for a cohort
func (s *Store) Count(cohort models.Cohort) int {
	buf, ok := s.cohorts[cohort]
	if !ok {
		return 0
	}
	buf.mu.RLock()
	defer buf.mu.RUnlock()
	return len(buf.samples)
}

// Prune drops samples older than the largest window ever queried.
// Long-lived stores call this periodically to bound memory; a store
// that was never queried keeps everything.
func (s *Store) Prune() int {
	s.mu.Lock()
	maxWindow := s.maxWindow
	s.mu.Unlock()

	if maxWindow == 0 {
		return 0
	}

	cutoff := s.now().Add(-maxWindow)
	pruned := 0

	for _, buf := range s.cohorts {
		buf.mu.Lock()
		idx := 0
		for idx < len(buf.samples) && buf.samples[idx].Timestamp.Before(cutoff) {
			idx++
		}
		if idx > 0 {
			remaining := make([]models.MetricSample, len(buf.samples)-idx)
			copy(remaining, buf.samples[idx:])
			buf.samples = remaining
			pruned += idx
		}
		buf.mu.Unlock()
	}

	return pruned
}

func (s *Store) noteWindow(window time.Duration) {
	s.mu.Lock()
	if window > s.maxWindow {
		s.maxWindow = window
	}
	s.mu.Unlock()
}
