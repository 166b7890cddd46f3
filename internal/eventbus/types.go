package eventbus

import (
	"time"

	"github.com/google/uuid"

	"github.com/canary-release-guard/crg/internal/models"
)

// EventType identifies a run lifecycle event
type EventType string

const (
	EventTypeAnalysisCompleted EventType = "analysis.completed"
	EventTypeRollbackTriggered EventType = "rollback.triggered"
	EventTypeRunFinished       EventType = "run.finished"
)

// Event is the envelope published for every lifecycle notification
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	RunID     string    `json:"run_id"`
	Service   string    `json:"service"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`

	Analysis *models.AnalysisResult `json:"analysis,omitempty"`
	Record   *models.RunRecord      `json:"record,omitempty"`
}

// NewEvent creates an event with a generated ID and timestamp
func NewEvent(eventType EventType, runID, service string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		RunID:     runID,
		Service:   service,
		Timestamp: time.Now().UTC(),
		Version:   "1.0",
	}
}
