package eventbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/canary-release-guard/crg/internal/models"
)

// startNATSServer starts an embedded JetStream-enabled server on a
// random port
func startNATSServer(t *testing.T) *server.Server {
	t.Helper()

	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}

	s, err := server.NewServer(opts)
	require.NoError(t, err)

	go s.Start()
	if !s.ReadyForConnections(10 * time.Second) {
		t.Fatal("NATS server not ready")
	}
	t.Cleanup(s.Shutdown)
	return s
}

func testConfig(url string) *NATSConfig {
	cfg := DefaultNATSConfig()
	cfg.URL = url
	cfg.StreamName = "TEST_CANARY_EVENTS"
	cfg.SubjectPrefix = "canary.events"
	cfg.MaxAge = time.Hour
	return cfg
}

// subscribe attaches a synchronous JetStream consumer for verification
func subscribe(t *testing.T, url, subject string) *nats.Subscription {
	t.Helper()

	nc, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	js, err := nc.JetStream()
	require.NoError(t, err)

	sub, err := js.SubscribeSync(subject, nats.DeliverAll())
	require.NoError(t, err)
	return sub
}

func nextEvent(t *testing.T, sub *nats.Subscription) *Event {
	t.Helper()

	msg, err := sub.NextMsg(5 * time.Second)
	require.NoError(t, err)
	require.NoError(t, msg.Ack())

	var event Event
	require.NoError(t, json.Unmarshal(msg.Data, &event))
	return &event
}

func TestNATSPublisherCreatesStream(t *testing.T) {
	s := startNATSServer(t)

	pub, err := NewNATSPublisher(testConfig(s.ClientURL()), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer pub.Close()

	info, err := pub.StreamInfo()
	require.NoError(t, err)
	assert.Equal(t, "TEST_CANARY_EVENTS", info.Config.Name)
	assert.Equal(t, []string{"canary.events.>"}, info.Config.Subjects)
}

func TestPublishAnalysisContinue(t *testing.T) {
	s := startNATSServer(t)

	pub, err := NewNATSPublisher(testConfig(s.ClientURL()), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer pub.Close()

	sub := subscribe(t, s.ClientURL(), "canary.events.analysis.completed")

	result := models.AnalysisResult{
		Verdict: models.VerdictContinue,
		Reasons: []string{"all metrics within thresholds (success rate: 0.995)"},
	}
	require.NoError(t, pub.PublishAnalysis(context.Background(), "run-42", result))

	event := nextEvent(t, sub)
	assert.Equal(t, EventTypeAnalysisCompleted, event.Type)
	assert.Equal(t, "run-42", event.RunID)
	require.NotNil(t, event.Analysis)
	assert.Equal(t, models.VerdictContinue, event.Analysis.Verdict)
	assert.NotEmpty(t, event.ID)
	assert.False(t, event.Timestamp.IsZero())

	// No rollback event for a passing analysis
	info, err := pub.StreamInfo()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.State.Msgs)
}

func TestPublishAnalysisRollbackEmitsBothEvents(t *testing.T) {
	s := startNATSServer(t)

	pub, err := NewNATSPublisher(testConfig(s.ClientURL()), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer pub.Close()

	rollbackSub := subscribe(t, s.ClientURL(), "canary.events.rollback.triggered")

	result := models.AnalysisResult{
		Verdict: models.VerdictRollback,
		Reasons: []string{"error rate 0.0500 exceeds threshold 0.01"},
	}
	require.NoError(t, pub.PublishAnalysis(context.Background(), "run-42", result))

	event := nextEvent(t, rollbackSub)
	assert.Equal(t, EventTypeRollbackTriggered, event.Type)
	require.NotNil(t, event.Analysis)
	assert.Equal(t, models.VerdictRollback, event.Analysis.Verdict)

	info, err := pub.StreamInfo()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), info.State.Msgs)
}

func TestPublishRunFinished(t *testing.T) {
	s := startNATSServer(t)

	pub, err := NewNATSPublisher(testConfig(s.ClientURL()), zaptest.NewLogger(t))
	require.NoError(t, err)
	defer pub.Close()

	sub := subscribe(t, s.ClientURL(), "canary.events.run.finished")

	record := &models.RunRecord{
		RunID:        "run-42",
		Service:      "payments",
		FinalOutcome: models.OutcomePromote,
		TotalChecks:  20,
	}
	require.NoError(t, pub.PublishRunFinished(context.Background(), record))

	event := nextEvent(t, sub)
	assert.Equal(t, EventTypeRunFinished, event.Type)
	assert.Equal(t, "payments", event.Service)
	require.NotNil(t, event.Record)
	assert.Equal(t, models.OutcomePromote, event.Record.FinalOutcome)
	assert.Equal(t, 20, event.Record.TotalChecks)
}

func TestPublisherRejectsUnreachableServer(t *testing.T) {
	cfg := testConfig("nats://127.0.0.1:1")
	cfg.ConnectTimeout = 200 * time.Millisecond
	cfg.MaxReconnects = 0

	_, err := NewNATSPublisher(cfg, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect to NATS")
}

func TestNewEventPopulatesEnvelope(t *testing.T) {
	event := NewEvent(EventTypeAnalysisCompleted, "run-42", "payments")

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, EventTypeAnalysisCompleted, event.Type)
	assert.Equal(t, "run-42", event.RunID)
	assert.Equal(t, "payments", event.Service)
	assert.Equal(t, "1.0", event.Version)
	assert.WithinDuration(t, time.Now().UTC(), event.Timestamp, 5*time.Second)
}
