// Package eventbus publishes run lifecycle events over NATS JetStream
// so deployment tooling (traffic shifters, alerting, dashboards) can
// react to verdicts without polling the recorder.
package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/canary-release-guard/crg/internal/models"
)

// NATSConfig holds NATS JetStream configuration
type NATSConfig struct {
	URL            string        `mapstructure:"url"`
	StreamName     string        `mapstructure:"stream_name"`
	SubjectPrefix  string        `mapstructure:"subject_prefix"`
	MaxAge         time.Duration `mapstructure:"max_age"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReconnectWait  time.Duration `mapstructure:"reconnect_wait"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
}

// DefaultNATSConfig returns default NATS configuration
func DefaultNATSConfig() *NATSConfig {
	return &NATSConfig{
		URL:            nats.DefaultURL,
		StreamName:     "CANARY_EVENTS",
		SubjectPrefix:  "canary.events",
		MaxAge:         24 * time.Hour,
		ConnectTimeout: 10 * time.Second,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  10,
	}
}

// NATSPublisher publishes lifecycle events to a JetStream stream
type NATSPublisher struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	config *NATSConfig
	logger *zap.Logger
}

// NewNATSPublisher connects to NATS and ensures the event stream exists
func NewNATSPublisher(config *NATSConfig, logger *zap.Logger) (*NATSPublisher, error) {
	if config == nil {
		config = DefaultNATSConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []nats.Option{
		nats.Name("crg-eventbus"),
		nats.Timeout(config.ConnectTimeout),
		nats.ReconnectWait(config.ReconnectWait),
		nats.MaxReconnects(config.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	}

	conn, err := nats.Connect(config.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("get JetStream context: %w", err)
	}

	p := &NATSPublisher{conn: conn, js: js, config: config, logger: logger}
	if err := p.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}

	logger.Info("connected to NATS JetStream",
		zap.String("url", config.URL),
		zap.String("stream", config.StreamName))
	return p, nil
}

func (p *NATSPublisher) ensureStream() error {
	streamConfig := &nats.StreamConfig{
		Name:       p.config.StreamName,
		Subjects:   []string{p.config.SubjectPrefix + ".>"},
		Retention:  nats.LimitsPolicy,
		MaxAge:     p.config.MaxAge,
		Storage:    nats.FileStorage,
		Duplicates: 5 * time.Minute,
	}

	if _, err := p.js.StreamInfo(p.config.StreamName); err != nil {
		if _, err := p.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		return nil
	}
	if _, err := p.js.UpdateStream(streamConfig); err != nil {
		return fmt.Errorf("update stream: %w", err)
	}
	return nil
}

// PublishAnalysis emits one event per interim analysis; rollback
// verdicts additionally emit a rollback.triggered event.
func (p *NATSPublisher) PublishAnalysis(ctx context.Context, runID string, result models.AnalysisResult) error {
	event := NewEvent(EventTypeAnalysisCompleted, runID, "")
	event.Analysis = &result
	if err := p.publish(ctx, event); err != nil {
		return err
	}

	if result.Verdict == models.VerdictRollback {
		rollback := NewEvent(EventTypeRollbackTriggered, runID, "")
		rollback.Analysis = &result
		return p.publish(ctx, rollback)
	}
	return nil
}

// PublishRunFinished emits the terminal event carrying the full record
func (p *NATSPublisher) PublishRunFinished(ctx context.Context, record *models.RunRecord) error {
	event := NewEvent(EventTypeRunFinished, record.RunID, record.Service)
	event.Record = record
	return p.publish(ctx, event)
}

func (p *NATSPublisher) publish(_ context.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", p.config.SubjectPrefix, event.Type)
	if _, err := p.js.Publish(subject, data, nats.MsgId(event.ID)); err != nil {
		p.logger.Error("failed to publish event",
			zap.String("event_id", event.ID),
			zap.String("subject", subject),
			zap.Error(err))
		return fmt.Errorf("publish event: %w", err)
	}

	p.logger.Debug("published event",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("subject", subject))
	return nil
}

// StreamInfo returns information about the backing stream
func (p *NATSPublisher) StreamInfo() (*nats.StreamInfo, error) {
	return p.js.StreamInfo(p.config.StreamName)
}

// Close drains the NATS connection
func (p *NATSPublisher) Close() error {
	p.conn.Close()
	return nil
}
