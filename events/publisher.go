package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// SubjectPrefix is the JetStream subject space events are mirrored to, one
// subject per workflow: workflow.events.<workflow id>.
const SubjectPrefix = "workflow.events"

// DefaultStreamName is the JetStream stream holding mirrored events.
const DefaultStreamName = "WORKFLOW_EVENTS"

// Publisher mirrors stream events to NATS JetStream so consumers outside the
// process can follow runs without polling the database. A nil *Publisher is
// a no-op, so callers never have to branch on whether NATS was configured.
type Publisher struct {
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewPublisher ensures the event stream exists on the connected JetStream
// and returns a publisher bound to it. A nil conn yields a nil publisher,
// which silently drops events.
func NewPublisher(ctx context.Context, conn *nats.Conn, streamName string, logger *slog.Logger) (*Publisher, error) {
	if conn == nil {
		return nil, nil
	}
	if streamName == "" {
		streamName = DefaultStreamName
	}
	if logger == nil {
		logger = slog.Default()
	}

	js, err := jetstream.New(conn)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{SubjectPrefix + ".>"},
		Retention: jetstream.LimitsPolicy,
		Storage:   jetstream.FileStorage,
		MaxAge:    24 * time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure stream %s: %w", streamName, err)
	}

	logger.Info("event publisher ready", "stream", streamName)
	return &Publisher{js: js, logger: logger}, nil
}

// Publish mirrors one event to its workflow subject.
func (p *Publisher) Publish(ctx context.Context, e Event) error {
	if p == nil || p.js == nil {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := fmt.Sprintf("%s.%d", SubjectPrefix, e.WorkflowID)
	if _, err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
