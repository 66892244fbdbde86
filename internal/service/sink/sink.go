// Package sink holds the business callbacks run for newly processed events.
package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/garrettladley/hookd/internal/metrics"
	"github.com/garrettladley/hookd/internal/service/ingest"
	"github.com/garrettladley/hookd/internal/service/webhook"
	"github.com/garrettladley/hookd/internal/xslog"
	go_json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
)

const headerEventType = "event-type"

// Envelope is the message published for every processed event.
type Envelope struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Created    int64          `json:"created"`
	ReceivedAt time.Time      `json:"received_at"`
	Payload    map[string]any `json:"payload"`
}

func NewEnvelope(event webhook.Event, receivedAt time.Time) Envelope {
	return Envelope{
		ID:         event.ID(),
		Type:       event.Type(),
		Created:    event.CreatedAt(),
		ReceivedAt: receivedAt.UTC(),
		Payload:    event.Payload(),
	}
}

type Publisher interface {
	SendMessage(ctx context.Context, key, value []byte, headers ...kafka.Header) error
}

// Published is the callback value reported for a successful publish.
type Published struct {
	EventID string `json:"event_id"`
	Topic   string `json:"topic"`
}

// Kafka publishes each event keyed by its id, so redeliveries of the same
// event stay ordered on one partition.
func Kafka(pub Publisher, topic string, now func() time.Time) ingest.Callback {
	if now == nil {
		now = time.Now
	}
	return func(ctx context.Context, event webhook.Event) (any, error) {
		value, err := go_json.Marshal(NewEnvelope(event, now()))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal event envelope: %w", err)
		}

		err = pub.SendMessage(ctx, []byte(event.ID()), value,
			kafka.Header{Key: headerEventType, Value: []byte(event.Type())},
		)
		metrics.IncPublished(err)
		if err != nil {
			return nil, err
		}

		xslog.FromContext(ctx).InfoContext(ctx, "published event", xslog.Topic(topic))
		return Published{EventID: event.ID(), Topic: topic}, nil
	}
}

// Log records each event without forwarding it anywhere. The controller
// scopes ctx to the event, so the line carries its id and type.
func Log() ingest.Callback {
	return func(ctx context.Context, event webhook.Event) (any, error) {
		xslog.FromContext(ctx).InfoContext(ctx, "received event")
		return event.Summary(), nil
	}
}
