// Package changefeed publishes acknowledged field writes to Kafka and merges writes made by other
// devices back into the local store.
package changefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/fitstate/internal/syncq"
)

// Publisher implements syncq.Publisher over a Kafka topic.
type Publisher struct {
	writer   Writer
	registry SchemaResolver
	topic    string
	owner    string
	now      func() time.Time
}

var _ syncq.Publisher = (*Publisher)(nil)

// NewPublisher constructs a Publisher writing owner's changes to topic.
func NewPublisher(writer Writer, registry SchemaResolver, topic, owner string) *Publisher {
	return &Publisher{
		writer:   writer,
		registry: registry,
		topic:    topic,
		owner:    owner,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Subject is the schema registry subject for the topic's values.
func (p *Publisher) Subject() string {
	return p.topic + "-value"
}

// Publish writes the entry as a FieldChanged event keyed by owner, so an owner's changes stay on
// one partition in acknowledgement order.
func (p *Publisher) Publish(ctx context.Context, e syncq.Entry) error {
	event := FieldChanged{
		MutationID:     e.MutationID,
		Owner:          p.owner,
		Kind:           e.Kind,
		EntityID:       e.EntityID,
		Field:          e.Field,
		Value:          e.Value,
		Lamport:        e.Lamport,
		DeviceID:       e.DeviceID,
		AcknowledgedAt: p.now(),
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	schemaID, err := p.schemaID(ctx, EventFieldChanged)
	if err != nil {
		return err
	}

	record := kafka.Message{
		Key:   []byte(p.owner),
		Value: encodeWireFormat(schemaID, payload),
		Time:  event.AcknowledgedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(EventFieldChanged)},
			{Key: "owner", Value: []byte(p.owner)},
			{Key: "device_id", Value: []byte(e.DeviceID)},
			{Key: "schema_subject", Value: []byte(p.Subject())},
		},
	}
	if err := p.writer.WriteMessages(ctx, p.topic, record); err != nil {
		publishErrorCounter.WithLabelValues(p.topic).Inc()
		return fmt.Errorf("publish %s: %w", e.Key(), err)
	}
	publishedCounter.WithLabelValues(p.topic).Inc()
	return nil
}

func (p *Publisher) schemaID(ctx context.Context, eventType string) (int, error) {
	meta, ok := schemaCatalog[eventType]
	if !ok {
		return 0, fmt.Errorf("no schema metadata for event_type=%s", eventType)
	}
	return p.registry.EnsureSchema(ctx, p.Subject(), meta.Schema)
}
