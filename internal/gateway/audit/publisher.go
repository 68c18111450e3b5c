package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
)

// Publisher produces audit events onto a Kafka topic via franz-go. The
// teacher's go.mod declares franz-go and kadm but never calls them; this
// is their first wiring.
type Publisher struct {
	client *kgo.Client
	admin  *kadm.Client
	topic  string
}

// NewPublisher constructs a Publisher connected to brokers and attempts
// to create topic via kadm. The attempt is best-effort: on a rerun
// against a broker that already has the topic, CreateTopic returns a
// per-topic "already exists" error that is not worth failing startup
// over, so the result is discarded rather than checked field-by-field.
func NewPublisher(ctx context.Context, brokers []string, topic string) (*Publisher, error) {
	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	admin := kadm.NewClient(client)
	_, _ = admin.CreateTopic(ctx, 1, 1, nil, topic)

	return &Publisher{client: client, admin: admin, topic: topic}, nil
}

// Publish sends event's JSON encoding, keyed by event ID for consistent
// partitioning of a single request's audit trail.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.ID.String()),
		Value: payload,
	}

	results := p.client.ProduceSync(ctx, record)
	if err := results.FirstErr(); err != nil {
		return fmt.Errorf("produce audit event: %w", err)
	}
	return nil
}

// Close releases the underlying Kafka client.
func (p *Publisher) Close() {
	p.client.Close()
}
