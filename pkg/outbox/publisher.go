package outbox

import (
	"context"
	"sync"

	"github.com/segmentio/kafka-go"

	"github.com/crabletlabs/dcbengine/pkg/dcb"
)

// Publisher delivers one published event to an external transport.
// Outbox adapters call it once per event in a fetched batch, in order.
type Publisher interface {
	Publish(ctx context.Context, topic string, event dcb.Event) error
	Close() error
}

// KafkaPublisher publishes events as Kafka messages keyed by the
// event's first tag (so events about the same entity land on the same
// partition), with the event type carried as a header.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher builds a Publisher that writes to brokers.
func NewKafkaPublisher(brokers []string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:     kafka.TCP(brokers...),
			Balancer: &kafka.Hash{},
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic string, event dcb.Event) error {
	var key []byte
	if len(event.Tags) > 0 {
		key = []byte(dcb.EncodeTag(event.Tags[0]))
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: event.Data,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
		},
	})
}

func (p *KafkaPublisher) Close() error { return p.writer.Close() }

// MemoryPublisher records published events in memory; used by tests
// and by topics configured with publisher: memory for local
// development without a broker.
type MemoryPublisher struct {
	mu        sync.Mutex
	published map[string][]dcb.Event
}

// NewMemoryPublisher returns an empty MemoryPublisher.
func NewMemoryPublisher() *MemoryPublisher {
	return &MemoryPublisher{published: make(map[string][]dcb.Event)}
}

func (p *MemoryPublisher) Publish(ctx context.Context, topic string, event dcb.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published[topic] = append(p.published[topic], event)
	return nil
}

func (p *MemoryPublisher) Close() error { return nil }

// Published returns a copy of everything published to topic, for
// assertions in tests.
func (p *MemoryPublisher) Published(topic string) []dcb.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]dcb.Event, len(p.published[topic]))
	copy(out, p.published[topic])
	return out
}
