package outbox

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/crabletlabs/dcbengine/internal/telemetry"
	"github.com/crabletlabs/dcbengine/pkg/dcb"
	"github.com/crabletlabs/dcbengine/pkg/leader"
	"github.com/crabletlabs/dcbengine/pkg/processor"
)

// TopicConfig describes one outbox topic: which events it carries and
// where they're published.
type TopicConfig struct {
	Name                string
	Filter              dcb.Query
	PublisherName       string // publisher bound to this topic, e.g. "kafka"; part of the processor id
	Scheduling          processor.Config
}

// NewAdapter builds the Processor for one outbox topic, bound to a
// single publisher instance. The Manager owns running it; the adapter
// only wires FetchFunc/HandleFunc — it never refetches events itself,
// since HandleFunc receives exactly the batch the processor already
// fetched.
func NewAdapter(topic TopicConfig, store dcb.EventStore, progressStore processor.ProgressStore, publisher Publisher, elector leader.Elector, metrics *telemetry.Metrics, log zerolog.Logger) *processor.Processor {
	cfg := topic.Scheduling
	cfg.ID = processorID(topic.Name, topic.PublisherName)

	fetch := func(ctx context.Context, after dcb.Cursor, limit int) ([]dcb.Event, error) {
		return store.QueryLimited(ctx, topic.Filter, after, limit)
	}

	handle := func(ctx context.Context, events []dcb.Event) error {
		for _, e := range events {
			if err := publisher.Publish(ctx, topic.Name, e); err != nil {
				return err
			}
		}
		return nil
	}

	return processor.New(cfg, fetch, handle, progressStore, elector, metrics, log)
}

// DefaultScheduling returns a reasonable Config when a topic's YAML
// entry doesn't override scheduling fields.
func DefaultScheduling(id string) processor.Config {
	return processor.Config{
		ID:                   id,
		PollingInterval:      500 * time.Millisecond,
		BatchSize:            100,
		MaxConsecutiveErrors: 5,
		BackoffInitial:       500 * time.Millisecond,
		BackoffMax:           30 * time.Second,
		BackoffFactor:        2,
	}
}
