// Package processor implements the generic event processor (component
// E): a leader-gated scheduled poll loop shared by the outbox adapter
// and the view adapter, each of which supplies its own fetch/handle
// pair and its own ProgressStore.
package processor

import (
	"context"
	"time"

	"github.com/crabletlabs/dcbengine/pkg/dcb"
)

// State is a processor's lifecycle state.
type State string

const (
	StateActive State = "active"
	StatePaused State = "paused"
	StateFailed State = "failed"
)

// Progress is one processor's durable cursor and health bookkeeping.
type Progress struct {
	Cursor             dcb.Cursor
	State              State
	ConsecutiveErrors  int
	ConsecutiveEmpty   int
	LastError          string
	// FailedEvents names ("type@position") the batch whose handling
	// error moved the processor to StateFailed (nil when a fetch error
	// did), truncated to failedEventsLimit, so an operator
	// inspecting a failed processor via the admin surface can see what
	// blocked it without needing log access.
	FailedEvents []string
	UpdatedAt    time.Time
}

// failedEventsLimit caps how many event names Progress.FailedEvents
// retains, keeping the dead-letter summary small regardless of batch size.
const failedEventsLimit = 10

// ProgressStore persists a single processor's Progress. outbox and
// view adapters each back this interface with their own table
// (outbox_progress keyed by topic+publisher, view_progress keyed by
// view name) — two concrete families sharing one thin interface,
// rather than a single generic table keyed by a synthetic processor
// id.
type ProgressStore interface {
	Load(ctx context.Context, processorID string) (Progress, error)
	Save(ctx context.Context, processorID string, p Progress) error
}
