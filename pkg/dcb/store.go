package dcb

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

var (
	errNilPool          = errors.New("pool cannot be nil")
	errNoProjectors     = errors.New("projectors must not be empty")
	errEmptyProjectorID = errors.New("projector has empty ID")
	errNilTransitionFn  = errors.New("projector has nil transition function")
)

// EventStore is the primary abstraction over the event log (component A)
// and the DCB append engine (component B). Implementations must provide
// the commit-consistent (transaction_id, position) ordering guarantee
// described by the data model.
type EventStore interface {
	// Query returns events matching q, strictly after the given cursor.
	// A zero Cursor reads from the start of the log.
	Query(ctx context.Context, q Query, after Cursor) ([]Event, error)

	// QueryLimited is Query bounded to at most limit events, used by
	// the generic processor to fetch one batch at a time instead of
	// the whole remaining backlog.
	QueryLimited(ctx context.Context, q Query, after Cursor, limit int) ([]Event, error)

	// QueryStream is the streaming counterpart of Query, yielding events
	// on a channel that closes when the scan completes or ctx is done.
	QueryStream(ctx context.Context, q Query, after Cursor) (<-chan Event, <-chan error)

	// AppendIf performs a conditional append: all events are inserted
	// atomically in one transaction, honoring (and, for a non-empty
	// Idempotency query, observing) AppendCondition as documented on
	// that type. It returns an InvalidInputError, StoreUnavailableError,
	// ConcurrencyViolationError or IdempotencyViolationError.
	AppendIf(ctx context.Context, events []InputEvent, condition AppendCondition) (AppendOutcome, error)

	// Append is AppendIf with a zero-value (unconditional) AppendCondition.
	Append(ctx context.Context, events []InputEvent) (AppendOutcome, error)

	// AppendWithinTx runs the same engine as AppendIf, but — if and only
	// if the append is about to commit — calls audit with the open
	// transaction and the resulting outcome before committing. This lets
	// the command executor (component D) persist its audit row in the
	// exact transaction that appended the command's events, so the two
	// can never diverge after a crash. audit may be nil, in which case
	// this is equivalent to AppendIf. An error from audit aborts the
	// transaction and is returned wrapped as a StoreUnavailableError.
	AppendWithinTx(ctx context.Context, events []InputEvent, condition AppendCondition, audit func(ctx context.Context, tx pgx.Tx, outcome AppendOutcome) error) (AppendOutcome, error)

	// Project folds every StateProjector's query over the events
	// strictly after the given cursor, up to the end of the log (a zero
	// Cursor folds the whole log), and returns each projector's final
	// state keyed by its ID, plus the highest cursor observed across all
	// of them.
	Project(ctx context.Context, projectors []StateProjector, after Cursor) (map[string]any, Cursor, error)

	// Pool exposes the underlying connection pool. The command executor
	// uses it to write audit rows for commands that end without an
	// append transaction.
	Pool() *pgxpool.Pool
}

// AppendOutcome is the result of an append: the assigned cursor of the
// last inserted event, and whether the idempotency check short-circuited
// the append because a matching idempotency key had already been
// committed. Violations are still reported through the error return: a
// concurrency violation returns a zero AppendOutcome with a
// ConcurrencyViolationError, and an idempotent short-circuit returns
// Idempotent set to true and the cursor of the log's head together with
// an IdempotencyViolationError, so callers inspect the error (for
// example with IsIdempotencyViolation) as well as this struct.
type AppendOutcome struct {
	Cursor    Cursor
	Idempotent bool
}

type eventStore struct {
	pool         *pgxpool.Pool
	clock        Clock
	maxBatchSize int
	log          zerolog.Logger
}

// StoreOption configures an EventStore constructed by NewEventStore.
type StoreOption func(*eventStore)

// WithClock overrides the store's Clock, used by tests to pin OccurredAt.
func WithClock(c Clock) StoreOption {
	return func(es *eventStore) { es.clock = c }
}

// WithMaxBatchSize caps the number of events accepted by a single
// AppendIf call.
func WithMaxBatchSize(n int) StoreOption {
	return func(es *eventStore) { es.maxBatchSize = n }
}

// WithLogger attaches a component-scoped logger, following the
// teacher's convention of holding a zerolog.Logger value per component
// rather than a package-level global.
func WithLogger(l zerolog.Logger) StoreOption {
	return func(es *eventStore) { es.log = l.With().Str("component", "dcb.store").Logger() }
}

// NewEventStore wraps pool with the event log store and DCB append
// engine. pool must be non-nil.
func NewEventStore(pool *pgxpool.Pool, opts ...StoreOption) (EventStore, error) {
	if pool == nil {
		return nil, NewInvalidInputError("NewEventStore", errNilPool)
	}
	es := &eventStore{
		pool:         pool,
		clock:        SystemClock{},
		maxBatchSize: 1000,
		log:          zerolog.Nop(),
	}
	for _, o := range opts {
		o(es)
	}
	return es, nil
}

func (es *eventStore) Pool() *pgxpool.Pool { return es.pool }
