package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/crabletlabs/dcbengine/internal/telemetry"
	"github.com/crabletlabs/dcbengine/pkg/dcb"
	"github.com/crabletlabs/dcbengine/pkg/leader"
)

// FetchFunc returns up to limit events committed after cursor,
// ordered by (transaction_id, position). Outbox and view adapters
// implement this over a fixed dcb.Query via dcb.EventStore.QueryLimited.
type FetchFunc func(ctx context.Context, after dcb.Cursor, limit int) ([]dcb.Event, error)

// HandleFunc processes a batch of events fetched by FetchFunc. At-least-
// once delivery means HandleFunc may see the same batch more than once
// after a crash between a successful Handle and the progress Save that
// would have advanced the cursor past it; handlers must be idempotent.
type HandleFunc func(ctx context.Context, events []dcb.Event) error

// Config is one processor's scheduling policy.
type Config struct {
	ID                   string
	PollingInterval      time.Duration
	BatchSize            int
	MaxConsecutiveErrors int
	BackoffEnabled       bool
	BackoffThreshold     int
	BackoffInitial       time.Duration
	BackoffMax           time.Duration
	BackoffFactor        float64
}

// Processor runs FetchFunc/HandleFunc on a schedule, gated by Elector,
// persisting its cursor and health through a ProgressStore. It is the
// single implementation shared by the outbox adapter and the view
// adapter (component E); they differ only in Config, FetchFunc,
// HandleFunc and ProgressStore.
type Processor struct {
	cfg     Config
	fetch   FetchFunc
	handle  HandleFunc
	store   ProgressStore
	elector leader.Elector
	backoff *Backoff
	metrics *telemetry.Metrics
	log     zerolog.Logger
}

// New builds a Processor. elector gates every tick: when it reports
// non-leadership the tick is skipped without touching progress, so a
// standby instance neither advances nor contends for the row.
func New(cfg Config, fetch FetchFunc, handle HandleFunc, store ProgressStore, elector leader.Elector, metrics *telemetry.Metrics, log zerolog.Logger) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = 5
	}
	return &Processor{
		cfg:     cfg,
		fetch:   fetch,
		handle:  handle,
		store:   store,
		elector: elector,
		backoff: NewBackoff(cfg.BackoffEnabled, cfg.BackoffThreshold, cfg.BackoffInitial, cfg.BackoffMax, cfg.BackoffFactor),
		metrics: metrics,
		log:     log.With().Str("component", "processor").Str("processor_id", cfg.ID).Logger(),
	}
}

// Tick runs a single fetch/handle/advance cycle and returns the delay
// the caller should wait before the next one.
func (p *Processor) Tick(ctx context.Context) time.Duration {
	if !p.elector.IsLeader() {
		return p.cfg.PollingInterval
	}

	progress, err := p.store.Load(ctx, p.cfg.ID)
	if err != nil {
		p.log.Error().Err(err).Msg("loading processor progress")
		return p.cfg.PollingInterval
	}
	if progress.State == StatePaused || progress.State == StateFailed {
		return p.cfg.PollingInterval
	}

	events, err := p.fetch(ctx, progress.Cursor, p.cfg.BatchSize)
	if err != nil {
		p.recordError(ctx, &progress, err, nil)
		return p.cfg.PollingInterval
	}

	if len(events) == 0 {
		progress.ConsecutiveEmpty++
		progress.State = StateActive
		progress.UpdatedAt = time.Now().UTC()
		if err := p.store.Save(ctx, p.cfg.ID, progress); err != nil {
			p.log.Error().Err(err).Msg("saving empty-poll progress")
		}
		if p.metrics != nil {
			p.metrics.ObserveEmptyPoll(p.cfg.ID)
		}
		delay := p.backoff.Empty()
		if p.metrics != nil {
			p.metrics.SetBackoff(p.cfg.ID, delay)
		}
		return delay
	}

	if err := p.handle(ctx, events); err != nil {
		p.recordError(ctx, &progress, err, events)
		return p.cfg.PollingInterval
	}

	last := events[len(events)-1]
	progress.Cursor = dcb.Cursor{Position: last.Position, TransactionID: last.TransactionID, OccurredAt: last.OccurredAt}
	progress.ConsecutiveErrors = 0
	progress.ConsecutiveEmpty = 0
	progress.State = StateActive
	progress.LastError = ""
	progress.FailedEvents = nil
	progress.UpdatedAt = time.Now().UTC()
	if err := p.store.Save(ctx, p.cfg.ID, progress); err != nil {
		p.log.Error().Err(err).Msg("saving advanced progress")
	}
	p.backoff.Reset()
	if p.metrics != nil {
		p.metrics.SetBackoff(p.cfg.ID, 0)
		p.metrics.SetProcessorState(p.cfg.ID, telemetry.ProcessorStateActive)
	}
	return p.cfg.PollingInterval
}

func (p *Processor) recordError(ctx context.Context, progress *Progress, cause error, batch []dcb.Event) {
	progress.ConsecutiveErrors++
	progress.LastError = cause.Error()
	progress.UpdatedAt = time.Now().UTC()
	if progress.ConsecutiveErrors >= p.cfg.MaxConsecutiveErrors {
		progress.State = StateFailed
		progress.FailedEvents = summarizeFailedEvents(batch)
	}
	if err := p.store.Save(ctx, p.cfg.ID, *progress); err != nil {
		p.log.Error().Err(err).Msg("saving error progress")
	}
	p.log.Error().Err(cause).Int("consecutive_errors", progress.ConsecutiveErrors).Msg("processor tick failed")
	if p.metrics != nil {
		p.metrics.ObserveProcessorError(p.cfg.ID)
		state := telemetry.ProcessorStateActive
		if progress.State == StateFailed {
			state = telemetry.ProcessorStateFailed
		}
		p.metrics.SetProcessorState(p.cfg.ID, state)
	}
}

// summarizeFailedEvents renders up to failedEventsLimit events from a
// failed batch as "type@position" names, for Progress.FailedEvents.
func summarizeFailedEvents(batch []dcb.Event) []string {
	if len(batch) == 0 {
		return nil
	}
	n := len(batch)
	if n > failedEventsLimit {
		n = failedEventsLimit
	}
	names := make([]string, n)
	for i := 0; i < n; i++ {
		names[i] = fmt.Sprintf("%s@%d", batch[i].Type, batch[i].Position)
	}
	return names
}

// Run loops Tick until ctx is cancelled, sleeping the delay Tick
// returns between cycles.
func (p *Processor) Run(ctx context.Context) error {
	for {
		delay := p.Tick(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// Pause marks the processor paused; Run's next Tick will skip work
// until Resume is called.
func (p *Processor) Pause(ctx context.Context) error {
	return p.setState(ctx, StatePaused)
}

// Resume clears a paused or failed state and resets the error counter
// so the processor can try again.
func (p *Processor) Resume(ctx context.Context) error {
	progress, err := p.store.Load(ctx, p.cfg.ID)
	if err != nil {
		return err
	}
	progress.State = StateActive
	progress.ConsecutiveErrors = 0
	progress.FailedEvents = nil
	progress.UpdatedAt = time.Now().UTC()
	return p.store.Save(ctx, p.cfg.ID, progress)
}

func (p *Processor) setState(ctx context.Context, state State) error {
	progress, err := p.store.Load(ctx, p.cfg.ID)
	if err != nil {
		return err
	}
	progress.State = state
	progress.UpdatedAt = time.Now().UTC()
	return p.store.Save(ctx, p.cfg.ID, progress)
}

// Reset rewinds the processor's cursor to the zero value, causing the
// next Tick to refetch the entire matching log. Used by operators to
// replay a view or outbox topic from scratch.
func (p *Processor) Reset(ctx context.Context) error {
	progress, err := p.store.Load(ctx, p.cfg.ID)
	if err != nil {
		return err
	}
	progress.Cursor = dcb.Cursor{}
	progress.ConsecutiveErrors = 0
	progress.ConsecutiveEmpty = 0
	progress.State = StateActive
	progress.FailedEvents = nil
	progress.UpdatedAt = time.Now().UTC()
	return p.store.Save(ctx, p.cfg.ID, progress)
}

// ID returns the processor's configured identity.
func (p *Processor) ID() string { return p.cfg.ID }

// Status returns the processor's current durable Progress, for the
// admin surface's per-processor inspection endpoint.
func (p *Processor) Status(ctx context.Context) (Progress, error) {
	return p.store.Load(ctx, p.cfg.ID)
}

// Lag computes the number of events committed after the processor's
// current cursor, used by the admin surface's lag query and by the
// lag gauge.
func (p *Processor) Lag(ctx context.Context, store dcb.EventStore, query dcb.Query) (int64, error) {
	progress, err := p.store.Load(ctx, p.cfg.ID)
	if err != nil {
		return 0, err
	}
	events, err := store.Query(ctx, query, progress.Cursor)
	if err != nil {
		return 0, err
	}
	lag := int64(len(events))
	if p.metrics != nil {
		p.metrics.SetProcessorLag(p.cfg.ID, lag)
	}
	return lag, nil
}
