package command

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/crabletlabs/dcbengine/internal/telemetry"
	"github.com/crabletlabs/dcbengine/pkg/dcb"
)

// Executor implements the command executor (component D, spec §4.2):
// look up the registered handler, let it project whatever state it
// needs and produce events, then append those events through the DCB
// engine under the handler's AppendCondition. Per spec §4.2/§5, a
// committed command's audit row is written in the exact same
// transaction as its events — see auditInTx — never as a separate
// best-effort write that a crash could leave behind.
type Executor struct {
	store             dcb.EventStore
	registry          *Registry
	persistCommands   bool
	rejectOnDuplicate map[string]struct{}
	clock             dcb.Clock
	metrics           *telemetry.Metrics
	log               zerolog.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithAudit enables command audit persistence to the commands table,
// written through the same pool dcb.EventStore appends to. When
// false, PersistCommands is a no-op regardless of configuration.
func WithAudit(persist bool) Option {
	return func(e *Executor) { e.persistCommands = persist }
}

// WithRejectOnDuplicate names the command types for which a matching
// idempotency key must surface as an IdempotencyViolationError instead
// of being converted into a successful idempotent Result — for
// commands where the caller needs to distinguish "already happened"
// from "happened just now" (e.g. ones with side effects outside the
// event log).
func WithRejectOnDuplicate(types []string) Option {
	return func(e *Executor) {
		for _, t := range types {
			e.rejectOnDuplicate[t] = struct{}{}
		}
	}
}

// WithClock overrides the Executor's Clock, used by tests.
func WithClock(c dcb.Clock) Option {
	return func(e *Executor) { e.clock = c }
}

// WithMetrics attaches the shared Metrics collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// WithLogger attaches a component-scoped logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Executor) { e.log = l.With().Str("component", "command.executor").Logger() }
}

// NewExecutor builds an Executor over store and registry.
func NewExecutor(store dcb.EventStore, registry *Registry, opts ...Option) *Executor {
	e := &Executor{
		store:             store,
		registry:          registry,
		rejectOnDuplicate: make(map[string]struct{}),
		clock:             dcb.SystemClock{},
		log:               zerolog.Nop(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Execute runs cmd through its registered handler and appends the
// resulting events. It returns a Result on success, on idempotent
// replay (unless cmd.Type is in the reject-on-duplicate set), and
// returns an error for every other outcome including
// dcb.IdempotencyViolationError for a rejected duplicate.
func (e *Executor) Execute(ctx context.Context, cmd Command) (Result, error) {
	start := e.clock.Now()
	handler, ok := e.registry.Lookup(cmd.Type)
	if !ok {
		return Result{}, dcb.NewInvalidInputError("ExecuteCommand", fmt.Errorf("no handler registered for command type %q", cmd.Type))
	}

	events, condition, err := handler(ctx, e.store, cmd)
	if err != nil {
		e.recordOutcome(cmd.Type, "handler_failure", start)
		e.auditResult(ctx, cmd, dcb.AppendOutcome{}, "handler_failure", err)
		return Result{}, dcb.NewHandlerFailureError("ExecuteCommand", cmd.Type, err)
	}
	if len(events) == 0 {
		e.recordOutcome(cmd.Type, "no_events", start)
		e.auditResult(ctx, cmd, dcb.AppendOutcome{}, "no_events", nil)
		return Result{Duration: e.clock.Now().Sub(start)}, nil
	}

	cond := dcb.AppendCondition{}
	if condition != nil {
		cond = *condition
	}

	// The command's audit row is written by auditInTx from inside the
	// same transaction as the append, so a crash between the two can
	// never happen — see AppendWithinTx.
	outcome, err := e.store.AppendWithinTx(ctx, events, cond, e.auditInTx(cmd))
	duration := e.clock.Now().Sub(start)

	if err != nil {
		if dcb.IsIdempotencyViolation(err) {
			if _, reject := e.rejectOnDuplicate[cmd.Type]; reject {
				e.recordOutcome(cmd.Type, "idempotency_violation", start)
				e.auditResult(ctx, cmd, outcome, "idempotency_violation", err)
				return Result{}, err
			}
			e.recordOutcome(cmd.Type, "idempotent", start)
			e.auditResult(ctx, cmd, outcome, "idempotent", nil)
			return Result{Outcome: outcome, Idempotent: true, Duration: duration}, nil
		}
		result := "error"
		switch {
		case dcb.IsConcurrencyViolation(err):
			result = "concurrency_violation"
		case dcb.IsStoreUnavailable(err):
			result = "store_unavailable"
		case dcb.IsInvalidInput(err):
			result = "invalid_input"
		}
		e.recordOutcome(cmd.Type, result, start)
		e.auditResult(ctx, cmd, outcome, result, err)
		return Result{}, err
	}

	e.recordOutcome(cmd.Type, "committed", start)
	return Result{Outcome: outcome, Duration: duration}, nil
}

func (e *Executor) recordOutcome(commandType, result string, start time.Time) {
	if e.metrics == nil {
		return
	}
	e.metrics.ObserveCommand(commandType, result, e.clock.Now().Sub(start))
}

// auditInTx builds the audit closure passed to AppendWithinTx so a
// command that successfully appends has its commands-table row written
// inside the very transaction that checks the append condition and
// appends its events; the handler's projection reads happen before that
// transaction opens. Returns nil when audit persistence is disabled, so
// AppendWithinTx behaves exactly like AppendIf.
func (e *Executor) auditInTx(cmd Command) func(ctx context.Context, tx pgx.Tx, outcome dcb.AppendOutcome) error {
	if !e.persistCommands {
		return nil
	}
	return func(ctx context.Context, tx pgx.Tx, outcome dcb.AppendOutcome) error {
		metadata, err := json.Marshal(cmd.Metadata)
		if err != nil {
			metadata = []byte("{}")
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO commands (id, type, data, metadata, result, last_position, last_txn_id, executed_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			 ON CONFLICT (id) DO NOTHING`,
			cmd.ID, cmd.Type, cmd.Data, metadata, "committed", outcome.Cursor.Position, outcome.Cursor.TransactionID, e.clock.Now(),
		)
		return err
	}
}

// auditResult writes a best-effort row to the commands table for
// outcomes that never reach an append transaction (a failed handler,
// no events, a rejected idempotent replay, a rejected concurrency
// check): there is no transaction to make these atomic with, since
// nothing was appended. Failure to write is logged, not returned — the
// command's own outcome has already been decided.
func (e *Executor) auditResult(ctx context.Context, cmd Command, outcome dcb.AppendOutcome, result string, cmdErr error) {
	pool := e.store.Pool()
	if !e.persistCommands || pool == nil {
		return
	}
	metadata, err := json.Marshal(cmd.Metadata)
	if err != nil {
		metadata = []byte("{}")
	}

	var errKind, errMsg *string
	if cmdErr != nil {
		k := result
		m := cmdErr.Error()
		errKind, errMsg = &k, &m
	}

	var pos, txnID *int64
	if !outcome.Cursor.IsZero() {
		pos, txnID = &outcome.Cursor.Position, &outcome.Cursor.TransactionID
	}

	_, err = pool.Exec(ctx,
		`INSERT INTO commands (id, type, data, metadata, result, last_position, last_txn_id, error_kind, error_message, executed_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		 ON CONFLICT (id) DO NOTHING`,
		cmd.ID, cmd.Type, cmd.Data, metadata, result, pos, txnID, errKind, errMsg, e.clock.Now(),
	)
	if err != nil {
		e.log.Warn().Err(err).Str("command_id", cmd.ID).Msg("failed to persist command audit row")
	}
}
