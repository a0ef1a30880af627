package dcb

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
)

// idempotencyLockKey derives the advisory-lock key used to serialize
// concurrent attempts at the same logical operation: every exact()
// predicate in the idempotency query is sorted by (key,value) and
// joined, so two callers racing to append "the same" idempotent
// operation always hash to the same lock regardless of call order.
// Non-exact predicates (key_present, any_of_key) are ignored for
// locking purposes — only exact tags identify a specific occurrence.
func idempotencyLockKey(q *Query) (string, bool) {
	if q == nil {
		return "", false
	}
	var pairs []string
	for _, item := range q.Items {
		for _, p := range item.Tags {
			if p.Kind == TagExact {
				pairs = append(pairs, p.Key+"="+p.Value)
			}
		}
	}
	if len(pairs) == 0 {
		return "", false
	}
	sort.Strings(pairs)
	key := "idempotency:"
	for _, p := range pairs {
		key += p + ","
	}
	return key, true
}

func (es *eventStore) Append(ctx context.Context, events []InputEvent) (AppendOutcome, error) {
	return es.AppendIf(ctx, events, AppendCondition{})
}

// AppendIf implements the DCB append engine (component B, spec §4.1's
// algorithm): advisory-lock the idempotency key if one is given, check
// fail_if_events_match against the full committed log (never filtered
// to this transaction's snapshot — see the comment on the concurrency
// check in AppendWithinTx), then insert all events in one transaction with a single
// transaction_id drawn from transaction_id_seq.
func (es *eventStore) AppendIf(ctx context.Context, events []InputEvent, condition AppendCondition) (AppendOutcome, error) {
	return es.AppendWithinTx(ctx, events, condition, nil)
}

// AppendWithinTx is documented on the EventStore interface.
func (es *eventStore) AppendWithinTx(ctx context.Context, events []InputEvent, condition AppendCondition, audit func(ctx context.Context, tx pgx.Tx, outcome AppendOutcome) error) (AppendOutcome, error) {
	if len(events) == 0 {
		return AppendOutcome{}, NewInvalidInputError("AppendIf", fmt.Errorf("events must not be empty"))
	}
	if len(events) > es.maxBatchSize {
		return AppendOutcome{}, NewInvalidInputError("AppendIf", fmt.Errorf("batch of %d exceeds max %d", len(events), es.maxBatchSize))
	}
	for i, e := range events {
		if err := validateEvent(e, i); err != nil {
			return AppendOutcome{}, err
		}
	}
	if !condition.FailIfEventsMatch.IsEmpty() {
		if err := validateQuery(condition.FailIfEventsMatch); err != nil {
			return AppendOutcome{}, err
		}
	}
	if condition.Idempotency != nil {
		if err := validateQuery(*condition.Idempotency); err != nil {
			return AppendOutcome{}, err
		}
	}

	tx, err := es.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return AppendOutcome{}, NewStoreUnavailableError("AppendIf", err)
	}
	defer tx.Rollback(ctx)

	if condition.Idempotency != nil && !condition.Idempotency.IsEmpty() {
		if lockKey, ok := idempotencyLockKey(condition.Idempotency); ok {
			if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", lockKey); err != nil {
				return AppendOutcome{}, NewStoreUnavailableError("AppendIf", fmt.Errorf("acquiring idempotency lock: %w", err))
			}
		}

		existsSQL, existsArgs, err := buildExistsQuery(*condition.Idempotency)
		if err != nil {
			return AppendOutcome{}, NewInvalidInputError("AppendIf", err)
		}
		var already bool
		if err := tx.QueryRow(ctx, existsSQL, existsArgs...).Scan(&already); err != nil {
			return AppendOutcome{}, NewStoreUnavailableError("AppendIf", fmt.Errorf("checking idempotency: %w", err))
		}
		if already {
			cur, err := es.currentCursor(ctx, tx)
			if err != nil {
				return AppendOutcome{}, err
			}
			return AppendOutcome{Cursor: cur, Idempotent: true}, NewIdempotencyViolationError("AppendIf", fmt.Errorf("matching idempotency key already committed"))
		}
	}

	// The concurrency check must see every committed event, not only
	// what this transaction's snapshot would show: a ReadCommitted
	// isolation level plus a check against the live table (rather than
	// against a captured snapshot id) is what gives that guarantee.
	if !condition.FailIfEventsMatch.IsEmpty() {
		conflictSQL, conflictArgs, err := buildExistsQuery(condition.FailIfEventsMatch)
		if err != nil {
			return AppendOutcome{}, NewInvalidInputError("AppendIf", err)
		}
		if !condition.AfterCursor.IsZero() {
			conflictSQL = fmt.Sprintf(
				"SELECT EXISTS(SELECT 1 FROM events WHERE (%s) AND (transaction_id, position) > ($%d, $%d))",
				stripOuterExists(conflictSQL), len(conflictArgs)+1, len(conflictArgs)+2)
			conflictArgs = append(conflictArgs, condition.AfterCursor.TransactionID, condition.AfterCursor.Position)
		}
		var conflict bool
		if err := tx.QueryRow(ctx, conflictSQL, conflictArgs...).Scan(&conflict); err != nil {
			return AppendOutcome{}, NewStoreUnavailableError("AppendIf", fmt.Errorf("checking append condition: %w", err))
		}
		if conflict {
			return AppendOutcome{}, NewConcurrencyViolationError("AppendIf", fmt.Errorf("fail_if_events_match matched an existing event"))
		}
	}

	var txnID int64
	if err := tx.QueryRow(ctx, "SELECT nextval('transaction_id_seq')").Scan(&txnID); err != nil {
		return AppendOutcome{}, NewStoreUnavailableError("AppendIf", fmt.Errorf("allocating transaction id: %w", err))
	}

	now := es.clock.Now()
	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(
			`INSERT INTO events (type, tags, data, transaction_id, occurred_at) VALUES ($1, $2, $3, $4, $5)`,
			e.Type, EncodeTags(e.Tags), e.Data, txnID, now,
		)
	}
	br := tx.SendBatch(ctx, batch)
	for range events {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return AppendOutcome{}, NewStoreUnavailableError("AppendIf", fmt.Errorf("inserting event batch: %w", err))
		}
	}
	if err := br.Close(); err != nil {
		return AppendOutcome{}, NewStoreUnavailableError("AppendIf", fmt.Errorf("closing batch: %w", err))
	}

	last := Cursor{TransactionID: txnID}
	if err := tx.QueryRow(ctx, "SELECT position, occurred_at FROM events WHERE transaction_id = $1 ORDER BY position DESC LIMIT 1", txnID).Scan(&last.Position, &last.OccurredAt); err != nil {
		return AppendOutcome{}, NewStoreUnavailableError("AppendIf", fmt.Errorf("resolving last position: %w", err))
	}

	outcome := AppendOutcome{Cursor: last}

	if audit != nil {
		if err := audit(ctx, tx, outcome); err != nil {
			return AppendOutcome{}, NewStoreUnavailableError("AppendIf", fmt.Errorf("persisting command audit: %w", err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return AppendOutcome{}, NewStoreUnavailableError("AppendIf", fmt.Errorf("committing: %w", err))
	}

	return outcome, nil
}

func (es *eventStore) currentCursor(ctx context.Context, tx pgx.Tx) (Cursor, error) {
	var c Cursor
	row := tx.QueryRow(ctx, "SELECT position, transaction_id, occurred_at FROM events ORDER BY transaction_id DESC, position DESC LIMIT 1")
	if err := row.Scan(&c.Position, &c.TransactionID, &c.OccurredAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Cursor{}, nil
		}
		return Cursor{}, NewStoreUnavailableError("currentCursor", err)
	}
	return c, nil
}

// stripOuterExists strips the "SELECT EXISTS(...)" wrapper so the
// inner predicate can be recombined with an extra AND clause.
func stripOuterExists(sql string) string {
	const prefix = "SELECT EXISTS(SELECT 1 FROM events WHERE "
	if len(sql) > len(prefix)+1 && sql[:len(prefix)] == prefix {
		return sql[len(prefix) : len(sql)-1]
	}
	return "TRUE"
}
