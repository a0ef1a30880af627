package dcb

import (
	"context"
	"fmt"
	"time"
)

// Query reads every event matching q, strictly after the given cursor,
// ordered by (transaction_id, position).
func (es *eventStore) Query(ctx context.Context, q Query, after Cursor) ([]Event, error) {
	return es.QueryLimited(ctx, q, after, 0)
}

// QueryLimited is Query bounded to at most limit events (0 = unbounded).
func (es *eventStore) QueryLimited(ctx context.Context, q Query, after Cursor, limit int) ([]Event, error) {
	if err := validateQuery(q); err != nil {
		return nil, err
	}
	sql, args, err := buildEventSelect(q, after, limit)
	if err != nil {
		return nil, NewInvalidInputError("Query", err)
	}
	rows, err := es.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, NewStoreUnavailableError("Query", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, NewStoreUnavailableError("Query", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStoreUnavailableError("Query", err)
	}
	return events, nil
}

// rowScanner is satisfied by both pgx.Rows and pgx.Row.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (Event, error) {
	var (
		eventType string
		tagsArr   []string
		data      []byte
		txnID     int64
		position  int64
		occurred  time.Time
	)
	if err := r.Scan(&eventType, &tagsArr, &data, &txnID, &position, &occurred); err != nil {
		return Event{}, err
	}
	tags, err := DecodeTags(tagsArr)
	if err != nil {
		return Event{}, fmt.Errorf("decoding stored tags: %w", err)
	}
	return Event{
		Type:          eventType,
		Tags:          tags,
		Data:          data,
		TransactionID: txnID,
		Position:      position,
		OccurredAt:    occurred,
	}, nil
}

// QueryStream streams events matching q on a buffered channel, closing
// it when the underlying rows are exhausted, ctx is cancelled, or a
// scan error occurs (surfaced on the error channel).
func (es *eventStore) QueryStream(ctx context.Context, q Query, after Cursor) (<-chan Event, <-chan error) {
	out := make(chan Event, 64)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		if err := validateQuery(q); err != nil {
			errc <- err
			return
		}
		sql, args, err := buildEventSelect(q, after, 0)
		if err != nil {
			errc <- NewInvalidInputError("QueryStream", err)
			return
		}
		rows, err := es.pool.Query(ctx, sql, args...)
		if err != nil {
			errc <- NewStoreUnavailableError("QueryStream", err)
			return
		}
		defer rows.Close()

		for rows.Next() {
			e, err := scanEvent(rows)
			if err != nil {
				errc <- NewStoreUnavailableError("QueryStream", err)
				return
			}
			select {
			case out <- e:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
		if err := rows.Err(); err != nil {
			errc <- NewStoreUnavailableError("QueryStream", err)
		}
	}()

	return out, errc
}
