// Package outbox adapts the generic processor (component E) to the
// transactional outbox pattern (component F): one processor instance
// per (topic, publisher) pair, each publishing events matching the
// topic's tag filter to an external Publisher.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crabletlabs/dcbengine/pkg/processor"
)

// ProgressStore persists outbox processor progress in outbox_progress,
// keyed by (topic, publisher) — the first of the two concrete
// ProgressStore families named in the processor package doc.
type ProgressStore struct {
	pool *pgxpool.Pool
}

// NewProgressStore wraps pool.
func NewProgressStore(pool *pgxpool.Pool) *ProgressStore {
	return &ProgressStore{pool: pool}
}

// processorID encodes (topic, publisher) as the single string the
// generic processor's Config.ID expects.
func processorID(topic, publisher string) string {
	return fmt.Sprintf("outbox:%s:%s", topic, publisher)
}

func (s *ProgressStore) Load(ctx context.Context, id string) (processor.Progress, error) {
	var p processor.Progress
	var failedEvents []byte
	row := s.pool.QueryRow(ctx,
		`SELECT last_position, last_transaction_id, state, consecutive_errors, consecutive_empty, COALESCE(last_error,''), failed_events, updated_at
		 FROM outbox_progress WHERE topic || ':' || publisher = $1`,
		idSuffix(id))
	var state string
	err := row.Scan(&p.Cursor.Position, &p.Cursor.TransactionID, &state, &p.ConsecutiveErrors, &p.ConsecutiveEmpty, &p.LastError, &failedEvents, &p.UpdatedAt)
	if err == pgx.ErrNoRows {
		return processor.Progress{State: processor.StateActive}, nil
	}
	if err != nil {
		return processor.Progress{}, err
	}
	p.State = processor.State(state)
	if len(failedEvents) > 0 {
		_ = json.Unmarshal(failedEvents, &p.FailedEvents)
	}
	return p, nil
}

func (s *ProgressStore) Save(ctx context.Context, id string, p processor.Progress) error {
	topic, publisher := splitID(id)
	var failedEvents []byte
	if len(p.FailedEvents) > 0 {
		failedEvents, _ = json.Marshal(p.FailedEvents)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO outbox_progress (topic, publisher, last_position, last_transaction_id, state, consecutive_errors, consecutive_empty, last_error, failed_events, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		 ON CONFLICT (topic, publisher) DO UPDATE SET
		   last_position = EXCLUDED.last_position,
		   last_transaction_id = EXCLUDED.last_transaction_id,
		   state = EXCLUDED.state,
		   consecutive_errors = EXCLUDED.consecutive_errors,
		   consecutive_empty = EXCLUDED.consecutive_empty,
		   last_error = EXCLUDED.last_error,
		   failed_events = EXCLUDED.failed_events,
		   updated_at = EXCLUDED.updated_at`,
		topic, publisher, p.Cursor.Position, p.Cursor.TransactionID, string(p.State), p.ConsecutiveErrors, p.ConsecutiveEmpty, nullableString(p.LastError), failedEvents, p.UpdatedAt)
	return err
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func idSuffix(id string) string {
	const prefix = "outbox:"
	if len(id) > len(prefix) {
		return id[len(prefix):]
	}
	return id
}

func splitID(id string) (topic, publisher string) {
	rest := idSuffix(id)
	for i := len(rest) - 1; i >= 0; i-- {
		if rest[i] == ':' {
			return rest[:i], rest[i+1:]
		}
	}
	return rest, ""
}
