// Package view adapts the generic processor (component E) to
// read-model projection (component G): one processor instance per
// named view, folding matching events into per-entity checkpoint rows
// that external Query/View Adapters (the read surface) can serve
// directly without replaying the log.
package view

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crabletlabs/dcbengine/pkg/processor"
)

// ProgressStore persists view processor progress in view_progress,
// keyed by view name — the second of the two concrete ProgressStore
// families named in the processor package doc.
type ProgressStore struct {
	pool *pgxpool.Pool
}

func NewProgressStore(pool *pgxpool.Pool) *ProgressStore {
	return &ProgressStore{pool: pool}
}

func processorID(viewName string) string { return "view:" + viewName }

func (s *ProgressStore) Load(ctx context.Context, id string) (processor.Progress, error) {
	var p processor.Progress
	var state string
	var failedEvents []byte
	row := s.pool.QueryRow(ctx,
		`SELECT last_position, last_transaction_id, state, consecutive_errors, consecutive_empty, COALESCE(last_error,''), failed_events, updated_at
		 FROM view_progress WHERE view_name = $1`,
		viewNameOf(id))
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
	var lastError *string
	if p.LastError != "" {
		lastError = &p.LastError
	}
	var failedEvents []byte
	if len(p.FailedEvents) > 0 {
		failedEvents, _ = json.Marshal(p.FailedEvents)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO view_progress (view_name, last_position, last_transaction_id, state, consecutive_errors, consecutive_empty, last_error, failed_events, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		 ON CONFLICT (view_name) DO UPDATE SET
		   last_position = EXCLUDED.last_position,
		   last_transaction_id = EXCLUDED.last_transaction_id,
		   state = EXCLUDED.state,
		   consecutive_errors = EXCLUDED.consecutive_errors,
		   consecutive_empty = EXCLUDED.consecutive_empty,
		   last_error = EXCLUDED.last_error,
		   failed_events = EXCLUDED.failed_events,
		   updated_at = EXCLUDED.updated_at`,
		viewNameOf(id), p.Cursor.Position, p.Cursor.TransactionID, string(p.State), p.ConsecutiveErrors, p.ConsecutiveEmpty, lastError, failedEvents, p.UpdatedAt)
	return err
}

func viewNameOf(id string) string {
	const prefix = "view:"
	if len(id) > len(prefix) {
		return id[len(prefix):]
	}
	return id
}
