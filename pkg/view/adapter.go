package view

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/crabletlabs/dcbengine/internal/telemetry"
	"github.com/crabletlabs/dcbengine/pkg/dcb"
	"github.com/crabletlabs/dcbengine/pkg/leader"
	"github.com/crabletlabs/dcbengine/pkg/processor"
)

// EntityKeyFunc extracts the checkpoint row's entity id from a
// matching event, typically one of its tags (e.g. the aggregate id).
type EntityKeyFunc func(event dcb.Event) string

// ApplyFunc folds event into the view's per-entity JSON state, given
// the entity's current state (nil if this is its first event).
type ApplyFunc func(current json.RawMessage, event dcb.Event) (json.RawMessage, error)

// Config describes one view subscription.
type Config struct {
	Name       string
	Filter     dcb.Query
	EntityKey  EntityKeyFunc
	Apply      ApplyFunc
	Scheduling processor.Config
}

// NewAdapter builds the Processor for one view, upserting each
// matching event's fold result into view_checkpoints under a
// transaction so the checkpoint write and the processor's own progress
// advance (performed by the caller after HandleFunc returns) are
// consistent with each other even across a crash: at worst a
// checkpoint is re-applied, which Apply must tolerate since delivery
// is at-least-once.
func NewAdapter(cfg Config, store dcb.EventStore, pool *pgxpool.Pool, progressStore processor.ProgressStore, elector leader.Elector, metrics *telemetry.Metrics, log zerolog.Logger) *processor.Processor {
	schedCfg := cfg.Scheduling
	schedCfg.ID = processorID(cfg.Name)

	fetch := func(ctx context.Context, after dcb.Cursor, limit int) ([]dcb.Event, error) {
		return store.QueryLimited(ctx, cfg.Filter, after, limit)
	}

	handle := func(ctx context.Context, events []dcb.Event) error {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		for _, e := range events {
			entityID := cfg.EntityKey(e)
			var current json.RawMessage
			row := tx.QueryRow(ctx, `SELECT data FROM view_checkpoints WHERE view_name = $1 AND entity_id = $2`, cfg.Name, entityID)
			if err := row.Scan(&current); err != nil && !isNoRows(err) {
				return err
			}
			next, err := cfg.Apply(current, e)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO view_checkpoints (view_name, entity_id, data, updated_at) VALUES ($1,$2,$3,$4)
				 ON CONFLICT (view_name, entity_id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
				cfg.Name, entityID, next, time.Now().UTC()); err != nil {
				return err
			}
		}
		return tx.Commit(ctx)
	}

	return processor.New(schedCfg, fetch, handle, progressStore, elector, metrics, log)
}

func isNoRows(err error) bool {
	return err != nil && err.Error() == "no rows in result set"
}
