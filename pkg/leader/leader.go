// Package leader implements single-process leader election (component
// H) on top of a Postgres advisory lock held on one pinned connection,
// so at most one process in the fleet runs the generic event
// processors at a time.
package leader

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/crabletlabs/dcbengine/internal/telemetry"
)

// LockKey is the single global advisory lock every instance of the
// engine contends for. It is a fixed, arbitrary constant: every
// process in a given deployment must agree on it, so it is not
// configurable.
const LockKey = 9182736455

// Elector reports whether this process currently holds the leader
// lock. Components that must run on exactly one instance (the
// processor Manager) depend on this narrow interface rather than the
// concrete *PostgresElector, so tests can fake leadership without a database.
type Elector interface {
	IsLeader() bool
}

// staticElector always reports the same answer; used by tests and by
// single-instance deployments that disable election entirely.
type staticElector bool

func (s staticElector) IsLeader() bool { return bool(s) }

// AlwaysLeader returns an Elector that always reports leadership.
func AlwaysLeader() Elector { return staticElector(true) }

// PostgresElector holds the advisory lock on a single pinned
// connection acquired from pool, retrying acquisition on a fixed
// interval and heartbeating the leader_election row while it holds the
// lock so operators can see who's leading without querying
// pg_locks directly.
type PostgresElector struct {
	pool            *pgxpool.Pool
	retryInterval   time.Duration
	heartbeatInterval time.Duration
	holder          string
	metrics         *telemetry.Metrics
	log             zerolog.Logger

	isLeader atomic.Bool
	conn     *pgxpool.Conn
}

// Option configures a PostgresElector.
type Option func(*PostgresElector)

func WithRetryInterval(d time.Duration) Option {
	return func(e *PostgresElector) { e.retryInterval = d }
}

func WithHeartbeatInterval(d time.Duration) Option {
	return func(e *PostgresElector) { e.heartbeatInterval = d }
}

func WithMetrics(m *telemetry.Metrics) Option {
	return func(e *PostgresElector) { e.metrics = m }
}

func WithLogger(l zerolog.Logger) Option {
	return func(e *PostgresElector) { e.log = l.With().Str("component", "leader.elector").Logger() }
}

// New builds a PostgresElector identified by holder (typically a
// hostname or instance id, recorded in leader_election.holder).
func New(pool *pgxpool.Pool, holder string, opts ...Option) *PostgresElector {
	e := &PostgresElector{
		pool:              pool,
		holder:            holder,
		retryInterval:     5 * time.Second,
		heartbeatInterval: 10 * time.Second,
		log:               zerolog.Nop(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// IsLeader reports whether this process currently holds the lock.
func (e *PostgresElector) IsLeader() bool {
	return e.isLeader.Load()
}

// Run drives the election loop until ctx is cancelled: while not
// leader, it retries acquisition every retryInterval; while leader, it
// heartbeats the leader_election row every heartbeatInterval and
// releases the lock (by closing the pinned connection) when ctx ends
// or the connection is lost, so another instance can take over.
func (e *PostgresElector) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !e.IsLeader() {
			acquired, err := e.tryAcquire(ctx)
			if err != nil {
				e.log.Warn().Err(err).Msg("leader election attempt failed")
			}
			if !acquired {
				if err := sleepCtx(ctx, e.retryInterval); err != nil {
					return err
				}
				continue
			}
			e.log.Info().Str("holder", e.holder).Msg("acquired leader lock")
		}
		if err := e.holdUntilLost(ctx); err != nil {
			e.log.Warn().Err(err).Msg("lost leader lock")
		}
	}
}

func (e *PostgresElector) tryAcquire(ctx context.Context) (bool, error) {
	conn, err := e.pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	var acquired bool
	if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", int64(LockKey)).Scan(&acquired); err != nil {
		conn.Release()
		return false, err
	}
	if !acquired {
		conn.Release()
		return false, nil
	}
	e.conn = conn
	e.isLeader.Store(true)
	e.setMetric(true)
	if _, err := conn.Exec(ctx,
		`UPDATE leader_election SET holder = $1, acquired_at = now(), last_heartbeat = now() WHERE id = 1`,
		e.holder); err != nil {
		e.log.Warn().Err(err).Msg("failed to record leadership in leader_election table")
	}
	return true, nil
}

// holdUntilLost heartbeats while leader and returns when the
// connection (and therefore the session-scoped advisory lock) is lost
// or ctx is cancelled, at which point it releases the connection so a
// subsequent tryAcquire call starts clean.
func (e *PostgresElector) holdUntilLost(ctx context.Context) error {
	defer func() {
		e.isLeader.Store(false)
		e.setMetric(false)
		if e.conn != nil {
			// Closing the session drops its advisory lock; Release then
			// destroys the closed connection instead of pooling it.
			_ = e.conn.Conn().Close(context.Background())
			e.conn.Release()
			e.conn = nil
		}
	}()

	ticker := time.NewTicker(e.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.conn.Exec(ctx, `UPDATE leader_election SET last_heartbeat = now() WHERE id = 1`); err != nil {
				return err
			}
		}
	}
}

func (e *PostgresElector) setMetric(held bool) {
	if e.metrics != nil {
		e.metrics.SetLeaderHeld(held)
	}
}

// Close releases the pinned connection and, with it, the advisory
// lock, so shutdown hands leadership off promptly instead of waiting
// for the connection to be reaped.
func (e *PostgresElector) Close(ctx context.Context) error {
	if e.conn == nil {
		return nil
	}
	_, err := e.conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", int64(LockKey))
	e.conn.Release()
	e.conn = nil
	e.isLeader.Store(false)
	e.setMetric(false)
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
