// Package migrate wraps golang-migrate around the embedded schema,
// giving cmd/migrate and integration test setup a single entry point
// for applying and inspecting schema state.
package migrate

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"

	"github.com/crabletlabs/dcbengine/migrations"
)

// Runner drives schema migrations against a single database.
type Runner struct {
	m  *migrate.Migrate
	db *sql.DB
	log zerolog.Logger
}

// New opens databaseURL and prepares a Runner bound to the embedded
// migration set.
func New(databaseURL string, log zerolog.Logger) (*Runner, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating postgres driver: %w", err)
	}

	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening embedded migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating migrate instance: %w", err)
	}
	m.Log = &logAdapter{log: log}

	return &Runner{m: m, db: db, log: log.With().Str("component", "migrate").Logger()}, nil
}

// Up applies every pending migration.
func (r *Runner) Up() error {
	if err := r.m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// Down rolls back the most recently applied migration.
func (r *Runner) Down() error {
	if err := r.m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// Version reports the current schema version and dirty flag.
func (r *Runner) Version() (uint, bool, error) {
	v, dirty, err := r.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

// Drop destroys every object the migrator knows about. Used only by
// test teardown.
func (r *Runner) Drop() error {
	return r.m.Drop()
}

// Close releases the source and database handles.
func (r *Runner) Close() error {
	srcErr, dbErr := r.m.Close()
	return errors.Join(srcErr, dbErr)
}

type logAdapter struct {
	log zerolog.Logger
}

func (l *logAdapter) Printf(format string, v ...interface{}) {
	l.log.Info().Msgf(format, v...)
}

func (l *logAdapter) Verbose() bool { return false }
