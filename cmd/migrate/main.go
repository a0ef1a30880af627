// Command migrate applies or inspects the engine's Postgres schema.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/crabletlabs/dcbengine/internal/migrate"
)

func main() {
	log := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: migrate <up|down|version> [database-url]")
		os.Exit(2)
	}
	cmd := os.Args[1]

	dbURL := os.Getenv("DATABASE_URL")
	if len(os.Args) > 2 {
		dbURL = os.Args[2]
	}
	if dbURL == "" {
		log.Fatal().Msg("DATABASE_URL not set and no database-url argument given")
	}

	r, err := migrate.New(dbURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("opening migration runner")
	}
	defer r.Close()

	switch cmd {
	case "up":
		if err := r.Up(); err != nil {
			log.Fatal().Err(err).Msg("migrate up failed")
		}
		log.Info().Msg("migrations applied")
	case "down":
		if err := r.Down(); err != nil {
			log.Fatal().Err(err).Msg("migrate down failed")
		}
		log.Info().Msg("last migration rolled back")
	case "version":
		v, dirty, err := r.Version()
		if err != nil {
			log.Fatal().Err(err).Msg("reading version")
		}
		log.Info().Uint("version", v).Bool("dirty", dirty).Msg("schema version")
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		os.Exit(2)
	}
}
