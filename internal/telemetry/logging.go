// Package telemetry provides the engine's structured logging and
// Prometheus metrics, grouped here because both are ambient concerns
// every component pulls in the same way rather than domain logic of
// their own.
package telemetry

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// NewLogger builds the root zerolog.Logger from LOG_LEVEL and
// LOG_FORMAT environment variables ("json" default, "console" for
// local development), matching the level/format knobs the example
// stack exposes.
func NewLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(getenv("LOG_LEVEL", "info")))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var writer zerolog.ConsoleWriter
	var logger zerolog.Logger
	if strings.ToLower(getenv("LOG_FORMAT", "json")) == "console" {
		writer = zerolog.NewConsoleWriter()
		logger = zerolog.New(writer)
	} else {
		logger = zerolog.New(os.Stdout)
	}

	return logger.Level(level).With().Timestamp().Logger()
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
