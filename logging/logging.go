// Package logging builds the root zerolog.Logger that main hands to the
// reactor (the only component that logs), the same role the teacher's internal
// github.com/romainPellerin/noise/log package plays for protocol/node.go
// and skademlia/connection.go's log.Error()/log.Info() call chains.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
}

// Configure builds the root logger for the process: level parsed from
// levelName (falling back to info on an unrecognized value), writing
// to w in zerolog's human-readable console format when pretty is true,
// or newline-delimited JSON otherwise.
func Configure(w io.Writer, levelName string, pretty bool) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(levelName))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out io.Writer = w
	if pretty {
		out = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}

	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// Default builds the root logger from the environment: LOG_LEVEL (default
// "info") and LOG_FORMAT=json to disable the console writer, matching the
// env-driven configuration style config.Parse uses for the rest of the
// process's settings.
func Default() zerolog.Logger {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	pretty := strings.ToLower(os.Getenv("LOG_FORMAT")) != "json"
	return Configure(os.Stderr, level, pretty)
}

// Component derives a child logger scoped to a single subsystem (e.g.
// "reactor", "lookup"), the Go analogue of the teacher's per-file log
// call sites, but recorded once as structured context instead of repeated
// in every message string.
func Component(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("component", name).Logger()
}
