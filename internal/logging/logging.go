// Package logging builds the service-wide zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New creates a structured logger.
//
// format "json" emits one JSON object per line for log shippers; "pretty"
// is human-readable console output for local development.
func New(level, format string) zerolog.Logger {
	var output io.Writer = os.Stdout

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if format == "pretty" {
		output = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Str("service", "notebud-ws").
		Logger()
}
