// Package logging sets up the process-wide zerolog logger.
package logging

import (
	"os"

	"github.com/rs/zerolog"
)

// New builds a console-friendly zerolog.Logger at the given level
// ("debug", "info", "warn", "error"; unrecognized values fall back to info).
func New(level string) zerolog.Logger {
	zerolog.TimeFieldFormat = "2006-01-02T15:04:05.000Z07:00"

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}

	writer := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	return zerolog.New(writer).Level(lvl).With().Timestamp().Logger()
}
