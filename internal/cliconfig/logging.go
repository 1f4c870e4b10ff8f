package cliconfig

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger builds the CLI logger for cfg: a console writer on stderr unless
// the format is json.
func Logger(cfg Config) zerolog.Logger {
	return newLogger(os.Stderr, cfg)
}

func newLogger(w io.Writer, cfg Config) zerolog.Logger {
	if cfg.LogFormat != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}
