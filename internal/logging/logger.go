// Package logging configures the gateway's zerolog logger.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logging configuration.
type Config struct {
	Level  string
	Pretty bool
}

// Setup builds the process logger and installs it as the global one.
// Logs go to stderr so the mail pipe keeps stdout free.
func Setup(cfg Config) zerolog.Logger {
	return New(cfg, os.Stderr)
}

// New builds a logger writing to out.
func New(cfg Config, out io.Writer) zerolog.Logger {
	output := out
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(output).Level(level).With().Timestamp().Logger()
	log.Logger = logger
	return logger
}
