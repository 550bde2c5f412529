// Package logger builds the engine's zerolog root logger. Every component
// derives a child from it with With().Str("component", ...), so the level
// and output format are decided exactly once here.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config selects the level and output format of the root logger.
type Config struct {
	Level  string // debug, info, warn or error
	Pretty bool   // human-readable console output for local runs
}

// New builds the root logger. Unknown or empty levels fall back to info.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var output io.Writer = os.Stdout
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: "15:04:05"}
	}

	return zerolog.New(output).
		With().
		Timestamp().
		Caller().
		Logger()
}

// SetGlobalLogger routes the package-level zerolog/log logger through l so
// stray log.X() calls end up in the same stream as everything else.
func SetGlobalLogger(l zerolog.Logger) {
	log.Logger = l
}
