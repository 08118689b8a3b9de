// Package logx builds the zerolog loggers used across the repo.
// Console output is for humans at a terminal; anything else gets JSON.
package logx

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const consoleTimeFormat = "15:04:05.000"

// Config describes a logger
type Config struct {
	// Level is one of trace, debug, info, warn, error.  Unknown values mean info
	Level string `yaml:"Level" koanf:"Level"`

	// Console selects human readable output over JSON
	Console bool `yaml:"Console" koanf:"Console"`
}

// New returns a logger writing to stderr
func New(c Config) zerolog.Logger {
	return NewWriter(os.Stderr, c)
}

// NewWriter returns a logger writing to w
func NewWriter(w io.Writer, c Config) zerolog.Logger {
	if c.Console {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: consoleTimeFormat}
	}
	return zerolog.New(w).Level(ParseLevel(c.Level)).With().Timestamp().Logger()
}

// Component derives a logger tagged with the name of a component
func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("component", name).Logger()
}

// ParseLevel converts a level name to a zerolog.Level, defaulting to info
func ParseLevel(s string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return zerolog.TraceLevel
	case "DEBUG":
		return zerolog.DebugLevel
	case "WARN", "WARNING":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
