package imwire

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger is the logging interface the session calls into, with distinct
// levels rather than a single Printf method: a protocol client wants to
// log per-frame detail at Debug without paying for it when Debug is
// disabled.
type Logger interface {
	Debug(format string, v ...interface{})
	Info(format string, v ...interface{})
	Warn(format string, v ...interface{})
	Error(format string, v ...interface{})
}

// zerologLogger is the default Logger, backing the interface with
// github.com/rs/zerolog's structured event builder instead of stdlib log.
type zerologLogger struct {
	log zerolog.Logger
}

// NewLogger builds the default Logger, writing leveled, human-readable
// output to stderr.
func NewLogger() Logger {
	return &zerologLogger{log: zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()}
}

func (l *zerologLogger) Debug(format string, v ...interface{}) { l.log.Debug().Msgf(format, v...) }
func (l *zerologLogger) Info(format string, v ...interface{})  { l.log.Info().Msgf(format, v...) }
func (l *zerologLogger) Warn(format string, v ...interface{})  { l.log.Warn().Msgf(format, v...) }
func (l *zerologLogger) Error(format string, v ...interface{}) { l.log.Error().Msgf(format, v...) }

// NullLogger discards everything, for a silent session.
type NullLogger struct{}

func (NullLogger) Debug(string, ...interface{}) {}
func (NullLogger) Info(string, ...interface{})  {}
func (NullLogger) Warn(string, ...interface{})  {}
func (NullLogger) Error(string, ...interface{}) {}
