// Package logger defines the logging interface used across the freshness
// subsystem, plus handlers backed by log/slog and zerolog.
//
// Library code takes a Logger value rather than logging through a package
// global, so each session engine and server component can be given its own
// destination.
package logger

import (
	"log/slog"
)

// Logger accepts a message followed by alternating key/value pairs,
// in the style of log/slog.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

type slogHandler struct {
	logger *slog.Logger
}

// New returns a Logger backed by the given slog handler.
func New(h slog.Handler) Logger {
	return &slogHandler{logger: slog.New(h)}
}

func (handler *slogHandler) Error(msg string, args ...any) {
	handler.logger.Error(msg, args...)
}

func (handler *slogHandler) Warn(msg string, args ...any) {
	handler.logger.Warn(msg, args...)
}

func (handler *slogHandler) Info(msg string, args ...any) {
	handler.logger.Info(msg, args...)
}

func (handler *slogHandler) Debug(msg string, args ...any) {
	handler.logger.Debug(msg, args...)
}
