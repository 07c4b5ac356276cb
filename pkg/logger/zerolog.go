package logger

import (
	"fmt"

	"github.com/rs/zerolog"
)

type zerologHandler struct {
	logger zerolog.Logger
}

// FromZerolog returns a Logger backed by the given zerolog.Logger.
// The server daemon uses this for timestamped JSON logs; library code
// stays agnostic of the backend.
func FromZerolog(l zerolog.Logger) Logger {
	return &zerologHandler{logger: l}
}

func (handler *zerologHandler) Error(msg string, args ...any) {
	withFields(handler.logger.Error(), args).Msg(msg)
}

func (handler *zerologHandler) Warn(msg string, args ...any) {
	withFields(handler.logger.Warn(), args).Msg(msg)
}

func (handler *zerologHandler) Info(msg string, args ...any) {
	withFields(handler.logger.Info(), args).Msg(msg)
}

func (handler *zerologHandler) Debug(msg string, args ...any) {
	withFields(handler.logger.Debug(), args).Msg(msg)
}

// withFields folds slog-style alternating key/value args into the event.
// A trailing key without a value is recorded under the "!BADKEY" field,
// matching what slog does.
func withFields(e *zerolog.Event, args []any) *zerolog.Event {
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		e = e.Interface(key, args[i+1])
	}
	if len(args)%2 != 0 {
		e = e.Interface("!BADKEY", args[len(args)-1])
	}
	return e
}
