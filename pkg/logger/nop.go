package logger

type nopHandler struct{}

// Nop returns a Logger that discards everything. Useful as a default
// when the caller does not care about logs, and in tests.
func Nop() Logger {
	return nopHandler{}
}

func (nopHandler) Error(msg string, args ...any) {}
func (nopHandler) Warn(msg string, args ...any)  {}
func (nopHandler) Info(msg string, args ...any)  {}
func (nopHandler) Debug(msg string, args ...any) {}
