package logger

import corelogger "github.com/kilianp07/parlock/core/logger"

// Logger mirrors the core logger interface.
type Logger = corelogger.Logger

// NopLogger discards all log lines.
type NopLogger = corelogger.NopLogger

// New returns a Logger tagged with component. Output format follows APP_ENV
// and the level follows the last SetLevel call.
func New(component string) Logger {
	return NewZerologLogger(component)
}
