package logger

import (
	"io"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

var (
	level  atomic.Int32
	output io.Writer = os.Stdout
)

func init() {
	level.Store(int32(zerolog.InfoLevel))
}

// SetLevel changes the minimum level of loggers created afterwards. Unknown
// names leave the level unchanged and return false.
func SetLevel(name string) bool {
	if name == "" {
		return false
	}
	l, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil {
		return false
	}
	level.Store(int32(l))
	return true
}

// ZerologLogger implements Logger using rs/zerolog.
type ZerologLogger struct {
	log zerolog.Logger
}

// NewZerologLogger creates a ZerologLogger using the APP_ENV environment variable
// to determine the output format. All logs include the provided component field.
func NewZerologLogger(component string) Logger {
	return newZerolog(output, component)
}

func newZerolog(w io.Writer, component string) *ZerologLogger {
	if strings.ToLower(os.Getenv("APP_ENV")) == "dev" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	z := zerolog.New(w).
		Level(zerolog.Level(level.Load())).
		With().Timestamp().Str("component", component).Logger()
	return &ZerologLogger{log: z}
}

func (l *ZerologLogger) Debugf(format string, args ...any) {
	l.log.Debug().Msgf(format, args...)
}

func (l *ZerologLogger) Debugw(msg string, fields map[string]any) {
	l.log.Debug().Fields(fields).Msg(msg)
}

func (l *ZerologLogger) Infof(format string, args ...any) {
	l.log.Info().Msgf(format, args...)
}

func (l *ZerologLogger) Warnf(format string, args ...any) {
	l.log.Warn().Msgf(format, args...)
}

func (l *ZerologLogger) Errorf(format string, args ...any) {
	l.log.Error().Msgf(format, args...)
}
