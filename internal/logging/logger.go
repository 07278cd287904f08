// Package logging provides structured logging for the ledgerlite core.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents a log level.
type LogLevel string

const (
	LevelDebug LogLevel = "DEBUG"
	LevelInfo  LogLevel = "INFO"
	LevelWarn  LogLevel = "WARN"
	LevelError LogLevel = "ERROR"
)

// ParseLevel converts a case-insensitive level name to a LogLevel.
// Unknown names fall back to LevelInfo and report ok=false.
func ParseLevel(s string) (LogLevel, bool) {
	switch LogLevel(strings.ToUpper(strings.TrimSpace(s))) {
	case LevelDebug:
		return LevelDebug, true
	case LevelInfo:
		return LevelInfo, true
	case LevelWarn, "WARNING":
		return LevelWarn, true
	case LevelError:
		return LevelError, true
	}
	return LevelInfo, false
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger provides structured JSON logging backed by zerolog.
type Logger struct {
	zl       zerolog.Logger
	minLevel LogLevel
}

var (
	// global logger instance
	global *Logger
	mu     sync.Mutex
	once   sync.Once
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// New creates a logger writing one JSON object per line to out.
func New(out io.Writer, minLevel LogLevel) *Logger {
	return &Logger{
		zl:       zerolog.New(out).Level(minLevel.zerolog()).With().Timestamp().Logger(),
		minLevel: minLevel,
	}
}

// NewPretty creates a human-readable console logger for local development.
func NewPretty(out io.Writer, minLevel LogLevel) *Logger {
	return New(zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}, minLevel)
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop(), minLevel: LevelError}
}

// Init initializes the global logger. Only the first call has an effect,
// and none at all once SetGlobal has installed a logger.
func Init(out io.Writer, minLevel LogLevel) {
	once.Do(func() {
		mu.Lock()
		defer mu.Unlock()
		if global == nil {
			global = New(out, minLevel)
		}
	})
}

// SetGlobal replaces the global logger unconditionally.
func SetGlobal(l *Logger) {
	mu.Lock()
	defer mu.Unlock()
	global = l
}

// Get returns the global logger instance.
func Get() *Logger {
	Init(os.Stdout, LevelInfo)
	mu.Lock()
	defer mu.Unlock()
	return global
}

// Or returns l, or the global logger when l is nil.
func Or(l *Logger) *Logger {
	if l == nil {
		return Get()
	}
	return l
}

// With returns a child logger that attaches the given fields to every entry.
func (l *Logger) With(fields map[string]interface{}) *Logger {
	return &Logger{
		zl:       l.zl.With().Fields(fields).Logger(),
		minLevel: l.minLevel,
	}
}

// Level returns the minimum level written by this logger.
func (l *Logger) Level() LogLevel {
	return l.minLevel
}

func (l *Logger) write(ev *zerolog.Event, message string, context []map[string]interface{}) {
	for _, c := range context {
		if len(c) > 0 {
			ev = ev.Fields(c)
		}
	}
	ev.Msg(message)
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, context ...map[string]interface{}) {
	l.write(l.zl.Debug(), message, context)
}

// Info logs an info message.
func (l *Logger) Info(message string, context ...map[string]interface{}) {
	l.write(l.zl.Info(), message, context)
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, context ...map[string]interface{}) {
	l.write(l.zl.Warn(), message, context)
}

// Error logs an error message. err may be nil.
func (l *Logger) Error(message string, err error, context ...map[string]interface{}) {
	ev := l.zl.Error()
	if err != nil {
		ev = ev.Err(err)
	}
	l.write(ev, message, context)
}

// ErrorWithCode logs an error message tagged with an error code.
func (l *Logger) ErrorWithCode(message, code string, err error, context ...map[string]interface{}) {
	ev := l.zl.Error().Str("error_code", code)
	if err != nil {
		ev = ev.Err(err)
	}
	l.write(ev, message, context)
}

// Convenience functions using global logger

func Debug(message string, context ...map[string]interface{}) {
	Get().Debug(message, context...)
}

func Info(message string, context ...map[string]interface{}) {
	Get().Info(message, context...)
}

func Warn(message string, context ...map[string]interface{}) {
	Get().Warn(message, context...)
}

func Error(message string, err error, context ...map[string]interface{}) {
	Get().Error(message, err, context...)
}

func ErrorWithCode(message, code string, err error, context ...map[string]interface{}) {
	Get().ErrorWithCode(message, code, err, context...)
}
