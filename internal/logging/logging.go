// Package logging provides the structured logger shared by the backend,
// the update runner and the restart watcher.
package logging

import (
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel represents the severity of a log entry
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// Options controls how a Logger is built.
type Options struct {
	Level LogLevel
	JSON  bool
}

// Logger provides structured logging with map-style fields.
type Logger struct {
	z *zap.Logger
}

var (
	mu            sync.RWMutex
	defaultLogger = mustBuild(OptionsFromEnv())
)

// OptionsFromEnv reads ACD_LOG_LEVEL, ACD_LOG_FORMAT and ACD_ENV.
func OptionsFromEnv() Options {
	enableJSON := os.Getenv("ACD_LOG_FORMAT") == "json"
	if os.Getenv("ACD_ENV") == "production" {
		enableJSON = true
	}
	return Options{
		Level: ParseLevel(os.Getenv("ACD_LOG_LEVEL")),
		JSON:  enableJSON,
	}
}

// ParseLevel maps a level name to a LogLevel, defaulting to info.
func ParseLevel(s string) LogLevel {
	switch LogLevel(s) {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return LogLevel(s)
	default:
		return LogLevelInfo
	}
}

// New builds a Logger writing to stdout.
func New(opts Options) (*Logger, error) {
	var cfg zap.Config
	if opts.JSON {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "time"
		cfg.EncoderConfig.MessageKey = "msg"
		cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.DisableStacktrace = true
	}

	level, err := zapcore.ParseLevel(string(opts.Level))
	if err != nil {
		level = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.OutputPaths = []string{"stdout"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	// Skip the Logger method and the package-level helper.
	z, err := cfg.Build(zap.AddCallerSkip(2))
	if err != nil {
		return nil, err
	}
	return &Logger{z: z}, nil
}

// NewFromZap wraps an existing zap logger. Tests use it with zaptest/observer.
func NewFromZap(z *zap.Logger) *Logger {
	return &Logger{z: z}
}

func mustBuild(opts Options) *Logger {
	l, err := New(opts)
	if err != nil {
		return &Logger{z: zap.NewNop()}
	}
	return l
}

// SetDefault replaces the package-level logger.
func SetDefault(l *Logger) {
	if l == nil {
		return
	}
	mu.Lock()
	defaultLogger = l
	mu.Unlock()
}

// Default returns the package-level logger.
func Default() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	return defaultLogger
}

// With returns a child logger that always carries fields.
func (l *Logger) With(fields map[string]any) *Logger {
	return &Logger{z: l.z.With(toZap(fields)...)}
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.z.Sync()
}

func (l *Logger) log(level zapcore.Level, msg string, fields map[string]any, err error) {
	ce := l.z.Check(level, msg)
	if ce == nil {
		return
	}
	zf := toZap(fields)
	if err != nil {
		zf = append(zf, zap.Error(err))
	}
	ce.Write(zf...)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, fields map[string]any) {
	l.log(zapcore.DebugLevel, msg, fields, nil)
}

// Info logs an info message
func (l *Logger) Info(msg string, fields map[string]any) {
	l.log(zapcore.InfoLevel, msg, fields, nil)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, fields map[string]any) {
	l.log(zapcore.WarnLevel, msg, fields, nil)
}

// Error logs an error message
func (l *Logger) Error(msg string, fields map[string]any, err error) {
	l.log(zapcore.ErrorLevel, msg, fields, err)
}

// toZap converts map fields into zap fields in a stable key order.
func toZap(fields map[string]any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}

// Global logging functions

// Debug logs a debug message
func Debug(msg string, fields map[string]any) {
	Default().Debug(msg, fields)
}

// Info logs an info message
func Info(msg string, fields map[string]any) {
	Default().Info(msg, fields)
}

// Warn logs a warning message
func Warn(msg string, fields map[string]any) {
	Default().Warn(msg, fields)
}

// Error logs an error message
func Error(msg string, fields map[string]any, err error) {
	Default().Error(msg, fields, err)
}
