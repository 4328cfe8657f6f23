package core

import (
	"context"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides structured logging capabilities
// This abstraction allows swapping logging implementations
type Logger interface {
	// Error logs an error message
	Error(args ...interface{})

	// Info logs an informational message
	Info(args ...interface{})

	// Debug logs a debug message
	Debug(args ...interface{})

	// WithFields returns a new logger with structured fields
	// This enables structured logging with key-value pairs
	WithFields(fields map[string]interface{}) Logger

	// WithContext returns a new logger with context values
	// Extracts request ID and other context values automatically
	WithContext(ctx context.Context) Logger
}

// LoggerConfig configures logger behavior
type LoggerConfig struct {
	// JSONOutput enables JSON structured output
	JSONOutput bool
	// Level sets the minimum log level (DEBUG, INFO, ERROR)
	Level string
}

// zapLogger implements Logger on top of a zap.SugaredLogger
type zapLogger struct {
	sugar *zap.SugaredLogger
}

// NewDefaultLogger creates a new default logger implementation
func NewDefaultLogger() Logger {
	return NewLogger(LoggerConfig{
		JSONOutput: false,
		Level:      "DEBUG",
	})
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() Logger {
	return NewLoggerFromZap(zap.NewNop())
}

// NewLogger creates a new logger with configuration
func NewLogger(config LoggerConfig) Logger {
	var zcfg zap.Config
	if config.JSONOutput {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zcfg.Level = zap.NewAtomicLevelAt(parseLevel(config.Level))
	zcfg.EncoderConfig.TimeKey = "timestamp"
	zcfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	// Disable zap's own stack traces; errors carry their own context.
	zcfg.DisableStacktrace = true

	l, err := zcfg.Build()
	if err != nil {
		// Fallback: an invalid sink config should never stop the host from logging.
		l = zap.NewExample()
	}
	return NewLoggerFromZap(l)
}

// NewLoggerFromZap wraps an existing zap logger. Tests pass an observer
// core here to assert on entries.
func NewLoggerFromZap(l *zap.Logger) Logger {
	return &zapLogger{sugar: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToUpper(level) {
	case "ERROR":
		return zapcore.ErrorLevel
	case "INFO":
		return zapcore.InfoLevel
	case "DEBUG":
		return zapcore.DebugLevel
	default:
		return zapcore.DebugLevel // Default to DEBUG if invalid
	}
}

// Error logs an error message
func (l *zapLogger) Error(args ...interface{}) {
	l.sugar.Error(args...)
}

// Info logs an informational message
func (l *zapLogger) Info(args ...interface{}) {
	l.sugar.Info(args...)
}

// Debug logs a debug message
func (l *zapLogger) Debug(args ...interface{}) {
	l.sugar.Debug(args...)
}

// WithFields returns a new logger with structured fields
// Fields are included in all subsequent log entries
func (l *zapLogger) WithFields(fields map[string]interface{}) Logger {
	kv := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		kv = append(kv, k, v)
	}
	return &zapLogger{sugar: l.sugar.With(kv...)}
}

// WithContext returns a new logger with context values
// Automatically extracts request ID and other context values
func (l *zapLogger) WithContext(ctx context.Context) Logger {
	if requestID := GetRequestID(ctx); requestID != "" {
		return &zapLogger{sugar: l.sugar.With("request_id", requestID)}
	}
	return l
}
