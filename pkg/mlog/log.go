// Package mlog defines the logger interface used across casecore.
// Concrete implementations (pkg/mzap) are composed at process start and
// carried on context.Context; domain packages never reach for a global.
package mlog

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// Logger is the common interface every casecore component logs through.
type Logger interface {
	Info(args ...any)
	Infof(format string, args ...any)
	Infoln(args ...any)

	Error(args ...any)
	Errorf(format string, args ...any)
	Errorln(args ...any)

	Warn(args ...any)
	Warnf(format string, args ...any)
	Warnln(args ...any)

	Debug(args ...any)
	Debugf(format string, args ...any)
	Debugln(args ...any)

	Fatal(args ...any)
	Fatalf(format string, args ...any)
	Fatalln(args ...any)

	// WithFields returns a Logger that prefixes every subsequent entry with
	// the given key/value pairs.
	WithFields(fields ...any) Logger

	Sync() error
}

// Level is the severity of a log entry.
type Level int8

const (
	// PanicLevel logs and then panics.
	PanicLevel Level = iota
	// FatalLevel logs and then terminates the process.
	FatalLevel
	// ErrorLevel is for errors that should definitely be noted.
	ErrorLevel
	// WarnLevel is for non-critical entries that deserve attention.
	WarnLevel
	// InfoLevel is for general operational entries.
	InfoLevel
	// DebugLevel is for verbose, development-time logging.
	DebugLevel
)

// ParseLevel converts a case-insensitive level name into a Level.
func ParseLevel(lvl string) (Level, error) {
	switch strings.ToLower(lvl) {
	case "fatal":
		return FatalLevel, nil
	case "error":
		return ErrorLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "info":
		return InfoLevel, nil
	case "debug":
		return DebugLevel, nil
	}

	var l Level

	return l, fmt.Errorf("not a valid log level: %q", lvl)
}

// NoneLogger discards everything. Used when no logger has been wired into
// a context, so that callers never need a nil check.
type NoneLogger struct{}

func (l *NoneLogger) Info(args ...any)                  {}
func (l *NoneLogger) Infof(format string, args ...any)  {}
func (l *NoneLogger) Infoln(args ...any)                {}
func (l *NoneLogger) Error(args ...any)                 {}
func (l *NoneLogger) Errorf(format string, args ...any) {}
func (l *NoneLogger) Errorln(args ...any)               {}
func (l *NoneLogger) Warn(args ...any)                  {}
func (l *NoneLogger) Warnf(format string, args ...any)  {}
func (l *NoneLogger) Warnln(args ...any)                {}
func (l *NoneLogger) Debug(args ...any)                 {}
func (l *NoneLogger) Debugf(format string, args ...any) {}
func (l *NoneLogger) Debugln(args ...any)               {}
func (l *NoneLogger) Fatal(args ...any)                 { log.Fatal(args...) }
func (l *NoneLogger) Fatalf(format string, args ...any) { log.Fatalf(format, args...) }
func (l *NoneLogger) Fatalln(args ...any)               { log.Fatalln(args...) }

//nolint:ireturn
func (l *NoneLogger) WithFields(fields ...any) Logger { return l }
func (l *NoneLogger) Sync() error                     { return nil }

type loggerContextKey string

const loggerKey loggerContextKey = "mlog.logger"

// ContextWithLogger stores a Logger on the context.
func ContextWithLogger(ctx context.Context, logger Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// NewLoggerFromContext retrieves the Logger stored on ctx, or a NoneLogger
// if none was set.
//
//nolint:ireturn
func NewLoggerFromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(loggerKey).(Logger); ok && logger != nil {
		return logger
	}

	return &NoneLogger{}
}
