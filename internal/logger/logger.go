// Package logger provides leveled logging with support for debug, info, warn, and error levels.
// It wraps logrus behind a small printf-style API so packages never touch the
// backend directly. The output format is either JSON or human-readable text.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Level represents a logging level
type Level int

const (
	// DebugLevel logs are typically voluminous, and are usually disabled in production.
	DebugLevel Level = iota
	// InfoLevel is the default logging priority.
	InfoLevel
	// WarnLevel logs are more important than Info, but don't need individual human review.
	WarnLevel
	// ErrorLevel logs are high-priority. If an application is running smoothly, it shouldn't generate any error-level logs.
	ErrorLevel
)

// Fields is an alias so callers don't import logrus for structured context.
type Fields = logrus.Fields

var (
	// Global logger instance
	defaultLogger *logrus.Logger
)

// ParseLevel maps a config string onto a Level, defaulting to InfoLevel.
func ParseLevel(level string) Level {
	switch strings.ToLower(level) {
	case "debug":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func (l Level) logrusLevel() logrus.Level {
	switch l {
	case DebugLevel:
		return logrus.DebugLevel
	case WarnLevel:
		return logrus.WarnLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// Init initializes the default logger with the specified level and format
func Init(level string, format string) {
	InitWithOutput(level, format, os.Stderr)
}

// InitWithOutput is Init with an explicit writer.
func InitWithOutput(level string, format string, out io.Writer) {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(ParseLevel(level).logrusLevel())

	if strings.ToLower(format) == "text" {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05.000"})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}

	defaultLogger = l
}

// WithFields returns an entry carrying structured context. It is safe to call
// before Init; the entry then writes to a discarded logger.
func WithFields(fields Fields) *logrus.Entry {
	if defaultLogger == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		return l.WithFields(fields)
	}
	return defaultLogger.WithFields(fields)
}

// Debug logs a message at DebugLevel
func Debug(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Debugf(format, args...)
	}
}

// Info logs a message at InfoLevel
func Info(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Infof(format, args...)
	}
}

// Warn logs a message at WarnLevel
func Warn(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Warnf(format, args...)
	}
}

// Error logs a message at ErrorLevel
func Error(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Errorf(format, args...)
	}
}

// Fatal logs a message at ErrorLevel and exits
func Fatal(format string, args ...interface{}) {
	if defaultLogger == nil {
		Init("error", "text")
	}
	defaultLogger.Errorf("[FATAL] "+format, args...)
	os.Exit(1)
}
