// Package logger provides structured logging for the host and its adapters.
// It wraps logrus so packages depend on a single small surface instead of a
// concrete logging backend.
package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is a named, structured logger.
type Logger struct {
	entry *logrus.Entry
}

// NewDefault creates a logger for the named component. The level is taken
// from APPHOST_LOG_LEVEL when set (debug, info, warn, error), otherwise info.
func NewDefault(name string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	l.SetLevel(levelFromEnv())

	return &Logger{entry: l.WithField("component", name)}
}

func levelFromEnv() logrus.Level {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("APPHOST_LOG_LEVEL"))) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// WithField returns a logger with an additional structured field.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// WithFields returns a logger with additional structured fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// WithError returns a logger with the error attached as a field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err)}
}

func (l *Logger) Debug(args ...any) { l.entry.Debug(args...) }
func (l *Logger) Info(args ...any)  { l.entry.Info(args...) }
func (l *Logger) Warn(args ...any)  { l.entry.Warn(args...) }
func (l *Logger) Error(args ...any) { l.entry.Error(args...) }

func (l *Logger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }
