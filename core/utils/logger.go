package utils

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the process-wide logger. A nil *Logger is valid and drops
// everything, so components can treat logging as optional.
type Logger struct {
	base *logrus.Logger
}

func NewLogger(level string) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stdout)
	base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	base.SetLevel(parsed)
	return &Logger{base: base}
}

// NewSilentLogger is used by tests that need a non-nil logger.
func NewSilentLogger() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{base: base}
}

func (l *Logger) Printf(format string, args ...any) {
	if l == nil || l.base == nil {
		return
	}
	l.base.Infof(format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	if l == nil || l.base == nil {
		return
	}
	l.base.Infof(format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	if l == nil || l.base == nil {
		return
	}
	l.base.Warnf(format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	if l == nil || l.base == nil {
		return
	}
	l.base.Errorf(format, args...)
}

// WithField returns a logrus entry for call sites that want structured
// request-scoped fields; nil-safe like the rest of the surface.
func (l *Logger) WithField(key string, value any) *logrus.Entry {
	if l == nil || l.base == nil {
		silent := logrus.New()
		silent.SetOutput(io.Discard)
		return logrus.NewEntry(silent)
	}
	return l.base.WithField(key, value)
}
