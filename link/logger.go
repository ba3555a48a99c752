package link

import (
	"github.com/sirupsen/logrus"
)

// Logger is the logging hook the link layer calls into: format-string
// Debugf/Infof/Errorf, plus WithField for attaching a structured field.
// NewLogrusLogger provides the logrus-backed implementation.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	WithField(key string, value interface{}) Logger
}

// NoopLogger discards everything. Useful for tests and library
// consumers that don't want link-layer chatter.
type NoopLogger struct{}

func (NoopLogger) Debugf(string, ...interface{})    {}
func (NoopLogger) Infof(string, ...interface{})     {}
func (NoopLogger) Errorf(string, ...interface{})    {}
func (n NoopLogger) WithField(string, interface{}) Logger { return n }

// logrusLogger adapts a *logrus.Entry to the Logger interface.
type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger builds the default Logger from a logrus.FieldLogger,
// e.g. logrus.StandardLogger() or a caller-configured *logrus.Logger.
func NewLogrusLogger(base logrus.FieldLogger) Logger {
	entry, ok := base.(*logrus.Entry)
	if !ok {
		entry = base.WithFields(logrus.Fields{})
	}
	return &logrusLogger{entry: entry}
}

func (l *logrusLogger) Debugf(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

func (l *logrusLogger) Infof(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

func (l *logrusLogger) Errorf(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}
