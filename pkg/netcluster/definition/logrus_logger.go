// Package definition provides the Logger implementation used by sessions,
// dispatchers and objects that don't supply their own.
package definition

import (
	"github.com/sirupsen/logrus"
)

// LogrusLogger adapts a *logrus.Logger to the types.Logger interface,
// tagging every line with the component it came from.
type LogrusLogger struct {
	entry *logrus.Entry
	debug bool
}

// NewLogrusLogger builds a LogrusLogger wrapping a fresh logrus.Logger
// tagged with name (typically the node or session name).
func NewLogrusLogger(name string) *LogrusLogger {
	l := logrus.New()
	l.SetLevel(logrus.InfoLevel)
	return &LogrusLogger{entry: l.WithField("component", name)}
}

func (l *LogrusLogger) Info(v ...interface{})                 { l.entry.Info(v...) }
func (l *LogrusLogger) Infof(format string, v ...interface{})  { l.entry.Infof(format, v...) }
func (l *LogrusLogger) Warn(v ...interface{})                  { l.entry.Warn(v...) }
func (l *LogrusLogger) Warnf(format string, v ...interface{})  { l.entry.Warnf(format, v...) }
func (l *LogrusLogger) Error(v ...interface{})                 { l.entry.Error(v...) }
func (l *LogrusLogger) Errorf(format string, v ...interface{}) { l.entry.Errorf(format, v...) }
func (l *LogrusLogger) Fatal(v ...interface{})                 { l.entry.Fatal(v...) }
func (l *LogrusLogger) Fatalf(format string, v ...interface{}) { l.entry.Fatalf(format, v...) }

func (l *LogrusLogger) Debug(v ...interface{}) {
	if l.debug {
		l.entry.Debug(v...)
	}
}

func (l *LogrusLogger) Debugf(format string, v ...interface{}) {
	if l.debug {
		l.entry.Debugf(format, v...)
	}
}

// ToggleDebug flips the logger's own debug gate and the underlying
// logrus level together, so Debug/Debugf calls actually emit once enabled.
func (l *LogrusLogger) ToggleDebug(value bool) bool {
	l.debug = value
	if value {
		l.entry.Logger.SetLevel(logrus.DebugLevel)
	} else {
		l.entry.Logger.SetLevel(logrus.InfoLevel)
	}
	return l.debug
}
