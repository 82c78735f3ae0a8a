// Package logrusadapter adapts logrus to throttle.Logger.
package logrusadapter

import (
	"github.com/sirupsen/logrus"

	"github.com/jassus213/throttle"
)

// LogrusLogger implements throttle.Logger using logrus.
type LogrusLogger struct {
	logger *logrus.Entry
}

var _ throttle.Logger = (*LogrusLogger)(nil)

// New creates a new LogrusLogger. If nil is passed, a fresh logrus.Logger is used.
// Every line carries component=throttle.
func New(l *logrus.Logger) *LogrusLogger {
	if l == nil {
		l = logrus.New()
	}
	return &LogrusLogger{
		logger: l.WithField("component", "throttle"),
	}
}

func (l *LogrusLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

func (l *LogrusLogger) Infof(format string, args ...interface{}) {
	l.logger.Infof(format, args...)
}

func (l *LogrusLogger) Warnf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

func (l *LogrusLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}
