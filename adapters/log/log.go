// Package stdlogadapter adapts the standard library log package to throttle.Logger.
package stdlogadapter

import (
	"log"

	"github.com/jassus213/throttle"
)

// StdLogger implements throttle.Logger using Go standard library log.
//
// The standard logger has no levels, so every line is prefixed with one and
// lines below the minimum level are dropped.
type StdLogger struct {
	logger *log.Logger
	debug  bool
}

var _ throttle.Logger = (*StdLogger)(nil)

// New creates a new StdLogger. If nil is passed, uses the default logger.
// Debug lines are dropped unless debug is true.
func New(l *log.Logger, debug bool) *StdLogger {
	if l == nil {
		l = log.Default()
	}
	return &StdLogger{
		logger: l,
		debug:  debug,
	}
}

// Debugf logs a debug-level message.
func (s *StdLogger) Debugf(format string, args ...interface{}) {
	if !s.debug {
		return
	}
	s.logger.Printf("[DEBUG] "+format, args...)
}

// Infof logs an info-level message.
func (s *StdLogger) Infof(format string, args ...interface{}) {
	s.logger.Printf("[INFO] "+format, args...)
}

// Warnf logs a warning.
func (s *StdLogger) Warnf(format string, args ...interface{}) {
	s.logger.Printf("[WARN] "+format, args...)
}

// Errorf logs an error-level message.
func (s *StdLogger) Errorf(format string, args ...interface{}) {
	s.logger.Printf("[ERROR] "+format, args...)
}
