package throttle

import (
	"errors"
	"fmt"
)

// Logger is the interface used for logging inside the throttle packages.
//
// Implement this interface to provide your own logging backend. Ready-made
// adapters for zap, zerolog, logrus and the standard log package live under adapters/.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger { return noopLogger{} }

// noopLogger is the default logger. It keeps nil checks out of the hot path.
type noopLogger struct{}

func (noopLogger) Debugf(format string, args ...interface{}) {}
func (noopLogger) Infof(format string, args ...interface{})  {}
func (noopLogger) Warnf(format string, args ...interface{})  {}
func (noopLogger) Errorf(format string, args ...interface{}) {}

// ErrorExceeded is handed to custom deny handlers when a client exceeds the limit.
//
// Exceeding the limit is a normal decision, not a failure: Limiter.Check reports
// it through Result.Allowed and never returns this error.
var ErrorExceeded = errors.New("rate limit exceeded")

// ErrInvalidConfig is wrapped by every construction-time configuration error.
var ErrInvalidConfig = errors.New("throttle: invalid configuration")

// ConfigError describes a rejected policy field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("throttle: invalid %s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is(err, ErrInvalidConfig) match.
func (e *ConfigError) Unwrap() error { return ErrInvalidConfig }

// KeyFunc derives the identity key of a request. It must always return a
// non-empty string and be deterministic.
type KeyFunc func(r *Request) string

// SkipFunc reports whether a request bypasses counting entirely.
type SkipFunc func(r *Request) bool

// LimitReachedFunc observes denied requests. It must not block.
type LimitReachedFunc func(r *Request, key string, result Result)

// Config holds the policy applied by a Limiter.
//
// Users build it through New and functional options.
type Config struct {
	// Name identifies the policy in logs and metrics.
	Name string
	// KeyFunc derives the key; defaults to KeyByIP(IPConfig{}).
	KeyFunc KeyFunc
	// Skip, when it returns true, bypasses the store.
	Skip SkipFunc
	// SkipSuccessful reverses the hit of requests that end successfully.
	SkipSuccessful bool
	// SkipFailed reverses the hit of requests that end in failure.
	SkipFailed bool
	// OnLimitReached is called for every denied request.
	OnLimitReached LimitReachedFunc
	Logger         Logger
}

// Option configures a Limiter.
//
// Example:
//
//	limiter, err := throttle.New(store, 100, 15*time.Minute,
//	    throttle.WithName("api"),
//	    throttle.WithKeyFunc(throttle.KeyByUser(throttle.IPConfig{})),
//	)
type Option func(*Config)

// WithName sets the policy name.
func WithName(name string) Option {
	return func(c *Config) {
		c.Name = name
	}
}

// WithKeyFunc sets a custom key generator.
func WithKeyFunc(f KeyFunc) Option {
	return func(c *Config) {
		if f != nil {
			c.KeyFunc = f
		}
	}
}

// WithSkip sets the skip predicate.
func WithSkip(f SkipFunc) Option {
	return func(c *Config) {
		c.Skip = f
	}
}

// WithSkipSuccessful enables reversing the hit of successful requests.
func WithSkipSuccessful(skip bool) Option {
	return func(c *Config) {
		c.SkipSuccessful = skip
	}
}

// WithSkipFailed enables reversing the hit of failed requests.
func WithSkipFailed(skip bool) Option {
	return func(c *Config) {
		c.SkipFailed = skip
	}
}

// WithOnLimitReached sets the observer called for denied requests.
func WithOnLimitReached(f LimitReachedFunc) Option {
	return func(c *Config) {
		c.OnLimitReached = f
	}
}

// WithLogger sets a custom Logger.
func WithLogger(l Logger) Option {
	return func(c *Config) {
		if l != nil {
			c.Logger = l
		}
	}
}
