package throttle

import (
	"context"
	"time"
)

// Limiter implements the "Fixed Window" rate limiting algorithm for one policy.
//
// At most limit requests per key are allowed within a window. The window starts
// with the first hit of a key and ends window later; the next hit after that
// starts a fresh window.
//
// Example usage:
//
//	st := store.NewMemory(ctx, time.Minute)
//	limiter, err := throttle.New(st, 100, time.Minute)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	outcome, err := limiter.Check(ctx, throttle.RequestFromHTTP(r))
type Limiter struct {
	store  Store
	limit  int64
	window time.Duration
	cfg    Config
}

// Outcome is what Check reports for a single request.
type Outcome struct {
	// Skipped is true when the skip predicate matched; the store was not touched.
	Skipped bool
	Allowed bool
	// Key is the derived identity key, empty when Skipped.
	Key    string
	Result Result
}

// New creates a Limiter.
//
// Parameters:
//   - store: a Store implementation holding the per-key windows
//   - limit: maximum number of requests allowed per window, must be positive
//   - window: duration of each window, must be positive
//
// Invalid parameters return a *ConfigError, so misconfiguration is caught at
// startup rather than at request time.
func New(store Store, limit int64, window time.Duration, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, &ConfigError{Field: "store", Reason: "must not be nil"}
	}
	if limit <= 0 {
		return nil, &ConfigError{Field: "limit", Reason: "must be positive"}
	}
	if window <= 0 {
		return nil, &ConfigError{Field: "window", Reason: "must be positive"}
	}

	cfg := Config{
		KeyFunc: KeyByIP(IPConfig{}),
		Logger:  noopLogger{},
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Limiter{
		store:  store,
		limit:  limit,
		window: window,
		cfg:    cfg,
	}, nil
}

// Name returns the policy name.
func (l *Limiter) Name() string { return l.cfg.Name }

// Limit returns the request ceiling per window.
func (l *Limiter) Limit() int64 { return l.limit }

// Window returns the window length.
func (l *Limiter) Window() time.Duration { return l.window }

// Logger returns the configured logger.
func (l *Limiter) Logger() Logger { return l.cfg.Logger }

// Check applies the policy to a request.
//
// A request matching the skip predicate is reported as Skipped without
// touching the store. Otherwise the key is derived, a hit is recorded and the
// request is allowed while the hit count stays within the limit. Denied
// requests are reported to OnLimitReached.
func (l *Limiter) Check(ctx context.Context, r *Request) (Outcome, error) {
	if l.cfg.Skip != nil && l.cfg.Skip(r) {
		return Outcome{Skipped: true, Allowed: true}, nil
	}

	key := l.cfg.KeyFunc(r)
	result, err := l.Allow(ctx, key)
	if err != nil {
		return Outcome{Key: key}, err
	}

	if !result.Allowed {
		l.cfg.Logger.Debugf(
			"policy %q: request denied for key '%s'. Hits: %d, Limit: %d",
			l.cfg.Name, key, result.TotalHits, result.Limit,
		)
		if l.cfg.OnLimitReached != nil {
			l.cfg.OnLimitReached(r, key, result)
		}
	}

	return Outcome{Allowed: result.Allowed, Key: key, Result: result}, nil
}

// Allow records a hit for an already derived key and reports whether it is
// within the limit.
//
// Example:
//
//	result, err := limiter.Allow(ctx, "user:123")
//	if result.Allowed {
//	    // process request
//	}
func (l *Limiter) Allow(ctx context.Context, key string) (Result, error) {
	w, err := l.store.Increment(ctx, key, l.window)
	if err != nil {
		return Result{Allowed: false}, err
	}
	return newResult(w, l.limit, l.window), nil
}

// Settle applies skip accounting once the wrapped operation has finished.
//
// When the policy skips successful (or failed) requests and the outcome
// matches, the hit recorded for key is removed again.
func (l *Limiter) Settle(ctx context.Context, key string, succeeded bool) error {
	if key == "" {
		return nil
	}
	if (succeeded && l.cfg.SkipSuccessful) || (!succeeded && l.cfg.SkipFailed) {
		return l.store.Decrement(ctx, key)
	}
	return nil
}

// Accounts reports whether Settle can ever decrement, letting adapters avoid
// wrapping the response when it cannot.
func (l *Limiter) Accounts() bool {
	return l.cfg.SkipSuccessful || l.cfg.SkipFailed
}

// Reset clears the window of key, e.g. for administrative overrides.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	return l.store.Reset(ctx, key)
}
