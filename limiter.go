// Package throttle limits how many operations an identity may perform within a
// fixed time window.
//
// The package defines the core abstractions:
//   - Store: backend that counts hits per key and window (see the store package for
//     MemoryStore and RedisStore)
//   - Limiter: applies one policy (window, ceiling, key derivation, skip rules) on top of a Store
//   - Gate: the framework-agnostic HTTP boundary that filters requests, renders the 429
//     response and the informational headers
//   - Result: the outcome of a single check, suitable for populating rate limit headers
//
// Host adapters for net/http and Gin live under middleware/.
package throttle

import (
	"context"
	"math"
	"net/http"
	"time"
)

// Window is a snapshot of the counting window held by a Store for one key.
type Window struct {
	// Hits is the number of requests observed in the current window.
	Hits int64
	// ResetAt is the moment the window ends.
	ResetAt time.Time
}

// Result contains the outcome of a rate limit check.
//
// It provides the data needed for `RateLimit-*`, `X-RateLimit-*` and `Retry-After` headers.
type Result struct {
	// Allowed indicates whether the request is permitted.
	Allowed bool
	// TotalHits is the number of hits recorded for the key in the current window,
	// including the request being checked.
	TotalHits int64
	// Limit is the total number of requests allowed in the window.
	Limit int64
	// Remaining is the number of requests left in the current window, never negative.
	Remaining int64
	// ResetAt is the absolute time at which the current window ends.
	ResetAt time.Time
	// Window is the length of one counting window.
	Window time.Duration
}

// ResetAfter returns the duration from now until the window resets.
func (r Result) ResetAfter(now time.Time) time.Duration {
	if d := r.ResetAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// RetryAfterSeconds is the retry hint sent to throttled clients: the window
// length rounded up to whole seconds.
func (r Result) RetryAfterSeconds() int64 {
	return int64(math.Ceil(r.Window.Seconds()))
}

func newResult(w Window, limit int64, window time.Duration) Result {
	remaining := limit - w.Hits
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   w.Hits <= limit,
		TotalHits: w.Hits,
		Limit:     limit,
		Remaining: remaining,
		ResetAt:   w.ResetAt,
		Window:    window,
	}
}

// Store defines the interface for storing rate limiting windows.
//
// This abstraction allows interchangeable backends such as in-memory stores
// or Redis for limits shared by several instances. Implementations must be
// safe for concurrent use.
type Store interface {
	// Increment atomically records one hit for key and returns the resulting window.
	//
	// If the key has no window, or its window has ended, a new window of the given
	// length is started with a single hit. Concurrent increments of the same key
	// must never lose updates.
	Increment(ctx context.Context, key string, window time.Duration) (Window, error)

	// Decrement removes one hit from the current window of key without
	// touching its reset time. It never drives the count below zero.
	Decrement(ctx context.Context, key string) error

	// Reset clears all state for key.
	Reset(ctx context.Context, key string) error
}

// Request is the plain request shape the limiter works on. Host adapters
// build it once per request; see RequestFromHTTP.
type Request struct {
	Method     string
	Path       string
	RemoteAddr string
	Header     http.Header
	// UserID is the already-authenticated user, empty for anonymous traffic.
	UserID string
}

// RequestFromHTTP translates an *http.Request into a Request. The user is taken
// from the request context, see ContextWithUser.
func RequestFromHTTP(r *http.Request) *Request {
	return &Request{
		Method:     r.Method,
		Path:       r.URL.Path,
		RemoteAddr: r.RemoteAddr,
		Header:     r.Header,
		UserID:     UserFromContext(r.Context()),
	}
}

type userKey struct{}

// ContextWithUser returns a copy of ctx carrying the authenticated user id.
// Authentication middleware placed before the throttle middleware uses it so
// that KeyByUser and KeyComposite can count per user.
func ContextWithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFromContext returns the user id stored by ContextWithUser, or "".
func UserFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}
