// Package nethttp plugs a throttle.Gate into net/http.
package nethttp

import (
	"context"
	"net/http"

	"github.com/jassus213/throttle"
)

// ErrorHandler renders a denied request. err is always throttle.ErrorExceeded.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error, v throttle.Verdict)

// DefaultErrorHandler writes the 429 response prepared by the gate.
func DefaultErrorHandler(w http.ResponseWriter, _ *http.Request, _ error, v throttle.Verdict) {
	h := w.Header()
	for k, vals := range v.Response.Header {
		h[k] = vals
	}
	w.WriteHeader(v.Response.Status)
	_, _ = w.Write(v.Response.Body)
}

type config struct {
	errorHandler ErrorHandler
	userFunc     func(*http.Request) string
}

// Option configures the middleware.
type Option func(*config)

// WithErrorHandler replaces DefaultErrorHandler.
func WithErrorHandler(h ErrorHandler) Option {
	return func(c *config) {
		if h != nil {
			c.errorHandler = h
		}
	}
}

// WithUserFunc extracts the authenticated user from the request. By default
// the user is read from the request context, see throttle.ContextWithUser.
func WithUserFunc(f func(*http.Request) string) Option {
	return func(c *config) { c.userFunc = f }
}

// Middleware creates a new middleware handler for the standard `net/http` library.
//
// It wraps an existing `http.Handler` and runs every request through the gate.
// Counted requests get the informational rate limit headers; denied requests
// are answered by the error handler and never reach next. When the policy
// skips successful or failed requests, the status written by next decides
// whether the hit is taken back.
//
// Example:
//
//	limiter, _ := throttle.New(st, 100, time.Minute)
//	gate := throttle.NewGate(limiter, throttle.WithPaths("/api/*"))
//	mux := http.NewServeMux()
//	mux.HandleFunc("/", myHandler)
//
//	http.ListenAndServe(":8080", nethttp.Middleware(gate)(mux))
func Middleware(gate *throttle.Gate, options ...Option) func(http.Handler) http.Handler {
	cfg := config{errorHandler: DefaultErrorHandler}
	for _, opt := range options {
		opt(&cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			req := throttle.RequestFromHTTP(r)
			if cfg.userFunc != nil {
				req.UserID = cfg.userFunc(r)
			}

			v := gate.Handle(r.Context(), req)
			throttle.MergeHeaders(w.Header(), v.Header)

			// Accounting must survive a client that hung up mid-response.
			ctx := context.WithoutCancel(r.Context())

			switch {
			case v.State == throttle.StateDenied:
				cfg.errorHandler(w, r, throttle.ErrorExceeded, v)
				gate.Complete(ctx, v, v.Response.Status)
			case v.State == throttle.StateSkipped || !gate.Limiter().Accounts():
				next.ServeHTTP(w, r)
			default:
				rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
				next.ServeHTTP(rec, r)
				gate.Complete(ctx, v, rec.status)
			}
		})
	}
}

// statusRecorder remembers the first status written through it.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (s *statusRecorder) Unwrap() http.ResponseWriter {
	return s.ResponseWriter
}
