// Package gin plugs a throttle.Gate into the Gin web framework.
package gin

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/jassus213/throttle"
)

// ErrorHandler renders a denied request. err is always throttle.ErrorExceeded.
// The middleware aborts the chain after it returns.
type ErrorHandler func(c *gin.Context, err error, v throttle.Verdict)

// DefaultErrorHandler writes the 429 response prepared by the gate.
func DefaultErrorHandler(c *gin.Context, _ error, v throttle.Verdict) {
	for k, vals := range v.Response.Header {
		for _, val := range vals {
			c.Header(k, val)
		}
	}
	c.Data(v.Response.Status, v.Response.Header.Get("Content-Type"), v.Response.Body)
}

type config struct {
	errorHandler ErrorHandler
	userKey      string
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

// WithUserKey reads the authenticated user from the Gin context key set by an
// earlier authentication handler, e.g. c.Set("user_id", id).
func WithUserKey(key string) Option {
	return func(c *config) { c.userKey = key }
}

// RateLimiter creates a new Gin middleware handler.
//
// It runs every request through the gate. Counted requests get the
// informational rate limit headers, denied requests are answered by the error
// handler and the chain is aborted. When the policy skips successful or failed
// requests, the final status decides whether the hit is taken back.
//
// Example:
//
//	limiter, _ := throttle.New(st, 100, time.Minute)
//	router := gin.Default()
//	router.Use(ginmw.RateLimiter(throttle.NewGate(limiter)))
func RateLimiter(gate *throttle.Gate, options ...Option) gin.HandlerFunc {
	cfg := config{errorHandler: DefaultErrorHandler}
	for _, opt := range options {
		opt(&cfg)
	}

	return func(c *gin.Context) {
		req := throttle.RequestFromHTTP(c.Request)
		if cfg.userKey != "" {
			if id := c.GetString(cfg.userKey); id != "" {
				req.UserID = id
			}
		}

		v := gate.Handle(c.Request.Context(), req)
		throttle.MergeHeaders(c.Writer.Header(), v.Header)

		ctx := context.WithoutCancel(c.Request.Context())

		if v.State == throttle.StateDenied {
			cfg.errorHandler(c, throttle.ErrorExceeded, v)
			c.Abort()
			gate.Complete(ctx, v, c.Writer.Status())
			return
		}

		c.Next()

		if v.State != throttle.StateSkipped {
			gate.Complete(ctx, v, c.Writer.Status())
		}
	}
}
