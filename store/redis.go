package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/jassus213/throttle"
)

const (
	defaultRedisPrefix  = "throttle:"
	defaultRedisTimeout = 500 * time.Millisecond
	defaultFallbackStep = time.Minute
)

// incrementLua bumps the counter and sets the expiry only when the key has
// none, so sustained traffic cannot keep a window alive forever.
const incrementLua = `
local hits = redis.call("INCR", KEYS[1])
local ttl = redis.call("PTTL", KEYS[1])
if ttl <= 0 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {hits, ttl}
`

// decrementLua never drives the counter below zero. DECR keeps the TTL.
const decrementLua = `
local current = tonumber(redis.call("GET", KEYS[1]))
if current and current > 0 then
	return redis.call("DECR", KEYS[1])
end
return 0
`

// FallbackFunc observes every call that fell back to the local store.
type FallbackFunc func(op string, err error)

// RedisStore implements the throttle.Store interface using Redis as the backend.
// It is suitable for distributed systems where multiple application instances
// need to share a common rate limiting state. Counting runs in Lua scripts to
// stay atomic in one round trip.
//
// RedisStore never returns errors. When Redis times out or fails, the call is
// served by a private MemoryStore instead: limits degrade to per-instance until
// Redis is back, but requests keep flowing.
type RedisStore struct {
	client   redis.UniversalClient
	prefix   string
	timeout  time.Duration
	logger   throttle.Logger
	hook     FallbackFunc
	fallback *MemoryStore
	logEvery *rate.Limiter

	incrementScript *redis.Script
	decrementScript *redis.Script
}

var _ throttle.Store = (*RedisStore)(nil)

type redisConfig struct {
	prefix        string
	timeout       time.Duration
	logger        throttle.Logger
	hook          FallbackFunc
	fallbackSweep time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*redisConfig)

// WithPrefix namespaces every key, e.g. one prefix per policy.
func WithPrefix(prefix string) RedisOption {
	return func(c *redisConfig) { c.prefix = prefix }
}

// WithTimeout bounds every Redis round trip. Values below 1 are ignored.
func WithTimeout(d time.Duration) RedisOption {
	return func(c *redisConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithLogger sets the logger used to report fallbacks.
func WithLogger(l throttle.Logger) RedisOption {
	return func(c *redisConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithFallbackHook registers a FallbackFunc, e.g. a metrics counter.
func WithFallbackHook(f FallbackFunc) RedisOption {
	return func(c *redisConfig) { c.hook = f }
}

// WithFallbackSweep sets the sweep interval of the fallback MemoryStore.
func WithFallbackSweep(d time.Duration) RedisOption {
	return func(c *redisConfig) {
		if d > 0 {
			c.fallbackSweep = d
		}
	}
}

// NewRedis creates a new instance of RedisStore.
// Scripts are registered once and then run by SHA.
//
// ctx bounds the lifetime of the fallback store's sweep goroutine. The client
// is owned by the caller; Close does not close it.
func NewRedis(ctx context.Context, client redis.UniversalClient, opts ...RedisOption) (*RedisStore, error) {
	if client == nil {
		return nil, &throttle.ConfigError{Field: "redis client", Reason: "must not be nil"}
	}

	cfg := redisConfig{
		prefix:        defaultRedisPrefix,
		timeout:       defaultRedisTimeout,
		logger:        throttle.NopLogger(),
		fallbackSweep: defaultFallbackStep,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	return &RedisStore{
		client:          client,
		prefix:          cfg.prefix,
		timeout:         cfg.timeout,
		logger:          cfg.logger,
		hook:            cfg.hook,
		fallback:        NewMemory(ctx, cfg.fallbackSweep),
		logEvery:        rate.NewLimiter(rate.Every(10*time.Second), 1),
		incrementScript: redis.NewScript(incrementLua),
		decrementScript: redis.NewScript(decrementLua),
	}, nil
}

// Increment executes the increment script for key.
func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (throttle.Window, error) {
	ms := window.Milliseconds()
	if ms < 1 {
		ms = 1
	}

	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	now := time.Now()
	res, err := s.incrementScript.Run(rctx, s.client, []string{s.prefix + key}, ms).Int64Slice()
	if err == nil && len(res) != 2 {
		err = fmt.Errorf("unexpected increment reply %v", res)
	}
	if err != nil {
		s.failOpen("increment", key, err)
		return s.fallback.Increment(ctx, key, window)
	}

	return throttle.Window{
		Hits:    res[0],
		ResetAt: now.Add(time.Duration(res[1]) * time.Millisecond),
	}, nil
}

// Decrement executes the decrement script for key.
func (s *RedisStore) Decrement(ctx context.Context, key string) error {
	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.decrementScript.Run(rctx, s.client, []string{s.prefix + key}).Err(); err != nil {
		s.failOpen("decrement", key, err)
		return s.fallback.Decrement(ctx, key)
	}
	return nil
}

// Reset deletes key in Redis and in the fallback store.
func (s *RedisStore) Reset(ctx context.Context, key string) error {
	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.client.Del(rctx, s.prefix+key).Err(); err != nil {
		s.failOpen("reset", key, err)
	}
	return s.fallback.Reset(ctx, key)
}

// Ping checks connectivity, e.g. for a readiness endpoint.
func (s *RedisStore) Ping(ctx context.Context) error {
	rctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Ping(rctx).Err()
}

// Close stops the fallback store. The Redis client is left open.
func (s *RedisStore) Close() error {
	return s.fallback.Close()
}

func (s *RedisStore) failOpen(op, key string, err error) {
	if s.hook != nil {
		s.hook(op, err)
	}
	// An outage fails every request; one warning per interval is enough.
	if s.logEvery.Allow() {
		s.logger.Warnf("redis %s failed for key '%s', using local store: %v", op, key, err)
		return
	}
	s.logger.Debugf("redis %s failed for key '%s', using local store: %v", op, key, err)
}
