package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jassus213/throttle"
)

type capturedLog struct {
	mu    sync.Mutex
	warns []string
	debug []string
}

func (l *capturedLog) Debugf(format string, args ...interface{}) {
	l.mu.Lock()
	l.debug = append(l.debug, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}
func (l *capturedLog) Infof(string, ...interface{}) {}
func (l *capturedLog) Warnf(format string, args ...interface{}) {
	l.mu.Lock()
	l.warns = append(l.warns, fmt.Sprintf(format, args...))
	l.mu.Unlock()
}
func (l *capturedLog) Errorf(string, ...interface{}) {}

func newRedisStore(t *testing.T, opts ...RedisOption) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr(), PoolSize: 64})
	t.Cleanup(func() { _ = client.Close() })

	opts = append([]RedisOption{WithTimeout(2 * time.Second)}, opts...)
	st, err := NewRedis(context.Background(), client, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st, m
}

func TestNewRedis_NilClient(t *testing.T) {
	_, err := NewRedis(context.Background(), nil)
	assert.ErrorIs(t, err, throttle.ErrInvalidConfig)
}

func TestRedisStore_Increment(t *testing.T) {
	st, m := newRedisStore(t)
	ctx := context.Background()

	w, err := st.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), w.Hits)
	assert.WithinDuration(t, time.Now().Add(time.Minute), w.ResetAt, time.Second)

	assert.True(t, m.Exists("throttle:k"))
	assert.Equal(t, time.Minute, m.TTL("throttle:k"))

	w, err = st.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), w.Hits)
}

func TestRedisStore_TTLNotRefreshed(t *testing.T) {
	st, m := newRedisStore(t)
	ctx := context.Background()

	_, err := st.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)

	m.FastForward(40 * time.Second)
	_, err = st.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Second, m.TTL("throttle:k"))
}

func TestRedisStore_Rollover(t *testing.T) {
	st, m := newRedisStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := st.Increment(ctx, "k", time.Minute)
		require.NoError(t, err)
	}

	m.FastForward(time.Minute)
	w, err := st.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), w.Hits)
	assert.Equal(t, time.Minute, m.TTL("throttle:k"))
}

func TestRedisStore_Concurrency(t *testing.T) {
	for _, n := range []int{1, 10, 200} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			st, _ := newRedisStore(t)
			ctx := context.Background()

			var wg sync.WaitGroup
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := st.Increment(ctx, "shared", time.Minute)
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			w, err := st.Increment(ctx, "shared", time.Minute)
			require.NoError(t, err)
			assert.Equal(t, int64(n+1), w.Hits)
		})
	}
}

func TestRedisStore_Decrement(t *testing.T) {
	st, m := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, st.Decrement(ctx, "missing"))
	assert.False(t, m.Exists("throttle:missing"))

	_, _ = st.Increment(ctx, "k", time.Minute)
	_, _ = st.Increment(ctx, "k", time.Minute)
	m.FastForward(10 * time.Second)

	require.NoError(t, st.Decrement(ctx, "k"))
	require.NoError(t, st.Decrement(ctx, "k"))
	require.NoError(t, st.Decrement(ctx, "k"))

	v, err := m.Get("throttle:k")
	require.NoError(t, err)
	assert.Equal(t, "0", v)
	assert.Equal(t, 50*time.Second, m.TTL("throttle:k"))
}

func TestRedisStore_ResetAndPrefix(t *testing.T) {
	st, m := newRedisStore(t, WithPrefix("api:"))
	ctx := context.Background()

	_, _ = st.Increment(ctx, "k", time.Minute)
	assert.True(t, m.Exists("api:k"))

	require.NoError(t, st.Reset(ctx, "k"))
	assert.False(t, m.Exists("api:k"))
}

func TestRedisStore_Ping(t *testing.T) {
	st, m := newRedisStore(t)
	require.NoError(t, st.Ping(context.Background()))

	m.Close()
	assert.Error(t, st.Ping(context.Background()))
}

func TestRedisStore_FailsOpen(t *testing.T) {
	logger := &capturedLog{}
	var (
		mu    sync.Mutex
		ops   []string
		cause error
	)
	st, m := newRedisStore(t,
		WithTimeout(100*time.Millisecond),
		WithLogger(logger),
		WithFallbackHook(func(op string, err error) {
			mu.Lock()
			defer mu.Unlock()
			ops = append(ops, op)
			cause = err
		}),
	)
	ctx := context.Background()

	m.Close()

	for i := int64(1); i <= 3; i++ {
		w, err := st.Increment(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, w.Hits)
	}
	require.NoError(t, st.Decrement(ctx, "k"))

	w, err := st.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), w.Hits)

	require.NoError(t, st.Reset(ctx, "k"))
	w, err = st.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), w.Hits)

	mu.Lock()
	assert.Equal(t, []string{"increment", "increment", "increment", "decrement", "increment", "reset", "increment"}, ops)
	assert.Error(t, cause)
	mu.Unlock()

	logger.mu.Lock()
	defer logger.mu.Unlock()
	require.Len(t, logger.warns, 1, "warnings are throttled")
	assert.Contains(t, logger.warns[0], "redis increment failed")
	assert.Len(t, logger.debug, 6)
}

func TestRedisStore_UnexpectedReply(t *testing.T) {
	st, m := newRedisStore(t)
	ctx := context.Background()

	// a non-integer value makes INCR fail inside the script
	require.NoError(t, m.Set("throttle:k", "not-a-number"))

	var hooked error
	st.hook = func(_ string, err error) { hooked = err }

	w, err := st.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), w.Hits)
	assert.Error(t, hooked)
	assert.False(t, errors.Is(hooked, context.DeadlineExceeded))
}
