package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jassus213/throttle/config"
	"github.com/jassus213/throttle/metrics"
)

func newTestServer(t *testing.T, yaml, userHeader string) *httptest.Server {
	t.Helper()
	cfg, err := config.Load([]byte(yaml))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	collector, err := metrics.NewCollector(reg, "")
	require.NoError(t, err)

	rt, err := config.Build(context.Background(), cfg, config.BuildOptions{Observer: collector, Fallback: collector.Fallback})
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })

	h, err := newRouter(cfg, rt, reg, userHeader)
	require.NoError(t, err)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func get(t *testing.T, url string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestRouter_Echo(t *testing.T) {
	srv := newTestServer(t, `
policies:
  - {name: api, window: 1m, limit: 2, paths: ["/api/*"]}
`, "")

	for i := 0; i < 2; i++ {
		resp := get(t, srv.URL+"/api/items", nil)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "2", resp.Header.Get("RateLimit-Limit"))
	}
	resp := get(t, srv.URL+"/api/items", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// other paths and the health check are not throttled
	assert.Equal(t, http.StatusOK, get(t, srv.URL+"/static/app.js", nil).StatusCode)
	assert.Equal(t, http.StatusOK, get(t, srv.URL+"/healthz", nil).StatusCode)

	resp = get(t, srv.URL+"/metrics", nil)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `throttle_decisions_total{policy="api",state="denied"} 1`)
	assert.Contains(t, string(body), `throttle_decisions_total{policy="api",state="allowed"} 2`)
}

func TestRouter_UserHeader(t *testing.T) {
	srv := newTestServer(t, `
server:
  trust_proxy: true
policies:
  - {name: ai, window: 1h, limit: 1, key: user}
`, "X-User-ID")

	alice := http.Header{"X-User-Id": {"alice"}}
	bob := http.Header{"X-User-Id": {"bob"}}

	assert.Equal(t, http.StatusOK, get(t, srv.URL+"/", alice).StatusCode)
	assert.Equal(t, http.StatusOK, get(t, srv.URL+"/", bob).StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, get(t, srv.URL+"/", alice).StatusCode)
}

func TestRouter_UserHeaderIgnoredByDefault(t *testing.T) {
	srv := newTestServer(t, "", "")

	// the default ai policy allows 20 per hour; rotating user ids must not reset it
	for i := 0; i < 20; i++ {
		h := http.Header{"X-User-Id": {fmt.Sprintf("user-%d", i)}}
		require.Equal(t, http.StatusOK, get(t, srv.URL+"/api/ai/generate", h).StatusCode, "request %d", i)
	}
	resp := get(t, srv.URL+"/api/ai/generate", http.Header{"X-User-Id": {"user-20"}})
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestRouter_UserHeaderFromUntrustedPeer(t *testing.T) {
	srv := newTestServer(t, `
server:
  trust_proxy: true
  trusted_proxies: ["10.0.0.0/8"]
policies:
  - {name: ai, window: 1h, limit: 1, key: user}
`, "X-User-ID")

	assert.Equal(t, http.StatusOK, get(t, srv.URL+"/", http.Header{"X-User-Id": {"alice"}}).StatusCode)
	assert.Equal(t, http.StatusTooManyRequests, get(t, srv.URL+"/", http.Header{"X-User-Id": {"bob"}}).StatusCode)
}

func TestRouter_TightestPolicyHeaders(t *testing.T) {
	srv := newTestServer(t, `
policies:
  - {name: ai, window: 1h, limit: 2, paths: ["/api/ai/*"]}
  - {name: api, window: 1m, limit: 10, paths: ["/api/*"]}
`, "")

	resp := get(t, srv.URL+"/api/ai/generate", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "2", resp.Header.Get("RateLimit-Limit"))
	assert.Equal(t, "1", resp.Header.Get("RateLimit-Remaining"))
	assert.Equal(t, "1", resp.Header.Get("X-RateLimit-Remaining"))

	resp = get(t, srv.URL+"/api/items", nil)
	assert.Equal(t, "10", resp.Header.Get("RateLimit-Limit"))
	assert.Equal(t, "8", resp.Header.Get("RateLimit-Remaining"))
}

func TestRouter_Upstream(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "upstream:"+r.URL.Path)
	}))
	defer backend.Close()

	srv := newTestServer(t, `
server:
  upstream: `+backend.URL+`
policies:
  - {name: api, window: 1m, limit: 1}
`, "")

	resp := get(t, srv.URL+"/orders", nil)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "upstream:/orders", string(body))
	assert.Equal(t, "0", resp.Header.Get("X-RateLimit-Remaining"))

	resp = get(t, srv.URL+"/orders", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json"))
}

func TestNewLogger(t *testing.T) {
	for _, backend := range []string{"zap", "zerolog", "logrus", "std"} {
		l, flush, err := newLogger(config.LogConfig{Backend: backend, Level: "warn"})
		require.NoError(t, err, backend)
		l.Debugf("hidden")
		flush()
	}

	_, _, err := newLogger(config.LogConfig{Backend: "zap", Level: "loud"})
	assert.Error(t, err)
}
