package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jassus213/throttle"
	"github.com/jassus213/throttle/config"
	"github.com/jassus213/throttle/metrics"
	"github.com/jassus213/throttle/middleware/nethttp"
)

// ServeCmd starts the throttling proxy.
type ServeCmd struct {
	Addr     string `help:"Override listen address."`
	Upstream string `help:"Override upstream URL."`
	// UserHeader names a header set by an authenticating proxy in front of throttled.
	UserHeader string `name:"user-header" help:"Header carrying the authenticated user id, e.g. X-User-ID. Only read from trusted proxies (server.trust_proxy, server.trusted_proxies); empty disables it."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := cli.load()
	if err != nil {
		return err
	}
	if c.Addr != "" {
		cfg.Server.Addr = c.Addr
	}
	if c.Upstream != "" {
		cfg.Server.Upstream = c.Upstream
	}

	logger, flush, err := newLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer flush()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := config.BuildOptions{Logger: logger}
	reg := prometheus.NewRegistry()
	if cfg.Metrics.IsEnabled() {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		collector, err := metrics.NewCollector(reg, cfg.Metrics.Namespace)
		if err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		opts.Observer = collector
		opts.Fallback = collector.Fallback
	}

	rt, err := config.Build(ctx, cfg, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Errorf("failed to close stores: %v", err)
		}
	}()

	if rt.Redis != nil {
		pctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := rt.Redis.Ping(pctx).Err(); err != nil {
			logger.Warnf("redis at %s is unreachable, counting locally until it is back: %v", cfg.Store.Redis.Addr, err)
		}
		cancel()
	}

	handler, err := newRouter(cfg, rt, reg, c.UserHeader)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("listening on %s with %d policies", cfg.Server.Addr, len(rt.Gates))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Infof("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(sctx)
}

// newRouter mounts every gate in front of the backend. When several policies
// cover one request, the response carries the headers of the one with the
// fewest remaining requests.
func newRouter(cfg *config.Config, rt *config.Runtime, reg *prometheus.Registry, userHeader string) (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if cfg.Metrics.IsEnabled() {
		r.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	backend, err := upstream(cfg.Server.Upstream)
	if err != nil {
		return nil, err
	}
	trusted, err := throttle.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, &throttle.ConfigError{Field: "server.trusted_proxies", Reason: err.Error()}
	}
	ipCfg := throttle.IPConfig{TrustProxy: cfg.Server.TrustProxy, TrustedProxies: trusted}

	r.Group(func(r chi.Router) {
		userFunc := nethttp.WithUserFunc(func(req *http.Request) string {
			if id := throttle.UserFromContext(req.Context()); id != "" {
				return id
			}
			// clients must not pick their own bucket
			if userHeader == "" || !ipCfg.TrustsPeer(req.RemoteAddr) {
				return ""
			}
			return req.Header.Get(userHeader)
		})
		for _, gate := range rt.Gates {
			r.Use(nethttp.Middleware(gate, userFunc))
		}
		r.Handle("/*", backend)
	})
	return r, nil
}

func upstream(raw string) (http.Handler, error) {
	if raw == "" {
		return http.HandlerFunc(echo), nil
	}
	target, err := url.Parse(raw)
	if err != nil {
		return nil, &throttle.ConfigError{Field: "server.upstream", Reason: err.Error()}
	}
	return httputil.NewSingleHostReverseProxy(target), nil
}

// echo answers with a description of the request; used when no upstream is set.
func echo(w http.ResponseWriter, r *http.Request) {
	host, _ := os.Hostname()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"method":     r.Method,
		"path":       r.URL.Path,
		"host":       host,
		"request_id": middleware.GetReqID(r.Context()),
	})
}
