package config

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"

	"github.com/jassus213/throttle"
	"github.com/jassus213/throttle/store"
)

// BuildOptions carries the collaborators shared by every policy.
type BuildOptions struct {
	Logger   throttle.Logger
	Observer throttle.Observer
	// Fallback observes Redis calls served locally.
	Fallback store.FallbackFunc
}

// Runtime holds the gates built from a Config and the resources behind them.
type Runtime struct {
	Gates []*throttle.Gate
	// Redis is set when the store type is redis.
	Redis redis.UniversalClient

	closers []io.Closer
}

// Close stops the stores and closes the Redis client.
func (r *Runtime) Close() error {
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Build creates one store, limiter and gate per enabled policy. Each policy
// counts in its own store (memory) or key namespace (redis).
func Build(ctx context.Context, cfg *Config, opts BuildOptions) (*Runtime, error) {
	if opts.Logger == nil {
		opts.Logger = throttle.NopLogger()
	}

	trusted, err := throttle.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, &throttle.ConfigError{Field: "server.trusted_proxies", Reason: err.Error()}
	}
	ipCfg := throttle.IPConfig{TrustProxy: cfg.Server.TrustProxy, TrustedProxies: trusted}

	rt := &Runtime{}
	if cfg.Store.Type == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		rt.Redis = client
		rt.closers = append(rt.closers, client)
	}

	for i := range cfg.Policies {
		p := &cfg.Policies[i]
		if p.Disabled {
			opts.Logger.Infof("policy %q is disabled", p.Name)
			continue
		}

		gate, err := rt.buildGate(ctx, cfg, p, ipCfg, opts)
		if err != nil {
			_ = rt.Close()
			return nil, fmt.Errorf("policy %q: %w", p.Name, err)
		}
		rt.Gates = append(rt.Gates, gate)
	}
	return rt, nil
}

func (rt *Runtime) buildGate(ctx context.Context, cfg *Config, p *PolicyConfig, ipCfg throttle.IPConfig, opts BuildOptions) (*throttle.Gate, error) {
	var st throttle.Store
	switch cfg.Store.Type {
	case "redis":
		rs, err := store.NewRedis(ctx, rt.Redis,
			store.WithPrefix(cfg.Store.Redis.Prefix+p.Name+":"),
			store.WithTimeout(cfg.Store.Redis.Timeout),
			store.WithLogger(opts.Logger),
			store.WithFallbackHook(opts.Fallback),
			store.WithFallbackSweep(cfg.Store.SweepInterval),
		)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, rs)
		st = rs
	default:
		ms := store.NewMemory(ctx, cfg.Store.SweepInterval)
		rt.closers = append(rt.closers, ms)
		st = ms
	}

	kf, err := keyFunc(p.Key, ipCfg)
	if err != nil {
		return nil, err
	}
	limiter, err := throttle.New(st, p.Limit, p.Window,
		throttle.WithName(p.Name),
		throttle.WithKeyFunc(kf),
		throttle.WithSkipSuccessful(p.SkipSuccessful),
		throttle.WithSkipFailed(p.SkipFailed),
		throttle.WithLogger(opts.Logger),
		throttle.WithOnLimitReached(func(_ *throttle.Request, key string, res throttle.Result) {
			opts.Logger.Infof("policy %q: limit of %d reached for key '%s'", p.Name, res.Limit, key)
		}),
	)
	if err != nil {
		return nil, err
	}

	headers, err := throttle.ParseHeaderMode(p.Headers)
	if err != nil {
		return nil, err
	}
	routes := make([]throttle.Route, 0, len(p.SkipRoutes))
	for _, r := range p.SkipRoutes {
		routes = append(routes, throttle.Route{Method: r.Method, Path: r.Path})
	}

	gateOpts := []throttle.GateOption{
		throttle.WithPaths(p.Paths...),
		throttle.WithMethods(p.Methods...),
		throttle.WithSkipRoutes(routes...),
		throttle.WithHeaders(headers),
		throttle.WithMessage(p.Message),
	}
	if opts.Observer != nil {
		gateOpts = append(gateOpts, throttle.WithObserver(opts.Observer))
	}
	return throttle.NewGate(limiter, gateOpts...), nil
}

func keyFunc(name string, ipCfg throttle.IPConfig) (throttle.KeyFunc, error) {
	switch name {
	case "", "ip":
		return throttle.KeyByIP(ipCfg), nil
	case "user":
		return throttle.KeyByUser(ipCfg), nil
	case "endpoint":
		return throttle.KeyByEndpoint(ipCfg), nil
	case "composite":
		return throttle.KeyComposite(ipCfg), nil
	}
	return nil, &throttle.ConfigError{Field: "key", Reason: fmt.Sprintf("unknown key generator %q", name)}
}
