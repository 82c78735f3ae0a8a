package throttle

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// DefaultMessage is the message of the 429 response body.
const DefaultMessage = "Too many requests, please try again later."

// HeaderMode selects which informational header vocabularies are emitted.
// Modes combine as bit flags.
type HeaderMode uint8

const (
	// HeadersStandard emits RateLimit-Limit, RateLimit-Remaining and RateLimit-Reset.
	HeadersStandard HeaderMode = 1 << iota
	// HeadersLegacy emits X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset.
	HeadersLegacy
)

const (
	// HeadersNone disables informational headers. Retry-After is still sent on denial.
	HeadersNone HeaderMode = 0
	// HeadersBoth emits both vocabularies for client compatibility.
	HeadersBoth = HeadersStandard | HeadersLegacy
)

// ParseHeaderMode parses "standard", "legacy", "both" or "none".
func ParseHeaderMode(s string) (HeaderMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "both":
		return HeadersBoth, nil
	case "standard":
		return HeadersStandard, nil
	case "legacy":
		return HeadersLegacy, nil
	case "none":
		return HeadersNone, nil
	}
	return HeadersNone, &ConfigError{Field: "headers", Reason: "unknown header mode " + strconv.Quote(s)}
}

// State is the terminal state of a request passing through a Gate.
type State int

const (
	StateSkipped State = iota
	StateDenied
	StateAllowed
)

func (s State) String() string {
	switch s {
	case StateSkipped:
		return "skipped"
	case StateDenied:
		return "denied"
	case StateAllowed:
		return "allowed"
	}
	return "unknown"
}

// MergeHeaders copies the informational headers src into dst unless dst
// already advertises a smaller remaining budget. Gates stacked on one request
// thereby report the tightest policy.
func MergeHeaders(dst, src http.Header) {
	if len(src) == 0 {
		return
	}
	if cur, ok := remainingOf(dst); ok {
		if next, ok := remainingOf(src); ok && next > cur {
			return
		}
	}
	for k, vals := range src {
		dst[k] = vals
	}
}

func remainingOf(h http.Header) (int64, bool) {
	for _, name := range []string{"RateLimit-Remaining", "X-RateLimit-Remaining"} {
		if s := h.Get(name); s != "" {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n, true
			}
		}
	}
	return 0, false
}

// Route names a request that is never counted. An empty Method matches every method.
type Route struct {
	Method string
	Path   string
}

// Response is the synthesized throttling response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Verdict is the decision of a Gate for one request.
type Verdict struct {
	State State
	// Key is the derived identity key; empty when the request was skipped.
	Key    string
	Result Result
	// Header holds the informational headers to attach to the response.
	Header http.Header
	// Response is set only when State is StateDenied.
	Response *Response
}

// Observer receives every verdict, e.g. to export metrics. It must not block.
type Observer interface {
	ObserveVerdict(policy string, v Verdict)
}

type gateConfig struct {
	disabled   bool
	paths      []string
	methods    []string
	skipRoutes []Route
	headers    HeaderMode
	message    string
	succeeded  func(status int) bool
	observer   Observer
}

// GateOption configures a Gate.
type GateOption func(*gateConfig)

// WithDisabled turns the gate into a pass-through.
func WithDisabled(disabled bool) GateOption {
	return func(c *gateConfig) { c.disabled = disabled }
}

// WithPaths limits the gate to matching paths. A trailing "*" matches a prefix,
// so "/api/*" covers "/api" and everything below it.
func WithPaths(paths ...string) GateOption {
	return func(c *gateConfig) { c.paths = append(c.paths, paths...) }
}

// WithMethods limits the gate to the given HTTP methods.
func WithMethods(methods ...string) GateOption {
	return func(c *gateConfig) { c.methods = append(c.methods, methods...) }
}

// WithSkipRoutes exempts routes from counting.
func WithSkipRoutes(routes ...Route) GateOption {
	return func(c *gateConfig) { c.skipRoutes = append(c.skipRoutes, routes...) }
}

// WithHeaders selects the informational header vocabulary.
func WithHeaders(mode HeaderMode) GateOption {
	return func(c *gateConfig) { c.headers = mode }
}

// WithMessage overrides the message of the 429 body.
func WithMessage(msg string) GateOption {
	return func(c *gateConfig) {
		if msg != "" {
			c.message = msg
		}
	}
}

// WithSuccessClassifier decides which response statuses count as successful
// for skip accounting. The default treats statuses below 400 as successful.
func WithSuccessClassifier(f func(status int) bool) GateOption {
	return func(c *gateConfig) {
		if f != nil {
			c.succeeded = f
		}
	}
}

// WithObserver registers an Observer.
func WithObserver(o Observer) GateOption {
	return func(c *gateConfig) { c.observer = o }
}

// Gate applies one Limiter at the HTTP boundary.
//
// It decides whether the policy applies to a request at all, runs the limiter
// and renders either the informational headers or the 429 response. It knows
// nothing about a host framework; middleware/nethttp and middleware/gin wire
// it into net/http and Gin.
type Gate struct {
	limiter *Limiter
	cfg     gateConfig
	body    []byte
}

// NewGate creates a Gate for limiter.
func NewGate(limiter *Limiter, opts ...GateOption) *Gate {
	cfg := gateConfig{
		headers:   HeadersBoth,
		message:   DefaultMessage,
		succeeded: func(status int) bool { return status < http.StatusBadRequest },
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	g := &Gate{limiter: limiter, cfg: cfg}
	g.body = g.denialBody()
	return g
}

// Limiter returns the limiter behind the gate.
func (g *Gate) Limiter() *Limiter { return g.limiter }

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message    string `json:"message"`
	Status     int    `json:"status"`
	RetryAfter int64  `json:"retryAfter"`
}

// denialBody is rendered once: every field depends on the policy only.
func (g *Gate) denialBody() []byte {
	retryAfter := Result{Window: g.limiter.Window()}.RetryAfterSeconds()
	body, err := json.Marshal(errorBody{Error: errorDetail{
		Message:    g.cfg.message,
		Status:     http.StatusTooManyRequests,
		RetryAfter: retryAfter,
	}})
	if err != nil {
		return []byte(http.StatusText(http.StatusTooManyRequests))
	}
	return body
}

// Handle decides the fate of one request.
//
// A request is skipped when the gate is disabled, when it falls outside the
// path and method allow-lists, when it matches a skip route or when the
// limiter's skip predicate matches. Otherwise it is allowed or denied; both
// carry informational headers and a denial also carries the 429 response.
func (g *Gate) Handle(ctx context.Context, r *Request) Verdict {
	v := g.handle(ctx, r)
	if g.cfg.observer != nil {
		g.cfg.observer.ObserveVerdict(g.limiter.Name(), v)
	}
	return v
}

func (g *Gate) handle(ctx context.Context, r *Request) Verdict {
	if g.cfg.disabled || !g.applies(r) || g.isSkipRoute(r) {
		return Verdict{State: StateSkipped}
	}

	outcome, err := g.limiter.Check(ctx, r)
	if err != nil {
		// A store that cannot answer must not take the service down with it.
		g.limiter.Logger().Errorf("policy %q: limiter failed for key '%s': %v", g.limiter.Name(), outcome.Key, err)
		return Verdict{State: StateSkipped}
	}
	if outcome.Skipped {
		return Verdict{State: StateSkipped}
	}

	v := Verdict{
		State:  StateAllowed,
		Key:    outcome.Key,
		Result: outcome.Result,
		Header: g.rateHeaders(outcome.Result),
	}
	if outcome.Allowed {
		return v
	}

	v.State = StateDenied
	header := v.Header.Clone()
	header.Set("Content-Type", "application/json; charset=utf-8")
	header.Set("Retry-After", strconv.FormatInt(outcome.Result.RetryAfterSeconds(), 10))
	v.Response = &Response{
		Status: http.StatusTooManyRequests,
		Header: header,
		Body:   g.body,
	}
	return v
}

// Complete applies skip accounting after the wrapped handler produced status.
func (g *Gate) Complete(ctx context.Context, v Verdict, status int) {
	if v.State == StateSkipped || v.Key == "" || !g.limiter.Accounts() {
		return
	}
	if err := g.limiter.Settle(ctx, v.Key, g.cfg.succeeded(status)); err != nil {
		g.limiter.Logger().Errorf("policy %q: settle failed for key '%s': %v", g.limiter.Name(), v.Key, err)
	}
}

func (g *Gate) rateHeaders(res Result) http.Header {
	h := make(http.Header, 6)
	limit := strconv.FormatInt(res.Limit, 10)
	remaining := strconv.FormatInt(res.Remaining, 10)
	reset := strconv.FormatInt(res.ResetAt.Unix(), 10)

	if g.cfg.headers&HeadersStandard != 0 {
		h.Set("RateLimit-Limit", limit)
		h.Set("RateLimit-Remaining", remaining)
		h.Set("RateLimit-Reset", reset)
	}
	if g.cfg.headers&HeadersLegacy != 0 {
		h.Set("X-RateLimit-Limit", limit)
		h.Set("X-RateLimit-Remaining", remaining)
		h.Set("X-RateLimit-Reset", reset)
	}
	return h
}

func (g *Gate) applies(r *Request) bool {
	if len(g.cfg.methods) > 0 {
		found := false
		for _, m := range g.cfg.methods {
			if strings.EqualFold(r.Method, m) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(g.cfg.paths) > 0 {
		p := cleanPath(r.Path)
		for _, pattern := range g.cfg.paths {
			if matchPath(p, pattern) {
				return true
			}
		}
		return false
	}
	return true
}

func (g *Gate) isSkipRoute(r *Request) bool {
	if len(g.cfg.skipRoutes) == 0 {
		return false
	}
	p := cleanPath(r.Path)
	for _, route := range g.cfg.skipRoutes {
		if route.Method != "" && !strings.EqualFold(route.Method, r.Method) {
			continue
		}
		if matchPath(p, route.Path) {
			return true
		}
	}
	return false
}

// matchPath supports exact matches and prefix matches with a trailing "*".
func matchPath(p, pattern string) bool {
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		if strings.HasPrefix(p, prefix) {
			return true
		}
		// "/api/*" also covers "/api"
		return strings.HasSuffix(prefix, "/") && p == strings.TrimSuffix(prefix, "/")
	}
	return p == cleanPath(pattern)
}
