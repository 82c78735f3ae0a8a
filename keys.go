package throttle

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"path"
	"strings"
)

// UnknownKey is the bucket shared by all requests whose address cannot be
// determined. Such traffic is limited together instead of bypassing the limiter.
const UnknownKey = "unknown"

// IPConfig controls how KeyByIP resolves the client address.
type IPConfig struct {
	// TrustProxy enables X-Forwarded-For and X-Real-IP. Leave it off unless the
	// service really runs behind a proxy, otherwise clients choose their own key.
	TrustProxy bool
	// TrustedProxies restricts TrustProxy to peers inside these prefixes. When
	// set, X-Forwarded-For is read right to left and the first hop outside the
	// trusted set is the client. When empty, every peer is trusted and the
	// leftmost X-Forwarded-For entry wins.
	TrustedProxies []netip.Prefix
}

// ParseTrustedProxies parses IPs and CIDR blocks such as "10.0.0.0/8" or "::1".
func ParseTrustedProxies(values []string) ([]netip.Prefix, error) {
	out := make([]netip.Prefix, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if p, err := netip.ParsePrefix(v); err == nil {
			out = append(out, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(v)
		if err != nil {
			return nil, fmt.Errorf("invalid IP or CIDR %q: %w", v, err)
		}
		addr = addr.Unmap()
		out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return out, nil
}

// KeyByIP keys requests by client network address.
func KeyByIP(cfg IPConfig) KeyFunc {
	return func(r *Request) string {
		return clientIP(r, cfg)
	}
}

// KeyByUser keys requests by authenticated user, falling back to the client
// address for anonymous requests.
func KeyByUser(cfg IPConfig) KeyFunc {
	return func(r *Request) string {
		if id := strings.TrimSpace(r.UserID); id != "" {
			return "user:" + id
		}
		return clientIP(r, cfg)
	}
}

// KeyByEndpoint keys requests by client address and path, so that one hot
// endpoint cannot exhaust the budget a client has for the others.
func KeyByEndpoint(cfg IPConfig) KeyFunc {
	return func(r *Request) string {
		return clientIP(r, cfg) + ":" + cleanPath(r.Path)
	}
}

// KeyComposite keys requests by address, user and path.
func KeyComposite(cfg IPConfig) KeyFunc {
	return func(r *Request) string {
		user := strings.TrimSpace(r.UserID)
		if user == "" {
			user = "anonymous"
		}
		return clientIP(r, cfg) + ":" + user + ":" + cleanPath(r.Path)
	}
}

func clientIP(r *Request, cfg IPConfig) string {
	peer := remoteHost(r.RemoteAddr)

	if cfg.TrustProxy && cfg.trusts(peer) {
		if ip := cfg.forwardedFor(r.Header); ip != "" {
			return ip
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return canonicalIP(ip)
		}
	}

	if peer == "" {
		return UnknownKey
	}
	return peer
}

// TrustsPeer reports whether headers set by the peer at remoteAddr may be
// believed: TrustProxy is on and the peer is inside TrustedProxies, or the
// list is empty.
func (c IPConfig) TrustsPeer(remoteAddr string) bool {
	if !c.TrustProxy {
		return false
	}
	peer := remoteHost(remoteAddr)
	return peer != "" && c.trusts(peer)
}

func (c IPConfig) trusts(ip string) bool {
	if len(c.TrustedProxies) == 0 {
		return true
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range c.TrustedProxies {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// forwardedFor picks the client from X-Forwarded-For. Repeated headers are
// treated as one comma separated list.
func (c IPConfig) forwardedFor(h http.Header) string {
	values := h.Values("X-Forwarded-For")
	if len(values) == 0 {
		return ""
	}
	var hops []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				hops = append(hops, part)
			}
		}
	}
	if len(hops) == 0 {
		return ""
	}

	if len(c.TrustedProxies) == 0 {
		return canonicalIP(hops[0])
	}

	for i := len(hops) - 1; i >= 0; i-- {
		if _, err := netip.ParseAddr(hops[i]); err != nil {
			continue
		}
		if !c.trusts(hops[i]) {
			return canonicalIP(hops[i])
		}
	}
	// every hop is a trusted proxy
	return canonicalIP(hops[0])
}

func remoteHost(remoteAddr string) string {
	remoteAddr = strings.TrimSpace(remoteAddr)
	if remoteAddr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return canonicalIP(host)
	}
	return canonicalIP(remoteAddr)
}

func canonicalIP(s string) string {
	s = strings.Trim(s, "[]")
	if addr, err := netip.ParseAddr(s); err == nil {
		return addr.Unmap().String()
	}
	return s
}

func cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if p[0] != '/' {
		p = "/" + p
	}
	return path.Clean(p)
}
