package http

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// maxUserAgentLength bounds what is stored with sessions and audit events
const maxUserAgentLength = 512

// IPExtractor resolves the client address of a request. Forwarding headers
// are honoured only when the direct peer is a trusted proxy.
type IPExtractor struct {
	trusted []netip.Prefix
}

// NewIPExtractor parses the trusted proxy CIDR ranges. Bare addresses are
// accepted as single-host ranges.
func NewIPExtractor(trustedProxies []string) (*IPExtractor, error) {
	e := &IPExtractor{}
	for _, raw := range trustedProxies {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "/") {
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
			}
			e.trusted = append(e.trusted, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		prefix, err := netip.ParsePrefix(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid trusted proxy %q: %w", raw, err)
		}
		e.trusted = append(e.trusted, prefix.Masked())
	}
	return e, nil
}

// ClientIP returns the address the request originated from.
//
// Behind trusted proxies X-Forwarded-For is walked from the right and the
// first hop that is not itself a trusted proxy wins, so a client cannot
// choose its own address by prepending entries. X-Real-IP is the fallback.
func (e *IPExtractor) ClientIP(r *http.Request) string {
	remote := remoteAddr(r)
	if e == nil || !e.isTrusted(remote) {
		return remote
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			addr, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				break
			}
			if !e.isTrusted(addr.Unmap().String()) {
				return addr.Unmap().String()
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if addr, err := netip.ParseAddr(xri); err == nil {
			return addr.Unmap().String()
		}
	}
	return remote
}

func (e *IPExtractor) isTrusted(ip string) bool {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range e.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// remoteAddr extracts the IP address from RemoteAddr (removing port if present)
func remoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return addr.Unmap().String()
	}
	return host
}

// UserAgent returns the request's User-Agent, trimmed and bounded
func UserAgent(r *http.Request) string {
	ua := strings.TrimSpace(r.Header.Get("User-Agent"))
	if len(ua) > maxUserAgentLength {
		ua = ua[:maxUserAgentLength]
	}
	return ua
}
