// Package httputil holds small HTTP helpers shared by the API and stream
// handlers.
package httputil

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the address used to key per-client limits.
// With trustProxy the leftmost X-Forwarded-For entry, then X-Real-IP, is
// used when it parses as an IP; otherwise the host part of RemoteAddr.
// Only enable trustProxy behind a reverse proxy that sets these headers.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ",")
		if ip := parseIP(first); ip != "" {
			return ip
		}
		if ip := parseIP(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// parseIP returns the canonical form of s, or "" if s is not an IP.
func parseIP(s string) string {
	ip := net.ParseIP(strings.TrimSpace(s))
	if ip == nil {
		return ""
	}
	return ip.String()
}
