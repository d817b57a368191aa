// Package clientip resolves the originating client address behind proxies.
// Webhook rate limiting keys on it, so the resolution order matters: a
// spoofable header must never outrank one set by our own edge.
package clientip

import (
	"net"
	"net/http"
	"strings"
)

// GetIP returns the client address for a request, preferring proxy headers
// over the socket peer:
//
//  1. CF-Connecting-IP (Cloudflare in front of the edge)
//  2. X-Forwarded-For (first valid entry)
//  3. X-Real-IP (nginx)
//  4. RemoteAddr
//
// Invalid or empty values fall through to the next source; the result is
// always a normalized IP string, or "" when nothing parses.
func GetIP(r *http.Request) string {
	if ip := parseIP(r.Header.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}

	for part := range strings.SplitSeq(r.Header.Get("X-Forwarded-For"), ",") {
		if ip := parseIP(part); ip != "" {
			return ip
		}
	}

	if ip := parseIP(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr without a port, as httptest and some proxies set it.
		return parseIP(r.RemoteAddr)
	}
	return parseIP(host)
}

func parseIP(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return ""
	}
	return ip.String()
}
