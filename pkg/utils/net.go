package utils

import (
	"net"
	"net/http"
	"strings"
)

// ExtractClientIP returns the client address recorded in activity-log entries
// and used as the rate-limit key. Headers are checked in priority order:
//  1. X-Forwarded-For (first entry)
//  2. X-Real-IP
//  3. RemoteAddr with the port removed
func ExtractClientIP(r *http.Request) string {
	if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
		// "client, proxy1, proxy2"
		if idx := strings.IndexByte(xff, ','); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return xff
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// No port present.
		return strings.Trim(r.RemoteAddr, "[]")
	}
	return host
}
