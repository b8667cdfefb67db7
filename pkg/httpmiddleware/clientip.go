package httpmiddleware

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the visitor address: the first X-Forwarded-For hop, then
// X-Real-IP, then the host part of RemoteAddr. The storefront runs behind a
// platform proxy that sets these headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
