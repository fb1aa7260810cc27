package internal

import (
	"net"
	"net/http"

	"github.com/sebest/xff"
)

// XRealIP sets X-Real-Ip from the first public address in X-Forwarded-For,
// falling back to the peer address. A value set by the reverse proxy wins.
func XRealIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Real-Ip") == "" {
			addr := xff.GetRemoteAddr(r)
			if host, _, err := net.SplitHostPort(addr); err == nil {
				addr = host
			}
			r.Header.Set("X-Real-Ip", addr)
		}

		next.ServeHTTP(w, r)
	})
}
