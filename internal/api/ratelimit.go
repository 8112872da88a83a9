package api

import (
	"log/slog"
	"net"
	"net/http"

	"github.com/alexandriaapp/alexandria-server/internal/http/response"
	"github.com/alexandriaapp/alexandria-server/internal/ratelimit"
)

// RateLimitMiddleware creates a middleware that rate limits requests by client address.
// Returns 429 Too Many Requests when limit is exceeded. It runs after middleware.RealIP, so
// RemoteAddr already reflects forwarding headers.
func RateLimitMiddleware(limiter *ratelimit.KeyedRateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r)

			if !limiter.Allow(key) {
				logger.Warn("Rate limit exceeded",
					"ip", key,
					"path", r.URL.Path,
				)
				response.TooManyRequests(w, "Too many requests. Please try again later.", limiter.RetryAfter(key), logger)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP strips the port from RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
