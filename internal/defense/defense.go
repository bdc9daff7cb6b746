// Package defense implements the inbound-HTTP hardening spec.md §6
// requires: a User-Agent gate restricting Xcode-only endpoints to
// "Xcode/*" callers, and per-client-IP rate limiting so a hallucinating
// model retrying a tool call in a hot loop can't starve the bridge.
// Structurally this mirrors the teacher's internal/defense package (a
// coordinator guarding HTTP handlers by client IP) scaled down to what this
// proxy actually needs: no persistent blocklist, no scanner-path heuristics
// — those defend a publicly reachable web app, and spec.md §1's Non-goals
// explicitly exclude authentication beyond the user-agent check for this
// loopback-only proxy.
package defense

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimit configures the per-IP token bucket applied to a guarded route.
type RateLimit struct {
	RequestsPerSecond float64
	Burst             int
}

// Guard applies the user-agent gate and rate limiting to HTTP handlers.
type Guard struct {
	log *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    RateLimit
}

// New returns a Guard that rate-limits each client IP per limit.
func New(limit RateLimit, log *slog.Logger) *Guard {
	return &Guard{
		log:      log,
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
	}
}

func (g *Guard) limiterFor(ip string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.limiters[ip]
	if !ok {
		l = rate.NewLimiter(rate.Limit(g.limit.RequestsPerSecond), g.limit.Burst)
		g.limiters[ip] = l
	}
	return l
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RequireXcodeUserAgent wraps next, returning 403 {"error":"Forbidden"} for
// any request whose User-Agent does not begin with "Xcode/", per spec.md
// §6.
func (g *Guard) RequireXcodeUserAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua := r.Header.Get("User-Agent")
		if !strings.HasPrefix(ua, "Xcode/") {
			if g.log != nil {
				g.log.Warn("rejected non-Xcode user agent", "user_agent", ua, "remote_addr", r.RemoteAddr)
			}
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":"Forbidden"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimitByIP wraps next, returning 429 once the client IP exceeds limit.
func (g *Guard) RateLimitByIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !g.limiterFor(ip).Allow() {
			if g.log != nil {
				g.log.Warn("rate limit exceeded", "remote_addr", ip, "path", r.URL.Path)
			}
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"Too Many Requests"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
