package server

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"
)

// LimiterIdleTTL is how long a client's bucket is kept after its last
// request. A bucket idle this long has refilled, so dropping it changes
// nothing.
const LimiterIdleTTL = 10 * time.Minute

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter implements a simple token bucket rate limiter per IP address
type RateLimiter struct {
	limiters  map[string]*limiterEntry
	mu        sync.Mutex
	rateLimit rate.Limit // Requests per second
	burstSize int        // Maximum burst size
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter creates a new rate limiter
// rateLimit: requests per second
// burstSize: maximum number of requests allowed in a burst
func NewRateLimiter(rateLimit rate.Limit, burstSize int) *RateLimiter {
	return &RateLimiter{
		limiters:  make(map[string]*limiterEntry),
		rateLimit: rateLimit,
		burstSize: burstSize,
		idleTTL:   LimiterIdleTTL,
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// GetLimiter returns the rate limiter for a given IP address
// Creates a new limiter for the IP if one doesn't exist. Buckets idle for
// longer than LimiterIdleTTL are evicted along the way.
func (rl *RateLimiter) GetLimiter(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) >= rl.idleTTL {
		rl.sweep(now)
	}

	entry, exists := rl.limiters[ip]
	if !exists {
		entry = &limiterEntry{limiter: rate.NewLimiter(rl.rateLimit, rl.burstSize)}
		rl.limiters[ip] = entry
	}
	entry.lastSeen = now

	return entry.limiter
}

// Len returns the number of tracked clients.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimiter) sweep(now time.Time) {
	for ip, entry := range rl.limiters {
		if now.Sub(entry.lastSeen) >= rl.idleTTL {
			delete(rl.limiters, ip)
		}
	}
	rl.lastSweep = now
}

// clientIP strips the port so that every connection from one host shares
// a bucket.
func clientIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}

// NewWebhookRateLimitMiddleware creates middleware for webhook-specific rate limiting
// limit: requests per minute
func NewWebhookRateLimitMiddleware(limit int, logger *slog.Logger, onLimited func(string)) func(http.Handler) http.Handler {
	// Convert to requests per second
	rps := rate.Limit(float64(limit) / 60.0)
	limiter := NewRateLimiter(rps, limit)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r.RemoteAddr)

			if !limiter.GetLimiter(ip).Allow() {
				logger.Warn("Webhook rate limit exceeded", "ip", ip, "path", r.URL.Path)
				if onLimited != nil {
					onLimited(resultRateLimited)
				}
				writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Rate limit exceeded"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// requestLogger logs every request and feeds the HTTP metrics.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			duration := time.Since(start)
			s.Logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"duration_ms", duration.Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()))

			if s.metrics != nil {
				route := "unmatched"
				if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
					route = rctx.RoutePattern()
				}
				s.metrics.ObserveRequest(r.Method, route, status, duration)
			}
		}()

		next.ServeHTTP(ww, r)
	})
}

// recoverer turns a handler panic into the generic JSON 500.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				s.Logger.Error("panic while handling request",
					"path", r.URL.Path,
					"panic", fmt.Sprint(rec),
					"stack", string(debug.Stack()))
				s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
			}
		}()

		next.ServeHTTP(w, r)
	})
}
