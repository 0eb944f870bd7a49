// ABOUTME: HTTP middleware: agent identification, per-agent rate limiting, metrics and request logs
// ABOUTME: The agent id comes from the X-Agent-ID header; authentication happens upstream
package web

import (
	"context"
	"net/http"
	stdsync "sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/harperreed/funnel/telemetry"
	"golang.org/x/time/rate"
)

// AgentHeader carries the calling agent's id.
const AgentHeader = "X-Agent-ID"

type ctxKey int

const agentKey ctxKey = iota

// AgentID returns the agent stored by RequireAgent.
func AgentID(ctx context.Context) string {
	id, _ := ctx.Value(agentKey).(string)
	return id
}

// RequireAgent rejects requests without an agent id.
func RequireAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent := r.Header.Get(AgentHeader)
		if agent == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing " + AgentHeader + " header"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), agentKey, agent)))
	})
}

// RateLimiter keeps one token bucket per agent.
type RateLimiter struct {
	mu       stdsync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
	logger   *log.Logger
}

func NewRateLimiter(requestsPerSecond float64, burst int, logger *log.Logger) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		logger:   logger,
	}
}

func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	l, ok := rl.limiters[key]
	if !ok {
		l = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[key] = l
	}
	return l
}

func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := AgentID(r.Context())
		if key == "" {
			key = r.RemoteAddr
		}
		if !rl.limiter(key).Allow() {
			rl.logger.Warn("rate limit exceeded", "key", key, "path", r.URL.Path, "method", r.Method)
			w.Header().Set("Retry-After", "1")
			writeJSON(w, http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Instrument records request counts and latency by route pattern and logs each request.
func Instrument(logger *log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			elapsed := time.Since(start)
			telemetry.RecordHTTPRequest(r.Method, route, status, elapsed)
			logger.Debug("request", "method", r.Method, "route", route, "status", status,
				"agent", r.Header.Get(AgentHeader), "duration", elapsed)
		})
	}
}
