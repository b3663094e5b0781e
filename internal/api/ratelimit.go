package api

import (
	"log/slog"
	"net/http"
	"strconv"
	"sync"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/metrics"
	"golang.org/x/time/rate"
)

// RateLimiter implements per-tenant request rate limiting.
type RateLimiter struct {
	limiters     map[string]*rate.Limiter
	mu           sync.RWMutex
	defaultRate  rate.Limit
	defaultBurst int
	metrics      *metrics.Metrics
}

// NewRateLimiter creates a limiter allowing cfg.RequestsPerSecond per tenant.
func NewRateLimiter(cfg domain.RateLimitConfig, m *metrics.Metrics) *RateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}

	l := &RateLimiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  rate.Limit(cfg.RequestsPerSecond),
		defaultBurst: burst,
		metrics:      m,
	}

	overrides, err := cfg.Overrides()
	if err != nil {
		slog.Warn("ignoring tenant rate overrides", "error", err)
	}
	for tenantID, rps := range overrides {
		l.SetTenantRate(tenantID, rps, burst)
	}
	return l
}

// Allow reports whether a request of tenantID may proceed now.
func (l *RateLimiter) Allow(tenantID string) bool {
	return l.getLimiter(tenantID).Allow()
}

// Middleware rejects requests over the tenant's limit with 429.
// It must run after TenantMiddleware.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := GetTenantID(r.Context())
		if !l.Allow(tenantID) {
			l.metrics.IncrementRateLimited()
			w.Header().Set("Retry-After", strconv.Itoa(1))
			writeJSON(w, http.StatusTooManyRequests, map[string]string{
				"error": "rate limit exceeded",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// getLimiter returns the rate limiter for a tenant
func (l *RateLimiter) getLimiter(tenantID string) *rate.Limiter {
	l.mu.RLock()
	limiter, exists := l.limiters[tenantID]
	l.mu.RUnlock()

	if exists {
		return limiter
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if limiter, exists := l.limiters[tenantID]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
	l.limiters[tenantID] = limiter

	return limiter
}

// SetTenantRate overrides the limit of one tenant.
func (l *RateLimiter) SetTenantRate(tenantID string, requestsPerSecond float64, burst int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if burst <= 0 {
		burst = l.defaultBurst
	}

	l.limiters[tenantID] = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}
