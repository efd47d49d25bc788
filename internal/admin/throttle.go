package admin

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tinypaste/internal/metrics"
)

const (
	// LoginBurst is how many login attempts a client may make back to back.
	LoginBurst = 5
	// LoginRefill is the interval at which one spent attempt is restored.
	LoginRefill = 10 * time.Second
)

// Throttle is a per-client token bucket for login attempts.
type Throttle struct {
	rate    rate.Limit
	refill  time.Duration
	burst   int
	ttl     time.Duration
	mu      sync.Mutex
	clients map[string]*clientLimiter
	now     func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewThrottle allows burst attempts per client, refilling one every refill.
// Idle clients are forgotten after ttl.
func NewThrottle(burst int, refill, ttl time.Duration) *Throttle {
	if burst <= 0 {
		burst = LoginBurst
	}
	if refill <= 0 {
		refill = LoginRefill
	}
	return &Throttle{
		rate:    rate.Every(refill),
		refill:  refill,
		burst:   burst,
		ttl:     ttl,
		clients: make(map[string]*clientLimiter),
		now:     time.Now,
	}
}

// NewLoginThrottle uses the login defaults.
func NewLoginThrottle() *Throttle {
	return NewThrottle(LoginBurst, LoginRefill, 30*time.Minute)
}

// Allow reports whether an attempt from key is permitted and spends a token if so.
func (t *Throttle) Allow(key string) bool {
	if t == nil {
		return true
	}
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()

	if key == "" {
		key = "unknown"
	}

	entry, ok := t.clients[key]
	if !ok {
		entry = &clientLimiter{limiter: rate.NewLimiter(t.rate, t.burst)}
		t.clients[key] = entry
	}
	entry.lastSeen = now
	allowed := entry.limiter.AllowN(now, 1)

	if t.ttl > 0 {
		for k, v := range t.clients {
			if now.Sub(v.lastSeen) > t.ttl {
				delete(t.clients, k)
			}
		}
	}

	return allowed
}

// Middleware answers 429 once a client runs out of attempts.
func (t *Throttle) Middleware(keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	if t == nil {
		return func(next http.Handler) http.Handler {
			return next
		}
	}
	retryAfter := strconv.Itoa(int(t.refill.Seconds()))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ""
			if keyFunc != nil {
				key = keyFunc(r)
			}
			if !t.Allow(key) {
				metrics.LoginAttempts.WithLabelValues("throttled").Inc()
				w.Header().Set("Retry-After", retryAfter)
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(http.StatusText(http.StatusTooManyRequests)))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
