// Package ratelimit limits mutating requests per client with a fixed
// one-minute window.
package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"comissao/internal/cache"
)

const (
	window     = time.Minute
	maxClients = 10000
	// idle clients are forgotten after this long
	clientTTL = 10 * time.Minute
)

// Limiter counts requests per client key.
type Limiter struct {
	mu      sync.Mutex
	clients *cache.LRUCache[*clientInfo]
	now     func() time.Time

	requestsPerMinute int
	rejected          atomic.Int64
}

type clientInfo struct {
	windowStart time.Time
	requests    int
}

// Config holds rate limiter configuration
type Config struct {
	RequestsPerMinute int
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{RequestsPerMinute: 60}
}

func NewLimiter(config Config) *Limiter {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = DefaultConfig().RequestsPerMinute
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Limiter{
		clients:           cache.NewLRUCache[*clientInfo](maxClients, clientTTL).WithClock(config.Now),
		now:               config.Now,
		requestsPerMinute: config.RequestsPerMinute,
	}
}

// Allow records one request for key and reports whether it is within the limit.
func (rl *Limiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	client, ok := rl.clients.Get(key)
	if !ok || now.Sub(client.windowStart) >= window {
		rl.clients.Set(key, &clientInfo{windowStart: now, requests: 1})
		return true
	}

	client.requests++
	rl.clients.Set(key, client)
	if client.requests > rl.requestsPerMinute {
		rl.rejected.Add(1)
		return false
	}
	return true
}

// Clients exposes the client table so it can be registered for cleanup.
func (rl *Limiter) Clients() cache.Cleaner { return rl.clients }

// ActiveClients returns the number of currently tracked clients
func (rl *Limiter) ActiveClients() int { return rl.clients.Size() }

// Rejected returns how many requests were refused since start.
func (rl *Limiter) Rejected() int64 { return rl.rejected.Load() }

// Middleware limits requests whose method is not safe. Reads pass through.
func (rl *Limiter) Middleware(extractKey func(*http.Request) string, onLimit func(http.ResponseWriter, *http.Request)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if safeMethod(r.Method) || rl.Allow(extractKey(r)) {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
			if onLimit != nil {
				onLimit(w, r)
				return
			}
			http.Error(w, "Muitas requisições. Tente novamente em instantes.", http.StatusTooManyRequests)
		})
	}
}

func safeMethod(m string) bool {
	return m == http.MethodGet || m == http.MethodHead || m == http.MethodOptions
}
