package server

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter keeps one token bucket per client key
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows requestsPerMin per client with the given burst.
// Clients idle for longer than idleTTL are forgotten by Cleanup.
func NewRateLimiter(requestsPerMin, burst int, idleTTL time.Duration) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(float64(requestsPerMin) / 60.0),
		burst:   burst,
		idleTTL: idleTTL,
		now:     time.Now,
		clients: make(map[string]*clientLimiter),
	}
}

// Allow reports whether one more request from key may proceed now
func (r *RateLimiter) Allow(key string) bool {
	now := r.now()

	r.mu.Lock()
	c, ok := r.clients[key]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.clients[key] = c
	}
	c.lastSeen = now
	r.mu.Unlock()

	return c.limiter.AllowN(now, 1)
}

// Cleanup forgets clients that have not been seen within the idle TTL
func (r *RateLimiter) Cleanup() int {
	cutoff := r.now().Add(-r.idleTTL)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for key, c := range r.clients {
		if c.lastSeen.Before(cutoff) {
			delete(r.clients, key)
			removed++
		}
	}
	return removed
}

// Clients returns the number of tracked clients
func (r *RateLimiter) Clients() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}

// Run calls Cleanup periodically until ctx is cancelled
func (r *RateLimiter) Run(ctx context.Context) {
	interval := r.idleTTL / 2
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Cleanup()
		}
	}
}
