package gateway

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter applies per-endpoint rate limiting so a burst of pipeline runs
// cannot flood a single model server.
type Limiter struct {
	limiters     map[string]*rate.Limiter
	mu           sync.RWMutex
	defaultRate  rate.Limit
	defaultBurst int
}

// NewLimiter creates a limiter with the given per-endpoint defaults.
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 2
	}
	if burst <= 0 {
		burst = 5
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  rate.Limit(requestsPerSecond),
		defaultBurst: burst,
	}
}

// Wait blocks until the named endpoint may be called, or ctx expires.
func (l *Limiter) Wait(ctx context.Context, endpoint string) error {
	return l.get(endpoint).Wait(ctx)
}

func (l *Limiter) get(endpoint string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.limiters[endpoint]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok := l.limiters[endpoint]; ok {
		return lim
	}
	lim = rate.NewLimiter(l.defaultRate, l.defaultBurst)
	l.limiters[endpoint] = lim
	return lim
}
