package api

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// HostLimiter keeps one token bucket per configured host
type HostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewHostLimiter allows requestsPerMinute per host with the given burst
func NewHostLimiter(requestsPerMinute, burst int) *HostLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &HostLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Every(time.Minute / time.Duration(max(requestsPerMinute, 1))),
		burst:    burst,
	}
}

// Allow reports whether a request for hostname may proceed now
func (l *HostLimiter) Allow(hostname string) bool {
	l.mu.Lock()
	limiter, ok := l.limiters[hostname]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[hostname] = limiter
	}
	l.mu.Unlock()

	return limiter.Allow()
}
