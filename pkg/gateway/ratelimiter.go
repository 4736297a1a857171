package gateway

import (
	"sync"
	"time"
)

// DefaultRequestsPerMinute is the per-connection ask budget
const DefaultRequestsPerMinute = 30

// ClientRateLimiter implements sliding window rate limiting per client.
// Asks are already serialized per connection, so only the rate is limited.
type ClientRateLimiter struct {
	mu                sync.Mutex
	requestsPerMinute int
	requests          []time.Time
	now               func() time.Time
}

// NewClientRateLimiter creates a limiter allowing requestsPerMinute asks per
// sliding minute. A non-positive limit disables limiting.
func NewClientRateLimiter(requestsPerMinute int) *ClientRateLimiter {
	return &ClientRateLimiter{
		requestsPerMinute: requestsPerMinute,
		requests:          make([]time.Time, 0),
		now:               time.Now,
	}
}

// Allow records a request and reports whether it fits the window
func (r *ClientRateLimiter) Allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.requestsPerMinute <= 0 {
		return true
	}

	now := r.now()
	r.prune(now)
	if len(r.requests) >= r.requestsPerMinute {
		return false
	}
	r.requests = append(r.requests, now)
	return true
}

// Count returns the number of requests in the current window
func (r *ClientRateLimiter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.prune(r.now())
	return len(r.requests)
}

func (r *ClientRateLimiter) prune(now time.Time) {
	cutoff := now.Add(-time.Minute)
	valid := r.requests[:0]
	for _, reqTime := range r.requests {
		if reqTime.After(cutoff) {
			valid = append(valid, reqTime)
		}
	}
	r.requests = valid
}
