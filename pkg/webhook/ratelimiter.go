package webhook

import (
	"sync"
	"time"
)

const limiterWindow = time.Minute

// rateLimiter enforces a sliding-window per-IP request limit.
type rateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	max      int
	done     chan struct{}
	once     sync.Once
}

func newRateLimiter(maxPerMinute int) *rateLimiter {
	rl := &rateLimiter{
		requests: make(map[string][]time.Time),
		max:      maxPerMinute,
		done:     make(chan struct{}),
	}
	go rl.cleanupLoop()
	return rl
}

// allow records the request and reports whether it fits in the window.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	recent := prune(rl.requests[ip], now)
	if len(recent) >= rl.max {
		rl.requests[ip] = recent
		return false
	}
	rl.requests[ip] = append(recent, now)
	return true
}

// retryAfter returns whole seconds until the oldest request leaves the
// window, rounded up.
func (rl *rateLimiter) retryAfter(ip string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	recent := prune(rl.requests[ip], time.Now())
	if len(recent) == 0 {
		return 0
	}
	remaining := limiterWindow - time.Since(recent[0])
	if remaining <= 0 {
		return 0
	}
	return int((remaining + time.Second - 1) / time.Second)
}

func (rl *rateLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for ip, times := range rl.requests {
				if recent := prune(times, now); len(recent) == 0 {
					delete(rl.requests, ip)
				} else {
					rl.requests[ip] = recent
				}
			}
			rl.mu.Unlock()
		case <-rl.done:
			return
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.once.Do(func() { close(rl.done) })
}

func prune(times []time.Time, now time.Time) []time.Time {
	cutoff := now.Add(-limiterWindow)
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	return times[i:]
}
