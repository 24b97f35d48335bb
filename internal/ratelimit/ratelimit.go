package ratelimit

import (
	"fmt"
	"sync"

	ratelib "golang.org/x/time/rate"
)

// Config defines a token bucket.
type Config struct {
	// RequestsPerSecond is the average number of requests per second allowed.
	RequestsPerSecond float64
	// Burst is the maximum number of requests that can exceed the rate instantaneously.
	Burst int
}

func (c Config) validate() error {
	if c.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive, got %v", c.RequestsPerSecond)
	}
	if c.Burst < 1 {
		return fmt.Errorf("burst must be at least 1, got %d", c.Burst)
	}
	return nil
}

// Limiter holds one token bucket per key, typically one per proxy path.
// Buckets are replaced as a whole when a routing table is swapped in.
type Limiter struct {
	mu       sync.RWMutex
	limiters map[string]*ratelib.Limiter
}

func NewLimiter() *Limiter {
	return &Limiter{
		limiters: make(map[string]*ratelib.Limiter),
	}
}

// Register creates or reconfigures the bucket for key.
func (l *Limiter) Register(key string, c Config) error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("rate limit %q: %w", key, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.set(key, c)
	return nil
}

// Replace makes buckets exactly the set of keys in cs. Existing buckets keep
// their tokens and are reconfigured; keys not in cs are dropped. Nothing
// changes when any config is invalid.
func (l *Limiter) Replace(cs map[string]Config) error {
	for key, c := range cs {
		if err := c.validate(); err != nil {
			return fmt.Errorf("rate limit %q: %w", key, err)
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for key := range l.limiters {
		if _, ok := cs[key]; !ok {
			delete(l.limiters, key)
		}
	}
	for key, c := range cs {
		l.set(key, c)
	}
	return nil
}

// set must be called with mu held.
func (l *Limiter) set(key string, c Config) {
	if lim, ok := l.limiters[key]; ok {
		lim.SetLimit(ratelib.Limit(c.RequestsPerSecond))
		lim.SetBurst(c.Burst)
		return
	}
	l.limiters[key] = ratelib.NewLimiter(ratelib.Limit(c.RequestsPerSecond), c.Burst)
}

func (l *Limiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.limiters)
}

// Allow takes a token from the bucket of key. Unknown keys are not limited.
func (l *Limiter) Allow(key string) bool {
	l.mu.RLock()
	lim, ok := l.limiters[key]
	l.mu.RUnlock()
	if !ok {
		return true
	}
	return lim.Allow()
}
