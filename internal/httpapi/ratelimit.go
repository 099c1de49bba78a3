package httpapi

import (
	"sync"

	"golang.org/x/time/rate"
)

// keyLimiters keeps one token bucket per credential. Burst equals the
// per-minute rate so a quiet caller can spend a full minute's budget at once.
type keyLimiters struct {
	mu        sync.Mutex
	perMinute int
	buckets   map[string]*rate.Limiter
}

func newKeyLimiters(perMinute int) *keyLimiters {
	return &keyLimiters{
		perMinute: perMinute,
		buckets:   make(map[string]*rate.Limiter),
	}
}

func (k *keyLimiters) allow(apiKey string) bool {
	if k.perMinute <= 0 {
		return true
	}

	k.mu.Lock()
	lim, ok := k.buckets[apiKey]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(float64(k.perMinute)/60.0), k.perMinute)
		k.buckets[apiKey] = lim
	}
	k.mu.Unlock()

	return lim.Allow()
}
