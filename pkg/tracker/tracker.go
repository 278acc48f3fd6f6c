package tracker

import (
	"sync"
	"sync/atomic"
)

// Tracker tracks usage statistics per provider and playback outcome counts.
type Tracker struct {
	mu       sync.RWMutex
	stats    map[string]*ProviderStats
	outcomes map[string]*int64
}

// ProviderStats holds metrics for a specific provider.
// Fields are accessed atomically.
type ProviderStats struct {
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`
	APISuccess  int64 `json:"api_success"`
	APIFailures int64 `json:"api_failures"`
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Providers map[string]ProviderStats `json:"providers"`
	Outcomes  map[string]int64         `json:"outcomes"`
}

// New creates a new Tracker.
func New() *Tracker {
	return &Tracker{
		stats:    make(map[string]*ProviderStats),
		outcomes: make(map[string]*int64),
	}
}

// getStats returns the stats object for a provider, creating it if needed.
func (t *Tracker) getStats(provider string) *ProviderStats {
	t.mu.RLock()
	s, ok := t.stats[provider]
	t.mu.RUnlock()
	if ok {
		return s
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	// Double check
	if s, ok = t.stats[provider]; ok {
		return s
	}
	s = &ProviderStats{}
	t.stats[provider] = s
	return s
}

// TrackCacheHit increments the cache hit counter.
func (t *Tracker) TrackCacheHit(provider string) {
	atomic.AddInt64(&t.getStats(provider).CacheHits, 1)
}

func (t *Tracker) TrackCacheMiss(provider string) {
	atomic.AddInt64(&t.getStats(provider).CacheMisses, 1)
}

func (t *Tracker) TrackAPISuccess(provider string) {
	atomic.AddInt64(&t.getStats(provider).APISuccess, 1)
}

func (t *Tracker) TrackAPIFailure(provider string) {
	atomic.AddInt64(&t.getStats(provider).APIFailures, 1)
}

// TrackOutcome counts a named outcome, e.g. a playback result.
func (t *Tracker) TrackOutcome(name string) {
	t.mu.RLock()
	c, ok := t.outcomes[name]
	t.mu.RUnlock()
	if !ok {
		t.mu.Lock()
		if c, ok = t.outcomes[name]; !ok {
			c = new(int64)
			t.outcomes[name] = c
		}
		t.mu.Unlock()
	}
	atomic.AddInt64(c, 1)
}

// Snapshot returns a copy of the current stats.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := Snapshot{
		Providers: make(map[string]ProviderStats, len(t.stats)),
		Outcomes:  make(map[string]int64, len(t.outcomes)),
	}
	for k, v := range t.stats {
		result.Providers[k] = ProviderStats{
			CacheHits:   atomic.LoadInt64(&v.CacheHits),
			CacheMisses: atomic.LoadInt64(&v.CacheMisses),
			APISuccess:  atomic.LoadInt64(&v.APISuccess),
			APIFailures: atomic.LoadInt64(&v.APIFailures),
		}
	}
	for k, v := range t.outcomes {
		result.Outcomes[k] = atomic.LoadInt64(v)
	}
	return result
}
