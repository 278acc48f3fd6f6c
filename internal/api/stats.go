package api

import (
	"net/http"
	"runtime"
	"sync"
	"time"

	"vocabvoice/pkg/tracker"
)

// JobCounter reports how many generation jobs are cached.
type JobCounter interface {
	Len() int
}

// StatsHandler serves usage counters and process diagnostics.
type StatsHandler struct {
	tracker *tracker.Tracker
	jobs    JobCounter
	started time.Time

	mu     sync.Mutex
	maxMem uint64
}

func NewStatsHandler(t *tracker.Tracker, jobs JobCounter) *StatsHandler {
	return &StatsHandler{
		tracker: t,
		jobs:    jobs,
		started: time.Now(),
	}
}

type ProviderStatsDTO struct {
	CacheHits   int64 `json:"cache_hits"`
	CacheMisses int64 `json:"cache_misses"`
	APISuccess  int64 `json:"api_success"`
	APIFailures int64 `json:"api_errors"`
	HitRate     int64 `json:"hit_rate"`
}

type Diagnostics struct {
	MemoryMB    uint64 `json:"memory_mb"`
	MemoryMaxMB uint64 `json:"memory_max_mb"`
	Goroutines  int    `json:"goroutines"`
	UptimeSec   int64  `json:"uptime_sec"`
	CachedJobs  int    `json:"cached_jobs"`
}

type StatsResponse struct {
	Diagnostics Diagnostics                 `json:"diagnostics"`
	Providers   map[string]ProviderStatsDTO `json:"providers"`
	Outcomes    map[string]int64            `json:"outcomes"`
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	snap := h.tracker.Snapshot()

	resp := StatsResponse{
		Diagnostics: h.diagnostics(),
		Providers:   make(map[string]ProviderStatsDTO, len(snap.Providers)),
		Outcomes:    snap.Outcomes,
	}
	for name, s := range snap.Providers {
		hitRate := int64(0)
		if total := s.CacheHits + s.CacheMisses; total > 0 {
			hitRate = (s.CacheHits * 100) / total
		}
		resp.Providers[name] = ProviderStatsDTO{
			CacheHits:   s.CacheHits,
			CacheMisses: s.CacheMisses,
			APISuccess:  s.APISuccess,
			APIFailures: s.APIFailures,
			HitRate:     hitRate,
		}
	}

	writeJSON(w, resp)
}

func (h *StatsHandler) diagnostics() Diagnostics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	h.mu.Lock()
	if ms.Alloc > h.maxMem {
		h.maxMem = ms.Alloc
	}
	peak := h.maxMem
	h.mu.Unlock()

	d := Diagnostics{
		MemoryMB:    bToMb(ms.Alloc),
		MemoryMaxMB: bToMb(peak),
		Goroutines:  runtime.NumGoroutine(),
		UptimeSec:   int64(time.Since(h.started).Seconds()),
	}
	if h.jobs != nil {
		d.CachedJobs = h.jobs.Len()
	}
	return d
}

func bToMb(b uint64) uint64 {
	return b / 1024 / 1024
}
