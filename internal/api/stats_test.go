package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"vocabvoice/pkg/tracker"
)

type fixedLen int

func (n fixedLen) Len() int { return int(n) }

func TestStatsHandler(t *testing.T) {
	tr := tracker.New()
	tr.TrackCacheHit("assets")
	tr.TrackCacheHit("assets")
	tr.TrackCacheHit("assets")
	tr.TrackCacheMiss("assets")
	tr.TrackAPIFailure("jobapi")
	tr.TrackOutcome("playback.started")

	h := NewStatsHandler(tr, fixedLen(3))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats", nil))

	var resp StatsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got := resp.Providers["assets"].HitRate; got != 75 {
		t.Errorf("hit rate = %d, want 75", got)
	}
	if resp.Providers["jobapi"].APIFailures != 1 {
		t.Errorf("expected one api failure, got %+v", resp.Providers["jobapi"])
	}
	if resp.Outcomes["playback.started"] != 1 {
		t.Errorf("unexpected outcomes %v", resp.Outcomes)
	}
	if resp.Diagnostics.CachedJobs != 3 || resp.Diagnostics.Goroutines == 0 {
		t.Errorf("unexpected diagnostics %+v", resp.Diagnostics)
	}
	if resp.Diagnostics.MemoryMaxMB < resp.Diagnostics.MemoryMB {
		t.Errorf("peak memory below current: %+v", resp.Diagnostics)
	}
}
