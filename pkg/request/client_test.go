package request

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"vocabvoice/pkg/tracker"
)

func testConfig() ClientConfig {
	return ClientConfig{
		Timeout:     5 * time.Second,
		MaxAttempts: 3,
		BaseDelay:   5 * time.Millisecond,
		MaxDelay:    20 * time.Millisecond,
	}
}

func TestGet_Sequential(t *testing.T) {
	// Handler sleeps to prove sequential execution per provider
	var conc int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := atomic.AddInt32(&conc, 1)
		defer atomic.AddInt32(&conc, -1)

		if current > 1 {
			t.Errorf("Concurrency detected! Expected sequential.")
		}
		time.Sleep(20 * time.Millisecond)
		_, _ = w.Write([]byte("ok"))
	}))
	defer svr.Close()

	tr := tracker.New()
	client := New(tr, testConfig())

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := client.Get(context.Background(), svr.URL, nil); err != nil {
				t.Errorf("Get failed: %v", err)
			}
		}()
	}
	wg.Wait()

	var total int64
	for _, s := range tr.Snapshot().Providers {
		total += s.APISuccess
	}
	if total != 3 {
		t.Errorf("Expected 3 tracked successes, got %d", total)
	}
}

func TestGet_Retry(t *testing.T) {
	var attempts int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("success"))
	}))
	defer svr.Close()

	client := New(tracker.New(), testConfig())
	body, err := client.Get(context.Background(), svr.URL, nil)
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if string(body) != "success" {
		t.Errorf("body = %q", body)
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestPost_StatusErrorNotRetried(t *testing.T) {
	var attempts int32
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		if r.Header.Get("Authorization") != "Bearer secret" {
			t.Errorf("missing auth header")
		}
		b, _ := io.ReadAll(r.Body)
		if string(b) != `{"a":1}` {
			t.Errorf("unexpected body %q", b)
		}
		http.Error(w, "denied", http.StatusUnauthorized)
	}))
	defer svr.Close()

	client := New(tracker.New(), testConfig())
	_, err := client.Post(context.Background(), svr.URL, []byte(`{"a":1}`), map[string]string{
		"Authorization": "Bearer secret",
	})

	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 StatusError, got %v", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestGet_ExhaustedRetriesRecordBackoff(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer svr.Close()

	client := New(tracker.New(), testConfig())
	_, err := client.Get(context.Background(), svr.URL, nil)
	if !errors.Is(err, ErrMaxRetries) {
		t.Fatalf("expected ErrMaxRetries, got %v", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusBadGateway {
		t.Errorf("expected wrapped 502, got %v", err)
	}

	host := svr.Listener.Addr().String()
	if st := client.Backoff().State(host); st.Strikes != 1 {
		t.Errorf("backoff strikes = %d, want 1", st.Strikes)
	}
}

func TestGet_InvalidURL(t *testing.T) {
	client := New(nil, DefaultClientConfig())
	if _, err := client.Get(context.Background(), "not a url", nil); err == nil {
		t.Error("expected error for URL without host")
	}
}

func TestGet_ContextCanceled(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer svr.Close()

	client := New(tracker.New(), testConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := client.Get(ctx, svr.URL, nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestGet_RetryAfterExtendsBackoff(t *testing.T) {
	svr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer svr.Close()

	cfg := testConfig()
	cfg.MaxAttempts = 1
	client := New(tracker.New(), cfg)
	if _, err := client.Get(context.Background(), svr.URL, nil); err == nil {
		t.Fatal("expected error for 503")
	}

	st := client.Backoff().State(svr.Listener.Addr().String())
	if wait := time.Until(st.Until); wait < 5*time.Second {
		t.Errorf("backoff wait = %v, want Retry-After to extend it past 5s", wait)
	}
}
