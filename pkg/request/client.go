package request

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"vocabvoice/pkg/tracker"
	"vocabvoice/pkg/version"
)

var (
	defaultUserAgent = fmt.Sprintf("vocabvoice/%s", version.Version)

	// ErrMaxRetries is returned when every attempt hit a retryable status.
	ErrMaxRetries = errors.New("max retries exceeded")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
	Body       string
	// RetryAfter is the server's Retry-After hint, zero when absent.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api error: status %d", e.StatusCode)
}

// ClientConfig tunes the transport behaviour.
type ClientConfig struct {
	Timeout     time.Duration // per HTTP round trip
	MaxAttempts int           // attempts on network errors, 429 and 5xx
	BaseDelay   time.Duration // provider backoff base
	MaxDelay    time.Duration // provider backoff cap
	Gap         time.Duration // pause between two requests to the same provider
}

// DefaultClientConfig returns the settings used when none are configured.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:     30 * time.Second,
		MaxAttempts: 1,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Gap:         100 * time.Millisecond,
	}
}

// Client handles HTTP requests with per-provider queuing, backoff, and tracking.
type Client struct {
	httpClient *http.Client
	tracker    *tracker.Tracker
	backoff    *ProviderBackoff
	cfg        ClientConfig

	// Queues per provider (host)
	queues map[string]chan job
	mu     sync.Mutex // Protects queues map
}

// job represents a queued request.
type job struct {
	req      *http.Request
	headers  map[string]string
	respChan chan jobResult
}

type jobResult struct {
	body []byte
	err  error
}

// New creates a new Client.
func New(t *tracker.Tracker, cfg ClientConfig) *Client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if t == nil {
		t = tracker.New()
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		tracker:    t,
		backoff:    NewProviderBackoff(cfg.BaseDelay, cfg.MaxDelay),
		cfg:        cfg,
		queues:     make(map[string]chan job),
	}
}

// Get performs a GET request with queuing.
func (c *Client) Get(ctx context.Context, u string, headers map[string]string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, u, nil, headers)
}

// Post performs a POST request with queuing.
func (c *Client) Post(ctx context.Context, u string, body []byte, headers map[string]string) ([]byte, error) {
	return c.do(ctx, http.MethodPost, u, body, headers)
}

// Backoff exposes the provider backoff state.
func (c *Client) Backoff() *ProviderBackoff {
	return c.backoff
}

func (c *Client) do(ctx context.Context, method, u string, body []byte, headers map[string]string) ([]byte, error) {
	parsedURL, err := url.Parse(u)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	if parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid url: missing host in %q", u)
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	respChan := make(chan jobResult, 1)
	c.dispatch(parsedURL.Host, job{req: req, headers: headers, respChan: respChan})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-respChan:
		return res.body, res.err
	}
}

// dispatch sends the job to the provider's queue, creating the queue/worker if needed.
func (c *Client) dispatch(provider string, j job) {
	c.mu.Lock()
	q, ok := c.queues[provider]
	if !ok {
		q = make(chan job, 100)
		c.queues[provider] = q
		go c.worker(provider, q)
	}
	c.mu.Unlock()

	// Blocks while the queue is full, throttling the caller
	select {
	case q <- j:
	case <-j.req.Context().Done():
		j.respChan <- jobResult{err: j.req.Context().Err()}
	}
}

// worker processes requests for a specific provider sequentially.
func (c *Client) worker(provider string, q <-chan job) {
	for j := range q {
		ctx := j.req.Context()
		if ctx.Err() != nil {
			slog.Warn("Job dropped from queue (context expired)", "provider", provider, "error", ctx.Err())
			j.respChan <- jobResult{err: ctx.Err()}
			continue
		}

		if err := c.backoff.Wait(ctx, provider); err != nil {
			j.respChan <- jobResult{err: err}
			continue
		}

		uaMatch := false
		for k, v := range j.headers {
			j.req.Header.Set(k, v)
			if http.CanonicalHeaderKey(k) == "User-Agent" {
				uaMatch = true
			}
		}
		if !uaMatch {
			j.req.Header.Set("User-Agent", defaultUserAgent)
		}

		body, err := c.executeWithBackoff(j.req)

		var se *StatusError
		switch {
		case err == nil:
			c.tracker.TrackAPISuccess(provider)
			c.backoff.RecordSuccess(provider)
		case errors.As(err, &se) && se.StatusCode < 500 && se.StatusCode != http.StatusTooManyRequests:
			// Client errors say nothing about provider health
			c.tracker.TrackAPIFailure(provider)
		case ctx.Err() != nil:
		default:
			c.tracker.TrackAPIFailure(provider)
			c.backoff.RecordFailure(provider)
			if se != nil {
				c.backoff.RecordRetryAfter(provider, se.RetryAfter)
			}
		}

		j.respChan <- jobResult{body: body, err: err}

		if c.cfg.Gap > 0 {
			time.Sleep(c.cfg.Gap)
		}
	}
}

// executeWithBackoff attempts the request with exponential backoff on retryable errors.
func (c *Client) executeWithBackoff(req *http.Request) ([]byte, error) {
	baseDelay := c.cfg.BaseDelay
	var lastErr error

	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if req.Context().Err() != nil {
			return nil, req.Context().Err()
		}
		if attempt > 0 {
			sleepDur := time.Duration(math.Pow(2, float64(attempt-1))) * baseDelay
			select {
			case <-time.After(sleepDur):
			case <-req.Context().Done():
				return nil, req.Context().Err()
			}
			if err := rewind(req); err != nil {
				return nil, err
			}
		}

		slog.Debug("Network Request", "method", req.Method, "host", req.URL.Host, "path", req.URL.Path, "attempt", attempt+1)
		resp, err := c.httpClient.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, req.Context().Err()
			}
			slog.Warn("Request failed", "url", req.URL, "attempt", attempt+1, "error", err)
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			slog.Warn("API Backoff", "status", resp.StatusCode, "url", req.URL, "attempt", attempt+1)
			lastErr = &StatusError{StatusCode: resp.StatusCode, Body: string(body), RetryAfter: retryAfter(resp.Header)}
			continue
		}
		if resp.StatusCode >= 300 {
			return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
		}
		if readErr != nil {
			return nil, fmt.Errorf("read error: %w", readErr)
		}
		return body, nil
	}

	if c.cfg.MaxAttempts == 1 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("%w: %w", ErrMaxRetries, lastErr)
}

// retryAfter reads a Retry-After header given in seconds.
func retryAfter(h http.Header) time.Duration {
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func rewind(req *http.Request) error {
	if req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return fmt.Errorf("failed to rewind request body: %w", err)
	}
	req.Body = body
	return nil
}
