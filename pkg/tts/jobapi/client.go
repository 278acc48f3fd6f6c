// Package jobapi implements tts.JobClient for providers speaking the
// asynchronous speech job protocol:
//
//	POST {base}/v1/speech        {text, language, voice, format} -> {id}
//	GET  {base}/v1/speech/{id}   -> {status, location, error}
//	GET  {location}              -> audio bytes
package jobapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"vocabvoice/pkg/model"
	"vocabvoice/pkg/request"
	"vocabvoice/pkg/tts"
)

const providerName = "jobapi"

// Config holds the provider connection settings.
type Config struct {
	BaseURL string
	APIKey  string
	Voice   string
	Format  string // "mp3" or "wav"
}

// Client implements tts.JobClient.
type Client struct {
	cfg  Config
	base *url.URL
	rc   *request.Client
}

var _ tts.JobClient = (*Client)(nil)

// New creates a provider client sending its requests through rc.
func New(cfg Config, rc *request.Client) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid tts base url %q", cfg.BaseURL)
	}
	if cfg.Format == "" {
		cfg.Format = "mp3"
	}
	return &Client{cfg: cfg, base: base, rc: rc}, nil
}

type submitRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Voice    string `json:"voice,omitempty"`
	Format   string `json:"format"`
}

type submitResponse struct {
	ID string `json:"id"`
}

type statusResponse struct {
	Status   string `json:"status"`
	Location string `json:"location,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Submit starts a generation job.
func (c *Client) Submit(ctx context.Context, text, language string) (string, error) {
	payload, err := json.Marshal(submitRequest{
		Text:     text,
		Language: language,
		Voice:    c.cfg.Voice,
		Format:   c.cfg.Format,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	body, err := c.rc.Post(ctx, c.base.String()+"/v1/speech", payload, c.headers(map[string]string{
		"Content-Type": "application/json",
	}))
	tts.Log(providerName, "submit", text, statusOf(err), err)
	if err != nil {
		return "", classify("submit", err)
	}

	var resp submitResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: invalid submit response: %w", tts.ErrProviderUnavailable, err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("%w: submit response without job id", tts.ErrProviderUnavailable)
	}
	return resp.ID, nil
}

// Poll returns the provider-side state of a job.
func (c *Client) Poll(ctx context.Context, jobID string) (model.GenerationJob, error) {
	body, err := c.rc.Get(ctx, c.base.String()+"/v1/speech/"+url.PathEscape(jobID), c.headers(nil))
	tts.Log(providerName, "poll", jobID, statusOf(err), err)
	if err != nil {
		return model.GenerationJob{}, classify("poll", err)
	}

	var resp statusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.GenerationJob{}, fmt.Errorf("%w: invalid status response: %w", tts.ErrProviderUnavailable, err)
	}

	job := model.GenerationJob{ID: jobID, Err: resp.Error}
	switch strings.ToLower(resp.Status) {
	case "pending", "queued", "processing":
		job.Status = model.JobPending
	case "done", "completed", "succeeded":
		job.Status = model.JobDone
		loc, err := c.resolveLocation(resp.Location)
		if err != nil {
			return model.GenerationJob{}, err
		}
		job.ResultLocation = loc
	case "error", "failed":
		job.Status = model.JobError
	default:
		return model.GenerationJob{}, fmt.Errorf("%w: unknown job status %q", tts.ErrProviderUnavailable, resp.Status)
	}
	return job, nil
}

// Download fetches a finished payload. Locations are resolved against the base URL.
func (c *Client) Download(ctx context.Context, location string) ([]byte, error) {
	loc, err := c.resolveLocation(location)
	if err != nil {
		return nil, err
	}
	body, err := c.rc.Get(ctx, loc, c.headers(nil))
	tts.Log(providerName, "download", loc, statusOf(err), err)
	if err != nil {
		return nil, classify("download", err)
	}
	return body, nil
}

func (c *Client) resolveLocation(location string) (string, error) {
	if location == "" {
		return "", fmt.Errorf("%w: empty result location", tts.ErrProviderUnavailable)
	}
	ref, err := url.Parse(location)
	if err != nil {
		return "", fmt.Errorf("%w: invalid result location: %w", tts.ErrProviderUnavailable, err)
	}
	return c.base.ResolveReference(ref).String(), nil
}

func (c *Client) headers(extra map[string]string) map[string]string {
	h := map[string]string{"Accept": "application/json"}
	if c.cfg.APIKey != "" {
		h["Authorization"] = "Bearer " + c.cfg.APIKey
	}
	for k, v := range extra {
		h[k] = v
	}
	return h
}

// classify maps transport errors to the tts error taxonomy.
func classify(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var se *request.StatusError
	if errors.As(err, &se) && (se.StatusCode == http.StatusUnauthorized || se.StatusCode == http.StatusForbidden) {
		return fmt.Errorf("%w: %w", tts.ErrProviderUnavailable,
			tts.NewFatalError(se.StatusCode, fmt.Sprintf("tts %s auth failed: %s", op, strings.TrimSpace(se.Body))))
	}
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound && op == "poll" {
		return fmt.Errorf("%w: %w", tts.ErrProviderUnavailable, tts.ErrJobNotFound)
	}
	return fmt.Errorf("%w: %s: %w", tts.ErrProviderUnavailable, op, err)
}

func statusOf(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var se *request.StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
