package jobapi

import (
	"encoding/json"
	"hash/fnv"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"vocabvoice/pkg/audio"
)

// FakeServer is an in-process provider speaking the job protocol. It renders
// a tone per text and is used by tests and the "builtin" provider mode.
type FakeServer struct {
	// ReadyAfter is the number of polls reporting pending before a job is done.
	ReadyAfter int
	// FailSubmits makes the first N submits answer 503.
	FailSubmits int
	// Token, when set, is required as bearer token.
	Token string
	// Render produces the payload for a job.
	Render func(text, language string) ([]byte, error)

	mu      sync.Mutex
	jobs    map[string]*fakeJob
	submits int
}

type fakeJob struct {
	text  string
	polls int
	data  []byte
	err   string
}

// NewFakeServer creates a provider that renders tones.
func NewFakeServer() *FakeServer {
	return &FakeServer{
		ReadyAfter: 1,
		Render:     renderTone,
		jobs:       make(map[string]*fakeJob),
	}
}

// renderTone maps text to a stable pitch and a length growing with the text.
func renderTone(text, _ string) ([]byte, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	freq := 220 + float64(h.Sum32()%440)
	d := time.Duration(200+60*utf8.RuneCountInString(text)) * time.Millisecond
	if d > 3*time.Second {
		d = 3 * time.Second
	}
	return audio.RenderTone(freq, d)
}

// Submits returns how many submit calls were received.
func (s *FakeServer) Submits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submits
}

// Handler returns the HTTP handler of the fake provider.
func (s *FakeServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/speech", s.handleSubmit)
	mux.HandleFunc("GET /v1/speech/{id}", s.handleStatus)
	mux.HandleFunc("GET /files/{id}", s.handleFile)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.Token {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func (s *FakeServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.submits++
	if s.submits <= s.FailSubmits {
		s.mu.Unlock()
		http.Error(w, "temporarily unavailable", http.StatusServiceUnavailable)
		return
	}
	s.mu.Unlock()

	job := &fakeJob{text: req.Text}
	data, err := s.Render(req.Text, req.Language)
	if err != nil {
		job.err = err.Error()
	}
	job.data = data

	id := uuid.NewString()
	s.mu.Lock()
	if s.jobs == nil {
		s.jobs = make(map[string]*fakeJob)
	}
	s.jobs[id] = job
	s.mu.Unlock()

	writeJSON(w, submitResponse{ID: id})
}

func (s *FakeServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	s.mu.Lock()
	job, ok := s.jobs[id]
	var resp statusResponse
	if ok {
		job.polls++
		switch {
		case job.err != "":
			resp = statusResponse{Status: "error", Error: job.err}
		case job.polls > s.ReadyAfter:
			resp = statusResponse{Status: "done", Location: "/files/" + id}
		default:
			resp = statusResponse{Status: "pending"}
		}
	}
	s.mu.Unlock()

	if !ok {
		http.Error(w, "unknown job", http.StatusNotFound)
		return
	}
	writeJSON(w, resp)
}

func (s *FakeServer) handleFile(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	job, ok := s.jobs[r.PathValue("id")]
	s.mu.Unlock()

	if !ok || job.data == nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	if _, err := w.Write(job.data); err != nil {
		slog.Debug("Fake provider: write failed", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
