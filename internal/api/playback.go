package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"vocabvoice/pkg/model"
	"vocabvoice/pkg/playback"
	"vocabvoice/pkg/resolver"
	"vocabvoice/pkg/tts"
)

// Session is the single playback session of the process.
type Session interface {
	Play(ctx context.Context, req model.AudioRequest) error
	StopAll()
	State() playback.State
	Current() (model.AudioSource, bool)
}

// PlaybackHandler drives local playback.
type PlaybackHandler struct {
	session  Session
	language func(ctx context.Context) string
}

// NewPlaybackHandler creates a PlaybackHandler. language supplies the default
// language of requests that carry none; it may be nil.
func NewPlaybackHandler(s Session, language func(ctx context.Context) string) *PlaybackHandler {
	return &PlaybackHandler{session: s, language: language}
}

// PlaybackStatus is returned by every playback endpoint.
type PlaybackStatus struct {
	State  playback.State     `json:"state"`
	Source *model.AudioSource `json:"source,omitempty"`
}

// HandlePlay handles POST /api/playback/play
func (h *PlaybackHandler) HandlePlay(w http.ResponseWriter, r *http.Request) {
	var req model.AudioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	req.Text = tts.NormalizeText(req.Text)
	if req.Text == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}
	if req.Kind == "" {
		req.Kind = model.KindWord
	}
	if !req.Kind.Valid() || !req.Kind.IsAudio() {
		http.Error(w, "kind must be word or example", http.StatusBadRequest)
		return
	}
	if req.Language == "" && h.language != nil {
		req.Language = h.language(r.Context())
	}

	err := h.session.Play(r.Context(), req)
	switch {
	case errors.Is(err, playback.ErrSuperseded):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, resolver.ErrNoPlaybackCapability):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	case err != nil:
		slog.Error("API: playback failed", "error", err)
		http.Error(w, "playback failed", http.StatusInternalServerError)
		return
	}
	h.HandleStatus(w, r)
}

// HandleStop handles POST /api/playback/stop
func (h *PlaybackHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	h.session.StopAll()
	h.HandleStatus(w, r)
}

// HandleStatus handles GET /api/playback/status
func (h *PlaybackHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	status := PlaybackStatus{State: h.session.State()}
	if src, ok := h.session.Current(); ok {
		status.Source = &src
	}
	writeJSON(w, status)
}
