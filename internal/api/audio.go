package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"vocabvoice/pkg/model"
	"vocabvoice/pkg/tts"
)

// AudioHandler proxies on-demand generation jobs. Clients never see provider URLs.
type AudioHandler struct {
	client  tts.JobClient
	jobs    *tts.JobCache
	minSize int64
	prefix  string
}

// NewAudioHandler creates a new AudioHandler. client may be nil when no provider is configured.
func NewAudioHandler(client tts.JobClient, jobs *tts.JobCache, minSize int64, downloadPrefix string) *AudioHandler {
	if minSize <= 0 {
		minSize = tts.MinAudioSize
	}
	return &AudioHandler{
		client:  client,
		jobs:    jobs,
		minSize: minSize,
		prefix:  downloadPrefix,
	}
}

// GenerateRequest starts a job.
type GenerateRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

// GenerateResponse carries the job id.
type GenerateResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// JobStatusResponse is the client view of a job.
type JobStatusResponse struct {
	Status   model.JobStatus `json:"status"`
	Location string          `json:"location,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// HandleGenerate handles POST /api/audio/generate
func (h *AudioHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	text := tts.NormalizeText(req.Text)
	if text == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}
	if h.client == nil {
		writeJSONStatus(w, http.StatusInternalServerError, GenerateResponse{Error: "no tts provider configured"})
		return
	}

	id, err := h.client.Submit(r.Context(), text, req.Language)
	if err != nil {
		slog.Error("API: submit failed", "language", req.Language, "error", err)
		writeJSONStatus(w, http.StatusInternalServerError, GenerateResponse{Error: "tts provider failure"})
		return
	}
	h.jobs.Put(tts.CachedJob{Job: model.GenerationJob{ID: id, Status: model.JobPending}})
	writeJSON(w, GenerateResponse{Success: true, ID: id})
}

// HandleStatus handles GET /api/audio/{id}
func (h *AudioHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if cj, ok := h.jobs.Get(id); ok && cj.Job.Status.Terminal() {
		writeJSON(w, h.statusOf(cj.Job))
		return
	}
	if h.client == nil {
		http.Error(w, "unknown job", http.StatusNotFound)
		return
	}

	job, err := h.client.Poll(r.Context(), id)
	if errors.Is(err, tts.ErrJobNotFound) {
		http.Error(w, "unknown job", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("API: poll failed", "id", id, "error", err)
		http.Error(w, "tts provider failure", http.StatusInternalServerError)
		return
	}
	if job.Status.Terminal() {
		h.jobs.Put(tts.CachedJob{Job: job})
	}
	writeJSON(w, h.statusOf(job))
}

func (h *AudioHandler) statusOf(job model.GenerationJob) JobStatusResponse {
	resp := JobStatusResponse{Status: job.Status, Error: job.Err}
	if job.Status == model.JobDone {
		resp.Location = h.prefix + job.ID
	}
	return resp
}

// HandleDownload handles GET /api/audio/download/{id}
func (h *AudioHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	cj, ok := h.jobs.Get(id)
	if ok && cj.Audio != nil {
		writeAudio(w, cj.Audio, cj.Ext)
		return
	}
	if h.client == nil {
		http.Error(w, "unknown job", http.StatusNotFound)
		return
	}

	job := cj.Job
	if !ok || job.Status != model.JobDone || job.ResultLocation == "" {
		var err error
		job, err = h.client.Poll(r.Context(), id)
		if errors.Is(err, tts.ErrJobNotFound) {
			http.Error(w, "unknown job", http.StatusNotFound)
			return
		}
		if err != nil {
			slog.Error("API: poll before download failed", "id", id, "error", err)
			http.Error(w, "tts provider failure", http.StatusInternalServerError)
			return
		}
	}
	switch job.Status {
	case model.JobPending:
		http.Error(w, "job not finished", http.StatusConflict)
		return
	case model.JobError:
		http.Error(w, "job failed: "+job.Err, http.StatusInternalServerError)
		return
	}

	data, err := h.client.Download(r.Context(), job.ResultLocation)
	if err != nil {
		slog.Error("API: download failed", "id", id, "error", err)
		http.Error(w, "tts provider failure", http.StatusInternalServerError)
		return
	}
	if int64(len(data)) <= h.minSize {
		slog.Warn("API: downloaded payload below size threshold", "id", id, "bytes", len(data))
		http.Error(w, tts.ErrCorruptAsset.Error(), http.StatusInternalServerError)
		return
	}

	ext := tts.DetectExt(data)
	h.jobs.Put(tts.CachedJob{Job: job, Audio: data, Ext: ext})
	writeAudio(w, data, ext)
}

func writeAudio(w http.ResponseWriter, data []byte, ext string) {
	ct := "audio/mpeg"
	if ext == ".wav" {
		ct = "audio/wav"
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Cache-Control", "private, max-age=3600")
	if _, err := w.Write(data); err != nil {
		slog.Debug("API: audio write failed", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}
