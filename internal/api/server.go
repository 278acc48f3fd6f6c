package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"vocabvoice/pkg/version"
)

// Handlers groups everything the server routes to. Nil handlers leave their
// routes unregistered.
type Handlers struct {
	Audio    *AudioHandler
	Assets   *AssetHandler
	Cards    *CardsHandler
	Playback *PlaybackHandler
	Config   *ConfigHandler
	Stats    *StatsHandler
}

// NewServer creates and configures the HTTP server.
// shutdown is called after POST /api/shutdown has been answered.
func NewServer(addr string, h Handlers, shutdown func()) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", handleHealth)
	mux.HandleFunc("GET /api/version", handleVersion)
	mux.HandleFunc("GET /api/log/latest", handleLatestLog)

	if h.Config != nil {
		mux.HandleFunc("/api/config", h.Config.HandleConfig)
	}
	if h.Stats != nil {
		mux.Handle("GET /api/stats", h.Stats)
	}

	// On-demand generation jobs
	if h.Audio != nil {
		mux.HandleFunc("POST /api/audio/generate", h.Audio.HandleGenerate)
		mux.HandleFunc("GET /api/audio/{id}", h.Audio.HandleStatus)
		mux.HandleFunc("GET /api/audio/download/{id}", h.Audio.HandleDownload)
	}

	// Stored assets
	if h.Assets != nil {
		mux.HandleFunc("GET /api/audio/generated/{filename}", h.Assets.HandleAudio)
		mux.HandleFunc("GET /api/images/generated/{filename}", h.Assets.HandleImage)
	}

	if h.Cards != nil {
		mux.HandleFunc("POST /api/cards/generate", h.Cards.HandleGenerate)
		mux.HandleFunc("POST /api/cards/export", h.Cards.HandleExport)
		mux.HandleFunc("GET /api/cards/export/ws", h.Cards.HandleExportWS)
		mux.HandleFunc("GET /api/cards/export/{name}", h.Cards.HandleDownload)
	}

	if h.Playback != nil {
		mux.HandleFunc("POST /api/playback/play", h.Playback.HandlePlay)
		mux.HandleFunc("POST /api/playback/stop", h.Playback.HandleStop)
		mux.HandleFunc("GET /api/playback/status", h.Playback.HandleStatus)
	}

	mux.HandleFunc("POST /api/shutdown", func(w http.ResponseWriter, r *http.Request) {
		slog.Info("Graceful shutdown initiated via API")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("Shutting down...")); err != nil {
			slog.Error("Failed to write shutdown response", "error", err)
		}
		// let the response flush first
		go func() {
			time.Sleep(100 * time.Millisecond)
			shutdown()
		}()
	})

	return &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		// exports of large batches stream for minutes
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		slog.Error("Failed to write health response", "error", err)
	}
}

func handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := fmt.Fprintf(w, `{"version": "%s"}`, version.Version); err != nil {
		slog.Error("Failed to write version response", "error", err)
	}
}
