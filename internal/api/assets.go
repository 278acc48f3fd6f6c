package api

import (
	"errors"
	"log/slog"
	"net/http"
	"path"

	"vocabvoice/pkg/assets"
)

// AssetReader reads stored assets.
type AssetReader interface {
	Read(path string) ([]byte, error)
}

// AssetHandler serves generated files from the asset store.
type AssetHandler struct {
	store AssetReader
}

// NewAssetHandler creates a new AssetHandler.
func NewAssetHandler(store AssetReader) *AssetHandler {
	return &AssetHandler{store: store}
}

// HandleAudio handles GET /api/audio/generated/{filename}
func (h *AssetHandler) HandleAudio(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, assets.AudioDir)
}

// HandleImage handles GET /api/images/generated/{filename}
func (h *AssetHandler) HandleImage(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, assets.ImageDir)
}

func (h *AssetHandler) serve(w http.ResponseWriter, r *http.Request, dir string) {
	name := r.PathValue("filename")
	rel, err := assets.PathForName(name)
	if err != nil || path.Dir(rel) != dir {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	data, err := h.store.Read(rel)
	if errors.Is(err, assets.ErrNotFound) || errors.Is(err, assets.ErrCorruptAsset) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		slog.Error("API: failed to read asset", "path", rel, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", assets.ContentType(rel))
	if _, err := w.Write(data); err != nil {
		slog.Debug("API: asset write failed", "error", err)
	}
}
