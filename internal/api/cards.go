package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gorilla/websocket"

	"vocabvoice/pkg/cards"
	"vocabvoice/pkg/export"
	"vocabvoice/pkg/model"
	"vocabvoice/pkg/objectstore"
)

// ItemLookup loads catalog items in request order.
type ItemLookup interface {
	GetItems(ctx context.Context, ids []model.ContentID) ([]model.ContentItem, error)
}

// CardGenerator produces card assets.
type CardGenerator interface {
	Generate(ctx context.Context, ids []model.ContentID) []cards.Result
}

// Exporter builds export archives.
type Exporter interface {
	Export(ctx context.Context, items []model.ContentItem, onProgress export.ProgressFunc) (*export.Archive, error)
}

// ArchiveSource fetches previously uploaded archives.
type ArchiveSource interface {
	Download(ctx context.Context, key string) ([]byte, error)
}

var archiveName = regexp.MustCompile(`^vocab-export-\d{8}-\d{6}\.zip$`)

// CardsHandler serves card generation and batch export.
type CardsHandler struct {
	items    ItemLookup
	gen      CardGenerator
	exporter Exporter
	archives ArchiveSource
	dir      string
	upgrader websocket.Upgrader
}

// NewCardsHandler creates a CardsHandler. archives may be nil; dir is where
// finished archives are kept for download.
func NewCardsHandler(items ItemLookup, gen CardGenerator, exporter Exporter, archives ArchiveSource, dir string) *CardsHandler {
	return &CardsHandler{
		items:    items,
		gen:      gen,
		exporter: exporter,
		archives: archives,
		dir:      dir,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Local tool; the UI may be served from a dev server on another port.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// IDsRequest is the body of generate and export requests. "ids" is accepted
// as a short alias of "contentIds".
type IDsRequest struct {
	ContentIDs []model.ContentID `json:"contentIds"`
	IDs        []model.ContentID `json:"ids,omitempty"`
}

// GenerateCardsResponse wraps per-item results. Success is true when every item succeeded.
type GenerateCardsResponse struct {
	Success bool           `json:"success"`
	Results []cards.Result `json:"results"`
}

// ProgressFrame is sent over the export websocket.
type ProgressFrame struct {
	Type     string          `json:"type"` // progress, done, error
	Progress *model.Progress `json:"progress,omitempty"`
	Name     string          `json:"name,omitempty"`
	URL      string          `json:"url,omitempty"`
	Summary  *export.Summary `json:"summary,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// HandleGenerate handles POST /api/cards/generate
func (h *CardsHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	ids, ok := decodeIDs(w, r)
	if !ok {
		return
	}
	results := h.gen.Generate(r.Context(), ids)
	resp := GenerateCardsResponse{Success: true, Results: results}
	for _, res := range results {
		if !res.Success {
			resp.Success = false
			break
		}
	}
	writeJSON(w, resp)
}

// HandleExport handles POST /api/cards/export and returns the zip directly.
func (h *CardsHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	ids, ok := decodeIDs(w, r)
	if !ok {
		return
	}
	archive, status, err := h.run(r.Context(), ids, nil)
	if err != nil {
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, archive.Name))
	if _, err := w.Write(archive.Data); err != nil {
		slog.Debug("API: archive write failed", "error", err)
	}
}

// HandleExportWS handles GET /api/cards/export/ws?ids=1,2,3
// Progress frames are streamed while the export runs; the last frame is done or error.
func (h *CardsHandler) HandleExportWS(w http.ResponseWriter, r *http.Request) {
	ids, err := parseIDList(r.URL.Query().Get("ids"))
	if err != nil || len(ids) == 0 {
		http.Error(w, "ids query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("API: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Reader loop only detects a closed client.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	send := func(f ProgressFrame) {
		if err := conn.WriteJSON(f); err != nil {
			slog.Debug("API: websocket write failed", "error", err)
			cancel()
		}
	}

	archive, _, err := h.run(ctx, ids, func(p model.Progress) {
		send(ProgressFrame{Type: "progress", Progress: &p})
	})
	if err != nil {
		send(ProgressFrame{Type: "error", Error: err.Error()})
		return
	}
	send(ProgressFrame{
		Type:    "done",
		Name:    archive.Name,
		URL:     "/api/cards/export/" + archive.Name,
		Summary: &archive.Summary,
	})
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// HandleDownload handles GET /api/cards/export/{name}
func (h *CardsHandler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !archiveName.MatchString(name) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	data, err := h.loadArchive(r.Context(), name)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Error("API: archive lookup failed", "name", name, "error", err)
		}
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	_, _ = w.Write(data)
}

func (h *CardsHandler) loadArchive(ctx context.Context, name string) ([]byte, error) {
	if h.archives != nil {
		data, err := h.archives.Download(ctx, name)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, objectstore.ErrNotFound) {
			slog.Warn("API: object store download failed, trying local copy", "name", name, "error", err)
		}
	}
	if h.dir == "" {
		return nil, os.ErrNotExist
	}
	return os.ReadFile(filepath.Join(h.dir, name))
}

// run loads the items, exports them and keeps a local copy of the archive.
func (h *CardsHandler) run(ctx context.Context, ids []model.ContentID, onProgress export.ProgressFunc) (*export.Archive, int, error) {
	items, err := h.items.GetItems(ctx, ids)
	if err != nil {
		slog.Error("API: item lookup failed", "error", err)
		return nil, http.StatusInternalServerError, errors.New("catalog unavailable")
	}
	if len(items) == 0 {
		return nil, http.StatusNotFound, errors.New("no matching items")
	}

	archive, err := h.exporter.Export(ctx, items, onProgress)
	if errors.Is(err, export.ErrNoItems) {
		return nil, http.StatusBadRequest, err
	}
	if err != nil {
		slog.Error("API: export failed", "error", err)
		return nil, http.StatusInternalServerError, err
	}

	if h.dir != "" {
		if err := os.MkdirAll(h.dir, 0o755); err == nil {
			err = os.WriteFile(filepath.Join(h.dir, archive.Name), archive.Data, 0o644)
			if err != nil {
				slog.Warn("API: failed to keep archive copy", "name", archive.Name, "error", err)
			}
		}
	}
	return archive, http.StatusOK, nil
}

func decodeIDs(w http.ResponseWriter, r *http.Request) ([]model.ContentID, bool) {
	var req IDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return nil, false
	}
	ids := append(req.ContentIDs, req.IDs...)
	if len(ids) == 0 {
		http.Error(w, "contentIds are required", http.StatusBadRequest)
		return nil, false
	}
	return ids, true
}

// parseIDList parses "1,2, 3".
func parseIDList(s string) ([]model.ContentID, error) {
	var ids []model.ContentID
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := model.ParseContentID(part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
