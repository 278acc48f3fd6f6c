package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gorilla/websocket"

	"vocabvoice/pkg/cards"
	"vocabvoice/pkg/export"
	"vocabvoice/pkg/model"
	"vocabvoice/pkg/objectstore"
)

type fakeItems map[model.ContentID]model.ContentItem

func (f fakeItems) GetItems(ctx context.Context, ids []model.ContentID) ([]model.ContentItem, error) {
	var out []model.ContentItem
	for _, id := range ids {
		if it, ok := f[id]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

type fakeCardGen struct{}

func (fakeCardGen) Generate(ctx context.Context, ids []model.ContentID) []cards.Result {
	out := make([]cards.Result, len(ids))
	for i, id := range ids {
		out[i] = cards.Result{ContentID: id, Success: true, CardImage: "images/card_" + id.String() + "_1.svg"}
	}
	return out
}

type fakeExporter struct {
	name string
	err  error
}

func (f *fakeExporter) Export(ctx context.Context, items []model.ContentItem, onProgress export.ProgressFunc) (*export.Archive, error) {
	if f.err != nil {
		return nil, f.err
	}
	for i := range items {
		if onProgress != nil {
			onProgress(model.Progress{Current: i + 1, Total: len(items), StatusMessage: "Rendering card"})
		}
	}
	if onProgress != nil {
		onProgress(model.Progress{Current: len(items), Total: len(items), StatusMessage: "Export complete"})
	}
	return &export.Archive{
		Name:    f.name,
		Data:    []byte("PK-fake"),
		Summary: export.Summary{Total: len(items), Images: len(items), Failures: []export.Failure{}},
	}, nil
}

type fakeArchives map[string][]byte

func (f fakeArchives) Download(ctx context.Context, key string) ([]byte, error) {
	if d, ok := f[key]; ok {
		return d, nil
	}
	return nil, objectstore.ErrNotFound
}

const testArchive = "vocab-export-20261017-101500.zip"

func newCardsMux(t *testing.T, exp Exporter, archives ArchiveSource) (*http.ServeMux, string) {
	t.Helper()
	dir := t.TempDir()
	items := fakeItems{
		1: {ContentID: 1, Word: "cat", Example: "The cat sleeps.", Language: "en-US"},
		2: {ContentID: 2, Word: "dog", Language: "en-US"},
	}
	h := NewCardsHandler(items, fakeCardGen{}, exp, archives, dir)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/cards/generate", h.HandleGenerate)
	mux.HandleFunc("POST /api/cards/export", h.HandleExport)
	mux.HandleFunc("GET /api/cards/export/ws", h.HandleExportWS)
	mux.HandleFunc("GET /api/cards/export/{name}", h.HandleDownload)
	return mux, dir
}

func TestCards_Generate(t *testing.T) {
	mux, _ := newCardsMux(t, &fakeExporter{name: testArchive}, nil)

	rec := serve(mux, http.MethodPost, "/api/cards/generate", `{"contentIds":[1,2]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp GenerateCardsResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Success || len(resp.Results) != 2 || resp.Results[1].ContentID != 2 || !resp.Results[1].Success {
		t.Errorf("unexpected results %+v", resp.Results)
	}
	if !strings.Contains(rec.Body.String(), `"contentId":1`) {
		t.Errorf("expected camelCase ids in %s", rec.Body.String())
	}

	if rec := serve(mux, http.MethodPost, "/api/cards/generate", `{"contentIds":[]}`); rec.Code != http.StatusBadRequest {
		t.Errorf("empty ids: expected 400, got %d", rec.Code)
	}
}

func TestCards_Export(t *testing.T) {
	mux, dir := newCardsMux(t, &fakeExporter{name: testArchive}, nil)

	rec := serve(mux, http.MethodPost, "/api/cards/export", `{"ids":[1,2]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("Content-Type") != "application/zip" {
		t.Errorf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), testArchive) {
		t.Errorf("unexpected disposition %q", rec.Header().Get("Content-Disposition"))
	}
	if _, err := os.Stat(filepath.Join(dir, testArchive)); err != nil {
		t.Errorf("local archive copy missing: %v", err)
	}

	// The local copy is served when no object store is configured.
	rec = serve(mux, http.MethodGet, "/api/cards/export/"+testArchive, "")
	if rec.Code != http.StatusOK || rec.Body.String() != "PK-fake" {
		t.Errorf("download: got %d %q", rec.Code, rec.Body.String())
	}
}

func TestCards_ExportErrors(t *testing.T) {
	t.Run("Unknown Items", func(t *testing.T) {
		mux, _ := newCardsMux(t, &fakeExporter{name: testArchive}, nil)
		if rec := serve(mux, http.MethodPost, "/api/cards/export", `{"ids":[99]}`); rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
	t.Run("Export Failure", func(t *testing.T) {
		mux, _ := newCardsMux(t, &fakeExporter{err: errors.New("disk full")}, nil)
		if rec := serve(mux, http.MethodPost, "/api/cards/export", `{"ids":[1]}`); rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
	})
	t.Run("Bad Archive Name", func(t *testing.T) {
		mux, _ := newCardsMux(t, &fakeExporter{name: testArchive}, nil)
		if rec := serve(mux, http.MethodGet, "/api/cards/export/secrets.txt", ""); rec.Code != http.StatusNotFound {
			t.Errorf("expected 404, got %d", rec.Code)
		}
	})
}

func TestCards_DownloadFromObjectStore(t *testing.T) {
	mux, _ := newCardsMux(t, &fakeExporter{name: testArchive}, fakeArchives{testArchive: []byte("PK-remote")})

	rec := serve(mux, http.MethodGet, "/api/cards/export/"+testArchive, "")
	if rec.Code != http.StatusOK || rec.Body.String() != "PK-remote" {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}
	if rec := serve(mux, http.MethodGet, "/api/cards/export/vocab-export-20000101-000000.zip", ""); rec.Code != http.StatusNotFound {
		t.Errorf("missing archive: expected 404, got %d", rec.Code)
	}
}

func TestCards_ExportWebSocket(t *testing.T) {
	mux, _ := newCardsMux(t, &fakeExporter{name: testArchive}, nil)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/cards/export/ws?ids=1,2"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	var frames []ProgressFrame
	for {
		var f ProgressFrame
		if err := conn.ReadJSON(&f); err != nil {
			t.Fatalf("read: %v", err)
		}
		frames = append(frames, f)
		if f.Type != "progress" {
			break
		}
	}

	if len(frames) != 4 {
		t.Fatalf("expected 3 progress frames and a summary, got %d", len(frames))
	}
	if frames[0].Progress == nil || frames[0].Progress.Current != 1 || frames[0].Progress.Total != 2 {
		t.Errorf("unexpected first frame %+v", frames[0])
	}
	last := frames[len(frames)-1]
	if last.Type != "done" || last.Name != testArchive || last.Summary == nil || last.Summary.Total != 2 {
		t.Errorf("unexpected final frame %+v", last)
	}
	if last.URL != "/api/cards/export/"+testArchive {
		t.Errorf("unexpected download url %q", last.URL)
	}
}

func TestCards_ExportWebSocketRequiresIDs(t *testing.T) {
	mux, _ := newCardsMux(t, &fakeExporter{name: testArchive}, nil)
	if rec := serve(mux, http.MethodGet, "/api/cards/export/ws?ids=", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestParseIDList(t *testing.T) {
	ids, err := parseIDList(" 3, 1,,2 ")
	if err != nil {
		t.Fatalf("parseIDList: %v", err)
	}
	if len(ids) != 3 || ids[0] != 3 || ids[2] != 2 {
		t.Errorf("unexpected ids %v", ids)
	}
	if _, err := parseIDList("1,x"); err == nil {
		t.Error("expected error for non-numeric id")
	}
}
