// Package cards generates the stored assets of vocabulary items: word audio,
// example audio and the card image.
package cards

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"vocabvoice/pkg/assets"
	"vocabvoice/pkg/model"
	"vocabvoice/pkg/textutil"
	"vocabvoice/pkg/tracker"
	"vocabvoice/pkg/tts"
)

// ItemSource looks up catalog items.
type ItemSource interface {
	GetItem(ctx context.Context, id model.ContentID) (*model.ContentItem, error)
}

// Catalog records generated assets.
type Catalog interface {
	AssetFor(ctx context.Context, id model.ContentID, kind model.Kind) (model.AssetRecord, bool, error)
	RecordAsset(ctx context.Context, rec model.AssetRecord) error
}

// AssetWriter is the subset of assets.Store the service uses.
type AssetWriter interface {
	Exists(path string) bool
	WriteSlot(id model.ContentID, kind model.Kind, ext, text string, data []byte) (model.AssetRecord, error)
}

// Generator produces audio on demand.
type Generator interface {
	Generate(ctx context.Context, text, language string) (*tts.Result, error)
}

// Renderer draws card images.
type Renderer interface {
	Render(item model.ContentItem) ([]byte, error)
}

// Result reports what was produced for one content id.
type Result struct {
	ContentID    model.ContentID `json:"contentId"`
	Success      bool            `json:"success"`
	WordAudio    string          `json:"wordAudio,omitempty"`
	ExampleAudio string          `json:"exampleAudio,omitempty"`
	CardImage    string          `json:"cardImage,omitempty"`
	Error        string          `json:"error,omitempty"`
}

// Marker is written to an audio slot when generation failed, so that
// clients fall back to speech synthesis.
type Marker struct {
	Fallback  string    `json:"fallback"`
	Text      string    `json:"text"`
	Language  string    `json:"language"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// Service generates card assets. Items are processed sequentially.
type Service struct {
	items    ItemSource
	catalog  Catalog
	store    AssetWriter
	gen      Generator
	renderer Renderer
	tracker  *tracker.Tracker

	// Force, when set and true, regenerates audio even if a matching asset exists.
	Force func(ctx context.Context) bool
}

// NewService creates a Service. gen may be nil, in which case every audio slot gets a marker.
func NewService(items ItemSource, catalog Catalog, store AssetWriter, gen Generator, renderer Renderer, t *tracker.Tracker) *Service {
	if t == nil {
		t = tracker.New()
	}
	return &Service{
		items:    items,
		catalog:  catalog,
		store:    store,
		gen:      gen,
		renderer: renderer,
		tracker:  t,
	}
}

// Generate produces the assets of every id in order. It stops early only when ctx is done.
func (s *Service) Generate(ctx context.Context, ids []model.ContentID) []Result {
	results := make([]Result, 0, len(ids))
	for _, id := range ids {
		if ctx.Err() != nil {
			results = append(results, Result{ContentID: id, Error: ctx.Err().Error()})
			continue
		}
		results = append(results, s.generateOne(ctx, id))
	}
	return results
}

func (s *Service) generateOne(ctx context.Context, id model.ContentID) Result {
	res := Result{ContentID: id}

	item, err := s.items.GetItem(ctx, id)
	if err != nil {
		res.Error = fmt.Sprintf("catalog lookup failed: %v", err)
		return res
	}
	if item == nil {
		res.Error = "content item not found"
		return res
	}

	var problems []string
	var fatal bool

	word, err := s.audioSlot(ctx, *item, model.KindWord)
	if err != nil {
		problems = append(problems, "word audio: "+err.Error())
		fatal = fatal || !errors.Is(err, errFellBack)
	}
	res.WordAudio = word

	if textutil.PlainText(item.Example) != "" {
		example, err := s.audioSlot(ctx, *item, model.KindExample)
		if err != nil {
			problems = append(problems, "example audio: "+err.Error())
			fatal = fatal || !errors.Is(err, errFellBack)
		}
		res.ExampleAudio = example
	}

	img, err := s.cardImage(ctx, *item)
	if err != nil {
		problems = append(problems, "card image: "+err.Error())
		fatal = true
	}
	res.CardImage = img

	res.Success = !fatal
	res.Error = strings.Join(problems, "; ")
	s.tracker.TrackOutcome(fmt.Sprintf("cards.success_%t", res.Success))
	slog.Info("Cards: generated", "content_id", id, "success", res.Success, "word", res.WordAudio, "example", res.ExampleAudio, "image", res.CardImage)
	return res
}

var errFellBack = errors.New("generation failed, speech marker written")

// audioSlot returns the stored path of the slot. When generation fails the
// slot holds a JSON marker and errFellBack is returned with its path.
func (s *Service) audioSlot(ctx context.Context, item model.ContentItem, kind model.Kind) (string, error) {
	text := tts.NormalizeText(textutil.PlainText(item.TextFor(kind)))
	if text == "" {
		return "", errors.New("no text")
	}

	if s.Force == nil || !s.Force(ctx) {
		if rec, ok, err := s.catalog.AssetFor(ctx, item.ContentID, kind); err == nil && ok &&
			tts.NormalizeText(textutil.PlainText(rec.Text)) == text && !assets.IsMarker(rec.StoragePath) && s.store.Exists(rec.StoragePath) {
			s.tracker.TrackCacheHit("cards")
			return rec.StoragePath, nil
		}
	}
	s.tracker.TrackCacheMiss("cards")

	var genErr error
	if s.gen == nil {
		genErr = errors.New("no generator configured")
	} else {
		var out *tts.Result
		out, genErr = s.gen.Generate(ctx, text, item.Language)
		if genErr == nil {
			rec, err := s.store.WriteSlot(item.ContentID, kind, out.Ext, text, out.Audio)
			if err != nil {
				return "", fmt.Errorf("store: %w", err)
			}
			s.record(ctx, rec)
			return rec.StoragePath, nil
		}
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	slog.Warn("Cards: audio generation failed, writing speech marker", "content_id", item.ContentID, "kind", kind, "error", genErr)
	marker, err := json.Marshal(Marker{
		Fallback:  "speech",
		Text:      text,
		Language:  item.Language,
		Reason:    genErr.Error(),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return "", err
	}
	rec, err := s.store.WriteSlot(item.ContentID, kind, assets.ExtJSON, text, marker)
	if err != nil {
		return "", fmt.Errorf("store marker: %w", err)
	}
	s.record(ctx, rec)
	return rec.StoragePath, fmt.Errorf("%w: %v", errFellBack, genErr)
}

func (s *Service) cardImage(ctx context.Context, item model.ContentItem) (string, error) {
	img, err := s.renderer.Render(item)
	if err != nil {
		return "", err
	}
	rec, err := s.store.WriteSlot(item.ContentID, model.KindCard, assets.ExtSVG, textutil.PlainText(item.Word), img)
	if err != nil {
		return "", fmt.Errorf("store: %w", err)
	}
	s.record(ctx, rec)
	return rec.StoragePath, nil
}

func (s *Service) record(ctx context.Context, rec model.AssetRecord) {
	if err := s.catalog.RecordAsset(ctx, rec); err != nil {
		slog.Error("Cards: failed to record asset", "content_id", rec.ContentID, "path", rec.StoragePath, "error", err)
	}
}
