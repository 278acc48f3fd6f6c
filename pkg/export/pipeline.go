// Package export bundles card images and example audio of many items into one zip archive.
package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/google/uuid"

	"vocabvoice/pkg/model"
	"vocabvoice/pkg/textutil"
)

// ErrNoItems is returned when Export is called without items.
var ErrNoItems = errors.New("nothing to export")

// Resolver is the audio lookup used for example sentences.
type Resolver interface {
	Resolve(ctx context.Context, req model.AudioRequest) (model.AudioSource, error)
}

// AssetReader reads stored asset payloads.
type AssetReader interface {
	Read(path string) ([]byte, error)
}

// CardRenderer draws the card image of an item.
type CardRenderer interface {
	Render(item model.ContentItem) ([]byte, error)
}

// Sink receives finished archives, e.g. an object store bucket.
type Sink interface {
	Upload(ctx context.Context, key string, data []byte) error
}

// ProgressFunc is called after every sub-step.
type ProgressFunc func(model.Progress)

// Failure records what went wrong for one item.
type Failure struct {
	ContentID model.ContentID `json:"content_id"`
	Step      string          `json:"step"`
	Error     string          `json:"error"`
}

// Summary is written to summary.json and returned to the caller.
type Summary struct {
	ID       string    `json:"id"`
	Total    int       `json:"total"`
	Images   int       `json:"images"`
	Audio    int       `json:"audio"`
	Failures []Failure `json:"failures"`
	Uploaded bool      `json:"uploaded,omitempty"`
}

// Archive is a finished export.
type Archive struct {
	Name    string
	Data    []byte
	Summary Summary
}

// Pipeline runs batch exports. It is safe to reuse; each Export call owns its own state.
type Pipeline struct {
	resolver Resolver
	store    AssetReader
	cards    CardRenderer
	sink     Sink
	now      func() time.Time
}

// New creates a Pipeline. sink may be nil.
func New(r Resolver, store AssetReader, cards CardRenderer, sink Sink) *Pipeline {
	return &Pipeline{
		resolver: r,
		store:    store,
		cards:    cards,
		sink:     sink,
		now:      time.Now,
	}
}

// Export processes items one after another and returns the zip archive.
// Per-item failures end up in the summary; only context cancellation and
// archive errors abort the whole run.
func (p *Pipeline) Export(ctx context.Context, items []model.ContentItem, onProgress ProgressFunc) (*Archive, error) {
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	report := func(current int, msg string) {
		if onProgress != nil {
			onProgress(model.Progress{Current: current, Total: len(items), StatusMessage: msg})
		}
	}

	w := newArchiveWriter()
	sum := Summary{ID: uuid.NewString(), Total: len(items), Failures: []Failure{}}
	start := p.now()

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := i + 1
		word := textutil.PlainText(item.Word)

		report(n, fmt.Sprintf("Rendering card %d of %d: %s", n, len(items), word))
		img, err := p.cards.Render(item)
		if err == nil {
			err = w.add(imageName(item.ContentID), img)
		}
		if err != nil {
			slog.Warn("Export: card image failed", "content_id", item.ContentID, "error", err)
			sum.Failures = append(sum.Failures, Failure{ContentID: item.ContentID, Step: "image", Error: err.Error()})
		} else {
			sum.Images++
			report(n, fmt.Sprintf("Card ready for %s", word))
		}

		example := textutil.PlainText(item.Example)
		if example == "" {
			report(n, fmt.Sprintf("No example sentence for %s", word))
			continue
		}
		report(n, fmt.Sprintf("Generating example audio %d of %d", n, len(items)))
		data, ext, err := p.exampleAudio(ctx, item, example)
		if err == nil {
			err = w.add(audioName(item.ContentID, ext), data)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			slog.Warn("Export: example audio failed", "content_id", item.ContentID, "error", err)
			sum.Failures = append(sum.Failures, Failure{ContentID: item.ContentID, Step: "audio", Error: err.Error()})
			report(n, fmt.Sprintf("Audio unavailable for %s", word))
			continue
		}
		sum.Audio++
		report(n, fmt.Sprintf("Example audio ready for %s", word))
	}

	name := ArchiveName(start)
	report(len(items), "Writing archive")
	// Uploaded is only known after the archive is sealed, so summary.json leaves it out.
	w.zw.SetComment("vocabvoice export " + sum.ID)
	if err := w.addJSON("summary.json", sum); err != nil {
		return nil, err
	}
	data, err := w.close()
	if err != nil {
		return nil, err
	}

	if p.sink != nil {
		if err := p.sink.Upload(ctx, name, data); err != nil {
			slog.Error("Export: archive upload failed", "name", name, "error", err)
		} else {
			sum.Uploaded = true
		}
	}

	slog.Info("Export: finished", "name", name, "items", sum.Total, "images", sum.Images, "audio", sum.Audio, "failures", len(sum.Failures))
	report(len(items), "Export complete")
	return &Archive{Name: name, Data: data, Summary: sum}, nil
}

// exampleAudio resolves the example sentence. Only sources backed by a stored
// file count; live speech cannot be put into an archive.
func (p *Pipeline) exampleAudio(ctx context.Context, item model.ContentItem, text string) ([]byte, string, error) {
	id := item.ContentID
	src, err := p.resolver.Resolve(ctx, model.AudioRequest{
		Text:      text,
		Language:  item.Language,
		ContentID: &id,
		Kind:      model.KindExample,
	})
	if err != nil {
		return nil, "", fmt.Errorf("resolve: %w", err)
	}

	var stored string
	switch src.Type {
	case model.SourceLocalFile:
		stored = src.Path
	case model.SourceRemoteStream:
		stored = src.StoredPath
	}
	if stored == "" {
		return nil, "", fmt.Errorf("no stored audio (source %s)", src.Type)
	}

	data, err := p.store.Read(stored)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", stored, err)
	}
	return data, path.Ext(stored), nil
}

// ArchiveName returns the file name of an export started at t.
func ArchiveName(t time.Time) string {
	return "vocab-export-" + t.Format("20060102-150405") + ".zip"
}

func imageName(id model.ContentID) string {
	return "images/card_" + id.String() + ".svg"
}

func audioName(id model.ContentID, ext string) string {
	if ext == "" {
		ext = ".mp3"
	}
	return "audio/example_" + id.String() + ext
}
