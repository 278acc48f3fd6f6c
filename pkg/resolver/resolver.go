// Package resolver decides where the audio for a request comes from:
// a stored file, an on-demand generation, or local speech synthesis.
package resolver

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"vocabvoice/pkg/assets"
	"vocabvoice/pkg/model"
	"vocabvoice/pkg/textutil"
	"vocabvoice/pkg/tracker"
	"vocabvoice/pkg/tts"
)

// ErrNoPlaybackCapability is returned when every source is exhausted and no
// local speech synthesizer exists.
var ErrNoPlaybackCapability = errors.New("no playback capability")

// DefaultDownloadPrefix is the proxy path remote streams point at.
const DefaultDownloadPrefix = "/api/audio/download/"

// Catalog looks up and records generated assets of content items.
type Catalog interface {
	AssetFor(ctx context.Context, id model.ContentID, kind model.Kind) (model.AssetRecord, bool, error)
	RecordAsset(ctx context.Context, rec model.AssetRecord) error
}

// AssetStore is the subset of assets.Store the resolver uses.
type AssetStore interface {
	Exists(path string) bool
	Read(path string) ([]byte, error)
	WriteSlot(id model.ContentID, kind model.Kind, ext, text string, data []byte) (model.AssetRecord, error)
}

// Generator produces audio on demand.
type Generator interface {
	Generate(ctx context.Context, text, language string) (*tts.Result, error)
}

// SpeechEngine reports whether local synthesis is possible.
type SpeechEngine interface {
	Available() bool
}

// Options tunes a Resolver.
type Options struct {
	DownloadPrefix string
	RecentSize     int
	RecentTTL      time.Duration
}

// Resolver walks the source chain LocalFile, RemoteStream, SynthesizedSpeech.
type Resolver struct {
	catalog Catalog
	store   AssetStore
	gen     Generator
	speech  SpeechEngine
	jobs    *tts.JobCache
	tracker *tracker.Tracker

	prefix string
	recent *expirable.LRU[string, model.AudioSource]
}

// New creates a Resolver. catalog, gen and jobs may be nil.
func New(catalog Catalog, store AssetStore, gen Generator, speech SpeechEngine, jobs *tts.JobCache, t *tracker.Tracker, opts Options) *Resolver {
	if opts.DownloadPrefix == "" {
		opts.DownloadPrefix = DefaultDownloadPrefix
	}
	if opts.RecentSize <= 0 {
		opts.RecentSize = 256
	}
	if opts.RecentTTL <= 0 {
		opts.RecentTTL = 10 * time.Minute
	}
	if t == nil {
		t = tracker.New()
	}
	return &Resolver{
		catalog: catalog,
		store:   store,
		gen:     gen,
		speech:  speech,
		jobs:    jobs,
		tracker: t,
		prefix:  opts.DownloadPrefix,
		recent:  expirable.NewLRU[string, model.AudioSource](opts.RecentSize, nil, opts.RecentTTL),
	}
}

// Resolve returns the best available source for req. Only ErrNoPlaybackCapability
// and context errors are returned; everything else degrades to the next source.
func (r *Resolver) Resolve(ctx context.Context, req model.AudioRequest) (model.AudioSource, error) {
	text := normalize(req.Text)
	if req.Kind == "" {
		req.Kind = model.KindWord
	}

	// 1. Stored asset
	if req.ContentID != nil {
		src, marker, ok := r.fromCatalog(ctx, *req.ContentID, req.Kind, text)
		if ok {
			r.tracker.TrackOutcome("resolve.local_file")
			return src, nil
		}
		if marker && r.speechAvailable() {
			// A marker means generation already failed for this text
			r.tracker.TrackOutcome("resolve.marker_speech")
			return model.SynthesizedSpeech(text, req.Language), nil
		}
	}

	// 2. On-demand generation
	if text != "" {
		if src, ok := r.generate(ctx, req, text); ok {
			r.tracker.TrackOutcome("resolve.remote_stream")
			return src, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return model.AudioSource{}, err
	}

	// 3. Local speech synthesis
	if r.speechAvailable() {
		r.tracker.TrackOutcome("resolve.speech")
		return model.SynthesizedSpeech(text, req.Language), nil
	}
	r.tracker.TrackOutcome("resolve.no_capability")
	return model.AudioSource{}, ErrNoPlaybackCapability
}

// fromCatalog reports a usable stored file, or whether the slot holds a speech marker.
func (r *Resolver) fromCatalog(ctx context.Context, id model.ContentID, kind model.Kind, text string) (src model.AudioSource, marker, ok bool) {
	if r.catalog == nil {
		return model.AudioSource{}, false, false
	}
	rec, found, err := r.catalog.AssetFor(ctx, id, kind)
	if err != nil {
		slog.Warn("Resolver: catalog lookup failed", "content_id", id, "kind", kind, "error", err)
		return model.AudioSource{}, false, false
	}
	if !found {
		r.tracker.TrackCacheMiss("assets")
		return model.AudioSource{}, false, false
	}
	if normalize(rec.Text) != text {
		slog.Debug("Resolver: stored asset is for different text", "content_id", id, "kind", kind)
		r.tracker.TrackCacheMiss("assets")
		return model.AudioSource{}, false, false
	}
	if !r.store.Exists(rec.StoragePath) {
		slog.Warn("Resolver: stored asset missing or corrupt", "path", rec.StoragePath)
		r.tracker.TrackCacheMiss("assets")
		return model.AudioSource{}, false, false
	}
	if assets.IsMarker(rec.StoragePath) {
		return model.AudioSource{}, true, false
	}
	r.tracker.TrackCacheHit("assets")
	return model.LocalFile(rec.StoragePath), false, true
}

func (r *Resolver) generate(ctx context.Context, req model.AudioRequest, text string) (model.AudioSource, bool) {
	key := recentKey(req.Language, text)
	if cached, ok := r.recent.Get(key); ok {
		if src, ok := r.reuse(ctx, req, text, cached); ok {
			r.tracker.TrackCacheHit("generation")
			return src, true
		}
		r.recent.Remove(key)
	}
	if r.gen == nil {
		return model.AudioSource{}, false
	}
	r.tracker.TrackCacheMiss("generation")

	res, err := r.gen.Generate(ctx, text, req.Language)
	if err != nil {
		slog.Warn("Resolver: generation failed, falling back", "language", req.Language, "error", err)
		return model.AudioSource{}, false
	}

	if r.jobs != nil {
		r.jobs.Put(tts.CachedJob{Job: res.Job, Audio: res.Audio, Ext: res.Ext})
	}

	var stored string
	if req.ContentID != nil {
		stored = r.persist(ctx, *req.ContentID, req.Kind, text, res)
	}

	src := model.RemoteStream(r.prefix+res.Job.ID, stored)
	r.recent.Add(key, src)
	return src, true
}

// persist writes the payload as the slot asset. Failures are logged only.
func (r *Resolver) persist(ctx context.Context, id model.ContentID, kind model.Kind, text string, res *tts.Result) string {
	rec, err := r.store.WriteSlot(id, kind, res.Ext, text, res.Audio)
	if err != nil {
		slog.Error("Resolver: failed to store generated audio", "content_id", id, "kind", kind, "error", err)
		return ""
	}
	if r.catalog != nil {
		if err := r.catalog.RecordAsset(ctx, rec); err != nil {
			slog.Error("Resolver: failed to record asset", "content_id", id, "path", rec.StoragePath, "error", err)
		}
	}
	slog.Debug("Resolver: stored generated audio", "path", rec.StoragePath, "bytes", rec.SizeBytes)
	return rec.StoragePath
}

// reuse serves a recently generated source again. The job must still be in
// the job cache, since the stream URL points at it. A request for a content
// slot other than the one the source was stored under gets its own copy.
func (r *Resolver) reuse(ctx context.Context, req model.AudioRequest, text string, src model.AudioSource) (model.AudioSource, bool) {
	if r.jobs == nil {
		return model.AudioSource{}, false
	}
	cj, ok := r.jobs.Get(strings.TrimPrefix(src.URL, r.prefix))
	if !ok {
		return model.AudioSource{}, false
	}
	if req.ContentID == nil {
		return src, true
	}
	if ownsSlot(src.StoredPath, *req.ContentID, req.Kind) && r.store.Exists(src.StoredPath) {
		return src, true
	}

	data, ext := cj.Audio, cj.Ext
	if data == nil && src.StoredPath != "" {
		b, err := r.store.Read(src.StoredPath)
		if err != nil {
			slog.Debug("Resolver: cached audio unreadable", "path", src.StoredPath, "error", err)
			return model.AudioSource{}, false
		}
		data, ext = b, path.Ext(src.StoredPath)
	}
	if data == nil {
		return model.AudioSource{}, false
	}

	stored := r.persist(ctx, *req.ContentID, req.Kind, text, &tts.Result{Job: cj.Job, Audio: data, Ext: ext})
	if stored == "" {
		return model.AudioSource{}, false
	}
	return model.RemoteStream(src.URL, stored), true
}

// ownsSlot reports whether p is a file of the (id, kind) slot.
func ownsSlot(p string, id model.ContentID, kind model.Kind) bool {
	if p == "" {
		return false
	}
	n, err := assets.ParseName(path.Base(p))
	return err == nil && n.ContentID == id && n.Kind == kind
}

func (r *Resolver) speechAvailable() bool {
	return r.speech != nil && r.speech.Available()
}

// normalize folds catalog markup and whitespace so stored and requested texts compare equal.
func normalize(s string) string {
	return tts.NormalizeText(textutil.PlainText(s))
}

func recentKey(language, text string) string {
	return strings.ToLower(language) + "\x00" + text
}
