package playback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"vocabvoice/pkg/audio"
	"vocabvoice/pkg/model"
)

// Output plays decoded payloads.
type Output interface {
	Play(data []byte) (Handle, error)
}

// AudioOutput adapts an audio.Player to Output.
func AudioOutput(p *audio.Player) Output {
	return audioOutput{p}
}

type audioOutput struct{ p *audio.Player }

func (o audioOutput) Play(data []byte) (Handle, error) {
	return o.p.Play(data)
}

// AssetReader reads stored assets.
type AssetReader interface {
	Read(path string) ([]byte, error)
}

// Synthesizer renders speech locally.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, language string) ([]byte, error)
}

// FetchFunc loads the payload behind a remote stream URL.
type FetchFunc func(ctx context.Context, url string) ([]byte, error)

// SourcePlayer loads the payload of a source in the background and plays it.
type SourcePlayer struct {
	out    Output
	store  AssetReader
	speech Synthesizer
	fetch  FetchFunc
}

// NewSourcePlayer creates a SourcePlayer. speech and fetch may be nil.
func NewSourcePlayer(out Output, store AssetReader, speech Synthesizer, fetch FetchFunc) *SourcePlayer {
	return &SourcePlayer{out: out, store: store, speech: speech, fetch: fetch}
}

// Start returns immediately; loading and playback continue on a goroutine.
func (p *SourcePlayer) Start(ctx context.Context, src model.AudioSource) (Handle, error) {
	load, err := p.loader(src)
	if err != nil {
		return nil, err
	}

	// The handle outlives the request context; only Stop ends it early.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h := &asyncHandle{cancel: cancel, done: make(chan struct{})}
	go h.run(runCtx, load, p.out)
	return h, nil
}

func (p *SourcePlayer) loader(src model.AudioSource) (func(context.Context) ([]byte, error), error) {
	readStored := func(path string) func(context.Context) ([]byte, error) {
		return func(context.Context) ([]byte, error) { return p.store.Read(path) }
	}

	switch src.Type {
	case model.SourceLocalFile:
		return readStored(src.Path), nil
	case model.SourceRemoteStream:
		if src.StoredPath != "" {
			return readStored(src.StoredPath), nil
		}
		if p.fetch == nil {
			return nil, fmt.Errorf("no fetcher for remote stream %s", src.URL)
		}
		return func(ctx context.Context) ([]byte, error) { return p.fetch(ctx, src.URL) }, nil
	case model.SourceSynthesizedSpeech:
		if p.speech == nil {
			return nil, fmt.Errorf("no speech synthesizer configured")
		}
		return func(ctx context.Context) ([]byte, error) {
			return p.speech.Synthesize(ctx, src.Text, src.Language)
		}, nil
	default:
		return nil, fmt.Errorf("unknown source type %q", src.Type)
	}
}

type asyncHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error

	mu      sync.Mutex
	stopped bool
	inner   Handle
}

func (h *asyncHandle) run(ctx context.Context, load func(context.Context) ([]byte, error), out Output) {
	defer close(h.done)

	data, err := load(ctx)
	if err != nil {
		if ctx.Err() == nil {
			h.err = err
		}
		return
	}

	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return
	}
	inner, err := out.Play(data)
	if err != nil {
		h.mu.Unlock()
		h.err = err
		return
	}
	h.inner = inner
	h.mu.Unlock()

	select {
	case <-inner.Done():
		h.err = inner.Err()
	case <-ctx.Done():
		inner.Stop()
	}
}

func (h *asyncHandle) Stop() {
	h.mu.Lock()
	h.stopped = true
	inner := h.inner
	h.mu.Unlock()

	h.cancel()
	if inner != nil {
		inner.Stop()
	}
	slog.Debug("Playback: source stopped")
}

func (h *asyncHandle) Done() <-chan struct{} { return h.done }

func (h *asyncHandle) Err() error { return h.err }
