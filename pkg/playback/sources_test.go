package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vocabvoice/pkg/model"
)

type mapStore map[string][]byte

func (m mapStore) Read(path string) ([]byte, error) {
	if d, ok := m[path]; ok {
		return d, nil
	}
	return nil, errors.New("not found")
}

type recordingOutput struct {
	mu     sync.Mutex
	played [][]byte
	last   *fakeHandle
	p      *fakePlayer
}

func (o *recordingOutput) Play(data []byte) (Handle, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.played = append(o.played, data)
	if o.p == nil {
		o.p = &fakePlayer{}
	}
	h := &fakeHandle{done: make(chan struct{}), p: o.p}
	o.last = h
	return h, nil
}

func (o *recordingOutput) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.played)
}

type blockingSynth struct {
	release chan struct{}
	err     error
}

func (s blockingSynth) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return []byte("speech:" + text), nil
}

func waitHandle(t *testing.T, h Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("handle did not finish")
	}
}

func TestSourcePlayer_LocalAndStoredRemote(t *testing.T) {
	out := &recordingOutput{}
	store := mapStore{"audio/word_1_1.mp3": []byte("local"), "audio/word_2_1.mp3": []byte("stored")}
	p := NewSourcePlayer(out, store, nil, nil)

	for _, src := range []model.AudioSource{
		model.LocalFile("audio/word_1_1.mp3"),
		model.RemoteStream("/api/audio/download/j", "audio/word_2_1.mp3"),
	} {
		h, err := p.Start(context.Background(), src)
		require.NoError(t, err)
		require.Eventually(t, func() bool {
			out.mu.Lock()
			defer out.mu.Unlock()
			return out.last != nil
		}, time.Second, time.Millisecond)
		out.mu.Lock()
		out.last.end(nil)
		out.last = nil
		out.mu.Unlock()
		waitHandle(t, h)
		assert.NoError(t, h.Err())
	}
	assert.Equal(t, [][]byte{[]byte("local"), []byte("stored")}, out.played)
}

func TestSourcePlayer_RemoteFetch(t *testing.T) {
	out := &recordingOutput{}
	fetch := func(_ context.Context, url string) ([]byte, error) { return []byte(url), nil }
	p := NewSourcePlayer(out, mapStore{}, nil, fetch)

	_, err := p.Start(context.Background(), model.RemoteStream("/api/audio/download/x", ""))
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return out.count() == 1 }, time.Second, time.Millisecond)
}

func TestSourcePlayer_SpeechFailureReported(t *testing.T) {
	p := NewSourcePlayer(&recordingOutput{}, mapStore{}, blockingSynth{err: errors.New("espeak missing voice")}, nil)

	h, err := p.Start(context.Background(), model.SynthesizedSpeech("hi", "xx"))
	require.NoError(t, err)
	waitHandle(t, h)
	assert.Error(t, h.Err())
}

func TestSourcePlayer_StopBeforeLoadCompletes(t *testing.T) {
	out := &recordingOutput{}
	release := make(chan struct{})
	p := NewSourcePlayer(out, mapStore{}, blockingSynth{release: release}, nil)

	h, err := p.Start(context.Background(), model.SynthesizedSpeech("hi", "en"))
	require.NoError(t, err)
	h.Stop()
	waitHandle(t, h)
	close(release)

	assert.NoError(t, h.Err(), "a stopped source is not a failure")
	assert.Zero(t, out.count(), "stopped source must never become audible")
}

func TestSourcePlayer_RejectsUnplayable(t *testing.T) {
	p := NewSourcePlayer(&recordingOutput{}, mapStore{}, nil, nil)
	_, err := p.Start(context.Background(), model.SynthesizedSpeech("hi", "en"))
	assert.Error(t, err)
	_, err = p.Start(context.Background(), model.RemoteStream("/x", ""))
	assert.Error(t, err)
	_, err = p.Start(context.Background(), model.AudioSource{Type: "bogus"})
	assert.Error(t, err)
}
