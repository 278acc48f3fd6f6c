// Package audio decodes and plays audio payloads through the system speaker.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/wav"
)

const targetSampleRate = beep.SampleRate(48000)

// ErrUndecodable is returned for payloads that are neither MP3 nor WAV.
var ErrUndecodable = errors.New("audio payload is neither mp3 nor wav")

// output abstracts the global beep speaker.
type output interface {
	Init(sr beep.SampleRate, bufferSize int) error
	Play(s ...beep.Streamer)
	Lock()
	Unlock()
}

type speakerOutput struct{}

func (speakerOutput) Init(sr beep.SampleRate, n int) error { return speaker.Init(sr, n) }
func (speakerOutput) Play(s ...beep.Streamer)              { speaker.Play(s...) }
func (speakerOutput) Lock()                                { speaker.Lock() }
func (speakerOutput) Unlock()                              { speaker.Unlock() }

// Player plays one payload at a time. Starting a new payload stops the previous one.
type Player struct {
	mu          sync.Mutex
	out         output
	initialized bool
	volume      float64
	current     *Handle
	vol         *effects.Volume
}

// NewPlayer creates a Player writing to the default speaker.
func NewPlayer(volume float64) *Player {
	p := &Player{out: speakerOutput{}}
	p.volume = clampVolume(volume)
	return p
}

// Handle controls one playing payload.
type Handle struct {
	out      output
	ctrl     *beep.Ctrl
	streamer beep.StreamSeekCloser
	duration time.Duration

	once sync.Once
	done chan struct{}
}

// Done is closed when playback ends or is stopped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Err always returns nil; decode errors are reported by Play.
func (h *Handle) Err() error {
	return nil
}

// Duration returns the length of the payload.
func (h *Handle) Duration() time.Duration {
	return h.duration
}

// Stop silences the payload. Safe to call more than once.
func (h *Handle) Stop() {
	h.out.Lock()
	h.ctrl.Streamer = nil
	h.out.Unlock()
	h.finish()
}

func (h *Handle) finish() {
	h.once.Do(func() {
		if err := h.streamer.Close(); err != nil {
			slog.Debug("Audio: failed to close streamer", "error", err)
		}
		close(h.done)
	})
}

// Play decodes data and starts it, stopping whatever was playing.
func (p *Player) Play(data []byte) (*Handle, error) {
	streamer, format, err := Decode(data)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil {
		p.current.Stop()
		p.current = nil
	}

	if err := p.ensureInitialized(); err != nil {
		streamer.Close()
		return nil, err
	}

	resampled := beep.Resample(3, format.SampleRate, targetSampleRate, streamer)
	p.vol = &effects.Volume{
		Streamer: resampled,
		Base:     2,
		Volume:   volumeToPower(p.volume),
		Silent:   p.volume <= 0.01,
	}

	h := &Handle{
		out:      p.out,
		ctrl:     &beep.Ctrl{Streamer: p.vol},
		streamer: streamer,
		duration: format.SampleRate.D(streamer.Len()),
		done:     make(chan struct{}),
	}
	p.out.Play(beep.Seq(h.ctrl, beep.Callback(func() {
		// Leave the speaker goroutine before closing the decoder
		go h.finish()
	})))
	p.current = h

	slog.Debug("Audio: playing payload", "bytes", len(data), "duration", h.duration)
	return h, nil
}

// Stop stops the current payload, if any.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current != nil {
		p.current.Stop()
		p.current = nil
	}
}

func (p *Player) ensureInitialized() error {
	if p.initialized {
		return nil
	}
	if err := p.out.Init(targetSampleRate, targetSampleRate.N(time.Second/10)); err != nil {
		slog.Error("Failed to initialize speaker", "error", err)
		return fmt.Errorf("failed to initialize speaker: %w", err)
	}
	p.initialized = true
	return nil
}

// SetVolume sets playback volume (0.0 to 1.0).
func (p *Player) SetVolume(vol float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.volume = clampVolume(vol)
	if p.vol != nil {
		p.out.Lock()
		p.vol.Volume = volumeToPower(p.volume)
		p.vol.Silent = p.volume <= 0.01
		p.out.Unlock()
	}
}

// Volume returns current volume level.
func (p *Player) Volume() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// Decode opens an MP3 or WAV payload.
func Decode(data []byte) (beep.StreamSeekCloser, beep.Format, error) {
	if streamer, format, err := mp3.Decode(io.NopCloser(bytes.NewReader(data))); err == nil {
		return streamer, format, nil
	}
	streamer, format, err := wav.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, beep.Format{}, fmt.Errorf("%w: %w", ErrUndecodable, err)
	}
	return streamer, format, nil
}

// Probe returns the duration of a payload without playing it.
func Probe(data []byte) (time.Duration, error) {
	streamer, format, err := Decode(data)
	if err != nil {
		return 0, err
	}
	defer streamer.Close()
	return format.SampleRate.D(streamer.Len()), nil
}
