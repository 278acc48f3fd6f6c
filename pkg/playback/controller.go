// Package playback guarantees that at most one audio source plays at a time
// and that the most recent request always wins.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"vocabvoice/pkg/model"
	"vocabvoice/pkg/resolver"
)

// ErrSuperseded is returned by Play when a later Play or StopAll overtook it.
var ErrSuperseded = errors.New("playback request superseded")

// State of the controller.
type State string

const (
	StateIdle    State = "idle"
	StatePlaying State = "playing"
)

// Outcome is reported to the observer for every request.
type Outcome string

const (
	OutcomeStarted      Outcome = "started"
	OutcomeFinished     Outcome = "finished"
	OutcomeStopped      Outcome = "stopped"
	OutcomeSuperseded   Outcome = "superseded"
	OutcomeFailed       Outcome = "failed"
	OutcomeSpeechFailed Outcome = "speech_failed"
	OutcomeNoCapability Outcome = "no_capability"
)

// Resolver picks the source for a request.
type Resolver interface {
	Resolve(ctx context.Context, req model.AudioRequest) (model.AudioSource, error)
}

// Handle controls one started source.
type Handle interface {
	Stop()
	Done() <-chan struct{}
	// Err reports why the source ended; only valid after Done is closed.
	Err() error
}

// Player starts sources. Start must not block on I/O.
type Player interface {
	Start(ctx context.Context, src model.AudioSource) (Handle, error)
}

// OutcomeObserver receives playback outcomes. It may be called with the
// controller lock held and must not call back into the Controller.
type OutcomeObserver interface {
	ObserveOutcome(o Outcome, src model.AudioSource)
}

// ObserverFunc adapts a function to OutcomeObserver.
type ObserverFunc func(o Outcome, src model.AudioSource)

func (f ObserverFunc) ObserveOutcome(o Outcome, src model.AudioSource) { f(o, src) }

// Controller owns the playback session.
type Controller struct {
	resolver Resolver
	player   Player
	observer OutcomeObserver

	mu        sync.Mutex
	token     uint64
	active    Handle
	activeSrc model.AudioSource
}

// NewController creates a Controller. observer may be nil.
func NewController(r Resolver, p Player, observer OutcomeObserver) *Controller {
	if observer == nil {
		observer = ObserverFunc(func(Outcome, model.AudioSource) {})
	}
	return &Controller{resolver: r, player: p, observer: observer}
}

// Play stops whatever is playing, resolves req and starts the result unless a
// later request arrived meanwhile. Speech synthesis failures are reported to the
// observer as OutcomeSpeechFailed and do not fail Play.
func (c *Controller) Play(ctx context.Context, req model.AudioRequest) error {
	c.mu.Lock()
	c.stopLocked()
	c.token++
	tok := c.token
	c.mu.Unlock()

	src, err := c.resolver.Resolve(ctx, req)

	c.mu.Lock()
	if tok != c.token {
		c.mu.Unlock()
		slog.Debug("Playback: discarding stale resolution", "token", tok, "source", src.Type)
		c.observer.ObserveOutcome(OutcomeSuperseded, src)
		return ErrSuperseded
	}
	if err != nil {
		c.mu.Unlock()
		if errors.Is(err, resolver.ErrNoPlaybackCapability) {
			c.observer.ObserveOutcome(OutcomeNoCapability, src)
		} else {
			c.observer.ObserveOutcome(OutcomeFailed, src)
		}
		return err
	}

	h, err := c.player.Start(ctx, src)
	if err != nil {
		c.mu.Unlock()
		if src.Type == model.SourceSynthesizedSpeech {
			slog.Warn("Playback: speech synthesis failed", "error", err)
			c.observer.ObserveOutcome(OutcomeSpeechFailed, src)
			return nil
		}
		c.observer.ObserveOutcome(OutcomeFailed, src)
		return err
	}
	c.active = h
	c.activeSrc = src
	c.mu.Unlock()

	slog.Debug("Playback: started", "token", tok, "source", src.Type)
	c.observer.ObserveOutcome(OutcomeStarted, src)
	go c.watch(h, src)
	return nil
}

// watch returns the session to idle when h ends on its own.
func (c *Controller) watch(h Handle, src model.AudioSource) {
	<-h.Done()

	c.mu.Lock()
	current := c.active == h
	if current {
		c.active = nil
		c.activeSrc = model.AudioSource{}
	}
	c.mu.Unlock()

	if !current {
		return // stopped; already reported
	}
	if err := h.Err(); err != nil {
		if src.Type == model.SourceSynthesizedSpeech {
			slog.Warn("Playback: speech synthesis failed", "error", err)
			c.observer.ObserveOutcome(OutcomeSpeechFailed, src)
			return
		}
		slog.Warn("Playback: source failed", "source", src.Type, "error", err)
		c.observer.ObserveOutcome(OutcomeFailed, src)
		return
	}
	c.observer.ObserveOutcome(OutcomeFinished, src)
}

// StopAll stops the active source and invalidates in-flight resolutions.
// Calling it while idle only advances the token.
func (c *Controller) StopAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token++
	c.stopLocked()
}

func (c *Controller) stopLocked() {
	if c.active == nil {
		return
	}
	h, src := c.active, c.activeSrc
	c.active = nil
	c.activeSrc = model.AudioSource{}
	h.Stop()
	c.observer.ObserveOutcome(OutcomeStopped, src)
}

// State reports whether a source is playing.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active != nil {
		return StatePlaying
	}
	return StateIdle
}

// Current returns the playing source, if any.
func (c *Controller) Current() (model.AudioSource, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeSrc, c.active != nil
}
