// Package speech synthesizes speech locally with a command line synthesizer
// such as espeak-ng. It is the offline fallback of the resolver.
package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"vocabvoice/pkg/model"
)

// ErrUnavailable is returned when the synthesizer binary cannot be found.
var ErrUnavailable = errors.New("speech synthesizer not available")

// Config selects the synthesizer.
type Config struct {
	Binary string   // e.g. "espeak-ng"
	Args   []string // {voice}, {out} and {text} are substituted
}

// DefaultConfig targets espeak-ng.
func DefaultConfig() Config {
	return Config{
		Binary: "espeak-ng",
		Args:   []string{"-v", "{voice}", "-w", "{out}", "{text}"},
	}
}

// Engine runs the synthesizer binary.
type Engine struct {
	cfg Config

	once      sync.Once
	available bool
}

// New creates an Engine.
func New(cfg Config) *Engine {
	if cfg.Binary == "" {
		cfg = DefaultConfig()
	}
	if len(cfg.Args) == 0 {
		cfg.Args = DefaultConfig().Args
	}
	return &Engine{cfg: cfg}
}

// Available reports whether the binary is installed. The lookup is cached.
func (e *Engine) Available() bool {
	e.once.Do(func() {
		path, err := exec.LookPath(e.cfg.Binary)
		e.available = err == nil
		if e.available {
			slog.Debug("Speech: synthesizer found", "path", path)
		} else {
			slog.Warn("Speech: synthesizer not found, fallback disabled", "binary", e.cfg.Binary)
		}
	})
	return e.available
}

// Synthesize renders text to WAV bytes.
func (e *Engine) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	if !e.Available() {
		return nil, ErrUnavailable
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("empty text")
	}

	tmp, err := os.CreateTemp("", "vocabvoice-speech-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file for speech output: %w", err)
	}
	tmp.Close()
	defer func() {
		if err := os.Remove(tmp.Name()); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("Speech: failed to remove temp file", "path", tmp.Name(), "error", err)
		}
	}()

	args := e.expandArgs(text, language, tmp.Name())
	// #nosec G204 -- binary and argument template come from local configuration
	cmd := exec.CommandContext(ctx, e.cfg.Binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("%s failed: %w - output: %s", e.cfg.Binary, err, strings.TrimSpace(string(output)))
	}

	data, err := os.ReadFile(tmp.Name())
	if err != nil {
		return nil, fmt.Errorf("failed to read speech output: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s produced no audio", e.cfg.Binary)
	}
	return data, nil
}

func (e *Engine) expandArgs(text, language, out string) []string {
	voice := model.BaseLanguage(language)
	if voice == "" {
		voice = "en"
	}
	r := strings.NewReplacer("{voice}", voice, "{lang}", language, "{out}", out, "{text}", text)
	args := make([]string, len(e.cfg.Args))
	for i, a := range e.cfg.Args {
		args[i] = r.Replace(a)
	}
	return args
}
