package audio

import (
	"fmt"
	"os"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/generators"
	"github.com/gopxl/beep/v2/wav"
)

// RenderTone renders a mono 16-bit WAV sine tone.
func RenderTone(freq float64, d time.Duration) ([]byte, error) {
	const sr = beep.SampleRate(22050)
	tone, err := generators.SineTone(sr, freq)
	if err != nil {
		return nil, fmt.Errorf("failed to create tone: %w", err)
	}

	// wav.Encode needs a seekable writer
	f, err := os.CreateTemp("", "vocabvoice-tone-*.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(f.Name())

	format := beep.Format{SampleRate: sr, NumChannels: 1, Precision: 2}
	if err := wav.Encode(f, beep.Take(sr.N(d), tone), format); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to encode tone: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, err
	}
	return os.ReadFile(f.Name())
}
