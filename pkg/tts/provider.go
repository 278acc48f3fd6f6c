package tts

import (
	"context"
	"errors"
	"fmt"

	"vocabvoice/pkg/assets"
	"vocabvoice/pkg/model"
)

const (
	// MinAudioSize is the minimum size of a synthesized audio payload (1KB).
	// Payloads at or below this are failed synthesis attempts.
	MinAudioSize = assets.DefaultMinAudioSize
)

var (
	// ErrProviderUnavailable covers unreachable providers and non-2xx responses.
	ErrProviderUnavailable = errors.New("tts provider unavailable")
	// ErrGenerationTimeout is returned when a job is still pending after the poll budget.
	ErrGenerationTimeout = errors.New("tts generation timed out")
	// ErrJobNotFound is returned when the provider does not know a job id.
	ErrJobNotFound = errors.New("tts job not found")
	// ErrCorruptAsset is returned when a downloaded payload fails the size check.
	ErrCorruptAsset = assets.ErrCorruptAsset
)

// JobClient talks to an asynchronous text-to-speech provider.
type JobClient interface {
	// Submit starts a generation job and returns its provider id.
	Submit(ctx context.Context, text, language string) (string, error)
	// Poll returns the current provider-side state of a job.
	Poll(ctx context.Context, jobID string) (model.GenerationJob, error)
	// Download fetches a finished payload.
	Download(ctx context.Context, location string) ([]byte, error)
}

// FatalError is a provider error that no retry can fix, e.g. auth failures (401/403).
type FatalError struct {
	StatusCode int
	Message    string
}

func (e *FatalError) Error() string {
	return e.Message
}

// NewFatalError creates a new FatalError with the given status code and message.
func NewFatalError(statusCode int, message string) *FatalError {
	return &FatalError{StatusCode: statusCode, Message: message}
}

// IsFatalError reports whether err is or wraps a FatalError.
func IsFatalError(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// GenerationError is returned once the retry budget of a generation is spent.
type GenerationError struct {
	Job model.GenerationJob
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed after %d polls (job %q): %v", e.Job.Attempts, e.Job.ID, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}
