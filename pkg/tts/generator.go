package tts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vocabvoice/pkg/model"
)

// GeneratorConfig bounds a generation run.
type GeneratorConfig struct {
	PollInterval time.Duration
	PollAttempts int // polls per cycle before the job times out
	PollRetries  int // extra tries for a failing poll call
	Cycles       int // submit-poll-download cycles
	CycleBackoff time.Duration
	MinAudioSize int64
}

// DefaultGeneratorConfig returns the production budget.
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		PollInterval: 1500 * time.Millisecond,
		PollAttempts: 15,
		PollRetries:  2,
		Cycles:       3,
		CycleBackoff: 2 * time.Second,
		MinAudioSize: MinAudioSize,
	}
}

// Result is a finished generation.
type Result struct {
	Job   model.GenerationJob
	Audio []byte
	Ext   string // ".mp3" or ".wav"
}

// Generator runs bounded submit-poll-download cycles against a JobClient.
type Generator struct {
	client JobClient
	cfg    GeneratorConfig
}

// NewGenerator creates a Generator. Zero values in cfg fall back to defaults.
func NewGenerator(client JobClient, cfg GeneratorConfig) *Generator {
	def := DefaultGeneratorConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = def.PollAttempts
	}
	if cfg.PollRetries < 0 {
		cfg.PollRetries = 0
	}
	if cfg.Cycles <= 0 {
		cfg.Cycles = def.Cycles
	}
	if cfg.CycleBackoff < 0 {
		cfg.CycleBackoff = 0
	}
	if cfg.MinAudioSize <= 0 {
		cfg.MinAudioSize = def.MinAudioSize
	}
	return &Generator{client: client, cfg: cfg}
}

// Client returns the underlying job client.
func (g *Generator) Client() JobClient {
	return g.client
}

// Generate produces audio for text. Failures after the whole budget are
// returned as *GenerationError wrapping ErrProviderUnavailable,
// ErrGenerationTimeout or ErrCorruptAsset.
func (g *Generator) Generate(ctx context.Context, text, language string) (*Result, error) {
	text = NormalizeText(text)
	if text == "" {
		return nil, errors.New("empty text")
	}

	var (
		job     model.GenerationJob
		lastErr error
	)
	for cycle := 1; cycle <= g.cfg.Cycles; cycle++ {
		if cycle > 1 {
			select {
			case <-ctx.Done():
				return nil, &GenerationError{Job: job, Err: ctx.Err()}
			case <-time.After(g.cfg.CycleBackoff):
			}
			slog.Debug("TTS: retrying generation", "cycle", cycle, "max", g.cfg.Cycles, "last_error", lastErr)
		}

		res, err := g.runCycle(ctx, text, language)
		if err == nil {
			slog.Debug("TTS: generation done", "job", res.Job.ID, "bytes", len(res.Audio), "cycle", cycle)
			return res, nil
		}
		job, lastErr = res.Job, err

		if IsFatalError(err) {
			slog.Error("TTS: fatal provider error, giving up", "error", err)
			break
		}
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
		slog.Warn("TTS: generation cycle failed", "cycle", cycle, "job", job.ID, "error", err)
	}

	return nil, &GenerationError{Job: job, Err: lastErr}
}

// runCycle always returns a non-nil Result carrying the job state.
func (g *Generator) runCycle(ctx context.Context, text, language string) (*Result, error) {
	res := &Result{Job: model.GenerationJob{Status: model.JobPending}}
	fail := func(err error) (*Result, error) {
		if ctx.Err() == nil && !isTaxonomyError(err) {
			err = fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
		}
		res.Job.Status = model.JobError
		res.Job.Err = err.Error()
		return res, err
	}

	id, err := g.client.Submit(ctx, text, language)
	if err != nil {
		return fail(err)
	}
	res.Job.ID = id

	location, err := g.pollUntilDone(ctx, &res.Job)
	if err != nil {
		return fail(err)
	}

	data, err := g.client.Download(ctx, location)
	if err != nil {
		return fail(err)
	}
	if int64(len(data)) <= g.cfg.MinAudioSize {
		return fail(fmt.Errorf("%w: downloaded %d bytes (min %d)", ErrCorruptAsset, len(data), g.cfg.MinAudioSize))
	}

	res.Job.Status = model.JobDone
	res.Job.ResultLocation = location
	res.Audio = data
	res.Ext = DetectExt(data)
	return res, nil
}

func (g *Generator) pollUntilDone(ctx context.Context, job *model.GenerationJob) (string, error) {
	for attempt := 1; attempt <= g.cfg.PollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(g.cfg.PollInterval):
		}

		job.Attempts = attempt
		st, err := g.pollWithRetry(ctx, job.ID)
		if err != nil {
			return "", err
		}

		switch st.Status {
		case model.JobDone:
			if st.ResultLocation == "" {
				return "", fmt.Errorf("%w: job %s done without location", ErrProviderUnavailable, job.ID)
			}
			return st.ResultLocation, nil
		case model.JobError:
			return "", fmt.Errorf("%w: job %s failed: %s", ErrProviderUnavailable, job.ID, st.Err)
		}
	}
	return "", fmt.Errorf("%w: job %s still pending after %d polls", ErrGenerationTimeout, job.ID, g.cfg.PollAttempts)
}

func (g *Generator) pollWithRetry(ctx context.Context, id string) (model.GenerationJob, error) {
	var lastErr error
	for try := 0; try <= g.cfg.PollRetries; try++ {
		if try > 0 {
			select {
			case <-ctx.Done():
				return model.GenerationJob{}, ctx.Err()
			case <-time.After(g.cfg.PollInterval):
			}
		}
		st, err := g.client.Poll(ctx, id)
		if err == nil {
			return st, nil
		}
		if IsFatalError(err) || ctx.Err() != nil {
			return model.GenerationJob{}, err
		}
		lastErr = err
	}
	return model.GenerationJob{}, lastErr
}

func isTaxonomyError(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrGenerationTimeout) ||
		errors.Is(err, ErrCorruptAsset)
}
