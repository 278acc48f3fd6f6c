package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"vocabvoice/pkg/assets"
	"vocabvoice/pkg/audio"
	"vocabvoice/pkg/cardimage"
	"vocabvoice/pkg/cards"
	"vocabvoice/pkg/config"
	"vocabvoice/pkg/db"
	"vocabvoice/pkg/db/maintenance"
	"vocabvoice/pkg/export"
	"vocabvoice/pkg/model"
	"vocabvoice/pkg/objectstore"
	"vocabvoice/pkg/playback"
	"vocabvoice/pkg/probe"
	"vocabvoice/pkg/request"
	"vocabvoice/pkg/resolver"
	"vocabvoice/pkg/speech"
	"vocabvoice/pkg/store"
	"vocabvoice/pkg/tracker"
	"vocabvoice/pkg/tts"
	"vocabvoice/pkg/tts/jobapi"
)

// App holds the wired services shared by every subcommand.
type App struct {
	Cfg      *config.Config
	Provider *config.UnifiedProvider
	Store    *store.SQLiteStore
	Assets   *assets.Store
	Tracker  *tracker.Tracker

	JobClient tts.JobClient // nil when tts.provider is "none"
	Jobs      *tts.JobCache
	Speech    *speech.Engine
	Resolver  *resolver.Resolver
	Player    *audio.Player
	Playback  *playback.Controller
	Cards     *cards.Service
	Exporter  *export.Pipeline
	Archives  *objectstore.NatsObjectStore // nil without NATS

	closers []func()
}

// newApp opens the catalog and wires the services. Close releases everything.
func newApp(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Cfg: cfg, Tracker: tracker.New()}

	dbConn, err := db.Init(cfg.DB.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.Store = store.NewSQLiteStore(dbConn)
	a.closers = append(a.closers, func() { _ = a.Store.Close() })
	a.Provider = config.NewProvider(cfg, a.Store)

	a.Assets = assets.NewStore(cfg.Assets.Root, assets.Options{
		MinAudioSize: int64(cfg.Assets.MinAudioSize),
		CacheSize:    cfg.Assets.CacheSize,
		CacheTTL:     time.Duration(cfg.Assets.CacheTTL),
	})

	if err := maintenance.Run(ctx, a.Store, cfg.Vocabulary.CSV, a.Assets.Exists); err != nil {
		slog.Error("Maintenance tasks failed", "error", err)
	}

	if err := a.initGeneration(); err != nil {
		a.Close()
		return nil, err
	}

	a.Speech = speech.New(speech.Config{Binary: cfg.Speech.Binary, Args: cfg.Speech.Args})
	toggled := &switchableSpeech{engine: a.Speech, enabled: a.Provider.SpeechFallback}

	var gen resolver.Generator
	var cardGen cards.Generator
	if a.JobClient != nil {
		g := tts.NewGenerator(a.JobClient, tts.GeneratorConfig{
			PollInterval: time.Duration(cfg.Generator.PollInterval),
			PollAttempts: cfg.Generator.PollAttempts,
			PollRetries:  cfg.Generator.PollRetries,
			Cycles:       cfg.Generator.Cycles,
			CycleBackoff: time.Duration(cfg.Generator.CycleBackoff),
			MinAudioSize: int64(cfg.Assets.MinAudioSize),
		})
		gen, cardGen = g, g
	}

	a.Resolver = resolver.New(a.Store, a.Assets, gen, toggled, a.Jobs, a.Tracker, resolver.Options{
		DownloadPrefix: resolver.DefaultDownloadPrefix,
		RecentSize:     cfg.Resolver.RecentSize,
		RecentTTL:      time.Duration(cfg.Resolver.RecentTTL),
	})

	a.Player = audio.NewPlayer(a.Provider.Volume(ctx))
	src := playback.NewSourcePlayer(playback.AudioOutput(a.Player), a.Assets, toggled, a.fetchJob)
	a.Playback = playback.NewController(a.Resolver, src, playback.ObserverFunc(func(o playback.Outcome, s model.AudioSource) {
		a.Tracker.TrackOutcome("playback." + string(o))
	}))

	renderer := cardimage.New(cardimage.Style{
		Width:      cfg.Card.Width,
		Height:     cfg.Card.Height,
		Background: cfg.Card.Background,
		Accent:     cfg.Card.Accent,
		Foreground: cfg.Card.Foreground,
		FontFamily: cfg.Card.FontFamily,
	})
	a.Cards = cards.NewService(a.Store, a.Store, a.Assets, cardGen, renderer, a.Tracker)
	a.Cards.Force = a.Provider.ForceRegenerate

	var sink export.Sink
	if cfg.NATS.URL != "" {
		obj, closeNATS, err := objectstore.Connect(cfg.NATS.URL, cfg.NATS.Bucket)
		if err != nil {
			// archives are then only kept locally
			slog.Warn("NATS object store unavailable", "url", cfg.NATS.URL, "error", err)
		} else {
			a.Archives = obj
			sink = obj
			a.closers = append(a.closers, closeNATS)
			slog.Info("NATS object store connected", "bucket", cfg.NATS.Bucket)
		}
	}
	a.Exporter = export.New(a.Resolver, a.Assets, renderer, sink)

	return a, nil
}

// initGeneration selects the job provider.
func (a *App) initGeneration() error {
	cfg := a.Cfg
	a.Jobs = tts.NewJobCache(cfg.Resolver.JobCacheSize, time.Duration(cfg.Resolver.JobCacheTTL))

	baseURL := cfg.TTS.BaseURL
	switch cfg.TTS.Provider {
	case "none":
		slog.Info("TTS provider disabled; speech synthesis only")
		return nil
	case "builtin":
		url, stop, err := startBuiltinProvider()
		if err != nil {
			return fmt.Errorf("failed to start builtin tts provider: %w", err)
		}
		a.closers = append(a.closers, stop)
		baseURL = url
	}

	rc := request.New(a.Tracker, request.ClientConfig{
		Timeout:     time.Duration(cfg.Request.Timeout),
		MaxAttempts: cfg.Request.Retries + 1,
		BaseDelay:   time.Duration(cfg.Request.Backoff.BaseDelay),
		MaxDelay:    time.Duration(cfg.Request.Backoff.MaxDelay),
		Gap:         time.Duration(cfg.Request.Gap),
	})
	client, err := jobapi.New(jobapi.Config{
		BaseURL: baseURL,
		APIKey:  cfg.TTS.Key,
		Voice:   cfg.TTS.Voice,
		Format:  cfg.TTS.Format,
	}, rc)
	if err != nil {
		return err
	}
	a.JobClient = client
	slog.Info("TTS provider ready", "provider", cfg.TTS.Provider, "url", baseURL)
	return nil
}

// startBuiltinProvider serves the tone-rendering provider on a loopback port.
func startBuiltinProvider() (string, func(), error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", nil, err
	}
	srv := &http.Server{Handler: jobapi.NewFakeServer().Handler(), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Builtin tts provider stopped", "error", err)
		}
	}()
	stop := func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
	return "http://" + ln.Addr().String(), stop, nil
}

// fetchJob loads a remote stream from the job cache for local playback.
func (a *App) fetchJob(ctx context.Context, url string) ([]byte, error) {
	id := strings.TrimPrefix(url, resolver.DefaultDownloadPrefix)
	if cj, ok := a.Jobs.Get(id); ok && cj.Audio != nil {
		return cj.Audio, nil
	}
	if a.JobClient == nil {
		return nil, fmt.Errorf("job %s is not cached", id)
	}
	job, err := a.JobClient.Poll(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobDone {
		return nil, fmt.Errorf("job %s is %s", id, job.Status)
	}
	return a.JobClient.Download(ctx, job.ResultLocation)
}

// Close releases resources in reverse order.
func (a *App) Close() {
	if a.Playback != nil {
		a.Playback.StopAll()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// switchableSpeech lets the runtime speech_fallback setting turn local synthesis off.
type switchableSpeech struct {
	engine  *speech.Engine
	enabled func(ctx context.Context) bool
}

func (s *switchableSpeech) Available() bool {
	return s.enabled(context.Background()) && s.engine.Available()
}

func (s *switchableSpeech) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	if !s.enabled(ctx) {
		return nil, speech.ErrUnavailable
	}
	return s.engine.Synthesize(ctx, text, language)
}

// startupProbes checks the capabilities the services depend on.
func startupProbes(a *App) []probe.Probe {
	probes := []probe.Probe{
		{
			Name:     "Catalog",
			Critical: true,
			Check: func(ctx context.Context) error {
				_, err := a.Store.ListAssets(ctx)
				return err
			},
		},
		{Name: "Asset directory", Critical: true, Check: probe.WritableDir(a.Cfg.Assets.Root)},
		{Name: "Export directory", Check: probe.WritableDir(a.Cfg.Export.Dir)},
	}

	if a.JobClient != nil {
		probes = append(probes, probe.Probe{
			Name: "TTS provider",
			Check: func(ctx context.Context) error {
				// an unknown job answered with 404 proves the provider is up
				_, err := a.JobClient.Poll(ctx, "startup-probe")
				if err == nil || errors.Is(err, tts.ErrJobNotFound) {
					return nil
				}
				return err
			},
		})
	}
	if a.Cfg.Speech.Enabled {
		probes = append(probes, probe.Probe{Name: "Speech synthesizer", Check: probe.Available(a.Cfg.Speech.Binary, a.Speech.Available)})
	}
	probes = append(probes, probe.Probe{
		Name: "Playback capability",
		Check: probe.Available("generation or speech synthesis", func() bool {
			return a.JobClient != nil || (a.Cfg.Speech.Enabled && a.Speech.Available())
		}),
	})
	return probes
}
