package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"vocabvoice/internal/api"
	"vocabvoice/pkg/config"
	"vocabvoice/pkg/export"
	"vocabvoice/pkg/logging"
	"vocabvoice/pkg/model"
	"vocabvoice/pkg/playback"
	"vocabvoice/pkg/probe"
	"vocabvoice/pkg/tts"
	"vocabvoice/pkg/version"
)

const defaultConfigPath = "configs/vocabvoice.yaml"

var (
	initConfig = flag.Bool("init-config", false, "Generate default config file and exit")
	configPath = flag.String("config", defaultConfigPath, "Path to the config file")
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: vocabvoice [flags] [command] [command flags]

Commands:
  serve    run the HTTP API (default)
  play     play a word or sentence locally
  cards    generate card assets for content ids
  export   build an export archive for content ids

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	// .env is optional; it only supplies VOCABVOICE_* overrides
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Failed to read .env: %v\n", err)
	}

	if *initConfig {
		if err := config.GenerateDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Config file generated:", *configPath)
		return
	}

	cmd, args := "serve", flag.Args()
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := dispatch(ctx, cmd, args, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: %s failed: %v\n", cmd, err)
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, cmd string, args []string, cfgPath string) error {
	switch cmd {
	case "serve":
		return run(ctx, cfgPath)
	case "play":
		return runPlay(ctx, cfgPath, args)
	case "cards":
		return runCards(ctx, cfgPath, args)
	case "export":
		return runExport(ctx, cfgPath, args)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// setup loads the config, starts logging and wires the services.
func setup(ctx context.Context, cfgPath string) (*App, func(), error) {
	appCfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	cleanupLogs, err := logging.Init(&appCfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	tts.SetLogPath(appCfg.Log.TTS.Path)

	slog.Info("VocabVoice Started", "version", version.Version, "config", cfgPath)

	app, err := newApp(ctx, appCfg)
	if err != nil {
		cleanupLogs()
		return nil, nil, err
	}
	if err := probe.Summarize(probe.Run(ctx, startupProbes(app))); err != nil {
		app.Close()
		cleanupLogs()
		return nil, nil, fmt.Errorf("startup checks failed: %w", err)
	}
	return app, func() {
		app.Close()
		cleanupLogs()
	}, nil
}

func run(ctx context.Context, cfgPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	app, cleanup, err := setup(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer cleanup()

	srv := newServer(app, cancel)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	return runServerLifecycle(ctx, srv, quit)
}

func newServer(app *App, shutdown func()) *http.Server {
	var archives api.ArchiveSource
	if app.Archives != nil {
		archives = app.Archives
	}
	cfg := app.Cfg

	srv := api.NewServer(cfg.Server.Address, api.Handlers{
		Audio:    api.NewAudioHandler(app.JobClient, app.Jobs, int64(cfg.Assets.MinAudioSize), "/api/audio/download/"),
		Assets:   api.NewAssetHandler(app.Assets),
		Cards:    api.NewCardsHandler(app.Store, app.Cards, app.Exporter, archives, cfg.Export.Dir),
		Playback: api.NewPlaybackHandler(app.Playback, app.Provider.DefaultLanguage),
		Config:   api.NewConfigHandler(app.Store, app.Provider, app.Player),
		Stats:    api.NewStatsHandler(app.Tracker, app.Jobs),
	}, shutdown)
	srv.Handler = loggingMiddleware(srv.Handler)
	return srv
}

func runServerLifecycle(ctx context.Context, srv *http.Server, quit chan os.Signal) error {
	slog.Info("Starting server", "addr", srv.Addr)
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()
	select {
	case <-quit:
		slog.Info("Shutting down server...")
	case <-ctx.Done():
		slog.Info("Context cancelled, shutting down...")
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func runPlay(ctx context.Context, cfgPath string, args []string) error {
	fs := flag.NewFlagSet("play", flag.ContinueOnError)
	text := fs.String("text", "", "Text to speak")
	lang := fs.String("lang", "", "BCP 47 language tag (default: configured language)")
	id := fs.Int64("id", 0, "Content id; generated audio is stored for it")
	kind := fs.String("kind", string(model.KindWord), "word or example")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*text) == "" {
		return errors.New("-text is required")
	}
	if !model.Kind(*kind).IsAudio() {
		return fmt.Errorf("-kind must be word or example, got %q", *kind)
	}

	app, cleanup, err := setup(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer cleanup()

	req := model.AudioRequest{Text: tts.NormalizeText(*text), Language: *lang, Kind: model.Kind(*kind)}
	if req.Language == "" {
		req.Language = app.Provider.DefaultLanguage(ctx)
	}
	if *id > 0 {
		cid := model.ContentID(*id)
		req.ContentID = &cid
	}
	if err := app.Playback.Play(ctx, req); err != nil {
		return err
	}

	// wait for the source to finish or the user to interrupt
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if app.Playback.State() == playback.StateIdle {
				return nil
			}
		}
	}
}

func runCards(ctx context.Context, cfgPath string, args []string) error {
	fs := flag.NewFlagSet("cards", flag.ContinueOnError)
	idList := fs.String("ids", "", "Comma separated content ids")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ids, err := parseIDs(*idList)
	if err != nil {
		return err
	}

	app, cleanup, err := setup(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer cleanup()

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(app.Cards.Generate(ctx, ids))
}

func runExport(ctx context.Context, cfgPath string, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	idList := fs.String("ids", "", "Comma separated content ids")
	out := fs.String("out", "", "Output directory (default: export.dir)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	ids, err := parseIDs(*idList)
	if err != nil {
		return err
	}

	app, cleanup, err := setup(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer cleanup()

	items, err := app.Store.GetItems(ctx, ids)
	if err != nil {
		return err
	}
	archive, err := app.Exporter.Export(ctx, items, func(p model.Progress) {
		fmt.Printf("[%d/%d] %s\n", p.Current, p.Total, p.StatusMessage)
	})
	if err != nil {
		return err
	}

	dir := *out
	if dir == "" {
		dir = app.Cfg.Export.Dir
	}
	path, err := writeArchive(dir, archive)
	if err != nil {
		return err
	}
	fmt.Printf("Wrote %s (%d images, %d audio, %d failures)\n", path, archive.Summary.Images, archive.Summary.Audio, len(archive.Summary.Failures))
	return nil
}

func writeArchive(dir string, a *export.Archive) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create export dir: %w", err)
	}
	path := filepath.Join(dir, a.Name)
	if err := os.WriteFile(path, a.Data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write archive: %w", err)
	}
	return path, nil
}

func parseIDs(s string) ([]model.ContentID, error) {
	var ids []model.ContentID
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := model.ParseContentID(part)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, errors.New("-ids is required")
	}
	return ids, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController and the websocket upgrader reach the connection.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(r.ResponseWriter).Hijack()
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		logger := logging.RequestLogger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Info("Request Processed", "id", reqID, "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}
