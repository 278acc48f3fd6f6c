package logging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"vocabvoice/pkg/config"
)

// RequestLogger writes one line per HTTP request to the requests log only.
var RequestLogger *slog.Logger

type sink struct {
	name    string
	path    string
	level   slog.Level
	console bool
}

// Init opens the server and request logs and installs the server logger as
// slog's default. Existing files, including the TTS history log written by
// the tts package, are moved to <name>.old first. The returned func closes
// the files.
func Init(cfg *config.LogConfig) (func(), error) {
	for _, p := range []string{cfg.Server.Path, cfg.Requests.Path, cfg.TTS.Path} {
		rotate(p)
	}

	server := sink{name: "server", path: cfg.Server.Path, level: ParseLevel(cfg.Server.Level), console: true}
	requests := sink{name: "requests", path: cfg.Requests.Path, level: ParseLevel(cfg.Requests.Level)}

	serverHandler, serverFile, err := server.open()
	if err != nil {
		return nil, err
	}
	requestHandler, requestFile, err := requests.open()
	if err != nil {
		serverFile.Close()
		return nil, err
	}

	slog.SetDefault(slog.New(serverHandler))
	RequestLogger = slog.New(requestHandler)

	return func() {
		if err := errors.Join(requestFile.Close(), serverFile.Close()); err != nil {
			fmt.Fprintln(os.Stderr, "closing logs:", err)
		}
	}, nil
}

func (s sink) open() (slog.Handler, io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("%s log: %w", s.name, err)
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("%s log: %w", s.name, err)
	}

	file := slog.NewTextHandler(f, &slog.HandlerOptions{
		Level:     s.level,
		AddSource: s.level <= slog.LevelDebug,
	})
	if !s.console {
		return file, f, nil
	}

	// The terminal and the tail never go below INFO.
	info := max(s.level, slog.LevelInfo)
	return fanout{
		file,
		slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: info}),
		slog.NewTextHandler(GlobalLogCapture, &slog.HandlerOptions{Level: slog.LevelInfo}),
	}, f, nil
}

// ParseLevel maps DEBUG, INFO, WARN and ERROR to slog levels. Unknown values are INFO.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

//nolint:gocritic // slog.Handler takes the record by value
func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range f {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}

func rotate(path string) {
	if path == "" {
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	old := path + ".old"
	_ = os.Remove(old)
	_ = os.Rename(path, old)
}
