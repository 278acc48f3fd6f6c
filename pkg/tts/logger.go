package tts

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"unicode/utf8"
)

const maxDetailRunes = 80

var history = struct {
	sync.Mutex
	path string
}{path: "logs/tts.log"}

// SetLogPath configures the path for the TTS history log.
func SetLogPath(path string) {
	history.Lock()
	defer history.Unlock()
	history.path = path
}

// Log appends one provider call to the TTS history log as a JSON line.
// op is "submit", "poll" or "download"; detail is the text or job id involved.
func Log(provider, op, detail string, status int, err error) {
	history.Lock()
	defer history.Unlock()

	if mkErr := os.MkdirAll(filepath.Dir(history.path), 0o755); mkErr != nil {
		return
	}
	f, openErr := os.OpenFile(history.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if openErr != nil {
		return
	}
	defer f.Close()

	level := slog.LevelInfo
	attrs := []slog.Attr{
		slog.String("provider", provider),
		slog.String("op", op),
		slog.Int("status", status),
		slog.String("detail", clip(detail)),
	}
	if err != nil {
		level = slog.LevelError
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	slog.New(slog.NewJSONHandler(f, nil)).LogAttrs(context.Background(), level, "tts call", attrs...)
}

func clip(s string) string {
	if utf8.RuneCountInString(s) <= maxDetailRunes {
		return s
	}
	r := []rune(s)
	return string(r[:maxDetailRunes]) + "…"
}
