package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"vocabvoice/pkg/model"
)

// Config holds the application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	DB         DBConfig         `yaml:"db"`
	Assets     AssetsConfig     `yaml:"assets"`
	Request    RequestConfig    `yaml:"request"`
	TTS        TTSConfig        `yaml:"tts"`
	Generator  GeneratorConfig  `yaml:"generator"`
	Resolver   ResolverConfig   `yaml:"resolver"`
	Speech     SpeechConfig     `yaml:"speech"`
	Playback   PlaybackConfig   `yaml:"playback"`
	Card       CardConfig       `yaml:"card"`
	Export     ExportConfig     `yaml:"export"`
	NATS       NATSConfig       `yaml:"nats"`
	Vocabulary VocabularyConfig `yaml:"vocabulary"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Address string `yaml:"address"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
	TTS      LogSettings `yaml:"tts"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path string `yaml:"path"`
}

// AssetsConfig describes the generated asset directory.
type AssetsConfig struct {
	Root         string   `yaml:"root"`
	MinAudioSize ByteSize `yaml:"min_audio_size"`
	CacheSize    int      `yaml:"cache_size"`
	CacheTTL     Duration `yaml:"cache_ttl"`
}

// RequestConfig holds HTTP request settings.
type RequestConfig struct {
	Retries int           `yaml:"retries"`
	Timeout Duration      `yaml:"timeout"`
	Gap     Duration      `yaml:"gap"`
	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig holds exponential backoff settings.
type BackoffConfig struct {
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
}

// TTSConfig holds the generation provider settings.
type TTSConfig struct {
	Provider string `yaml:"provider"` // "builtin", "http", "none"
	BaseURL  string `yaml:"base_url"`
	Key      string `yaml:"key"`
	Voice    string `yaml:"voice"`
	Format   string `yaml:"format"`
}

// GeneratorConfig bounds the submit-poll-download cycles.
type GeneratorConfig struct {
	PollInterval Duration `yaml:"poll_interval"`
	PollAttempts int      `yaml:"poll_attempts"`
	PollRetries  int      `yaml:"poll_retries"`
	Cycles       int      `yaml:"cycles"`
	CycleBackoff Duration `yaml:"cycle_backoff"`
}

// ResolverConfig sizes the in-memory caches of finished generations.
type ResolverConfig struct {
	RecentSize   int      `yaml:"recent_size"`
	RecentTTL    Duration `yaml:"recent_ttl"`
	JobCacheSize int      `yaml:"job_cache_size"`
	JobCacheTTL  Duration `yaml:"job_cache_ttl"`
}

// SpeechConfig holds the local synthesizer command.
type SpeechConfig struct {
	Enabled bool     `yaml:"enabled"`
	Binary  string   `yaml:"binary"`
	Args    []string `yaml:"args"`
}

// PlaybackConfig holds local audio output settings.
type PlaybackConfig struct {
	Volume          float64 `yaml:"volume"`
	DefaultLanguage string  `yaml:"default_language"`
}

// CardConfig holds the card image style.
type CardConfig struct {
	Width      int    `yaml:"width"`
	Height     int    `yaml:"height"`
	Background string `yaml:"background"`
	Accent     string `yaml:"accent"`
	Foreground string `yaml:"foreground"`
	FontFamily string `yaml:"font_family"`
}

// ExportConfig holds batch export settings.
type ExportConfig struct {
	Dir string `yaml:"dir"`
}

// NATSConfig enables the archive object store. An empty URL disables it.
type NATSConfig struct {
	URL    string `yaml:"url"`
	Bucket string `yaml:"bucket"`
}

// VocabularyConfig points at the CSV the catalog is seeded from.
type VocabularyConfig struct {
	CSV string `yaml:"csv"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address: "localhost:1921",
		},
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/server.log",
				Level: "INFO",
			},
			Requests: LogSettings{
				Path:  "./logs/requests.log",
				Level: "INFO",
			},
			TTS: LogSettings{
				Path:  "./logs/tts.log",
				Level: "INFO",
			},
		},
		DB: DBConfig{
			Path: "./data/vocabvoice.db",
		},
		Assets: AssetsConfig{
			Root:         "./generated",
			MinAudioSize: ByteSize(1024),
			CacheSize:    64,
			CacheTTL:     Duration(10 * time.Minute),
		},
		Request: RequestConfig{
			Retries: 0, // the generator owns retries
			Timeout: Duration(30 * time.Second),
			Gap:     Duration(100 * time.Millisecond),
			Backoff: BackoffConfig{
				BaseDelay: Duration(500 * time.Millisecond),
				MaxDelay:  Duration(30 * time.Second),
			},
		},
		TTS: TTSConfig{
			Provider: "builtin",
			Voice:    "default",
			Format:   "mp3",
		},
		Generator: GeneratorConfig{
			PollInterval: Duration(1500 * time.Millisecond),
			PollAttempts: 15,
			PollRetries:  2,
			Cycles:       3,
			CycleBackoff: Duration(2 * time.Second),
		},
		Resolver: ResolverConfig{
			RecentSize:   256,
			RecentTTL:    Duration(10 * time.Minute),
			JobCacheSize: 128,
			JobCacheTTL:  Duration(30 * time.Minute),
		},
		Speech: SpeechConfig{
			Enabled: true,
			Binary:  "espeak-ng",
			Args:    []string{"-v", "{voice}", "-w", "{out}", "{text}"},
		},
		Playback: PlaybackConfig{
			Volume:          1.0,
			DefaultLanguage: "en-US",
		},
		Card: CardConfig{
			Width:      800,
			Height:     480,
			Background: "#fdfaf3",
			Accent:     "#2f6f8f",
			Foreground: "#1d1d1f",
			FontFamily: "Noto Sans, sans-serif",
		},
		Export: ExportConfig{
			Dir: "./exports",
		},
		NATS: NATSConfig{
			Bucket: "vocab-exports",
		},
		Vocabulary: VocabularyConfig{
			CSV: "./data/vocabulary.csv",
		},
	}
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// An existing file is merged over the defaults but never written back, to keep user comments.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	// Env fallbacks are never saved back to disk
	if cfg.TTS.Key == "" {
		cfg.TTS.Key = os.Getenv("VOCABVOICE_TTS_KEY")
	}
	if cfg.TTS.BaseURL == "" {
		cfg.TTS.BaseURL = os.Getenv("VOCABVOICE_TTS_URL")
	}
	if cfg.NATS.URL == "" {
		cfg.NATS.URL = os.Getenv("VOCABVOICE_NATS_URL")
	}

	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var windowsEnvVar = regexp.MustCompile(`%([A-Za-z_][A-Za-z0-9_]*)%`)

// expandPath resolves $VAR, ${VAR} and %VAR% references.
func expandPath(p string) string {
	p = windowsEnvVar.ReplaceAllStringFunc(p, func(m string) string {
		return os.Getenv(strings.Trim(m, "%"))
	})
	return os.ExpandEnv(p)
}

// expandPaths resolves env references in memory only; Save keeps the raw values.
func (c *Config) expandPaths() {
	for _, p := range []*string{
		&c.DB.Path,
		&c.Assets.Root,
		&c.Export.Dir,
		&c.Vocabulary.CSV,
		&c.Log.Server.Path,
		&c.Log.Requests.Path,
		&c.Log.TTS.Path,
	} {
		*p = expandPath(*p)
	}
}

// Validate checks values that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	switch c.TTS.Provider {
	case "builtin", "none":
	case "http":
		if c.TTS.BaseURL == "" {
			return fmt.Errorf("tts.provider 'http' requires tts.base_url (or VOCABVOICE_TTS_URL)")
		}
	default:
		return fmt.Errorf("invalid tts.provider '%s': must be builtin, http or none", c.TTS.Provider)
	}
	if c.Playback.Volume < 0 || c.Playback.Volume > 2 {
		return fmt.Errorf("invalid playback.volume %.2f: must be within [0, 2]", c.Playback.Volume)
	}
	if c.Playback.DefaultLanguage != "" && !model.ValidLanguage(c.Playback.DefaultLanguage) {
		return fmt.Errorf("invalid playback.default_language %q", c.Playback.DefaultLanguage)
	}
	if !isValidColor(c.Card.Background) || !isValidColor(c.Card.Accent) || !isValidColor(c.Card.Foreground) {
		return fmt.Errorf("invalid card colour: must be '#rrggbb'")
	}
	return nil
}

func isValidColor(s string) bool {
	matched, _ := regexp.MatchString(`^#[0-9a-fA-F]{6}$`, s)
	return matched
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# vocabvoice Configuration
# ------------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)
#   Size:     B, KB, MB (1 KB = 1024 B)
# Secrets may be left empty and supplied via VOCABVOICE_TTS_KEY.

`)
	data = append(header, data...)

	// Enum comments, matched with indentation so they land above the key
	reProvider := regexp.MustCompile(`(?m)^(\s+)provider:`)
	data = reProvider.ReplaceAll(data, []byte("${1}# Options: builtin, http, none\n${1}provider:"))

	reArgs := regexp.MustCompile(`(?m)^(\s+)args:`)
	data = reArgs.ReplaceAll(data, []byte("${1}# Placeholders: {voice}, {lang}, {out}, {text}\n${1}args:"))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}
