package config

import (
	"context"
	"strconv"
	"time"

	"vocabvoice/pkg/store"
)

// Provider exposes the settings that can change while the server runs.
type Provider interface {
	Volume(ctx context.Context) float64
	DefaultLanguage(ctx context.Context) string
	ForceRegenerate(ctx context.Context) bool
	SpeechFallback(ctx context.Context) bool
	RecentTTL(ctx context.Context) time.Duration

	AppConfig() *Config
}

// UnifiedProvider reads a runtime override from the state table and falls
// back to the loaded file when the key is unset or does not parse.
type UnifiedProvider struct {
	base  *Config
	store store.StateStore
}

// NewProvider returns a provider over base. st may be nil, in which case
// only the file values are used.
func NewProvider(base *Config, st store.StateStore) *UnifiedProvider {
	return &UnifiedProvider{base: base, store: st}
}

func (p *UnifiedProvider) AppConfig() *Config { return p.base }

func (p *UnifiedProvider) Volume(ctx context.Context) float64 {
	return override(ctx, p, KeyVolume, parseFloat, p.base.Playback.Volume)
}

func (p *UnifiedProvider) DefaultLanguage(ctx context.Context) string {
	fallback := p.base.Playback.DefaultLanguage
	if fallback == "" {
		fallback = "en-US"
	}
	return override(ctx, p, KeyDefaultLanguage, parseString, fallback)
}

func (p *UnifiedProvider) ForceRegenerate(ctx context.Context) bool {
	return override(ctx, p, KeyForceRegenerate, strconv.ParseBool, false)
}

func (p *UnifiedProvider) SpeechFallback(ctx context.Context) bool {
	return override(ctx, p, KeySpeechFallback, strconv.ParseBool, p.base.Speech.Enabled)
}

func (p *UnifiedProvider) RecentTTL(ctx context.Context) time.Duration {
	return override(ctx, p, KeyRecentTTL, ParseDuration, time.Duration(p.base.Resolver.RecentTTL))
}

func override[T any](ctx context.Context, p *UnifiedProvider, key string, parse func(string) (T, error), fallback T) T {
	if p.store == nil {
		return fallback
	}
	raw, ok := p.store.GetState(ctx, key)
	if !ok || raw == "" {
		return fallback
	}
	v, err := parse(raw)
	if err != nil {
		return fallback
	}
	return v
}

func parseFloat(s string) (float64, error) { return strconv.ParseFloat(s, 64) }

func parseString(s string) (string, error) { return s, nil }
