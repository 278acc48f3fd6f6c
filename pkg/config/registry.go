package config

// Persistent state keys (Registry)
const (
	KeyVolume          = "playback_volume"
	KeyDefaultLanguage = "default_language"
	KeyForceRegenerate = "force_regenerate"
	KeySpeechFallback  = "speech_fallback"
	KeyRecentTTL       = "resolver_recent_ttl"
)
