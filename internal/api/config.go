package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"vocabvoice/pkg/config"
	"vocabvoice/pkg/model"
	"vocabvoice/pkg/store"
)

// VolumeSetter applies a new output volume.
type VolumeSetter interface {
	SetVolume(vol float64)
}

// ConfigHandler handles runtime configuration requests.
type ConfigHandler struct {
	store   store.StateStore
	cfgProv config.Provider
	appCfg  *config.Config
	volume  VolumeSetter
}

// NewConfigHandler creates a new ConfigHandler. volume may be nil.
func NewConfigHandler(st store.StateStore, cfg config.Provider, volume VolumeSetter) *ConfigHandler {
	return &ConfigHandler{
		store:   st,
		cfgProv: cfg,
		appCfg:  cfg.AppConfig(),
		volume:  volume,
	}
}

// ConfigResponse represents the config API response.
type ConfigResponse struct {
	TTSProvider     string  `json:"tts_provider"`
	SpeechAvailable bool    `json:"speech_enabled"`
	Volume          float64 `json:"volume"`
	DefaultLanguage string  `json:"default_language"`
	ForceRegenerate bool    `json:"force_regenerate"`
	SpeechFallback  bool    `json:"speech_fallback"`
	RecentTTL       string  `json:"recent_ttl"`
}

// ConfigRequest represents a partial update. Pointers tell false from missing.
type ConfigRequest struct {
	Volume          *float64 `json:"volume,omitempty"`
	DefaultLanguage string   `json:"default_language,omitempty"`
	ForceRegenerate *bool    `json:"force_regenerate,omitempty"`
	SpeechFallback  *bool    `json:"speech_fallback,omitempty"`
	RecentTTL       string   `json:"recent_ttl,omitempty"`
}

var errInvalidSetting = errors.New("invalid setting")

// HandleConfig is a unified handler for all config-related methods, facilitating CORS/OPTIONS.
func (h *ConfigHandler) HandleConfig(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	case http.MethodGet:
		h.HandleGetConfig(w, r)
	case http.MethodPut, http.MethodPost:
		h.HandleSetConfig(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// HandleGetConfig returns the current configuration.
func (h *ConfigHandler) HandleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.getConfigResponse(r.Context()))
}

func (h *ConfigHandler) getConfigResponse(ctx context.Context) ConfigResponse {
	return ConfigResponse{
		TTSProvider:     h.appCfg.TTS.Provider,
		SpeechAvailable: h.appCfg.Speech.Enabled,
		Volume:          h.cfgProv.Volume(ctx),
		DefaultLanguage: h.cfgProv.DefaultLanguage(ctx),
		ForceRegenerate: h.cfgProv.ForceRegenerate(ctx),
		SpeechFallback:  h.cfgProv.SpeechFallback(ctx),
		RecentTTL:       h.cfgProv.RecentTTL(ctx).String(),
	}
}

// HandleSetConfig validates and persists a partial update, then returns the new state.
func (h *ConfigHandler) HandleSetConfig(w http.ResponseWriter, r *http.Request) {
	var req ConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	updates, err := h.validate(&req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	for key, val := range updates {
		if err := h.store.SetState(ctx, key, val); err != nil {
			slog.Error("Failed to save state", "key", key, "error", err)
			http.Error(w, "failed to save setting", http.StatusInternalServerError)
			return
		}
		slog.Debug("Config updated", key, val)
	}

	if req.Volume != nil && h.volume != nil {
		h.volume.SetVolume(*req.Volume)
	}

	h.HandleGetConfig(w, r)
}

// validate checks every field before anything is written.
func (h *ConfigHandler) validate(req *ConfigRequest) (map[string]string, error) {
	updates := make(map[string]string)

	if req.Volume != nil {
		v := *req.Volume
		if v < 0 || v > 2 {
			return nil, fmt.Errorf("%w: volume must be between 0 and 2", errInvalidSetting)
		}
		updates[config.KeyVolume] = strconv.FormatFloat(v, 'f', 2, 64)
	}
	if req.DefaultLanguage != "" {
		if !model.ValidLanguage(req.DefaultLanguage) {
			return nil, fmt.Errorf("%w: unknown language %q", errInvalidSetting, req.DefaultLanguage)
		}
		updates[config.KeyDefaultLanguage] = req.DefaultLanguage
	}
	if req.ForceRegenerate != nil {
		updates[config.KeyForceRegenerate] = strconv.FormatBool(*req.ForceRegenerate)
	}
	if req.SpeechFallback != nil {
		updates[config.KeySpeechFallback] = strconv.FormatBool(*req.SpeechFallback)
	}
	if req.RecentTTL != "" {
		if _, err := config.ParseDuration(req.RecentTTL); err != nil {
			return nil, fmt.Errorf("%w: recent_ttl: %v", errInvalidSetting, err)
		}
		updates[config.KeyRecentTTL] = req.RecentTTL
	}
	return updates, nil
}
