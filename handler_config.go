package main

import (
	"encoding/json"
	"net/http"
)

func (s *APIServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleGetConfig(w, r)
	case http.MethodPost, http.MethodPut:
		s.handleUpdateConfig(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleGetConfig returns the running config without secrets
func (s *APIServer) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	cfg := *s.config
	cfg.TokenSecret = ""
	writeJSON(w, http.StatusOK, cfg)
}

// handleUpdateConfig saves the tunable settings. They take effect on restart.
func (s *APIServer) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var update struct {
		StorageCapGB   int   `json:"storage_cap_gb"`
		FPS            int   `json:"fps"`
		SaveEveryN     int   `json:"save_every_n"`
		StreamQuality  int   `json:"stream_quality"`
		PersistQuality int   `json:"persist_quality"`
		Rotation       *int  `json:"rotation"`
		EmbedTimestamp *bool `json:"embed_timestamp"`
	}

	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	s.configMu.Lock()
	defer s.configMu.Unlock()

	// Edits accumulate on the saved copy; the running config is left alone
	if s.pending == nil {
		pending := *s.config
		s.pending = &pending
	}
	next := *s.pending
	if update.StorageCapGB > 0 {
		next.StorageCapGB = update.StorageCapGB
	}
	if update.FPS > 0 {
		next.FPS = update.FPS
	}
	if update.SaveEveryN > 0 {
		next.SaveEveryN = update.SaveEveryN
	}
	if update.StreamQuality > 0 {
		next.StreamQuality = update.StreamQuality
	}
	if update.PersistQuality > 0 {
		next.PersistQuality = update.PersistQuality
	}
	if update.Rotation != nil {
		next.Camera.Rotation = *update.Rotation
	}
	if update.EmbedTimestamp != nil {
		next.Camera.EmbedTimestamp = *update.EmbedTimestamp
	}

	if err := next.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := SaveConfig(&next, s.configPath); err != nil {
		s.logger.Errorf("Failed to save config: %v", err)
		http.Error(w, "Failed to save configuration", http.StatusInternalServerError)
		return
	}
	*s.pending = next

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Configuration updated. Restart required for changes to take effect.",
	})
}
