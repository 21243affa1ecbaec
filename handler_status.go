package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *APIServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":             "ok",
		"camera_initialized": s.pipeline.CameraReady(),
	})
}

func (s *APIServer) handleUI(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(getEmbeddedHTML()))
}

func (s *APIServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	used, cap, err := s.storage.GetStorageStats()
	if err != nil {
		http.Error(w, "Failed to get storage stats", http.StatusInternalServerError)
		return
	}

	captures, err := s.storage.ListCaptures()
	if err != nil {
		http.Error(w, "Failed to list captures", http.StatusInternalServerError)
		return
	}

	percent := 0
	if cap > 0 {
		percent = int((used * 100) / cap)
	}

	state := "streaming"
	if !s.pipeline.CameraReady() {
		state = "camera_unavailable"
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Status: state,
		Storage: StorageStats{
			UsedBytes: used,
			CapBytes:  cap,
			UsedGB:    float64(used) / BytesPerGB,
			CapGB:     s.config.StorageCapGB,
			Percent:   percent,
		},
		Pipeline: s.pipeline.Stats(),
		Captures: len(captures),
		Uptime:   fmt.Sprintf("%d seconds", int(time.Since(startTime).Seconds())),
	})
}

func (s *APIServer) handleGetAuthToken(w http.ResponseWriter, r *http.Request) {
	token, expires, err := s.auth.GenerateStreamToken()
	if err != nil {
		s.logger.Errorf("Failed to issue stream token: %v", err)
		http.Error(w, "Failed to issue token", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_at": expires,
	})
}
