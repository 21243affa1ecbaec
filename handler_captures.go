package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"picamstream/pipeline"
)

const dateLayout = "2006-01-02"

// handleListCaptures lists saved captures newest first. ?limit=N trims the list.
func (s *APIServer) handleListCaptures(w http.ResponseWriter, r *http.Request) {
	captures, err := s.storage.ListCaptures()
	if err != nil {
		http.Error(w, "Failed to list captures", http.StatusInternalServerError)
		return
	}

	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		if limit < len(captures) {
			captures = captures[:limit]
		}
	}
	if captures == nil {
		captures = []CaptureInfo{}
	}

	writeJSON(w, http.StatusOK, captures)
}

func (s *APIServer) handleDownloadCapture(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "Missing name parameter", http.StatusBadRequest)
		return
	}
	s.serveCapture(w, name, true)
}

func (s *APIServer) handleLatestCapture(w http.ResponseWriter, r *http.Request) {
	latest, ok, err := s.storage.LatestCapture()
	if err != nil {
		http.Error(w, "Failed to list captures", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "No captures available", http.StatusNotFound)
		return
	}
	s.serveCapture(w, latest.Name, false)
}

func (s *APIServer) serveCapture(w http.ResponseWriter, name string, attachment bool) {
	data, err := s.storage.ReadCapture(name)
	switch {
	case errors.Is(err, ErrInvalidCaptureName):
		http.Error(w, "Invalid capture name", http.StatusBadRequest)
		return
	case errors.Is(err, os.ErrNotExist):
		http.Error(w, "Capture not found", http.StatusNotFound)
		return
	case err != nil:
		s.logger.Errorf("Failed to read capture %s: %v", name, err)
		http.Error(w, "Failed to read capture", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", pipeline.JPEGContentType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	if attachment {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	}
	w.Write(data)
}

// handleCaptureDays lists the days that have an index journal
func (s *APIServer) handleCaptureDays(w http.ResponseWriter, r *http.Request) {
	days, err := s.journal.Days()
	if err != nil {
		http.Error(w, "Failed to read catalog", http.StatusInternalServerError)
		return
	}
	out := make([]string, 0, len(days))
	for _, d := range days {
		out = append(out, d.Format(dateLayout))
	}
	writeJSON(w, http.StatusOK, out)
}

// handleCaptureDay returns the index entries for ?date=YYYY-MM-DD
func (s *APIServer) handleCaptureDay(w http.ResponseWriter, r *http.Request) {
	day, err := time.ParseInLocation(dateLayout, r.URL.Query().Get("date"), time.Local)
	if err != nil {
		http.Error(w, "Invalid date, expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	entries, err := s.journal.Query(day)
	if err != nil {
		s.logger.Errorf("Failed to query catalog for %s: %v", day.Format(dateLayout), err)
		http.Error(w, "Failed to read catalog", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"date":     day.Format(dateLayout),
		"count":    len(entries),
		"captures": entries,
	})
}
