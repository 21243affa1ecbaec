package main

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"
)

// handleExport concatenates the captures indexed between ?start and ?end
// (RFC3339) into one motion-JPEG download. Captures already removed by the
// storage cap are skipped.
func (s *APIServer) handleExport(w http.ResponseWriter, r *http.Request) {
	start, err := time.Parse(time.RFC3339, r.URL.Query().Get("start"))
	if err != nil {
		http.Error(w, "Invalid start time, expected RFC3339", http.StatusBadRequest)
		return
	}
	end, err := time.Parse(time.RFC3339, r.URL.Query().Get("end"))
	if err != nil {
		http.Error(w, "Invalid end time, expected RFC3339", http.StatusBadRequest)
		return
	}
	if !end.After(start) {
		http.Error(w, "End time must be after start time", http.StatusBadRequest)
		return
	}
	if end.Sub(start) > MaxExportRange {
		http.Error(w, fmt.Sprintf("Export range is limited to %v", MaxExportRange), http.StatusBadRequest)
		return
	}

	entries, err := s.journal.Range(start, end)
	if err != nil {
		s.logger.Errorf("Export: failed to query catalog: %v", err)
		http.Error(w, "Failed to read catalog", http.StatusInternalServerError)
		return
	}
	if len(entries) == 0 {
		http.Error(w, "No captures in the requested range", http.StatusNotFound)
		return
	}

	filename := fmt.Sprintf("export_%s%s", start.Local().Format("2006-01-02_15-04-05"), ExtensionMJPEG)
	w.Header().Set("Content-Type", ContentTypeMJPEGFile)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))

	s.logger.Printf("Exporting %d capture(s) from %s to %s",
		len(entries), start.Format(time.RFC3339), end.Format(time.RFC3339))

	var written, skipped int
	for _, e := range entries {
		if err := r.Context().Err(); err != nil {
			return
		}
		data, err := s.storage.ReadCapture(e.Name)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				s.logger.Warnf("Export: skipping %s: %v", e.Name, err)
			}
			skipped++
			continue
		}
		if _, err := w.Write(data); err != nil {
			s.logger.Debugf("Export aborted by client: %v", err)
			return
		}
		written++
	}

	if written == 0 {
		// Nothing has been written yet, so the status can still change
		w.Header().Del("Content-Disposition")
		http.Error(w, "Captures in the requested range are no longer stored", http.StatusGone)
		return
	}
	s.logger.Printf("Export complete: %d frame(s), %d skipped", written, skipped)
}
