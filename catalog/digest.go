package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"picamstream/pipeline"
)

// DigestResult summarizes one Digest run
type DigestResult struct {
	Scanned int `json:"scanned"`
	Indexed int `json:"indexed"`
	Known   int `json:"known"`
	Skipped int `json:"skipped"` // not a capture filename
	Days    int `json:"days"`    // days that received new entries
}

// Digest indexes every capture in dir that the journal does not know yet.
// Filenames that do not parse as captures are skipped.
func (j *Journal) Digest(dir string) (DigestResult, error) {
	var res DigestResult

	files, err := os.ReadDir(dir)
	if err != nil {
		return res, fmt.Errorf("failed to read capture directory: %w", err)
	}

	pending := make(map[string][]Entry)
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		res.Scanned++

		capturedAt, err := pipeline.ParseCaptureName(f.Name())
		if err != nil {
			res.Skipped++
			continue
		}
		info, err := f.Info()
		if err != nil {
			res.Skipped++
			continue
		}

		key := DayFile(capturedAt)
		pending[key] = append(pending[key], Entry{
			Name:       f.Name(),
			Path:       filepath.Join(dir, f.Name()),
			CapturedAt: capturedAt,
			Size:       info.Size(),
		})
	}

	for _, entries := range pending {
		day := entries[0].CapturedAt
		known, err := j.Query(day)
		if err != nil {
			return res, err
		}
		seen := make(map[string]struct{}, len(known))
		for _, e := range known {
			seen[e.Name] = struct{}{}
		}

		var fresh []Entry
		for _, e := range entries {
			if _, ok := seen[e.Name]; ok {
				res.Known++
				continue
			}
			fresh = append(fresh, e)
		}
		if len(fresh) == 0 {
			continue
		}
		if err := j.Append(fresh...); err != nil {
			return res, err
		}
		res.Indexed += len(fresh)
		res.Days++
	}

	return res, nil
}

// Range returns entries captured in [from, to], across day journals
func (j *Journal) Range(from, to time.Time) ([]Entry, error) {
	var out []Entry
	from = from.Local()
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.Local)
	for day := start; !day.After(to); day = day.AddDate(0, 0, 1) {
		entries, err := j.Query(day)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if !e.CapturedAt.Before(from) && !e.CapturedAt.After(to) {
				out = append(out, e)
			}
		}
	}
	return out, nil
}
