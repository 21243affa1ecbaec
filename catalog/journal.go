// Package catalog indexes stored captures into per-day journals.
//
// Each day has one file, files_YYYY_MM_DD.journal, holding a sequence of
// length-prefixed msgpack records (4 bytes big endian + payload).
package catalog

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"picamstream/pipeline"
)

const (
	journalPrefix = "files_"
	journalExt    = ".journal"
	dayLayout     = "2006_01_02"

	maxRecordSize = 64 * 1024
)

// Entry is one indexed capture
type Entry struct {
	Name       string    `msgpack:"name" json:"name"`
	Path       string    `msgpack:"path" json:"path"`
	CapturedAt time.Time `msgpack:"captured_at" json:"captured_at"`
	Size       int64     `msgpack:"size" json:"size"`
	TraceID    string    `msgpack:"trace_id,omitempty" json:"trace_id,omitempty"`
	Seq        uint64    `msgpack:"seq,omitempty" json:"seq,omitempty"`
}

// Journal appends and queries day journals in one directory
type Journal struct {
	dir    string
	logger pipeline.Logger
	mu     sync.Mutex
}

func NewJournal(dir string, logger pipeline.Logger) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create catalog directory: %w", err)
	}
	return &Journal{dir: dir, logger: logger}, nil
}

// DayFile returns the journal filename for the local day of t
func DayFile(t time.Time) string {
	return journalPrefix + t.Local().Format(dayLayout) + journalExt
}

func (j *Journal) dayPath(t time.Time) string {
	return filepath.Join(j.dir, DayFile(t))
}

// Append writes entries to their day journals
func (j *Journal) Append(entries ...Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	byDay := make(map[string][]Entry)
	for _, e := range entries {
		p := j.dayPath(e.CapturedAt)
		byDay[p] = append(byDay[p], e)
	}

	for path, dayEntries := range byDay {
		if err := appendRecords(path, dayEntries); err != nil {
			return err
		}
	}
	return nil
}

func appendRecords(path string, entries []Entry) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open journal %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	prefix := make([]byte, 4)
	for _, e := range entries {
		data, err := msgpack.Marshal(&e)
		if err != nil {
			return fmt.Errorf("failed to marshal entry %s: %w", e.Name, err)
		}
		binary.BigEndian.PutUint32(prefix, uint32(len(data)))
		if _, err := w.Write(prefix); err != nil {
			return err
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to write journal %s: %w", filepath.Base(path), err)
	}
	return f.Sync()
}

// Query returns every entry recorded for the local day of t, oldest first.
// A torn record at the end of the file (crash mid-append) is ignored.
func (j *Journal) Query(day time.Time) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	entries, err := j.readDay(j.dayPath(day))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(entries, func(a, b int) bool {
		return entries[a].CapturedAt.Before(entries[b].CapturedAt)
	})
	return entries, nil
}

func (j *Journal) readDay(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	prefix := make([]byte, 4)
	var entries []Entry
	for {
		if _, err := io.ReadFull(r, prefix); err != nil {
			if err == io.EOF {
				return entries, nil
			}
			j.warnTorn(path, err)
			return entries, nil
		}

		size := binary.BigEndian.Uint32(prefix)
		if size > maxRecordSize {
			return entries, fmt.Errorf("journal %s: record of %d bytes exceeds limit", filepath.Base(path), size)
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			j.warnTorn(path, err)
			return entries, nil
		}

		var e Entry
		if err := msgpack.Unmarshal(data, &e); err != nil {
			return entries, fmt.Errorf("journal %s: failed to unmarshal record: %w", filepath.Base(path), err)
		}
		entries = append(entries, e)
	}
}

func (j *Journal) warnTorn(path string, err error) {
	if j.logger != nil {
		j.logger.Printf("[WARN] Ignoring torn record at end of %s: %v", filepath.Base(path), err)
	}
}

// Days lists the days that have a journal, oldest first
func (j *Journal) Days() ([]time.Time, error) {
	entries, err := os.ReadDir(j.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog directory: %w", err)
	}

	var days []time.Time
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, journalPrefix) || !strings.HasSuffix(name, journalExt) {
			continue
		}
		day, err := time.ParseInLocation(dayLayout, strings.TrimSuffix(strings.TrimPrefix(name, journalPrefix), journalExt), time.Local)
		if err != nil {
			continue
		}
		days = append(days, day)
	}
	sort.Slice(days, func(a, b int) bool { return days[a].Before(days[b]) })
	return days, nil
}

// CaptureSaved records a capture written by the persist worker
func (j *Journal) CaptureSaved(c pipeline.SavedCapture) {
	err := j.Append(Entry{
		Name:       c.Name,
		Path:       c.Path,
		CapturedAt: c.CapturedAt,
		Size:       int64(c.Size),
		TraceID:    c.TraceID,
		Seq:        c.Seq,
	})
	if err != nil && j.logger != nil {
		j.logger.Printf("Failed to index capture %s: %v", c.Name, err)
	}
}
