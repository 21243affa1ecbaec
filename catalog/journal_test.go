package catalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"picamstream/pipeline"
)

func at(day, hour, min int) time.Time {
	return time.Date(2024, 5, day, hour, min, 0, 0, time.Local)
}

func TestJournal_AppendAndQuery(t *testing.T) {
	j, err := NewJournal(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("NewJournal() error: %v", err)
	}

	err = j.Append(
		Entry{Name: "b", CapturedAt: at(1, 10, 5), Size: 2},
		Entry{Name: "a", CapturedAt: at(1, 10, 0), Size: 1},
		Entry{Name: "c", CapturedAt: at(2, 0, 1), Size: 3},
	)
	if err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	day1, err := j.Query(at(1, 23, 0))
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(day1) != 2 || day1[0].Name != "a" || day1[1].Name != "b" {
		t.Fatalf("Query(day 1) = %+v, want a then b", day1)
	}
	if !day1[0].CapturedAt.Equal(at(1, 10, 0)) {
		t.Errorf("CapturedAt = %v, want %v", day1[0].CapturedAt, at(1, 10, 0))
	}

	empty, err := j.Query(at(9, 0, 0))
	if err != nil || len(empty) != 0 {
		t.Errorf("Query(unknown day) = %v, %v; want empty", empty, err)
	}

	days, err := j.Days()
	if err != nil {
		t.Fatalf("Days() error: %v", err)
	}
	if len(days) != 2 || days[0].Day() != 1 || days[1].Day() != 2 {
		t.Errorf("Days() = %v", days)
	}
}

func TestJournal_DayFile(t *testing.T) {
	if got := DayFile(at(7, 12, 0)); got != "files_2024_05_07.journal" {
		t.Errorf("DayFile() = %q", got)
	}
}

func TestJournal_TornTailIgnored(t *testing.T) {
	dir := t.TempDir()
	j, _ := NewJournal(dir, nil)

	if err := j.Append(Entry{Name: "whole", CapturedAt: at(3, 1, 0)}); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	f, err := os.OpenFile(filepath.Join(dir, DayFile(at(3, 0, 0))), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	f.Write([]byte{0, 0, 0, 50, 0x81}) // promises 50 bytes, delivers 1
	f.Close()

	entries, err := j.Query(at(3, 0, 0))
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(entries) != 1 || entries[0].Name != "whole" {
		t.Errorf("Query() = %+v, want only the complete record", entries)
	}
}

func TestJournal_CaptureSaved(t *testing.T) {
	j, _ := NewJournal(t.TempDir(), nil)

	j.CaptureSaved(pipeline.SavedCapture{
		Path:       "/captures/captured_2024-05-04_08-00-00-000.jpg",
		Name:       "captured_2024-05-04_08-00-00-000.jpg",
		Seq:        40,
		TraceID:    "abc",
		CapturedAt: at(4, 8, 0),
		Size:       1234,
	})

	entries, err := j.Query(at(4, 0, 0))
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if e := entries[0]; e.Seq != 40 || e.TraceID != "abc" || e.Size != 1234 {
		t.Errorf("entry = %+v", e)
	}
}
