package pipeline

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeSource produces tiny MJPEG frames and counts lifecycle calls
type fakeSource struct {
	openErr      error
	configureErr error
	failFirst    int // fail this many Capture calls before succeeding
	limit        int // fire onLimit after this many frames (0 = never)
	onLimit      func()

	opens, configures, starts, stops, closes atomic.Int32
	calls, frames                            atomic.Int64
}

func (s *fakeSource) Open() error {
	s.opens.Add(1)
	return s.openErr
}

func (s *fakeSource) Configure(Resolution, PixelFormat) error {
	s.configures.Add(1)
	return s.configureErr
}

func (s *fakeSource) Start() error {
	s.starts.Add(1)
	return nil
}

func (s *fakeSource) Capture() (*Frame, error) {
	n := s.calls.Add(1)
	if n <= int64(s.failFirst) {
		return nil, fmt.Errorf("capture %d: device busy", n)
	}
	produced := s.frames.Add(1)
	if s.limit > 0 && produced == int64(s.limit) && s.onLimit != nil {
		s.onLimit()
	}
	return &Frame{
		Timestamp: time.Now(),
		Width:     2,
		Height:    2,
		Format:    FormatMJPEG,
		Data:      []byte{0xFF, 0xD8, byte(produced), 0xFF, 0xD9},
	}, nil
}

func (s *fakeSource) Stop() error {
	s.stops.Add(1)
	return nil
}

func (s *fakeSource) Close() error {
	s.closes.Add(1)
	return nil
}

// fakeEncoder passes data through, optionally failing at one quality
type fakeEncoder struct {
	failQuality int
}

func (e *fakeEncoder) Encode(f *Frame, quality int) (*EncodedFrame, error) {
	if e.failQuality != 0 && quality == e.failQuality {
		return nil, errors.New("encoder rejected frame")
	}
	data := make([]byte, len(f.Data))
	copy(data, f.Data)
	return &EncodedFrame{
		Seq:         f.Seq,
		Timestamp:   f.Timestamp,
		ContentType: JPEGContentType,
		Data:        data,
	}, nil
}

// fakeStore records writes and fails the first failFirst of them
type fakeStore struct {
	mu        sync.Mutex
	failFirst int
	delay     time.Duration
	attempts  int
	names     []string
}

func (s *fakeStore) Write(name string, data []byte) (string, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.attempts <= s.failFirst {
		return "", errors.New("disk full")
	}
	s.names = append(s.names, name)
	return "/captures/" + name, nil
}

func (s *fakeStore) saved() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.names...)
}

// recordingLogger keeps every line for assertions
type recordingLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *recordingLogger) Printf(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, v...))
}

func (l *recordingLogger) Debugf(format string, v ...interface{}) {
	l.Printf("[DEBUG] "+format, v...)
}

func (l *recordingLogger) count(substr string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, line := range l.lines {
		if strings.Contains(line, substr) {
			n++
		}
	}
	return n
}

type observerFunc func(SavedCapture)

func (f observerFunc) CaptureSaved(c SavedCapture) { f(c) }

// eventually polls cond until it holds or the deadline passes
func eventually(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", d, msg)
}

func closedWithin(ch <-chan struct{}, d time.Duration) bool {
	select {
	case <-ch:
		return true
	case <-time.After(d):
		return false
	}
}
