package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"picamstream/catalog"
	"picamstream/pipeline"
)

const (
	testUser     = "viewer"
	testPassword = "s3cret"
)

func testLogger() *Logger {
	return newLoggerTo(io.Discard, false)
}

func testCredentials(t *testing.T) *Credentials {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	return &Credentials{Username: testUser, PasswordHash: hash}
}

// stubSource produces tiny JPEG-looking frames as fast as it is asked
type stubSource struct {
	openErr error
	frames  atomic.Int64
	closes  atomic.Int32
}

func (s *stubSource) Open() error                                               { return s.openErr }
func (s *stubSource) Configure(pipeline.Resolution, pipeline.PixelFormat) error { return nil }
func (s *stubSource) Start() error                                              { return nil }
func (s *stubSource) Stop() error                                               { return nil }
func (s *stubSource) Close() error                                              { s.closes.Add(1); return nil }

func (s *stubSource) Capture() (*pipeline.Frame, error) {
	n := s.frames.Add(1)
	return &pipeline.Frame{
		Timestamp: time.Now(),
		Width:     2,
		Height:    2,
		Format:    pipeline.FormatMJPEG,
		Data:      []byte{0xFF, 0xD8, byte(n), 0xFF, 0xD9},
	}, nil
}

// copyEncoder passes the frame bytes through unchanged
type copyEncoder struct{}

func (copyEncoder) Encode(f *pipeline.Frame, quality int) (*pipeline.EncodedFrame, error) {
	if len(f.Data) == 0 {
		return nil, errors.New("empty frame")
	}
	return &pipeline.EncodedFrame{
		Seq:         f.Seq,
		Timestamp:   f.Timestamp,
		ContentType: pipeline.JPEGContentType,
		Data:        append([]byte(nil), f.Data...),
	}, nil
}

type testEnv struct {
	config   *Config
	storage  *StorageManager
	journal  *catalog.Journal
	pipeline *pipeline.Pipeline
	server   *APIServer
	http     *httptest.Server
}

// newTestEnv runs a full pipeline on a stub camera behind a plain HTTP test
// server. Pass start=false to leave the camera uninitialized.
func newTestEnv(t *testing.T, start bool, tweak func(*Config)) *testEnv {
	t.Helper()
	dir := t.TempDir()
	logger := testLogger()

	config := DefaultConfig()
	config.SaveDir = filepath.Join(dir, "captures")
	config.CatalogDir = filepath.Join(dir, "catalog")
	config.TokenSecret = "test-secret"
	config.FPS = 50
	config.SaveEveryN = 5
	if tweak != nil {
		tweak(config)
	}

	sm, err := NewStorageManager(config.SaveDir, config.StorageCapGB, logger)
	if err != nil {
		t.Fatalf("NewStorageManager: %v", err)
	}
	t.Cleanup(sm.Stop)

	journal, err := catalog.NewJournal(config.CatalogDir, logger)
	if err != nil {
		t.Fatalf("NewJournal: %v", err)
	}

	opts := config.PipelineOptions()
	opts.PopTimeout = 50 * time.Millisecond
	opts.ShutdownGrace = 200 * time.Millisecond
	opts.OpenRetryDelay = time.Millisecond

	pipe, err := pipeline.New(opts, &stubSource{}, copyEncoder{}, sm, logger, journal)
	if err != nil {
		t.Fatalf("pipeline.New: %v", err)
	}
	if start {
		if err := pipe.Start(context.Background()); err != nil {
			t.Fatalf("Start: %v", err)
		}
	}
	t.Cleanup(pipe.Shutdown)

	server := NewAPIServer(config, filepath.Join(dir, "config.json"), pipe, sm, journal, testCredentials(t), logger)
	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{
		config:   config,
		storage:  sm,
		journal:  journal,
		pipeline: pipe,
		server:   server,
		http:     ts,
	}
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, e.http.URL+path, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.SetBasicAuth(testUser, testPassword)
	resp, err := e.http.Client().Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// eventually polls cond until it holds or the deadline passes
func eventually(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v: %s", d, msg)
}
