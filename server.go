package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"picamstream/catalog"
	"picamstream/pipeline"
)

// startTime is when the process came up, reported as uptime
var startTime = time.Now()

type APIServer struct {
	config     *Config
	configPath string
	pipeline   *pipeline.Pipeline
	storage    *StorageManager
	journal    *catalog.Journal
	logger     *Logger
	auth       *AuthMiddleware
	limiter    *RateLimiter
	server     *http.Server
	stopOnce   sync.Once
	stopCh     chan struct{}
	configMu   sync.Mutex
	pending    *Config // saved but not yet running
}

type StorageStats struct {
	UsedBytes int64   `json:"used_bytes"`
	CapBytes  int64   `json:"cap_bytes"`
	UsedGB    float64 `json:"used_gb"`
	CapGB     int     `json:"cap_gb"`
	Percent   int     `json:"percent"`
}

type StatusResponse struct {
	Status   string         `json:"status"`
	Storage  StorageStats   `json:"storage"`
	Pipeline pipeline.Stats `json:"pipeline"`
	Captures int            `json:"captures"`
	Uptime   string         `json:"uptime"`
}

func NewAPIServer(config *Config, configPath string, pipe *pipeline.Pipeline, storage *StorageManager, journal *catalog.Journal, creds *Credentials, logger *Logger) *APIServer {
	return &APIServer{
		config:     config,
		configPath: configPath,
		pipeline:   pipe,
		storage:    storage,
		journal:    journal,
		logger:     logger,
		auth:       NewAuthMiddleware(creds, config.TokenSecret, config.StreamTokenTTL()),
		limiter:    NewRateLimiter(config.RateLimitPerMinute),
		stopCh:     make(chan struct{}),
	}
}

// Handler builds the full route table. Everything except /health requires
// authentication; the live stream endpoints are also rate limited per client.
func (s *APIServer) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check (no auth)
	mux.HandleFunc("/health", s.handleHealth)

	limited := s.limiter.Middleware

	authed := http.NewServeMux()
	authed.HandleFunc("/", s.handleUI)
	authed.HandleFunc("/api/status", s.handleStatus)
	authed.HandleFunc("/api/config", s.handleConfig)
	authed.HandleFunc("/api/auth/token", s.handleGetAuthToken)
	authed.HandleFunc("/api/stream/frame", s.handleStreamFrame)
	authed.Handle("/api/stream/mjpeg", limited(http.HandlerFunc(s.handleStreamMJPEG)))
	authed.Handle("/api/stream/ws", limited(http.HandlerFunc(s.handleStreamWS)))
	authed.HandleFunc("/api/captures", s.handleListCaptures)
	authed.HandleFunc("/api/captures/download", s.handleDownloadCapture)
	authed.HandleFunc("/api/captures/latest", s.handleLatestCapture)
	authed.HandleFunc("/api/captures/days", s.handleCaptureDays)
	authed.HandleFunc("/api/captures/day", s.handleCaptureDay)
	authed.HandleFunc("/api/captures/export", s.handleExport)

	mux.Handle("/", s.auth.Check(authed))
	return mux
}

// TLSConfig allows TLS 1.2+ with ECDHE AES-256-GCM suites only
func TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		},
	}
}

// Start serves HTTPS until Stop. It returns nil after a clean stop.
func (s *APIServer) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.Handler(),
		TLSConfig:         TLSConfig(),
		ReadTimeout:       ServerReadTimeout,
		WriteTimeout:      ServerWriteTimeout,
		IdleTimeout:       ServerIdleTimeout,
		ReadHeaderTimeout: ServerReadHeaderTimeout,
		MaxHeaderBytes:    HTTPMaxHeaderBytes,
	}

	go s.limiter.Run(s.stopCh)

	s.logger.Printf("HTTPS server starting on port %d", s.config.Port)
	err := s.server.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop waits for in-flight requests until ctx expires, then closes the rest
func (s *APIServer) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.server == nil {
			return
		}
		if err = s.server.Shutdown(ctx); err != nil {
			s.server.Close()
		}
	})
	return err
}
