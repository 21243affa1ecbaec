package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"picamstream/pipeline"
)

const wsWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
}

func setNoCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}

// handleStreamFrame serves the most recent encoded frame as a single JPEG
func (s *APIServer) handleStreamFrame(w http.ResponseWriter, r *http.Request) {
	frame := s.pipeline.LatestFrame()
	if frame == nil {
		s.logger.Debugf("/api/stream/frame: no frames available yet")
		http.Error(w, "Camera is initializing - no frames available yet", http.StatusServiceUnavailable)
		return
	}

	setNoCache(w)
	w.Header().Set("Content-Type", pipeline.JPEGContentType)
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(frame.Data)))
	w.Write(frame.Data)
}

// handleStreamMJPEG serves the live multipart stream until the viewer leaves
// or the pipeline shuts down
func (s *APIServer) handleStreamMJPEG(w http.ResponseWriter, r *http.Request) {
	if !s.pipeline.CameraReady() {
		http.Error(w, "Camera not initialized", http.StatusServiceUnavailable)
		return
	}
	if _, ok := w.(http.Flusher); !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	setNoCache(w)
	w.Header().Set("Content-Type", pipeline.MultipartContentType)
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)

	session := s.pipeline.NewSession()
	s.logger.Printf("MJPEG viewer %s connected from %s", session.ID, clientIP(r))

	err := session.Run(r.Context(), pipeline.NewMultipartWriter(w))
	if err != nil {
		s.logger.Debugf("MJPEG viewer %s: %v", session.ID, err)
	}
	s.logger.Printf("MJPEG viewer %s disconnected after %d frames", session.ID, session.Sent())
}

// wsPartWriter sends each frame as one binary WebSocket message
type wsPartWriter struct {
	conn *websocket.Conn
}

func (w wsPartWriter) WritePart(f *pipeline.EncodedFrame) error {
	w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.conn.WriteMessage(websocket.BinaryMessage, f.Data)
}

// handleStreamWS streams frames over a WebSocket for clients that cannot
// consume multipart responses
func (s *APIServer) handleStreamWS(w http.ResponseWriter, r *http.Request) {
	if !s.pipeline.CameraReady() {
		http.Error(w, "Camera not initialized", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		s.logger.Debugf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// The read side only watches for the client going away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	session := s.pipeline.NewSession()
	s.logger.Printf("WebSocket viewer %s connected from %s", session.ID, clientIP(r))

	if err := session.Run(ctx, wsPartWriter{conn: conn}); err != nil {
		s.logger.Debugf("WebSocket viewer %s: %v", session.ID, err)
	}

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.logger.Printf("WebSocket viewer %s disconnected after %d frames", session.ID, session.Sent())
}
