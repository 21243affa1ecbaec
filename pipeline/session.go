package pipeline

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

// Multipart stream framing shared by every viewer
const (
	Boundary             = "frame"
	MultipartContentType = "multipart/x-mixed-replace; boundary=" + Boundary
	JPEGContentType      = "image/jpeg"
)

// PartWriter delivers one encoded frame to a viewer
type PartWriter interface {
	WritePart(f *EncodedFrame) error
}

type flusher interface {
	Flush()
}

// MultipartWriter writes frames as parts of a multipart/x-mixed-replace body
type MultipartWriter struct {
	w io.Writer
}

func NewMultipartWriter(w io.Writer) *MultipartWriter {
	return &MultipartWriter{w: w}
}

// WritePart writes --frame\r\nContent-Type: ...\r\n\r\n<data>\r\n and flushes
func (m *MultipartWriter) WritePart(f *EncodedFrame) error {
	contentType := f.ContentType
	if contentType == "" {
		contentType = JPEGContentType
	}
	if _, err := fmt.Fprintf(m.w, "--%s\r\nContent-Type: %s\r\n\r\n", Boundary, contentType); err != nil {
		return err
	}
	if _, err := m.w.Write(f.Data); err != nil {
		return err
	}
	if _, err := io.WriteString(m.w, "\r\n"); err != nil {
		return err
	}
	if fl, ok := m.w.(flusher); ok {
		fl.Flush()
	}
	return nil
}

// Session streams frames to one connected viewer
type Session struct {
	ID      string
	sub     *Subscription
	signal  *Signal
	timeout time.Duration
	logger  Logger
	sent    atomic.Uint64
}

// Run writes frames until ctx ends (connection closed), a write fails, or
// shutdown fires. The subscription is always released before returning.
func (s *Session) Run(ctx context.Context, w PartWriter) error {
	defer s.sub.Close()

	s.logger.Debugf("Viewer session %s started", s.ID)
	defer func() {
		s.logger.Debugf("Viewer session %s ended after %d frames", s.ID, s.sent.Load())
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.signal.Done():
			return nil
		default:
		}

		frame, ok := s.sub.Next(s.timeout)
		if !ok {
			if s.sub.Closed() {
				return nil
			}
			// Transient emptiness, wait again
			continue
		}

		if err := w.WritePart(frame); err != nil {
			return fmt.Errorf("session %s: write frame %d: %w", s.ID, frame.Seq, err)
		}
		s.sent.Add(1)
	}
}

// Sent returns the number of frames delivered so far
func (s *Session) Sent() uint64 {
	return s.sent.Load()
}

// NewSession subscribes a new viewer
func (b *Broadcaster) NewSession() *Session {
	sub := b.Subscribe()
	return &Session{
		ID:      sub.ID,
		sub:     sub,
		signal:  b.signal,
		timeout: b.popTimeout,
		logger:  b.logger,
	}
}
