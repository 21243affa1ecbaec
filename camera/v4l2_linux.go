//go:build linux

package camera

import (
	"fmt"
	"sync"
	"time"

	"github.com/blackjack/webcam"

	"picamstream/pipeline"
)

const frameWaitSeconds = 1

func fourCC(s string) webcam.PixelFormat {
	return webcam.PixelFormat(uint32(s[0]) | uint32(s[1])<<8 | uint32(s[2])<<16 | uint32(s[3])<<24)
}

// V4L2Source captures from a /dev/video* device
type V4L2Source struct {
	device string
	logger Logger

	mu     sync.Mutex
	cam    *webcam.Webcam
	format pipeline.PixelFormat
	width  int
	height int
}

func NewV4L2Source(device string, logger Logger) *V4L2Source {
	return &V4L2Source{device: device, logger: logger}
}

func (s *V4L2Source) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cam, err := webcam.Open(s.device)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", s.device, err)
	}
	s.cam = cam
	return nil
}

func (s *V4L2Source) Configure(res pipeline.Resolution, format pipeline.PixelFormat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cam == nil {
		return ErrNotOpen
	}

	want := fourCC(string(format))
	supported := s.cam.GetSupportedFormats()
	if _, ok := supported[want]; !ok {
		names := make([]string, 0, len(supported))
		for _, desc := range supported {
			names = append(names, desc)
		}
		return fmt.Errorf("pixel format %s not supported by %s (have %v)", format, s.device, names)
	}

	_, w, h, err := s.cam.SetImageFormat(want, uint32(res.Width), uint32(res.Height))
	if err != nil {
		return fmt.Errorf("failed to set image format: %w", err)
	}
	if int(w) != res.Width || int(h) != res.Height {
		s.logger.Printf("[WARN] Camera adjusted resolution to %dx%d", w, h)
	}

	if err := s.cam.SetBufferCount(2); err != nil {
		s.logger.Debugf("SetBufferCount failed: %v", err)
	}

	s.format = format
	s.width = int(w)
	s.height = int(h)
	return nil
}

func (s *V4L2Source) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cam == nil {
		return ErrNotOpen
	}
	return s.cam.StartStreaming()
}

func (s *V4L2Source) Capture() (*pipeline.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cam == nil {
		return nil, ErrNotOpen
	}

	if err := s.cam.WaitForFrame(frameWaitSeconds); err != nil {
		if _, ok := err.(*webcam.Timeout); ok {
			return nil, ErrCaptureTimeout
		}
		return nil, fmt.Errorf("wait for frame: %w", err)
	}

	buf, idx, err := s.cam.GetFrame()
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	if len(buf) == 0 {
		s.cam.ReleaseFrame(idx)
		return nil, fmt.Errorf("empty frame from %s", s.device)
	}

	// The buffer is mmapped and reused by the driver once released
	data := make([]byte, len(buf))
	copy(data, buf)
	if err := s.cam.ReleaseFrame(idx); err != nil {
		s.logger.Debugf("ReleaseFrame %d failed: %v", idx, err)
	}

	return &pipeline.Frame{
		Timestamp: time.Now(),
		Width:     s.width,
		Height:    s.height,
		Format:    s.format,
		Data:      data,
	}, nil
}

func (s *V4L2Source) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cam == nil {
		return nil
	}
	return s.cam.StopStreaming()
}

func (s *V4L2Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cam == nil {
		return nil
	}
	err := s.cam.Close()
	s.cam = nil
	return err
}
