package pipeline

import "time"

// FrameSource wraps the physical camera device. The pipeline owns it exclusively:
// only the capture loop calls Capture, and Stop/Close run once at shutdown.
type FrameSource interface {
	Open() error
	Configure(res Resolution, format PixelFormat) error
	Start() error
	// Capture returns the next frame. Every error is treated as transient.
	Capture() (*Frame, error)
	Stop() error
	Close() error
}

// Encoder converts a raw frame into a displayable compressed image.
// It must be safe for concurrent use: the capture loop and the persist worker
// encode at different qualities at the same time.
type Encoder interface {
	Encode(f *Frame, quality int) (*EncodedFrame, error)
}

// Store persists encoded captures. Write returns the final location.
type Store interface {
	Write(name string, data []byte) (string, error)
}

// SavedCapture describes a capture that reached storage
type SavedCapture struct {
	Path       string
	Name       string
	Seq        uint64
	TraceID    string
	CapturedAt time.Time
	Size       int
}

// SaveObserver is told about every capture written by the persist worker.
// Implementations must not block; they run on the persist worker goroutine.
type SaveObserver interface {
	CaptureSaved(c SavedCapture)
}
