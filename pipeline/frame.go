package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// PixelFormat identifies the layout of Frame.Data
type PixelFormat string

const (
	FormatMJPEG PixelFormat = "MJPG" // Data is a complete JPEG image
	FormatYUYV  PixelFormat = "YUYV" // Packed 4:2:2, 2 bytes per pixel
	FormatRGBA  PixelFormat = "RGBA" // 4 bytes per pixel
)

// Resolution is the requested capture size in pixels
type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Frame is one raw image captured from the camera
type Frame struct {
	Seq       uint64
	Timestamp time.Time // microsecond resolution
	Width     int
	Height    int
	Format    PixelFormat
	Data      []byte
	TraceID   string
}

// Clone returns a deep copy so queues never share a mutable buffer
func (f *Frame) Clone() *Frame {
	c := *f
	c.Data = make([]byte, len(f.Data))
	copy(c.Data, f.Data)
	return &c
}

// EncodedFrame is an immutable compressed image shared by all viewers.
// Data must never be modified after creation.
type EncodedFrame struct {
	Seq         uint64
	Timestamp   time.Time
	ContentType string
	Data        []byte
}

// PersistRequest is a sampled frame waiting to be written to storage
type PersistRequest struct {
	Frame *Frame
	Stamp string // see FormatStamp
}

// stampLayout carries milliseconds after a '.', which FormatStamp swaps for '-'
// since time layouts only recognize fractional seconds after '.' or ','.
const stampLayout = "2006-01-02_15-04-05.000"

// FormatStamp renders t as YYYY-MM-DD_HH-MM-SS-mmm
func FormatStamp(t time.Time) string {
	s := t.Format(stampLayout)
	i := strings.LastIndexByte(s, '.')
	return s[:i] + "-" + s[i+1:]
}

// legacyStampLayout names captures written without milliseconds
const legacyStampLayout = "2006-01-02_15-04-05"

// ParseStamp is the inverse of FormatStamp, in local time. Second-precision
// stamps (YYYY-MM-DD_HH-MM-SS) are accepted too.
func ParseStamp(stamp string) (time.Time, error) {
	if len(stamp) == len(legacyStampLayout) {
		return time.ParseInLocation(legacyStampLayout, stamp, time.Local)
	}
	i := strings.LastIndexByte(stamp, '-')
	if i < 0 {
		return time.Time{}, fmt.Errorf("malformed stamp %q", stamp)
	}
	return time.ParseInLocation(stampLayout, stamp[:i]+"."+stamp[i+1:], time.Local)
}

// CapturePrefix and CaptureExt frame every stored filename
const (
	CapturePrefix = "captured_"
	CaptureExt    = ".jpg"
)

// NewPersistRequest builds the request for a frame, stamping it from the capture time
func NewPersistRequest(f *Frame) *PersistRequest {
	return &PersistRequest{
		Frame: f,
		Stamp: FormatStamp(f.Timestamp),
	}
}

// Filename derives the storage filename from the stamp
func (r *PersistRequest) Filename() string {
	return CapturePrefix + r.Stamp + CaptureExt
}

// ParseCaptureName extracts the capture time from a stored filename
func ParseCaptureName(name string) (time.Time, error) {
	if len(name) <= len(CapturePrefix)+len(CaptureExt) ||
		name[:len(CapturePrefix)] != CapturePrefix ||
		name[len(name)-len(CaptureExt):] != CaptureExt {
		return time.Time{}, fmt.Errorf("not a capture filename: %q", name)
	}
	stamp := name[len(CapturePrefix) : len(name)-len(CaptureExt)]
	t, err := ParseStamp(stamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse capture stamp %q: %w", stamp, err)
	}
	return t, nil
}
