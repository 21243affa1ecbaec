package camera

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	"picamstream/pipeline"
)

// Source backends
const (
	SourceAuto         = "auto"
	SourceV4L2         = "v4l2"
	SourceMediaDevices = "mediadevices"
	SourceLibcamera    = "libcamera"
)

// ErrCaptureTimeout marks a device that had no frame ready in time. Transient.
var ErrCaptureTimeout = errors.New("camera: timed out waiting for frame")

// ErrNotOpen is returned when a source is used before Open or after Close
var ErrNotOpen = errors.New("camera: device not open")

// CameraConfig represents the configuration for the camera
type CameraConfig struct {
	Source         string `json:"source" yaml:"source"`
	Device         string `json:"device" yaml:"device"`
	ResWidth       int    `json:"res_width" yaml:"res_width"`
	ResHeight      int    `json:"res_height" yaml:"res_height"`
	PixelFormat    string `json:"pixel_format" yaml:"pixel_format"`
	FPS            int    `json:"-" yaml:"-"` // copied from the pipeline frame rate
	Rotation       int    `json:"rotation" yaml:"rotation"`
	EmbedTimestamp bool   `json:"embed_timestamp" yaml:"embed_timestamp"`
}

// Resolution returns the requested capture size
func (c CameraConfig) Resolution() pipeline.Resolution {
	return pipeline.Resolution{Width: c.ResWidth, Height: c.ResHeight}
}

// Format returns the requested pixel format, defaulting to MJPEG
func (c CameraConfig) Format() pipeline.PixelFormat {
	switch strings.ToUpper(c.PixelFormat) {
	case "YUYV":
		return pipeline.FormatYUYV
	case "RGBA":
		return pipeline.FormatRGBA
	default:
		return pipeline.FormatMJPEG
	}
}

// DeviceOrDefault returns the configured device path or the platform default
func (c CameraConfig) DeviceOrDefault() string {
	if c.Device != "" {
		return c.Device
	}
	return "/dev/video0"
}

// NewSource picks the frame source backend for the config.
// "auto" prefers a CSI camera through rpicam-vid, then V4L2 on Linux,
// then mediadevices elsewhere.
func NewSource(cfg CameraConfig, logger Logger) (pipeline.FrameSource, error) {
	source := strings.ToLower(cfg.Source)
	if source == "" || source == SourceAuto {
		source = detectSource(logger)
		logger.Printf("Camera source auto-detected: %s", source)
	}

	switch source {
	case SourceV4L2:
		return NewV4L2Source(cfg.DeviceOrDefault(), logger), nil
	case SourceMediaDevices:
		return NewMediaDevicesSource(cfg.Device, logger), nil
	case SourceLibcamera:
		return NewLibcameraSource(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown camera source %q", cfg.Source)
	}
}

func detectSource(logger Logger) string {
	if IsCSICamera(logger) {
		return SourceLibcamera
	}
	if runtime.GOOS == "linux" {
		return SourceV4L2
	}
	return SourceMediaDevices
}
