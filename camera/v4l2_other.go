//go:build !linux

package camera

import (
	"fmt"
	"runtime"

	"picamstream/pipeline"
)

// V4L2Source is only available on Linux
type V4L2Source struct {
	device string
	logger Logger
}

func NewV4L2Source(device string, logger Logger) *V4L2Source {
	return &V4L2Source{device: device, logger: logger}
}

func (s *V4L2Source) Open() error {
	return fmt.Errorf("v4l2 capture is not supported on %s", runtime.GOOS)
}

func (s *V4L2Source) Configure(pipeline.Resolution, pipeline.PixelFormat) error { return ErrNotOpen }
func (s *V4L2Source) Start() error                                              { return ErrNotOpen }
func (s *V4L2Source) Capture() (*pipeline.Frame, error)                         { return nil, ErrNotOpen }
func (s *V4L2Source) Stop() error                                               { return nil }
func (s *V4L2Source) Close() error                                              { return nil }
