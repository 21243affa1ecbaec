package camera

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"picamstream/pipeline"
)

const libcameraFrameWait = time.Second

// LibcameraSource captures from a CSI camera by running rpicam-vid with MJPEG
// output on stdout and splitting the byte stream into JPEG frames.
type LibcameraSource struct {
	cfg    CameraConfig
	logger Logger

	cmdMu  sync.Mutex
	cmd    *exec.Cmd
	opened bool
	res    pipeline.Resolution
	frames chan []byte
	exited chan struct{}
}

func NewLibcameraSource(cfg CameraConfig, logger Logger) *LibcameraSource {
	return &LibcameraSource{cfg: cfg, logger: logger}
}

// isLibcameraAvailable checks if rpicam-vid is installed
func isLibcameraAvailable(logger Logger) bool {
	_, err := exec.LookPath("rpicam-vid")
	if err != nil {
		logger.Debugf("rpicam-vid not found: %v", err)
		return false
	}
	return true
}

// IsCSICamera detects if a CSI camera is reachable through libcamera
func IsCSICamera(logger Logger) bool {
	if !isLibcameraAvailable(logger) {
		return false
	}

	cmd := exec.Command("rpicam-still", "--list-cameras")
	output, err := cmd.CombinedOutput()
	if err != nil {
		logger.Debugf("rpicam-still enumeration failed: %v", err)
		return false
	}

	out := strings.ToLower(string(output))
	return strings.Contains(out, "camera") && !strings.Contains(out, "no cameras available")
}

func (s *LibcameraSource) Open() error {
	if !isLibcameraAvailable(s.logger) {
		return errors.New("libcamera not available")
	}
	s.cmdMu.Lock()
	s.opened = true
	s.cmdMu.Unlock()
	return nil
}

// Configure records the size; rpicam-vid always produces MJPEG here
func (s *LibcameraSource) Configure(res pipeline.Resolution, format pipeline.PixelFormat) error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if !s.opened {
		return ErrNotOpen
	}
	if format != pipeline.FormatMJPEG {
		return fmt.Errorf("libcamera source only produces %s, not %s", pipeline.FormatMJPEG, format)
	}
	s.res = res
	return nil
}

func (s *LibcameraSource) args() []string {
	fps := s.cfg.FPS
	if fps <= 0 {
		fps = pipeline.DefaultFPS
	}
	args := []string{
		"-t", "0", // run until killed
		"--width", fmt.Sprintf("%d", s.res.Width),
		"--height", fmt.Sprintf("%d", s.res.Height),
		"--framerate", fmt.Sprintf("%d", fps),
		"--codec", "mjpeg",
		"--nopreview",
		"-o", "-",
	}
	// Rotation is applied by the encoder for every source
	return args
}

func (s *LibcameraSource) Start() error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if !s.opened {
		return ErrNotOpen
	}

	cmd := exec.Command("rpicam-vid", s.args()...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start rpicam-vid: %w", err)
	}

	s.cmd = cmd
	s.frames = make(chan []byte, 1)
	s.exited = make(chan struct{})

	go s.logStderr(stderr)
	go s.readFrames(stdout, s.frames, s.exited)
	go func() {
		if err := cmd.Wait(); err != nil {
			s.logger.Debugf("rpicam-vid exited: %v", err)
		}
	}()
	return nil
}

func (s *LibcameraSource) logStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		s.logger.Debugf("rpicam-vid: %s", scanner.Text())
	}
}

// readFrames keeps only the newest frame so the reader never blocks rpicam-vid
func (s *LibcameraSource) readFrames(r io.Reader, frames chan []byte, exited chan struct{}) {
	defer close(exited)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256*BytesPerKB), 2*MaxFrameSizeKB*BytesPerKB)
	scanner.Split(ScanJPEG)

	for scanner.Scan() {
		frame := make([]byte, len(scanner.Bytes()))
		copy(frame, scanner.Bytes())

		select {
		case frames <- frame:
		default:
			select {
			case <-frames:
			default:
			}
			frames <- frame
		}
	}
	if err := scanner.Err(); err != nil {
		s.logger.Printf("rpicam-vid stream error: %v", err)
	}
}

func (s *LibcameraSource) Capture() (*pipeline.Frame, error) {
	s.cmdMu.Lock()
	frames, exited := s.frames, s.exited
	res := s.res
	s.cmdMu.Unlock()

	if frames == nil {
		return nil, ErrNotOpen
	}

	select {
	case data := <-frames:
		return &pipeline.Frame{
			Timestamp: time.Now(),
			Width:     res.Width,
			Height:    res.Height,
			Format:    pipeline.FormatMJPEG,
			Data:      data,
		}, nil
	case <-exited:
		return nil, errors.New("rpicam-vid is not running")
	case <-time.After(libcameraFrameWait):
		return nil, ErrCaptureTimeout
	}
}

// Stop kills rpicam-vid
func (s *LibcameraSource) Stop() error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()

	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}
	err := s.cmd.Process.Kill()
	s.cmd = nil
	return err
}

func (s *LibcameraSource) Close() error {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	s.opened = false
	return nil
}
