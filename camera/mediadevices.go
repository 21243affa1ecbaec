package camera

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"sync"
	"time"

	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"

	"picamstream/pipeline"
)

// MediaDevicesSource captures through pion/mediadevices. Frames are delivered
// as RGBA regardless of the requested format.
type MediaDevicesSource struct {
	deviceID string
	logger   Logger

	mu     sync.Mutex
	opened bool
	res    pipeline.Resolution
	track  *mediadevices.VideoTrack
	reader video.Reader
}

func NewMediaDevicesSource(deviceID string, logger Logger) *MediaDevicesSource {
	return &MediaDevicesSource{deviceID: deviceID, logger: logger}
}

// Open checks that a video input is present
func (s *MediaDevicesSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range mediadevices.EnumerateDevices() {
		if d.Kind != mediadevices.VideoInput {
			continue
		}
		if s.deviceID == "" || d.DeviceID == s.deviceID || d.Label == s.deviceID {
			s.logger.Debugf("Using video input %s (%s)", d.Label, d.DeviceID)
			s.deviceID = d.DeviceID
			s.opened = true
			return nil
		}
	}
	return fmt.Errorf("no video input device found (wanted %q)", s.deviceID)
}

// Configure acquires the track. Only the resolution is negotiated.
func (s *MediaDevicesSource) Configure(res pipeline.Resolution, format pipeline.PixelFormat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		return ErrNotOpen
	}
	if format != pipeline.FormatRGBA {
		s.logger.Debugf("mediadevices delivers decoded frames, ignoring pixel format %s", format)
	}

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.Width = prop.Int(res.Width)
			c.Height = prop.Int(res.Height)
			c.DeviceID = prop.String(s.deviceID)
		},
	})
	if err != nil {
		return fmt.Errorf("GetUserMedia failed: %w", err)
	}

	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return errors.New("no video tracks in media stream")
	}
	track, ok := tracks[0].(*mediadevices.VideoTrack)
	if !ok {
		for _, t := range tracks {
			t.Close()
		}
		return fmt.Errorf("unexpected track type %T", tracks[0])
	}

	s.track = track
	s.res = res
	return nil
}

func (s *MediaDevicesSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.track == nil {
		return ErrNotOpen
	}
	s.reader = s.track.NewReader(false)
	return nil
}

func (s *MediaDevicesSource) Capture() (*pipeline.Frame, error) {
	s.mu.Lock()
	reader := s.reader
	s.mu.Unlock()

	if reader == nil {
		return nil, ErrNotOpen
	}

	img, release, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read frame: %w", err)
	}
	defer release()

	rgba := toRGBA(img)
	return &pipeline.Frame{
		Timestamp: time.Now(),
		Width:     rgba.Rect.Dx(),
		Height:    rgba.Rect.Dy(),
		Format:    pipeline.FormatRGBA,
		Data:      rgba.Pix,
	}, nil
}

func (s *MediaDevicesSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reader = nil
	if s.track == nil {
		return nil
	}
	err := s.track.Close()
	s.track = nil
	return err
}

func (s *MediaDevicesSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.opened = false
	return nil
}

// toRGBA copies img into a tightly packed RGBA image anchored at the origin
func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
