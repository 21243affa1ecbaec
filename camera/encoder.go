package camera

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"picamstream/pipeline"
)

const timestampLayout = "2006-01-02 15:04:05"

// JPEGEncoder turns raw frames into JPEG images. It holds no mutable state and
// is safe for concurrent use.
type JPEGEncoder struct {
	EmbedTimestamp bool
	Rotation       int // 0, 90, 180 or 270 degrees clockwise
}

func NewJPEGEncoder(cfg CameraConfig) *JPEGEncoder {
	return &JPEGEncoder{
		EmbedTimestamp: cfg.EmbedTimestamp,
		Rotation:       cfg.Rotation,
	}
}

func (e *JPEGEncoder) needsProcessing() bool {
	return e.EmbedTimestamp || e.Rotation != 0
}

// Encode compresses f at quality (1-100)
func (e *JPEGEncoder) Encode(f *pipeline.Frame, quality int) (*pipeline.EncodedFrame, error) {
	if f == nil || len(f.Data) == 0 {
		return nil, fmt.Errorf("empty frame")
	}
	if quality < 1 || quality > 100 {
		return nil, fmt.Errorf("jpeg quality %d out of range", quality)
	}

	img, err := decodeFrame(f)
	if err != nil {
		return nil, fmt.Errorf("decode frame %d: %w", f.Seq, err)
	}

	if e.needsProcessing() {
		rgba := toRGBA(img)
		if e.Rotation != 0 {
			rgba = rotate(rgba, e.Rotation)
		}
		if e.EmbedTimestamp {
			drawTimestamp(rgba, f.Timestamp.Format(timestampLayout))
		}
		img = rgba
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode frame %d: %w", f.Seq, err)
	}

	return &pipeline.EncodedFrame{
		Seq:         f.Seq,
		Timestamp:   f.Timestamp,
		ContentType: pipeline.JPEGContentType,
		Data:        buf.Bytes(),
	}, nil
}

func decodeFrame(f *pipeline.Frame) (image.Image, error) {
	switch f.Format {
	case pipeline.FormatMJPEG, "":
		return jpeg.Decode(bytes.NewReader(f.Data))
	case pipeline.FormatYUYV:
		return yuyvToYCbCr(f.Data, f.Width, f.Height)
	case pipeline.FormatRGBA:
		if len(f.Data) < f.Width*f.Height*4 {
			return nil, fmt.Errorf("rgba frame too short: %d bytes for %dx%d", len(f.Data), f.Width, f.Height)
		}
		return &image.RGBA{
			Pix:    f.Data,
			Stride: f.Width * 4,
			Rect:   image.Rect(0, 0, f.Width, f.Height),
		}, nil
	default:
		return nil, fmt.Errorf("unsupported pixel format %q", f.Format)
	}
}

// yuyvToYCbCr unpacks YUYV 4:2:2 (Y0 Cb Y1 Cr per pixel pair)
func yuyvToYCbCr(data []byte, width, height int) (*image.YCbCr, error) {
	if width <= 0 || height <= 0 || width%2 != 0 {
		return nil, fmt.Errorf("invalid yuyv size %dx%d", width, height)
	}
	if len(data) < width*height*2 {
		return nil, fmt.Errorf("yuyv frame too short: %d bytes for %dx%d", len(data), width, height)
	}

	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio422)
	for y := 0; y < height; y++ {
		row := data[y*width*2 : (y+1)*width*2]
		for x := 0; x < width; x += 2 {
			i := x * 2
			img.Y[y*img.YStride+x] = row[i]
			img.Y[y*img.YStride+x+1] = row[i+2]
			c := y*img.CStride + x/2
			img.Cb[c] = row[i+1]
			img.Cr[c] = row[i+3]
		}
	}
	return img, nil
}

func rotate(src *image.RGBA, degrees int) *image.RGBA {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	var dst *image.RGBA
	switch degrees {
	case 90, 270:
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
	case 180:
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
	default:
		return src
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := src.RGBAAt(x, y)
			switch degrees {
			case 90:
				dst.SetRGBA(h-1-y, x, c)
			case 180:
				dst.SetRGBA(w-1-x, h-1-y, c)
			case 270:
				dst.SetRGBA(y, w-1-x, c)
			}
		}
	}
	return dst
}

// drawTimestamp writes text in the top-left corner on a translucent box
func drawTimestamp(img *image.RGBA, text string) {
	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: face,
	}

	width := d.MeasureString(text).Ceil()
	box := image.Rect(5, 5, 5+width+10, 5+face.Height+8)
	draw.Draw(img, box, image.NewUniform(color.RGBA{A: 128}), image.Point{}, draw.Over)

	d.Dot = fixed.P(box.Min.X+5, box.Min.Y+4+face.Ascent)
	d.DrawString(text)
}
