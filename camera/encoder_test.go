package camera

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
	"time"

	"picamstream/pipeline"
)

func testJPEG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("jpeg.Encode: %v", err)
	}
	return buf.Bytes()
}

func decodeJPEG(t *testing.T, data []byte) image.Image {
	t.Helper()
	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a JPEG: %v", err)
	}
	return img
}

func TestJPEGEncoder_Formats(t *testing.T) {
	yuyv := make([]byte, 4*2*2)
	for i := 0; i < len(yuyv); i += 4 {
		yuyv[i], yuyv[i+1], yuyv[i+2], yuyv[i+3] = 128, 128, 128, 128
	}
	rgba := make([]byte, 4*2*4)
	for i := range rgba {
		rgba[i] = 200
	}

	tests := []struct {
		name  string
		frame *pipeline.Frame
	}{
		{"mjpeg", &pipeline.Frame{Format: pipeline.FormatMJPEG, Width: 16, Height: 8, Data: testJPEG(t, 16, 8, color.Gray{Y: 100})}},
		{"yuyv", &pipeline.Frame{Format: pipeline.FormatYUYV, Width: 4, Height: 2, Data: yuyv}},
		{"rgba", &pipeline.Frame{Format: pipeline.FormatRGBA, Width: 4, Height: 2, Data: rgba}},
	}

	enc := &JPEGEncoder{}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.frame.Seq = 3
			out, err := enc.Encode(tt.frame, 60)
			if err != nil {
				t.Fatalf("Encode() error: %v", err)
			}
			if out.Seq != 3 || out.ContentType != pipeline.JPEGContentType {
				t.Errorf("unexpected metadata: seq=%d type=%s", out.Seq, out.ContentType)
			}
			img := decodeJPEG(t, out.Data)
			if b := img.Bounds(); b.Dx() != tt.frame.Width || b.Dy() != tt.frame.Height {
				t.Errorf("output is %dx%d, want %dx%d", b.Dx(), b.Dy(), tt.frame.Width, tt.frame.Height)
			}
		})
	}
}

func TestJPEGEncoder_Errors(t *testing.T) {
	enc := &JPEGEncoder{}
	good := &pipeline.Frame{Format: pipeline.FormatMJPEG, Data: testJPEG(t, 8, 8, color.White)}

	tests := []struct {
		name    string
		frame   *pipeline.Frame
		quality int
	}{
		{"nil frame", nil, 60},
		{"empty data", &pipeline.Frame{Format: pipeline.FormatMJPEG}, 60},
		{"quality zero", good, 0},
		{"quality too high", good, 101},
		{"corrupt jpeg", &pipeline.Frame{Format: pipeline.FormatMJPEG, Data: []byte{0xFF, 0xD8, 0x00}}, 60},
		{"short yuyv", &pipeline.Frame{Format: pipeline.FormatYUYV, Width: 4, Height: 4, Data: make([]byte, 8)}, 60},
		{"odd yuyv width", &pipeline.Frame{Format: pipeline.FormatYUYV, Width: 3, Height: 1, Data: make([]byte, 6)}, 60},
		{"unknown format", &pipeline.Frame{Format: "H264", Data: []byte{1}}, 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := enc.Encode(tt.frame, tt.quality); err == nil {
				t.Error("Encode() should fail")
			}
		})
	}
}

func TestJPEGEncoder_QualityAffectsSize(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 4), G: uint8(y * 4), B: uint8((x * y) % 256), A: 255})
		}
	}
	frame := &pipeline.Frame{Format: pipeline.FormatRGBA, Width: 64, Height: 64, Data: img.Pix}

	enc := &JPEGEncoder{}
	low, err := enc.Encode(frame, 10)
	if err != nil {
		t.Fatalf("Encode(10) error: %v", err)
	}
	high, err := enc.Encode(frame, 95)
	if err != nil {
		t.Fatalf("Encode(95) error: %v", err)
	}
	if len(low.Data) >= len(high.Data) {
		t.Errorf("quality 10 produced %d bytes, quality 95 produced %d", len(low.Data), len(high.Data))
	}
}

func TestJPEGEncoder_Rotation(t *testing.T) {
	frame := &pipeline.Frame{Format: pipeline.FormatMJPEG, Data: testJPEG(t, 32, 16, color.White)}

	for _, tt := range []struct {
		degrees int
		w, h    int
	}{
		{0, 32, 16},
		{90, 16, 32},
		{180, 32, 16},
		{270, 16, 32},
	} {
		out, err := (&JPEGEncoder{Rotation: tt.degrees}).Encode(frame, 80)
		if err != nil {
			t.Fatalf("Encode() with rotation %d error: %v", tt.degrees, err)
		}
		b := decodeJPEG(t, out.Data).Bounds()
		if b.Dx() != tt.w || b.Dy() != tt.h {
			t.Errorf("rotation %d: got %dx%d, want %dx%d", tt.degrees, b.Dx(), b.Dy(), tt.w, tt.h)
		}
	}
}

func TestRotatePixels(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 1))
	red := color.RGBA{R: 255, A: 255}
	src.SetRGBA(0, 0, red)

	if got := rotate(src, 90).RGBAAt(0, 0); got != red {
		t.Errorf("90: top-left pixel should move to (0,0) of a 1x2 image, got %v", got)
	}
	if got := rotate(src, 180).RGBAAt(1, 0); got != red {
		t.Errorf("180: pixel should move to (1,0), got %v", got)
	}
	if got := rotate(src, 270).RGBAAt(0, 1); got != red {
		t.Errorf("270: pixel should move to (0,1), got %v", got)
	}
}

func TestJPEGEncoder_EmbedTimestamp(t *testing.T) {
	frame := &pipeline.Frame{
		Format:    pipeline.FormatMJPEG,
		Timestamp: time.Date(2024, 1, 2, 3, 4, 5, 0, time.Local),
		Data:      testJPEG(t, 200, 40, color.Black),
	}

	plain, err := (&JPEGEncoder{}).Encode(frame, 90)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	stamped, err := (&JPEGEncoder{EmbedTimestamp: true}).Encode(frame, 90)
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	brightest := func(img image.Image) uint32 {
		var max uint32
		b := img.Bounds()
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				r, _, _, _ := img.At(x, y).RGBA()
				if r > max {
					max = r
				}
			}
		}
		return max
	}

	if brightest(decodeJPEG(t, plain.Data)) > 0x4000 {
		t.Fatal("plain black frame should stay dark")
	}
	if brightest(decodeJPEG(t, stamped.Data)) < 0x8000 {
		t.Error("timestamp overlay should draw bright text")
	}
}
