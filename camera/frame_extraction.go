package camera

import (
	"bytes"
)

const (
	// MaxFrameSizeKB caps a single JPEG in an MJPEG byte stream; anything larger is resynced
	MaxFrameSizeKB = 2048
	BytesPerKB     = 1024
)

var (
	jpegSOI = []byte{0xFF, 0xD8}
	jpegEOI = []byte{0xFF, 0xD9}
)

// ScanJPEG is a bufio.SplitFunc that yields complete JPEG images from an MJPEG
// byte stream (concatenated JPEGs delimited by FFD8 ... FFD9). Bytes before a
// start marker are discarded.
func ScanJPEG(data []byte, atEOF bool) (advance int, token []byte, err error) {
	start := bytes.Index(data, jpegSOI)
	if start < 0 {
		// Keep a trailing 0xFF in case the marker is split across reads
		if n := len(data); n > 0 && data[n-1] == 0xFF && !atEOF {
			return n - 1, nil, nil
		}
		return len(data), nil, nil
	}

	end := bytes.Index(data[start+2:], jpegEOI)
	if end < 0 {
		if len(data)-start > MaxFrameSizeKB*BytesPerKB {
			// Runaway frame: skip this start marker and look for the next one
			return start + 2, nil, nil
		}
		if atEOF {
			return len(data), nil, nil
		}
		return start, nil, nil
	}

	stop := start + 2 + end + 2
	return stop, data[start:stop], nil
}

// LastJPEG returns the last complete JPEG image in buf, or nil
func LastJPEG(buf []byte) []byte {
	end := bytes.LastIndex(buf, jpegEOI)
	if end < 0 {
		return nil
	}
	end += 2

	searchLimit := end - MaxFrameSizeKB*BytesPerKB
	if searchLimit < 0 {
		searchLimit = 0
	}
	start := bytes.LastIndex(buf[searchLimit:end-2], jpegSOI)
	if start < 0 {
		return nil
	}
	return buf[searchLimit+start : end]
}
