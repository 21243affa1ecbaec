package camera

import (
	"bufio"
	"bytes"
	"io"
	"testing"
	"testing/iotest"
)

func fakeJPEG(id byte, size int) []byte {
	b := []byte{0xFF, 0xD8}
	for i := 0; i < size; i++ {
		b = append(b, id)
	}
	return append(b, 0xFF, 0xD9)
}

func scanAll(t *testing.T, r io.Reader) [][]byte {
	t.Helper()
	scanner := bufio.NewScanner(r)
	scanner.Split(ScanJPEG)
	var out [][]byte
	for scanner.Scan() {
		out = append(out, append([]byte(nil), scanner.Bytes()...))
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scanner error: %v", err)
	}
	return out
}

func TestScanJPEG(t *testing.T) {
	a, b, c := fakeJPEG(1, 10), fakeJPEG(2, 300), fakeJPEG(3, 5)

	var stream bytes.Buffer
	stream.Write([]byte("garbage before"))
	stream.Write(a)
	stream.Write(b)
	stream.Write([]byte{0x00, 0xFF})
	stream.Write(c)
	stream.Write([]byte{0xFF, 0xD8, 9, 9}) // truncated tail

	tests := []struct {
		name string
		r    io.Reader
	}{
		{"whole", bytes.NewReader(stream.Bytes())},
		{"one byte at a time", iotest.OneByteReader(bytes.NewReader(stream.Bytes()))},
		{"half reads", iotest.HalfReader(bytes.NewReader(stream.Bytes()))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames := scanAll(t, tt.r)
			if len(frames) != 3 {
				t.Fatalf("got %d frames, want 3", len(frames))
			}
			for i, want := range [][]byte{a, b, c} {
				if !bytes.Equal(frames[i], want) {
					t.Errorf("frame %d mismatch: % x", i, frames[i])
				}
			}
		})
	}
}

func TestLastJPEG(t *testing.T) {
	a, b := fakeJPEG(1, 4), fakeJPEG(2, 4)

	tests := []struct {
		name string
		buf  []byte
		want []byte
	}{
		{"empty", nil, nil},
		{"single", a, a},
		{"picks last", append(append([]byte{}, a...), b...), b},
		{"ignores partial tail", append(append([]byte{}, a...), 0xFF, 0xD8, 7), a},
		{"no start", []byte{1, 2, 0xFF, 0xD9}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LastJPEG(tt.buf); !bytes.Equal(got, tt.want) {
				t.Errorf("LastJPEG() = % x, want % x", got, tt.want)
			}
		})
	}
}
