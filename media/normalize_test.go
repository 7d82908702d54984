package media

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"testing"
)

func TestFitWithin(t *testing.T) {
	testCases := []struct {
		w, h         int
		wantW, wantH int
	}{
		{100, 50, 100, 50},
		{1200, 630, 1200, 630},
		{2400, 630, 1200, 315},
		{2400, 1260, 1200, 630},
		{1000, 2000, 315, 630},
		{4000, 3000, 840, 630},
		{10000, 1, 1200, 1},
	}
	for _, testCase := range testCases {
		gotW, gotH := FitWithin(testCase.w, testCase.h, DefaultMaxWidth, DefaultMaxHeight)
		if gotW != testCase.wantW || gotH != testCase.wantH {
			t.Errorf("FitWithin(%d, %d) = %dx%d, want %dx%d", testCase.w, testCase.h, gotW, gotH, testCase.wantW, testCase.wantH)
		}
	}
}

func TestCorrectOrientation(t *testing.T) {
	// 3x2 source with a marked top-left pixel.
	src := image.NewRGBA(image.Rect(0, 0, 3, 2))
	marker := color.RGBA{R: 255, A: 255}
	src.Set(0, 0, marker)

	testCases := []struct {
		orientation  int
		wantW, wantH int
		markerX      int
		markerY      int
	}{
		{1, 3, 2, 0, 0},
		{2, 3, 2, 2, 0},
		{3, 3, 2, 2, 1},
		{4, 3, 2, 0, 1},
		{5, 2, 3, 0, 0},
		{6, 2, 3, 1, 0},
		{7, 2, 3, 1, 2},
		{8, 2, 3, 0, 2},
	}
	for _, testCase := range testCases {
		out := CorrectOrientation(src, testCase.orientation)
		b := out.Bounds()
		if b.Dx() != testCase.wantW || b.Dy() != testCase.wantH {
			t.Errorf("orientation %d: size %dx%d, want %dx%d", testCase.orientation, b.Dx(), b.Dy(), testCase.wantW, testCase.wantH)
			continue
		}
		r, _, _, _ := out.At(testCase.markerX, testCase.markerY).RGBA()
		if r>>8 != 255 {
			t.Errorf("orientation %d: marker not at (%d,%d)", testCase.orientation, testCase.markerX, testCase.markerY)
		}
	}
}

func TestNormalize(t *testing.T) {
	n := NewNormalizer(0, 0, 0, 0)

	testCases := []struct {
		name         string
		data         []byte
		wantMime     string
		wantW, wantH int
	}{
		{"large jpeg is shrunk", encodeJPEG(t, solidImage(2400, 630)), "image/jpeg", 1200, 315},
		{"small jpeg is not enlarged", encodeJPEG(t, solidImage(64, 32)), "image/jpeg", 64, 32},
		{"png stays png", encodePNG(t, solidImage(1260, 100)), "image/png", 1200, 95},
		{"rotated jpeg is made upright", jpegWithExif(t, solidImage(40, 20), "Canon", 6), "image/jpeg", 20, 40},
	}
	for _, testCase := range testCases {
		out, mimeType, err := n.Normalize(testCase.data)
		if err != nil {
			t.Errorf("%s: %v", testCase.name, err)
			continue
		}
		if mimeType != testCase.wantMime {
			t.Errorf("%s: mime %s, want %s", testCase.name, mimeType, testCase.wantMime)
		}
		cfg, _, err := image.DecodeConfig(bytes.NewReader(out))
		if err != nil {
			t.Errorf("%s: output does not decode: %v", testCase.name, err)
			continue
		}
		if cfg.Width != testCase.wantW || cfg.Height != testCase.wantH {
			t.Errorf("%s: got %dx%d, want %dx%d", testCase.name, cfg.Width, cfg.Height, testCase.wantW, testCase.wantH)
		}
	}

	if _, _, err := n.Normalize([]byte("definitely not an image")); err == nil {
		t.Errorf("expected decode error")
	}
}

// pngHeader returns a PNG signature and IHDR chunk declaring width x height, with no pixel data.
func pngHeader(width, height uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], width)
	binary.BigEndian.PutUint32(ihdr[4:], height)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // RGBA

	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	_ = binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestNormalizeRejectsOversizedImage(t *testing.T) {
	n := NewNormalizer(0, 0, 0, 0)

	_, _, err := n.Normalize(pngHeader(60000, 60000))
	if !errors.Is(err, ErrImageTooLarge) {
		t.Fatalf("expected ErrImageTooLarge, got %v", err)
	}

	small := NewNormalizer(0, 0, 0, 1000)
	if _, _, err := small.Normalize(encodePNG(t, solidImage(40, 30))); !errors.Is(err, ErrImageTooLarge) {
		t.Errorf("40x30 over a 1000 pixel cap: expected ErrImageTooLarge, got %v", err)
	}
	if _, _, err := small.Normalize(encodePNG(t, solidImage(40, 25))); err != nil {
		t.Errorf("40x25 under a 1000 pixel cap: %v", err)
	}
}
