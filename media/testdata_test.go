package media

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func solidImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 30, G: 120, B: 200, A: 255})
		}
	}
	return img
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("jpeg.Encode: %v", err)
	}
	return buf.Bytes()
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

// jpegWithExif encodes img as JPEG with an APP1 segment carrying the Make and
// Orientation tags.
func jpegWithExif(t *testing.T, img image.Image, cameraMake string, orientation uint16) []byte {
	t.Helper()
	plain := encodeJPEG(t, img)

	makeVal := append([]byte(cameraMake), 0)
	const ifdOffset = 8
	const entries = 2
	dataOffset := uint32(ifdOffset + 2 + entries*12 + 4)

	le := binary.LittleEndian
	var tiffData bytes.Buffer
	tiffData.WriteString("II")
	binary.Write(&tiffData, le, uint16(42))
	binary.Write(&tiffData, le, uint32(ifdOffset))
	binary.Write(&tiffData, le, uint16(entries))
	// Make, ASCII
	binary.Write(&tiffData, le, uint16(0x010F))
	binary.Write(&tiffData, le, uint16(2))
	binary.Write(&tiffData, le, uint32(len(makeVal)))
	binary.Write(&tiffData, le, dataOffset)
	// Orientation, SHORT
	binary.Write(&tiffData, le, uint16(0x0112))
	binary.Write(&tiffData, le, uint16(3))
	binary.Write(&tiffData, le, uint32(1))
	binary.Write(&tiffData, le, orientation)
	binary.Write(&tiffData, le, uint16(0))
	// no next IFD
	binary.Write(&tiffData, le, uint32(0))
	tiffData.Write(makeVal)

	return withAPP1(t, plain, tiffData.Bytes())
}

// rational is one EXIF RATIONAL value, numerator over denominator.
type rational [2]uint32

// jpegWithGPS encodes img as JPEG whose EXIF carries only a GPS IFD with the
// given latitude and longitude (degrees, minutes, seconds), north and east.
func jpegWithGPS(t *testing.T, img image.Image, lat, long [3]rational) []byte {
	t.Helper()
	plain := encodeJPEG(t, img)

	const gpsIFDOffset = 8 + 2 + 12 + 4
	const gpsEntries = 4
	latOffset := uint32(gpsIFDOffset + 2 + gpsEntries*12 + 4)
	longOffset := latOffset + 24

	le := binary.LittleEndian
	var tiffData bytes.Buffer
	tiffData.WriteString("II")
	binary.Write(&tiffData, le, uint16(42))
	binary.Write(&tiffData, le, uint32(8))
	// IFD0: GPSInfo pointer
	binary.Write(&tiffData, le, uint16(1))
	binary.Write(&tiffData, le, uint16(0x8825))
	binary.Write(&tiffData, le, uint16(4))
	binary.Write(&tiffData, le, uint32(1))
	binary.Write(&tiffData, le, uint32(gpsIFDOffset))
	binary.Write(&tiffData, le, uint32(0))
	// GPS IFD
	binary.Write(&tiffData, le, uint16(gpsEntries))
	writeRef := func(tag uint16, ref byte) {
		binary.Write(&tiffData, le, tag)
		binary.Write(&tiffData, le, uint16(2))
		binary.Write(&tiffData, le, uint32(2))
		tiffData.Write([]byte{ref, 0, 0, 0})
	}
	writeRationals := func(tag uint16, offset uint32) {
		binary.Write(&tiffData, le, tag)
		binary.Write(&tiffData, le, uint16(5))
		binary.Write(&tiffData, le, uint32(3))
		binary.Write(&tiffData, le, offset)
	}
	writeRef(0x0001, 'N')
	writeRationals(0x0002, latOffset)
	writeRef(0x0003, 'E')
	writeRationals(0x0004, longOffset)
	binary.Write(&tiffData, le, uint32(0))
	for _, r := range lat {
		binary.Write(&tiffData, le, r)
	}
	for _, r := range long {
		binary.Write(&tiffData, le, r)
	}

	return withAPP1(t, plain, tiffData.Bytes())
}

// withAPP1 inserts tiffData as an EXIF APP1 segment right after the SOI marker.
func withAPP1(t *testing.T, plain, tiffData []byte) []byte {
	t.Helper()
	payload := append([]byte("Exif\x00\x00"), tiffData...)
	var out bytes.Buffer
	out.Write(plain[:2]) // SOI
	out.Write([]byte{0xFF, 0xE1})
	binary.Write(&out, binary.BigEndian, uint16(len(payload)+2))
	out.Write(payload)
	out.Write(plain[2:])
	return out.Bytes()
}
