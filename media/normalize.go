package media

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	"image/png"

	"github.com/apex/log"
	"github.com/rwcarlsen/goexif/exif"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

const (
	DefaultMaxWidth    = 1200
	DefaultMaxHeight   = 630
	DefaultJPEGQuality = 85
	DefaultMaxPixels   = 50_000_000

	mimeJPEG = "image/jpeg"
	mimePNG  = "image/png"
)

// ErrImageTooLarge is returned for images declaring more than MaxPixels pixels.
var ErrImageTooLarge = errors.New("image dimensions too large")

// Normalizer re-encodes images upright and inside a MaxWidth x MaxHeight box.
// Images declaring more than MaxPixels pixels are rejected before decoding.
type Normalizer struct {
	MaxWidth    int
	MaxHeight   int
	JPEGQuality int
	MaxPixels   int
}

func NewNormalizer(maxWidth, maxHeight, quality, maxPixels int) *Normalizer {
	if maxWidth <= 0 {
		maxWidth = DefaultMaxWidth
	}
	if maxHeight <= 0 {
		maxHeight = DefaultMaxHeight
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	if maxPixels <= 0 {
		maxPixels = DefaultMaxPixels
	}
	return &Normalizer{MaxWidth: maxWidth, MaxHeight: maxHeight, JPEGQuality: quality, MaxPixels: maxPixels}
}

// Normalize decodes data, applies the EXIF orientation, shrinks the result to fit the
// box and re-encodes it. Lossless sources come back as PNG, everything else as JPEG.
// The returned mime type describes the output bytes.
func (n *Normalizer) Normalize(data []byte) ([]byte, string, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image header: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > int64(n.MaxPixels) {
		return nil, "", fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrImageTooLarge, cfg.Width, cfg.Height, n.MaxPixels)
	}

	orientation := Orientation(data)
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	if orientation != 1 {
		img = CorrectOrientation(img, orientation)
	}

	originalWidth, originalHeight := img.Bounds().Dx(), img.Bounds().Dy()
	width, height := FitWithin(originalWidth, originalHeight, n.MaxWidth, n.MaxHeight)
	if width != originalWidth || height != originalHeight {
		scaled := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Over, nil)
		img = scaled
	}

	var buf bytes.Buffer
	mimeType := mimeJPEG
	switch format {
	case "png", "gif", "bmp", "tiff":
		mimeType = mimePNG
		err = png.Encode(&buf, img)
	default:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: n.JPEGQuality})
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to encode %s: %w", mimeType, err)
	}

	log.Debugf("Image normalized: %s %dx%d (%d bytes) -> %s %dx%d (%d bytes), orientation: %d",
		format, originalWidth, originalHeight, len(data), mimeType, width, height, buf.Len(), orientation)
	return buf.Bytes(), mimeType, nil
}

// FitWithin returns the largest size with the aspect ratio of width x height that
// fits inside maxWidth x maxHeight. Images are never enlarged.
func FitWithin(width, height, maxWidth, maxHeight int) (int, int) {
	if width <= maxWidth && height <= maxHeight {
		return width, height
	}
	scale := float64(maxWidth) / float64(width)
	if s := float64(maxHeight) / float64(height); s < scale {
		scale = s
	}
	newWidth := int(float64(width)*scale + 0.5)
	newHeight := int(float64(height)*scale + 0.5)
	newWidth = clamp(newWidth, 1, maxWidth)
	newHeight = clamp(newHeight, 1, maxHeight)
	return newWidth, newHeight
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Orientation returns the EXIF orientation of data, or 1 when there is none.
func Orientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 1
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 1
	}
	v, err := tag.Int(0)
	if err != nil || v < 1 || v > 8 {
		return 1
	}
	return v
}

// CorrectOrientation returns img transformed so that it displays upright for the
// given EXIF orientation (1-8).
func CorrectOrientation(img image.Image, orientation int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	var dst *image.RGBA
	var target func(x, y int) (int, int)
	switch orientation {
	case 2: // mirror horizontal
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
		target = func(x, y int) (int, int) { return w - 1 - x, y }
	case 3: // rotate 180
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
		target = func(x, y int) (int, int) { return w - 1 - x, h - 1 - y }
	case 4: // mirror vertical
		dst = image.NewRGBA(image.Rect(0, 0, w, h))
		target = func(x, y int) (int, int) { return x, h - 1 - y }
	case 5: // transpose
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
		target = func(x, y int) (int, int) { return y, x }
	case 6: // rotate 90 clockwise
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
		target = func(x, y int) (int, int) { return h - 1 - y, x }
	case 7: // transverse
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
		target = func(x, y int) (int, int) { return h - 1 - y, w - 1 - x }
	case 8: // rotate 90 counter-clockwise
		dst = image.NewRGBA(image.Rect(0, 0, h, w))
		target = func(x, y int) (int, int) { return y, w - 1 - x }
	default:
		return img
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			tx, ty := target(x, y)
			dst.Set(tx, ty, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst
}
