package media

import (
	"bytes"
	"fmt"
	"math"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"

	"contribapp/models"
)

// ExifExtractor reads EXIF tags from raw image bytes.
type ExifExtractor interface {
	Extract(data []byte) (models.ExifTags, error)
}

// GoexifExtractor flattens every EXIF field goexif can read into ExifTags.
// Single numeric values become float64, multi-valued numbers a comma separated
// string. Binary (undefined) fields and fields holding NaN or infinities are skipped.
type GoexifExtractor struct{}

func (GoexifExtractor) Extract(data []byte) (models.ExifTags, error) {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode exif: %w", err)
	}
	w := tagWalker{tags: models.ExifTags{}}
	if err := x.Walk(&w); err != nil {
		return nil, fmt.Errorf("failed to walk exif: %w", err)
	}
	if lat, long, err := x.LatLong(); err == nil && isFinite(lat) && isFinite(long) {
		w.tags[string(exif.GPSLatitude)] = lat
		w.tags[string(exif.GPSLongitude)] = long
	}
	return w.tags, nil
}

type tagWalker struct {
	tags models.ExifTags
}

func (w *tagWalker) Walk(name exif.FieldName, tag *tiff.Tag) error {
	if v, ok := tagValue(tag); ok {
		w.tags[string(name)] = v
	}
	return nil
}

func tagValue(tag *tiff.Tag) (interface{}, bool) {
	switch tag.Format() {
	case tiff.StringVal:
		s, err := tag.StringVal()
		if err != nil {
			return nil, false
		}
		return strings.TrimRight(s, "\x00 "), true
	case tiff.IntVal, tiff.RatVal, tiff.FloatVal:
		values := make([]float64, 0, tag.Count)
		for i := 0; i < int(tag.Count); i++ {
			v, ok := numberAt(tag, i)
			if !ok {
				return nil, false
			}
			values = append(values, v)
		}
		switch len(values) {
		case 0:
			return nil, false
		case 1:
			return values[0], true
		}
		parts := make([]string, len(values))
		for i, v := range values {
			parts[i] = fmt.Sprint(v)
		}
		return strings.Join(parts, ", "), true
	default:
		return nil, false
	}
}

func numberAt(tag *tiff.Tag, i int) (float64, bool) {
	switch tag.Format() {
	case tiff.IntVal:
		v, err := tag.Int64(i)
		return float64(v), err == nil
	case tiff.RatVal:
		num, den, err := tag.Rat2(i)
		if err != nil || den == 0 {
			return 0, false
		}
		return float64(num) / float64(den), true
	case tiff.FloatVal:
		v, err := tag.Float(i)
		return v, err == nil && isFinite(v)
	}
	return 0, false
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
