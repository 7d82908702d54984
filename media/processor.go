package media

import (
	"context"
	"fmt"
	"time"

	"github.com/apex/log"

	"contribapp/models"
)

// MediaRecorder stores the Media row of a processed file.
type MediaRecorder interface {
	CreateMedia(ctx context.Context, m *models.Media) (int64, error)
}

// ProcessedFile is the result of processing one upload. Normalized holds the bytes
// that were stored, and is what gets captioned.
type ProcessedFile struct {
	Descriptor models.FileDescriptor
	Normalized []byte
}

// Processor turns one upload into a stored file plus its Media row.
type Processor struct {
	store      Store
	exif       ExifExtractor
	normalizer *Normalizer
	recorder   MediaRecorder
}

func NewProcessor(store Store, exif ExifExtractor, normalizer *Normalizer, recorder MediaRecorder) *Processor {
	return &Processor{
		store:      store,
		exif:       exif,
		normalizer: normalizer,
		recorder:   recorder,
	}
}

// Process extracts EXIF tags (JPEG only), normalizes images, stores the result and
// records it. Videos are stored unchanged. A returned error concerns this file only.
func (p *Processor) Process(ctx context.Context, upload models.Upload, userID, postID int64) (*ProcessedFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := log.WithFields(log.Fields{
		"file":    upload.OriginalName,
		"mime":    upload.MimeType,
		"post_id": postID,
	})

	descriptor := models.FileDescriptor{
		OriginalName: upload.OriginalName,
		MimeType:     upload.MimeType,
	}
	data := upload.Buffer

	switch {
	case upload.IsVideo():
	case upload.IsImage():
		if upload.MimeType == mimeJPEG {
			tags, err := p.exif.Extract(upload.Buffer)
			if err != nil {
				logger.WithError(err).Debug("No EXIF tags")
			} else {
				descriptor.ExifTags = tags
			}
		}
		normalized, mimeType, err := p.normalizer.Normalize(upload.Buffer)
		if err != nil {
			return nil, fmt.Errorf("failed to normalize %s: %w", upload.OriginalName, err)
		}
		data = normalized
		descriptor.MimeType = mimeType
	default:
		return nil, fmt.Errorf("unsupported mime type %q for %s", upload.MimeType, upload.OriginalName)
	}

	storedName, storedPath, err := p.store.Save(upload.OriginalName, data)
	if err != nil {
		return nil, fmt.Errorf("failed to store %s: %w", upload.OriginalName, err)
	}
	descriptor.StoredName = storedName
	descriptor.StoredPath = storedPath

	_, err = p.recorder.CreateMedia(ctx, &models.Media{
		URL:       storedPath,
		UserID:    userID,
		PostID:    postID,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		if rmErr := p.store.Remove(storedPath); rmErr != nil {
			logger.WithError(rmErr).Warn("Failed to remove stored file after media insert failure")
		}
		return nil, fmt.Errorf("failed to record media for %s: %w", upload.OriginalName, err)
	}

	logger.WithField("stored_path", storedPath).Info("Stored media file")
	return &ProcessedFile{Descriptor: descriptor, Normalized: data}, nil
}
