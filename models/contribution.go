package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

const MimeTypeMP4 = "video/mp4"

// Upload is one file received at the upload boundary.
type Upload struct {
	Buffer       []byte
	OriginalName string
	MimeType     string
}

func (u Upload) IsImage() bool {
	return strings.HasPrefix(u.MimeType, "image/")
}

func (u Upload) IsVideo() bool {
	return u.MimeType == MimeTypeMP4
}

// ExifTags maps EXIF tag names to float64 or string values.
type ExifTags map[string]interface{}

// FileDescriptor describes one stored upload. It lives for the duration of one submission.
type FileDescriptor struct {
	OriginalName string   `json:"originalName"`
	StoredName   string   `json:"storedName"`
	StoredPath   string   `json:"storedPath"`
	MimeType     string   `json:"mimeType"`
	ExifTags     ExifTags `json:"exifTags"`
	Caption      *string  `json:"caption"`
}

// ExifEntry is the per-file record kept in the consolidated activity log.
type ExifEntry struct {
	Filename     string   `json:"filename"`
	OriginalName string   `json:"originalName"`
	StoredPath   string   `json:"storedPath"`
	MimeType     string   `json:"mimeType"`
	Exif         ExifTags `json:"exif"`
}

func NewExifEntry(d FileDescriptor) ExifEntry {
	return ExifEntry{
		Filename:     d.StoredName,
		OriginalName: d.OriginalName,
		StoredPath:   d.StoredPath,
		MimeType:     d.MimeType,
		Exif:         d.ExifTags,
	}
}

// ConsolidatedActivityLog is the activity log merged with the media results of one submission.
// It serializes as a single flat JSON object. ActivityLog is nil when the submission had none.
type ConsolidatedActivityLog struct {
	ActivityLog *ActivityLog
	ExifData    []ExifEntry
	Captions    []string
}

// NewConsolidatedActivityLog merges the media results into the activity log.
// Client-sent exifData/captions keys are dropped in favour of the computed ones.
func NewConsolidatedActivityLog(log *ActivityLog, exifData []ExifEntry, captions []string) *ConsolidatedActivityLog {
	c := &ConsolidatedActivityLog{
		ExifData: append([]ExifEntry{}, exifData...),
		Captions: append([]string{}, captions...),
	}
	if log != nil {
		base := *log
		if len(base.Extra) > 0 {
			base.Extra = make(map[string]json.RawMessage, len(log.Extra))
			for key, value := range log.Extra {
				if key == keyExifData || key == keyCaptions {
					continue
				}
				base.Extra[key] = value
			}
			if len(base.Extra) == 0 {
				base.Extra = nil
			}
		}
		c.ActivityLog = &base
	}
	return c
}

// LegitimacyPercentage returns the verification score, if the submission was verified.
func (c *ConsolidatedActivityLog) LegitimacyPercentage() (float64, bool) {
	if c.ActivityLog == nil || c.ActivityLog.VerificationData == nil {
		return 0, false
	}
	return c.ActivityLog.VerificationData.LegitimacyPercentage, true
}

func (c ConsolidatedActivityLog) MarshalJSON() ([]byte, error) {
	fields := map[string]json.RawMessage{}
	if c.ActivityLog != nil {
		var err error
		if fields, err = c.ActivityLog.toFields(); err != nil {
			return nil, err
		}
	}
	exifData := c.ExifData
	if exifData == nil {
		exifData = []ExifEntry{}
	}
	b, err := json.Marshal(exifData)
	if err != nil {
		return nil, err
	}
	fields[keyExifData] = b

	captions := c.Captions
	if captions == nil {
		captions = []string{}
	}
	if b, err = json.Marshal(captions); err != nil {
		return nil, err
	}
	fields[keyCaptions] = b
	return json.Marshal(fields)
}

func (c *ConsolidatedActivityLog) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*c = ConsolidatedActivityLog{ExifData: []ExifEntry{}, Captions: []string{}}
	if raw, ok := fields[keyExifData]; ok {
		delete(fields, keyExifData)
		if !isJSONNull(raw) {
			if err := json.Unmarshal(raw, &c.ExifData); err != nil {
				return fmt.Errorf("%s: %w", keyExifData, err)
			}
		}
	}
	if raw, ok := fields[keyCaptions]; ok {
		delete(fields, keyCaptions)
		if !isJSONNull(raw) {
			if err := json.Unmarshal(raw, &c.Captions); err != nil {
				return fmt.Errorf("%s: %w", keyCaptions, err)
			}
		}
	}
	if len(fields) > 0 {
		c.ActivityLog = &ActivityLog{}
		if err := c.ActivityLog.fromFields(fields); err != nil {
			return err
		}
	}
	return nil
}

// ContributionPayload is the body sent to the ledger's /contribute endpoint.
type ContributionPayload struct {
	MinerAddress string  `json:"minerAddress"`
	Contribution string  `json:"contribution"`
	Reward       float64 `json:"reward"`
}

// SubmissionRequest is a new contribution as received from the HTTP layer.
// An empty ActivityLog means the field was absent and verification is skipped.
type SubmissionRequest struct {
	UserID      int64
	BearerToken string

	Title         string
	Category      string
	Description   string
	Location      string
	WalletAddress string
	ActivityLog   string

	Files []Upload
}

// SubmissionResult is returned for an accepted contribution.
type SubmissionResult struct {
	Post        *Post                    `json:"post"`
	ActivityLog *ConsolidatedActivityLog `json:"activityLog"`
	Ledger      json.RawMessage          `json:"ledger,omitempty"`
	FailedFiles []string                 `json:"failedFiles,omitempty"`
}
