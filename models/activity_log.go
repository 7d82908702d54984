package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

const (
	keyFaceRecognitionData = "faceRecognitionData"
	keyLocationData        = "locationData"
	keyVerificationData    = "verificationData"
	keyExifData            = "exifData"
	keyCaptions            = "captions"

	FaceRecognitionSuccess = "success"
)

var errMissingCoordinates = errors.New("location entry must carry numeric latitude and longitude")

// FaceRecognition is one face-recognition attempt reported by the client.
// The original entry is kept verbatim so unknown fields survive re-serialization.
type FaceRecognition struct {
	Status string
	raw    json.RawMessage
}

func (f *FaceRecognition) UnmarshalJSON(data []byte) error {
	raw, err := compactJSON(data)
	if err != nil {
		return err
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	f.Status = ""
	if m, ok := v.(map[string]interface{}); ok {
		// Anything but a string status is simply not a success.
		f.Status, _ = m["status"].(string)
	}
	f.raw = raw
	return nil
}

func (f FaceRecognition) MarshalJSON() ([]byte, error) {
	if len(f.raw) > 0 {
		return f.raw, nil
	}
	return json.Marshal(struct {
		Status string `json:"status"`
	}{f.Status})
}

func (f FaceRecognition) Succeeded() bool {
	return f.Status == FaceRecognitionSuccess
}

// LocationPoint is one location ping reported by the client.
type LocationPoint struct {
	Latitude  float64
	Longitude float64
	raw       json.RawMessage
}

func (p *LocationPoint) UnmarshalJSON(data []byte) error {
	raw, err := compactJSON(data)
	if err != nil {
		return err
	}
	var coords struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}
	if err := json.Unmarshal(raw, &coords); err != nil {
		return fmt.Errorf("%w: %v", errMissingCoordinates, err)
	}
	if coords.Latitude == nil || coords.Longitude == nil {
		return errMissingCoordinates
	}
	p.Latitude = *coords.Latitude
	p.Longitude = *coords.Longitude
	p.raw = raw
	return nil
}

func (p LocationPoint) MarshalJSON() ([]byte, error) {
	if len(p.raw) > 0 {
		return p.raw, nil
	}
	return json.Marshal(Coordinates{Latitude: p.Latitude, Longitude: p.Longitude})
}

func (p LocationPoint) Coordinates() Coordinates {
	return Coordinates{Latitude: p.Latitude, Longitude: p.Longitude}
}

// ActivityLog is the client-submitted proof-of-activity payload.
// A nil FaceRecognitionData or LocationData means the key was absent.
type ActivityLog struct {
	FaceRecognitionData []FaceRecognition
	LocationData        []LocationPoint
	VerificationData    *VerificationReport

	// Extra holds every other top-level key, compacted.
	Extra map[string]json.RawMessage
}

func (l *ActivityLog) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return errors.New("activity log must be a JSON object")
	}
	return l.fromFields(fields)
}

func (l ActivityLog) MarshalJSON() ([]byte, error) {
	fields, err := l.toFields()
	if err != nil {
		return nil, err
	}
	return json.Marshal(fields)
}

func (l *ActivityLog) fromFields(fields map[string]json.RawMessage) error {
	*l = ActivityLog{}
	for key, value := range fields {
		switch key {
		case keyFaceRecognitionData:
			if isJSONNull(value) {
				continue
			}
			if err := json.Unmarshal(value, &l.FaceRecognitionData); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		case keyLocationData:
			if isJSONNull(value) {
				continue
			}
			if err := json.Unmarshal(value, &l.LocationData); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		case keyVerificationData:
			if isJSONNull(value) {
				continue
			}
			l.VerificationData = &VerificationReport{}
			if err := json.Unmarshal(value, l.VerificationData); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		default:
			raw, err := compactJSON(value)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			if l.Extra == nil {
				l.Extra = make(map[string]json.RawMessage)
			}
			l.Extra[key] = raw
		}
	}
	return nil
}

func (l ActivityLog) toFields() (map[string]json.RawMessage, error) {
	fields := make(map[string]json.RawMessage, len(l.Extra)+3)
	for key, value := range l.Extra {
		fields[key] = value
	}
	if l.FaceRecognitionData != nil {
		b, err := json.Marshal(l.FaceRecognitionData)
		if err != nil {
			return nil, err
		}
		fields[keyFaceRecognitionData] = b
	}
	if l.LocationData != nil {
		b, err := json.Marshal(l.LocationData)
		if err != nil {
			return nil, err
		}
		fields[keyLocationData] = b
	}
	if l.VerificationData != nil {
		b, err := json.Marshal(l.VerificationData)
		if err != nil {
			return nil, err
		}
		fields[keyVerificationData] = b
	}
	return fields, nil
}

func compactJSON(data []byte) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, err
	}
	return json.RawMessage(buf.Bytes()), nil
}

func isJSONNull(data []byte) bool {
	return string(bytes.TrimSpace(data)) == "null"
}
