package models

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedInput is matched by every rejection that happens before any write.
	ErrMalformedInput = errors.New("malformed input")

	// ErrMalformedActivityLog is returned when the activity log JSON cannot be parsed
	// or lacks the faceRecognitionData/locationData arrays.
	ErrMalformedActivityLog = errors.New("malformed activity log")

	// ErrCaptionUnavailable means no caption could be produced for an image.
	ErrCaptionUnavailable = errors.New("caption unavailable")

	// ErrLedgerUnavailable means the ledger service could not be reached or refused the contribution.
	ErrLedgerUnavailable = errors.New("ledger unavailable")

	ErrPostNotFound = errors.New("post not found")
	ErrForbidden    = errors.New("not authorized")

	// ErrLedgerAlreadySubmitted is returned by a ledger retry on a post that was already accepted.
	ErrLedgerAlreadySubmitted = errors.New("contribution already submitted to the ledger")

	// ErrLedgerInProgress is returned when another request owns the post's ledger submission.
	ErrLedgerInProgress = errors.New("ledger submission already in progress")
)

// MalformedInputError names the request field that failed validation.
type MalformedInputError struct {
	Field string
	Err   error
}

func NewMalformedInput(field string, err error) *MalformedInputError {
	return &MalformedInputError{Field: field, Err: err}
}

func (e *MalformedInputError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *MalformedInputError) Unwrap() error {
	return e.Err
}

func (e *MalformedInputError) Is(target error) bool {
	return target == ErrMalformedInput
}

// LedgerError is returned by a submission whose post was persisted but whose ledger call failed.
type LedgerError struct {
	PostID int64
	Err    error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("post %d persisted but ledger submission failed: %v", e.PostID, e.Err)
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}
