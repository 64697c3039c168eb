package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("file not found")
	ErrExhaustedRetries = errors.New("code issuance exhausted retries")
	ErrNotImage         = errors.New("file is not a previewable image")
	ErrInvalidCode      = &ValidationError{Field: "code", Reason: "must be exactly 4 digits"}
	ErrFileTooLarge     = &ValidationError{Field: "file", Reason: "exceeds the size limit"}
	ErrTypeNotAllowed   = &ValidationError{Field: "file", Reason: "content type is not allowed"}
)

// ValidationError rejects caller input. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// StorageError wraps a blob or record store failure. Callers treat it as transient.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsStorage(err error) bool {
	var s *StorageError
	return errors.As(err, &s)
}
