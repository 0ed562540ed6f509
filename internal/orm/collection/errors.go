package collection

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound is returned when a record is not found
	ErrNotFound = errors.New("record not found")

	// ErrValidationFailed is returned when values do not fit the model's schema
	ErrValidationFailed = errors.New("validation failed")

	// ErrCursorConsumed is returned when a cursor is read a second time
	ErrCursorConsumed = errors.New("cursor already consumed; run find again")

	// ErrNotPersisted is returned when saving a record that was never created
	ErrNotPersisted = errors.New("record has not been created")
)

// StaleRecordError is returned by Save when the record's primary key no longer
// exists in storage
type StaleRecordError struct {
	Identity string
	ID       interface{}
}

// Error implements the error interface
func (e *StaleRecordError) Error() string {
	return fmt.Sprintf("%s %v no longer exists", e.Identity, e.ID)
}

// FieldError represents a validation error on a specific attribute
type FieldError struct {
	Field   string
	Message string
}

// ValidationError contains every validation error for one set of values
type ValidationError struct {
	Identity string
	Errors   []FieldError
}

// Error implements the error interface
func (ve *ValidationError) Error() string {
	if len(ve.Errors) == 1 {
		return fmt.Sprintf("validation failed on %s: %s: %s", ve.Identity, ve.Errors[0].Field, ve.Errors[0].Message)
	}
	parts := make([]string, len(ve.Errors))
	for i, fe := range ve.Errors {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return fmt.Sprintf("validation failed on %s: %s", ve.Identity, strings.Join(parts, "; "))
}

// Unwrap lets errors.Is match ErrValidationFailed
func (ve *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

func (ve *ValidationError) add(field, message string) {
	ve.Errors = append(ve.Errors, FieldError{Field: field, Message: message})
}

func (ve *ValidationError) orNil() error {
	if len(ve.Errors) == 0 {
		return nil
	}
	return ve
}

// IsNotFound returns true if the error is ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsStale returns true if the error is a StaleRecordError
func IsStale(err error) bool {
	var stale *StaleRecordError
	return errors.As(err, &stale)
}
