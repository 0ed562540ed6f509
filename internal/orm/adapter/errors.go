package adapter

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownCollection is returned by adapters called with an identity that was
	// never registered with them
	ErrUnknownCollection = errors.New("collection is not registered with this adapter")

	// ErrClosed is returned after Teardown
	ErrClosed = errors.New("adapter is torn down")
)

// UnboundConnectionError is returned when a model references a connection that is
// not configured
type UnboundConnectionError struct {
	Identity   string
	Connection string
}

// Error implements the error interface
func (e *UnboundConnectionError) Error() string {
	return fmt.Sprintf("model %s uses connection %q, which is not configured", e.Identity, e.Connection)
}

// UnregisteredAdapterError is returned when a connection names an adapter that is
// not registered
type UnregisteredAdapterError struct {
	Connection string
	Adapter    string
}

// Error implements the error interface
func (e *UnregisteredAdapterError) Error() string {
	return fmt.Sprintf("connection %q uses adapter %q, which is not registered", e.Connection, e.Adapter)
}

// RegistrationError wraps a failure from an adapter's Register or Teardown
type RegistrationError struct {
	Adapter string
	Err     error
}

// Error implements the error interface
func (e *RegistrationError) Error() string {
	return fmt.Sprintf("adapter %s: %v", e.Adapter, e.Err)
}

// Unwrap returns the underlying error
func (e *RegistrationError) Unwrap() error {
	return e.Err
}

// UniqueViolationError is returned when a write would give two records the same
// value for a unique attribute
type UniqueViolationError struct {
	Identity  string
	Attribute string
	Value     interface{}
}

// Error implements the error interface
func (e *UniqueViolationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("%s.%s must be unique", e.Identity, e.Attribute)
	}
	return fmt.Sprintf("%s.%s must be unique: %v already exists", e.Identity, e.Attribute, e.Value)
}

// IsUniqueViolation checks if an error is a uniqueness violation
func IsUniqueViolation(err error) bool {
	var uv *UniqueViolationError
	return errors.As(err, &uv)
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
