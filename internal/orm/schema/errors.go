package schema

import (
	"errors"
	"fmt"
)

// ErrInvalidDefinition is returned when a model definition cannot be parsed
var ErrInvalidDefinition = errors.New("invalid model definition")

// DuplicateIdentityError is returned when two definitions share an identity
type DuplicateIdentityError struct {
	Identity string
}

// Error implements the error interface
func (e *DuplicateIdentityError) Error() string {
	return fmt.Sprintf("model %s is already registered", e.Identity)
}

// UnknownModelError is returned when an association references a model that is not
// part of the same batch of definitions
type UnknownModelError struct {
	Identity  string
	Attribute string
	Target    string
}

// Error implements the error interface
func (e *UnknownModelError) Error() string {
	return fmt.Sprintf("model %s: attribute %s references unknown model %s", e.Identity, e.Attribute, e.Target)
}

// InvalidViaError is returned when a collection's via does not point back to its owner
type InvalidViaError struct {
	Identity  string
	Attribute string
	Target    string
	Via       string
	Reason    string
}

// Error implements the error interface
func (e *InvalidViaError) Error() string {
	return fmt.Sprintf("model %s: collection %s via %s.%s: %s", e.Identity, e.Attribute, e.Target, e.Via, e.Reason)
}

// AttributeError is returned when an attribute spec is malformed
type AttributeError struct {
	Identity  string
	Attribute string
	Reason    string
}

// Error implements the error interface
func (e *AttributeError) Error() string {
	return fmt.Sprintf("model %s: attribute %s: %s", e.Identity, e.Attribute, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidDefinition
func (e *AttributeError) Unwrap() error {
	return ErrInvalidDefinition
}
