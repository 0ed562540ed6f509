package record

import "errors"

var (
	// ErrUnknownAttribute is returned when setting an attribute the model does not declare
	ErrUnknownAttribute = errors.New("unknown attribute")

	// ErrNotStored is returned when setting a collection association directly
	ErrNotStored = errors.New("attribute is not stored on this model")

	// ErrImmutableKey is returned when changing the primary key of a persisted record
	ErrImmutableKey = errors.New("primary key cannot change")

	// ErrNilMember is returned when a collection member has no primary key
	ErrNilMember = errors.New("collection member has no primary key")
)
