package relationships

import (
	"errors"
	"fmt"
)

var (
	// ErrMaxDepthExceeded is returned when populations nest deeper than the resolver allows
	ErrMaxDepthExceeded = errors.New("maximum population depth exceeded")

	// ErrUnknownModel is returned when an association targets a model the resolver
	// cannot look up
	ErrUnknownModel = errors.New("unknown model")
)

// UnresolvedAssociationError is returned when a population names an attribute that
// is not an association of the model
type UnresolvedAssociationError struct {
	Identity    string
	Association string
	Reason      string
}

// Error implements the error interface
func (e *UnresolvedAssociationError) Error() string {
	msg := fmt.Sprintf("cannot populate %q on %s", e.Association, e.Identity)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}
