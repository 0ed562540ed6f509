package query

import (
	"errors"
	"fmt"
)

// ErrInvalidCriteria is returned when a criteria object cannot be parsed
var ErrInvalidCriteria = errors.New("invalid criteria")

// UnknownAttributeError is returned when a filter, sort or population names an
// attribute the model does not declare
type UnknownAttributeError struct {
	Identity  string
	Attribute string
	Usage     string // where, sort or populate
	Reason    string
}

// Error implements the error interface
func (e *UnknownAttributeError) Error() string {
	msg := fmt.Sprintf("%s: unknown attribute %q on model %s", e.Usage, e.Attribute, e.Identity)
	if e.Reason != "" {
		msg += " (" + e.Reason + ")"
	}
	return msg
}
