package ontology

import "errors"

var (
	// ErrUnknownCollection is returned when no collection has the requested identity
	ErrUnknownCollection = errors.New("unknown collection")

	// ErrTornDown is returned when the ontology is used after Teardown
	ErrTornDown = errors.New("ontology has been torn down")
)
