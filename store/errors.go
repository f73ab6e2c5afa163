package store

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no record exists for the identifier.
	ErrNotFound = errors.New("lattice: record not found")

	// ErrIndexInconsistent is returned when stored index content diverges
	// from a from-scratch recomputation. Resolve by calling RebuildIndex;
	// the store never repairs silently.
	ErrIndexInconsistent = errors.New("lattice: index inconsistent with records")

	// ErrUnknownComposite is returned when a composite definition name is
	// not declared by the schema.
	ErrUnknownComposite = errors.New("lattice: unknown composite definition")
)

// ValidationError reports a missing or malformed field. It is returned
// before any transaction opens, so the store is untouched.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("lattice: field %q: %s", e.Field, e.Reason)
}
