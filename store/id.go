package store

import (
	"fmt"

	"github.com/google/uuid"
)

// newID generates a record identifier. Version 7 UUIDs are time ordered,
// so freshly inserted records cluster at the end of the records
// collection and identifier order doubles as insertion order, with no
// counter to persist. Identifiers are never reused.
func newID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("lattice: generate id: %w", err)
	}
	return id, nil
}
