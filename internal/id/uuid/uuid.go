// Package uuid generates run identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/JakeFAU/nsn-sourcing/internal/sourcing"
)

// Generator creates time-ordered UUIDv7 run IDs, so that run listings sort
// naturally by start time.
type Generator struct{}

var _ sourcing.IDGenerator = Generator{}

// New creates a new Generator.
func New() Generator {
	return Generator{}
}

// NewID returns a UUIDv7 string.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// NewRawID returns a UUIDv7.
func (Generator) NewRawID() (uuid.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.Nil, fmt.Errorf("generate uuid7: %w", err)
	}
	return id, nil
}
