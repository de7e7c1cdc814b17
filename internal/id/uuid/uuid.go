// Package uuid provides ID generation helpers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates UUID strings for capture events and archive records.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUID7 string. Capture events use these so ids sort by time.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// NewRecordID returns a random archive record id in "<urn:uuid:...>" form.
func (Generator) NewRecordID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate record id: %w", err)
	}
	return RecordID(id), nil
}

// RecordID formats id the way archive record headers carry it.
func RecordID(id uuid.UUID) string {
	return "<" + id.URN() + ">"
}
