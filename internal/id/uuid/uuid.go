// Package uuid generates run identifiers.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// RunPrefix marks run identifiers so they are recognizable in logs and URLs.
const RunPrefix = "run_"

// Generator creates time-ordered run IDs of the form run_<uuid7>.
type Generator struct {
	prefix string
}

// New creates a Generator using RunPrefix.
func New() *Generator {
	return &Generator{prefix: RunPrefix}
}

// NewWithPrefix creates a Generator with a custom prefix, which may be empty.
func NewWithPrefix(prefix string) *Generator {
	return &Generator{prefix: prefix}
}

// NewID returns a prefixed UUID7 string.
func (g Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return g.prefix + id.String(), nil
}
