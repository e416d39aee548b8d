package catalog

import (
	"errors"
	"strings"
)

// ErrInvalidCatalog is the sentinel wrapped by every catalog validation failure.
var ErrInvalidCatalog = errors.New("catalog.invalid")

// ValidationError lists every problem found while building a catalog.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid permission catalog: " + strings.Join(e.Problems, "; ")
}

// Unwrap lets errors.Is match ErrInvalidCatalog.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidCatalog
}
