package eval

import (
	"errors"
	"fmt"
	"strings"
)

// CyclicImportError is returned when a field imports itself, directly or
// through a chain of other fields. Path lists the chain ending with the
// repeated field.
type CyclicImportError struct {
	Path []string
}

func (e *CyclicImportError) Error() string {
	return fmt.Sprintf("cyclic import: %s", strings.Join(e.Path, " -> "))
}

// IsCyclicImport returns true if err is (or wraps) a CyclicImportError.
func IsCyclicImport(err error) bool {
	var ce *CyclicImportError
	return errors.As(err, &ce)
}

// DepthExceededError is returned when an import chain grows past the
// configured limit. Cycle detection catches A -> B -> A; the depth limit
// catches long acyclic chains.
type DepthExceededError struct {
	Field string
	Depth int
	Limit int
}

func (e *DepthExceededError) Error() string {
	return fmt.Sprintf("import of %s exceeds max depth: %d > %d", e.Field, e.Depth, e.Limit)
}

// IsDepthExceeded returns true if err is (or wraps) a DepthExceededError.
func IsDepthExceeded(err error) bool {
	var de *DepthExceededError
	return errors.As(err, &de)
}

// ShapeError reports a node whose children do not fit its kind, e.g. a fetch
// node without a fetcher.
type ShapeError struct {
	Kind string
	Msg  string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("invalid %s node: %s", e.Kind, e.Msg)
}
