package semcache

import (
	"errors"
	"fmt"

	"github.com/pario-ai/simcache/pkg/vectorstore"
)

// ErrInvalidPolicy is returned by Capture when a per-request policy
// override is out of range.
var ErrInvalidPolicy = errors.New("invalid cache policy")

// DimensionMismatchError is returned when the embedding provider produces a
// vector whose length differs from the collection's established dimension.
type DimensionMismatchError struct {
	Model string
	Want  int
	Got   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding model %s returned %d dimensions, collection has %d", e.Model, e.Got, e.Want)
}

// Is lets errors.Is match vectorstore.ErrDimensionMismatch.
func (e *DimensionMismatchError) Is(target error) bool {
	return target == vectorstore.ErrDimensionMismatch
}
