package schema

import (
	"fmt"
	"strings"
)

// MalformedResponseError reports model output that is not JSON at all.
type MalformedResponseError struct {
	Err error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("model response is not valid JSON: %v", e.Err)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// SchemaValidationError reports JSON that violates the scene contract.
// Problems lists every violated check, not only the first.
type SchemaValidationError struct {
	Problems []string
}

func (e *SchemaValidationError) Error() string {
	return "model response failed scene validation: " + strings.Join(e.Problems, "; ")
}
