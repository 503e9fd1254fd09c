package graph

import (
	"errors"
	"fmt"
)

var errNilFeatures = errors.New("graph has no feature matrix")

// Invariant names a structural rule a Graph must satisfy.
type Invariant string

const (
	InvariantNonEmpty      Invariant = "non_empty"
	InvariantFeatureShape  Invariant = "feature_shape"
	InvariantFeatureFinite Invariant = "feature_finite"
	InvariantLabelCount    Invariant = "label_count"
	InvariantLabelValue    Invariant = "label_value"
	InvariantEdgeRange     Invariant = "edge_range"
)

// ValidationError reports which invariant a graph violated.
type ValidationError struct {
	Invariant Invariant
	Detail    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("graph invariant %s violated: %s", e.Invariant, e.Detail)
}

func violation(inv Invariant, format string, args ...any) error {
	return &ValidationError{Invariant: inv, Detail: fmt.Sprintf(format, args...)}
}

// IsViolation reports whether err is a ValidationError for inv.
func IsViolation(err error, inv Invariant) bool {
	var ve *ValidationError
	if !errors.As(err, &ve) {
		return false
	}
	return ve.Invariant == inv
}
