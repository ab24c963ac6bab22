package intelligence

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidPattern is returned when a regex rule cannot be compiled
	ErrInvalidPattern = errors.New("invalid pattern")
	// ErrInvalidWeights is returned for weight tables with negative entries
	ErrInvalidWeights = errors.New("invalid weights")
	// ErrNotTrained is returned by the statistical scorer before training
	ErrNotTrained = errors.New("model not trained")
	// ErrNoGeometry is returned when a document has no usable first page
	ErrNoGeometry = errors.New("no page geometry")
)

// ScorerError wraps a failure raised inside one scorer
type ScorerError struct {
	Method Method
	Err    error
}

func (e *ScorerError) Error() string {
	return fmt.Sprintf("%s scorer: %v", e.Method, e.Err)
}

func (e *ScorerError) Unwrap() error {
	return e.Err
}
