package explain

import (
	"errors"
	"fmt"
)

// ErrExplainerUnavailable means every construction strategy, including the
// sampling fallback, failed for this request.
var ErrExplainerUnavailable = errors.New("no explainer available")

// ExplanationError is the catch-all failure shape for an explanation
// request. The caller always receives either a ranked contribution list
// or one of these; raw faults never escape the service.
type ExplanationError struct {
	Reason string
	Err    error
}

func (e *ExplanationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *ExplanationError) Unwrap() error { return e.Err }

func explanationErr(err error, format string, args ...any) *ExplanationError {
	return &ExplanationError{Reason: fmt.Sprintf(format, args...), Err: err}
}
