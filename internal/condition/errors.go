package condition

import (
	"errors"
	"fmt"
)

// ErrConditionEvaluation indicates a condition that cannot be evaluated.
var ErrConditionEvaluation = errors.New("condition evaluation error")

// EvaluationError describes why a condition could not be evaluated.
type EvaluationError struct {
	Field    string
	Operator Operator
	Reason   string
}

// Error returns the error message.
func (e *EvaluationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("condition evaluation error: operator %q: %s", e.Operator, e.Reason)
	}
	return fmt.Sprintf("condition evaluation error: %s %s: %s", e.Field, e.Operator, e.Reason)
}

// Unwrap returns ErrConditionEvaluation.
func (e *EvaluationError) Unwrap() error {
	return ErrConditionEvaluation
}
