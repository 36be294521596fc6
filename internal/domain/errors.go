package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateRule = errors.New("duplicate rule id")
	ErrUnknownRule   = errors.New("unknown rule id")
)

// EvaluationError is an internal failure of one evaluator. It is recorded on
// the result and excluded from the decision; the message is allowed.
type EvaluationError struct {
	Evaluator string
	RuleID    string
	Err       error
}

func (e *EvaluationError) Error() string {
	if e.RuleID != "" {
		return fmt.Sprintf("evaluator %s (rule %s): %v", e.Evaluator, e.RuleID, e.Err)
	}
	return fmt.Sprintf("evaluator %s: %v", e.Evaluator, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// ConfigValidationError reports a rejected configuration value.
type ConfigValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("invalid %s=%q: %s", e.Field, e.Value, e.Reason)
}
