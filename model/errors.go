package model

import (
	"errors"
	"fmt"
)

// ErrValidation matches any *ValidationError with errors.Is.
var ErrValidation = errors.New("invalid task")

// ValidationError reports a task that was rejected before reaching the network.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
