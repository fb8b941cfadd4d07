package documents

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation error")
	ErrPayloadTooLarge   = errors.New("payload too large")
	ErrStorage           = errors.New("storage error")
	ErrNotFound          = errors.New("document not found")
	ErrAlreadyProcessing = errors.New("document is already processing")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrStaleGeneration   = errors.New("analysis generation superseded")
	ErrDispatch          = errors.New("analysis dispatch failed")
)

// FieldError is a validation failure tied to one input field.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *FieldError) Unwrap() error { return ErrValidation }
