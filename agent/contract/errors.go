package contract

import "errors"

var (
	ErrModelInvoke          = errors.New("model invoke failed")
	ErrSchemaViolation      = errors.New("model response violates schema")
	ErrValidation           = errors.New("validation failed")
	ErrToolFailure          = errors.New("tool invocation failed")
	ErrExtractionIncomplete = errors.New("extraction left required fields unset")
)
