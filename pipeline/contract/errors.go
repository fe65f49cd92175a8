package contract

import "errors"

var (
	ErrEmptyDocument     = errors.New("document has no extractable text")
	ErrMalformedProposal = errors.New("malformed proposal")
	ErrSchemaViolation   = errors.New("model response violates schema")
	ErrValidation        = errors.New("validation failed")
	ErrUnknownStage      = errors.New("stage is not registered")
)
