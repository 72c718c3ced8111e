package models

import "errors"

// Engine error taxonomy. Every rejected operation wraps one of these so
// callers can map the failure class without parsing messages.
var (
	ErrNotFound     = errors.New("not found")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidState = errors.New("invalid state")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict")
)
