package core

import "errors"

// Sentinel errors classify failures for the handler surface's mapping to
// HTTP status codes. Services return these wrapped with context via
// fmt.Errorf("...: %w", ErrNotFound) so errors.Is still matches.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrInvalidInput = errors.New("invalid input")
	ErrForbidden    = errors.New("forbidden")
	ErrRateLimited  = errors.New("rate limited")
)
