package domain

import "errors"

// Error kinds surfaced by the image lifecycle. Returned errors wrap one of
// these, so callers classify failures with errors.Is.
var (
	ErrNotConfigured     = errors.New("storage root not configured")
	ErrInvalidInput      = errors.New("invalid input")
	ErrIO                = errors.New("filesystem error")
	ErrFetch             = errors.New("fetch failed")
	ErrProbe             = errors.New("probe failed")
	ErrCrop              = errors.New("crop failed")
	ErrStore             = errors.New("store error")
	ErrNotFound          = errors.New("not found")
	ErrOutOfRange        = errors.New("piece out of range")
	ErrAlreadyInProgress = errors.New("crop already in progress")
)
