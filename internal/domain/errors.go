package domain

import "errors"

// Sentinel errors. Callers wrap them with %w and match with errors.Is.
var (
	// ErrModelUnavailable is returned when the classifier or encoder is not loaded.
	ErrModelUnavailable = errors.New("model unavailable")

	// ErrInvalidInput is returned for missing, malformed or out-of-domain fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrSchemaMismatch is returned when encoded columns cannot be aligned
	// with the classifier's stored column order.
	ErrSchemaMismatch = errors.New("schema mismatch")

	// ErrExplanationFailed is returned when perturbed scoring or surrogate fitting fails.
	ErrExplanationFailed = errors.New("explanation failed")

	// ErrRenderFailed is returned when the report cannot be drawn or encoded.
	ErrRenderFailed = errors.New("render failed")

	// ErrNotFound is returned by keyed stores when nothing is held under a key.
	ErrNotFound = errors.New("not found")
)
