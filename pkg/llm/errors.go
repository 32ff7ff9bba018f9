package llm

import "errors"

// Sentinel errors returned by backends.
var (
	// ErrUnavailable indicates the backend could not be reached at all.
	ErrUnavailable = errors.New("inference backend unavailable")

	// ErrContextTooLong indicates the backend rejected the request
	// because the prompt or history exceeded the model's context.
	ErrContextTooLong = errors.New("context too long for model")
)
