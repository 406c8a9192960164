package llm

import "errors"

var (
	// ErrTimeout marks a single attempt that exceeded its deadline.
	ErrTimeout = errors.New("generation attempt timed out")
	// ErrEmptyResponse marks an attempt whose reply trimmed to nothing.
	// Treated as a failure and retried, never returned to the caller.
	ErrEmptyResponse = errors.New("empty generation response")
	// ErrGenerationFailed is terminal: every attempt failed. It wraps the
	// last underlying error.
	ErrGenerationFailed = errors.New("generation failed")
)
