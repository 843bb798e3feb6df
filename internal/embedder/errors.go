package embedder

import "fmt"

// ServiceError is returned when the embedding backend fails (quota, auth,
// network). The embedder never retries — callers decide whether a retry is
// safe, and both embed paths are idempotent.
type ServiceError struct {
	// Backend identifies the failing implementation (ollama, openai, azure).
	Backend string

	// StatusCode is the HTTP status when the failure was an API error,
	// 0 for transport-level failures.
	StatusCode int

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *ServiceError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s embedder: HTTP %d: %v", e.Backend, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s embedder: %v", e.Backend, e.Err)
}

// Unwrap returns the underlying cause for errors.Is / errors.As chains.
func (e *ServiceError) Unwrap() error { return e.Err }
