package rag

import "fmt"

// IndexError is returned by VectorIndex implementations when the backing
// vector service fails (network, auth, quota). Callers propagate it — retry
// policy lives above the pipeline, never inside a client.
type IndexError struct {
	// Op is the operation that failed (upsert, query, delete, scroll).
	Op string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *IndexError) Error() string {
	return fmt.Sprintf("vector index: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause for errors.Is / errors.As chains.
func (e *IndexError) Unwrap() error { return e.Err }
