// Package rag defines the contracts of the retrieval-augmented generation
// core: embedding, namespaced vector storage, and retrieval. Concrete
// implementations (Qdrant, Ollama, OpenAI) satisfy these interfaces so the
// pipeline layer never depends on a specific backend.
package rag

import (
	"context"
)

// VectorMetadata is the payload stored alongside every vector record.
// Records are write-once: the core never updates metadata in place, it
// deletes and re-upserts whole records.
type VectorMetadata struct {
	// DocumentID identifies the source document of this chunk.
	DocumentID string

	// ChunkIndex is the zero-based chunk position within the document.
	ChunkIndex int

	// Page is the 1-based page number of the chunk's first character
	// (0 when the source has no page structure).
	Page int

	// Text is the raw chunk text, stored so retrieval needs no second lookup.
	Text string

	// Source is the human-readable origin of the document (file name).
	Source string

	// Namespace is the isolation key the record was stored under.
	Namespace string
}

// VectorRecord pairs an embedding with its metadata for storage.
type VectorRecord struct {
	// ID is the unique identifier of this record. Re-upserting the same ID
	// overwrites the previous record.
	ID string

	// Values is the embedding vector. Its dimensionality is fixed for the
	// lifetime of the index.
	Values []float32

	// Metadata is the payload stored with the vector.
	Metadata VectorMetadata
}

// RetrievedMatch is one ranked result of a similarity query. Matches are
// ephemeral — produced per query, never stored.
type RetrievedMatch struct {
	// ID is the vector record identifier.
	ID string

	// Score is the similarity score in [0, 1]. Zero when the backend did
	// not report one.
	Score float32

	// Text is the matched chunk text.
	Text string

	// Source is the origin document's file name.
	Source string

	// Page is the page number of the matched chunk, 0 when unknown.
	Page int
}

// Embedder converts text into dense vector embeddings. The same model must
// serve both the ingest and the query path — vectors produced by different
// models are not comparable. Implementations must be safe to call from
// multiple goroutines and must not retry internally.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorIndex is the namespaced vector storage contract. A namespace is an
// opaque isolation key: no operation ever crosses namespaces.
// Implementations must be safe to call from multiple goroutines.
type VectorIndex interface {
	// Upsert stores or overwrites the given records in the namespace.
	// Idempotent by record ID.
	Upsert(ctx context.Context, namespace string, records []VectorRecord) error

	// Query returns the topK most similar records, ordered by descending
	// score. An empty namespace yields an empty slice, not an error.
	Query(ctx context.Context, namespace string, vector []float32, topK int) ([]RetrievedMatch, error)

	// DeleteByIDs removes the records with the given IDs from the namespace.
	DeleteByIDs(ctx context.Context, namespace string, ids []string) error

	// DeleteByDocument removes every record whose metadata DocumentID
	// matches within the namespace.
	DeleteByDocument(ctx context.Context, namespace, documentID string) error

	// DeleteAll removes every record in the namespace.
	DeleteAll(ctx context.Context, namespace string) error

	// ListDocumentIDs enumerates the distinct document IDs present in the
	// namespace with their stored record counts. Used by registry resync.
	ListDocumentIDs(ctx context.Context, namespace string) (map[string]int, error)

	// Close releases any resources held by the index client.
	Close() error
}

// Retriever turns a query string into ranked chunk matches. Implementations
// must be safe to call from multiple goroutines.
type Retriever interface {
	// Retrieve embeds the query and returns the topK most relevant matches
	// from the namespace. Zero matches is a valid, non-error outcome.
	Retrieve(ctx context.Context, query, namespace string, topK int) ([]RetrievedMatch, error)
}
