// Package pipeline wires the RAG core together and exposes the operations
// callers see: ingest, ask, and the document management group. Each request
// runs its stages strictly in sequence (retrieve → assemble → generate for a
// question; chunk → embed → upsert → register for an ingest) and fails as a
// unit — no partial results are returned, and no stage retries an external
// call.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/docqa/docqa-go/internal/chunker"
	"github.com/docqa/docqa-go/internal/generator"
	"github.com/docqa/docqa-go/internal/logging"
	"github.com/docqa/docqa-go/internal/prompt"
	"github.com/docqa/docqa-go/internal/rag"
	"github.com/docqa/docqa-go/internal/registry"
)

// previewLength is the number of leading characters stored as a document's
// catalog preview.
const previewLength = 200

// Config holds the dependencies and tunables for constructing a Service.
type Config struct {
	// Embedder converts text to vectors. The same handle serves ingest and
	// query so both paths embed with the identical model.
	Embedder rag.Embedder

	// Index is the namespaced vector store.
	Index rag.VectorIndex

	// Registry is the authoritative document metadata store.
	Registry *registry.Registry

	// Generator produces the final answer text.
	Generator *generator.Generator

	// ChunkSize is the maximum characters per chunk (0 = chunker default).
	ChunkSize int

	// ChunkOverlap is the characters shared between consecutive chunks
	// (0 = chunker default).
	ChunkOverlap int

	// TopK is the number of matches retrieved per question (0 = 5).
	TopK int

	// MaxContextTokens caps the assembled context size
	// (0 = budget default).
	MaxContextTokens int
}

// Service is the RAG orchestration facade. It is safe for concurrent use:
// requests share only the injected service handles and the registry, which
// serializes its own mutations per namespace.
type Service struct {
	embedder     rag.Embedder
	index        rag.VectorIndex
	registry     *registry.Registry
	retriever    rag.Retriever
	assembler    *prompt.Assembler
	generator    *generator.Generator
	chunkSize    int
	chunkOverlap int
	topK         int
}

// New constructs a Service from the provided dependencies.
func New(cfg *Config) (*Service, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("pipeline: embedder must not be nil")
	}
	if cfg.Index == nil {
		return nil, fmt.Errorf("pipeline: index must not be nil")
	}
	if cfg.Registry == nil {
		return nil, fmt.Errorf("pipeline: registry must not be nil")
	}
	if cfg.Generator == nil {
		return nil, fmt.Errorf("pipeline: generator must not be nil")
	}

	retriever, err := rag.NewRetriever(cfg.Embedder, cfg.Index, cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	return &Service{
		embedder:     cfg.Embedder,
		index:        cfg.Index,
		registry:     cfg.Registry,
		retriever:    retriever,
		assembler:    prompt.NewAssembler(cfg.MaxContextTokens),
		generator:    cfg.Generator,
		chunkSize:    cfg.ChunkSize,
		chunkOverlap: cfg.ChunkOverlap,
		topK:         cfg.TopK,
	}, nil
}

// IngestResult reports a completed ingest.
type IngestResult struct {
	// DocumentID is the identifier assigned to the document.
	DocumentID string
	// ChunkCount is the number of chunks produced and indexed.
	ChunkCount int
	// Pages is the document's page count.
	Pages int
}

// Ingest runs the ingest path for one document: chunk → embed → upsert →
// register. The document is registered in processing state up front so an
// interrupted ingest is visible. Every call assigns a fresh document ID —
// re-ingesting the same file indexes it under a new identity — and chunk IDs
// derive from that ID, so re-sending a call's own batch overwrites rather
// than duplicates.
func (s *Service) Ingest(ctx context.Context, pages []chunker.Page, fileName, namespace string) (IngestResult, error) {
	log := logging.FromContext(ctx)

	docUUID := uuid.New()
	docID := docUUID.String()

	chunks, err := chunker.SplitPages(pages, s.chunkSize, s.chunkOverlap)
	if err != nil {
		return IngestResult{}, fmt.Errorf("pipeline: ingest %s: %w", fileName, err)
	}
	if len(chunks) == 0 {
		return IngestResult{}, fmt.Errorf("pipeline: ingest %s: document contains no extractable text", fileName)
	}

	rec := registry.Record{
		DocumentID:  docID,
		Namespace:   namespace,
		FileName:    fileName,
		TotalChunks: len(chunks),
		Pages:       len(pages),
		Status:      registry.StatusProcessing,
		UploadedAt:  time.Now(),
		Preview:     preview(chunks[0].Text),
	}
	if err := s.registry.Register(ctx, rec); err != nil {
		return IngestResult{}, fmt.Errorf("pipeline: ingest %s: %w", fileName, err)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	embeddings, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		s.markFailed(ctx, rec)
		return IngestResult{}, fmt.Errorf("pipeline: ingest %s: embedding: %w", fileName, err)
	}
	if len(embeddings) != len(chunks) {
		s.markFailed(ctx, rec)
		return IngestResult{}, fmt.Errorf("pipeline: ingest %s: expected %d embeddings, got %d", fileName, len(chunks), len(embeddings))
	}

	records := make([]rag.VectorRecord, 0, len(chunks))
	for i, c := range chunks {
		records = append(records, rag.VectorRecord{
			// Chunk IDs derive deterministically from the document ID so a
			// retried upsert overwrites rather than duplicates.
			ID:     uuid.NewSHA1(docUUID, fmt.Appendf(nil, "chunk-%d", c.Index)).String(),
			Values: embeddings[i],
			Metadata: rag.VectorMetadata{
				DocumentID: docID,
				ChunkIndex: c.Index,
				Page:       c.Page,
				Text:       c.Text,
				Source:     fileName,
				Namespace:  namespace,
			},
		})
	}

	if err := s.index.Upsert(ctx, namespace, records); err != nil {
		s.markFailed(ctx, rec)
		return IngestResult{}, fmt.Errorf("pipeline: ingest %s: indexing: %w", fileName, err)
	}

	rec.Status = registry.StatusCompleted
	if err := s.registry.Register(ctx, rec); err != nil {
		return IngestResult{}, fmt.Errorf("pipeline: ingest %s: %w", fileName, err)
	}

	log.Info("document ingested",
		slog.String("namespace", namespace),
		slog.String("document_id", docID),
		slog.String("file", fileName),
		slog.Int("chunks", len(chunks)),
		slog.Int("pages", len(pages)),
	)

	return IngestResult{DocumentID: docID, ChunkCount: len(chunks), Pages: len(pages)}, nil
}

// markFailed records an aborted ingest. Best effort — the original error is
// what the caller sees.
func (s *Service) markFailed(ctx context.Context, rec registry.Record) {
	rec.Status = registry.StatusFailed
	if err := s.registry.Register(ctx, rec); err != nil {
		logging.FromContext(ctx).Warn("could not mark document as failed",
			slog.String("document_id", rec.DocumentID),
			slog.Any("error", err),
		)
	}
}

// Answer is the result of one question.
type Answer struct {
	// Text is the model's raw answer.
	Text string
	// Matches are the retrieved chunks the answer was grounded on, in rank
	// order. Empty when similarity search found nothing.
	Matches []rag.RetrievedMatch
}

// Ask runs the query path: retrieve → assemble → generate. The registry
// catalog is always included in the assembled context, so inventory
// questions are answerable even when retrieval returns nothing. A non-forced
// resync keeps the catalog from drifting without paying the reconciliation
// cost on every question.
func (s *Service) Ask(ctx context.Context, query, namespace string, history []prompt.Turn) (Answer, error) {
	if strings.TrimSpace(query) == "" {
		return Answer{}, fmt.Errorf("pipeline: ask: query must not be empty")
	}

	if err := s.registry.Resync(ctx, namespace, false); err != nil {
		return Answer{}, fmt.Errorf("pipeline: ask: %w", err)
	}

	matches, err := s.retriever.Retrieve(ctx, query, namespace, s.topK)
	if err != nil {
		return Answer{}, fmt.Errorf("pipeline: ask: %w", err)
	}

	records, err := s.registry.List(ctx, namespace)
	if err != nil {
		return Answer{}, fmt.Errorf("pipeline: ask: %w", err)
	}
	stats, err := s.registry.Stats(ctx, namespace)
	if err != nil {
		return Answer{}, fmt.Errorf("pipeline: ask: %w", err)
	}

	assembled := s.assembler.Assemble(query, matches, history, records, stats)

	// Replay the budget-trimmed turns, not the raw history, so the context
	// cap bounds what the model actually receives.
	text, err := s.generator.Generate(ctx, assembled, assembled.History)
	if err != nil {
		return Answer{}, fmt.Errorf("pipeline: ask: %w", err)
	}

	return Answer{Text: text, Matches: matches}, nil
}

// Assemble exposes context assembly without generation. Used by tests and
// diagnostics to inspect exactly what the model would have seen.
func (s *Service) Assemble(ctx context.Context, query, namespace string, history []prompt.Turn) (prompt.AssembledContext, []rag.RetrievedMatch, error) {
	matches, err := s.retriever.Retrieve(ctx, query, namespace, s.topK)
	if err != nil {
		return prompt.AssembledContext{}, nil, fmt.Errorf("pipeline: assemble: %w", err)
	}
	records, err := s.registry.List(ctx, namespace)
	if err != nil {
		return prompt.AssembledContext{}, nil, fmt.Errorf("pipeline: assemble: %w", err)
	}
	stats, err := s.registry.Stats(ctx, namespace)
	if err != nil {
		return prompt.AssembledContext{}, nil, fmt.Errorf("pipeline: assemble: %w", err)
	}
	return s.assembler.Assemble(query, matches, history, records, stats), matches, nil
}

// DeleteResult reports a deletion, including whether the vector index side
// succeeded. VectorsDeleted=false means orphaned vectors remain until the
// next forced resync; the registry side has already succeeded either way.
type DeleteResult struct {
	// VectorsDeleted is false when the vector index deletion failed after
	// the registry deletion succeeded.
	VectorsDeleted bool
}

// DeleteDocument removes one document. Registry deletion is authoritative;
// see registry.Delete for the ordering rationale.
func (s *Service) DeleteDocument(ctx context.Context, namespace, documentID string) (DeleteResult, error) {
	vectorsDeleted, err := s.registry.Delete(ctx, namespace, documentID)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("pipeline: delete: %w", err)
	}
	return DeleteResult{VectorsDeleted: vectorsDeleted}, nil
}

// DeleteAllDocuments clears the namespace.
func (s *Service) DeleteAllDocuments(ctx context.Context, namespace string) (DeleteResult, error) {
	vectorsDeleted, err := s.registry.DeleteAll(ctx, namespace)
	if err != nil {
		return DeleteResult{}, fmt.Errorf("pipeline: delete all: %w", err)
	}
	return DeleteResult{VectorsDeleted: vectorsDeleted}, nil
}

// ListDocuments returns the namespace's catalog, newest first.
func (s *Service) ListDocuments(ctx context.Context, namespace string) ([]registry.Record, error) {
	records, err := s.registry.List(ctx, namespace)
	if err != nil {
		return nil, fmt.Errorf("pipeline: list: %w", err)
	}
	return records, nil
}

// Stats returns the namespace's aggregate document statistics.
func (s *Service) Stats(ctx context.Context, namespace string) (registry.Stats, error) {
	stats, err := s.registry.Stats(ctx, namespace)
	if err != nil {
		return registry.Stats{}, fmt.Errorf("pipeline: stats: %w", err)
	}
	return stats, nil
}

// Resync forces (or staleness-gates) a reconciliation between the registry
// and the vector index for the namespace.
func (s *Service) Resync(ctx context.Context, namespace string, force bool) error {
	if err := s.registry.Resync(ctx, namespace, force); err != nil {
		return fmt.Errorf("pipeline: resync: %w", err)
	}
	return nil
}

// preview returns the leading excerpt of a chunk used in catalog listings.
func preview(text string) string {
	text = strings.TrimSpace(text)
	if len(text) <= previewLength {
		return text
	}
	return text[:previewLength] + "…"
}
