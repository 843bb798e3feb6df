package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/docqa/docqa-go/internal/chunker"
	"github.com/docqa/docqa-go/internal/history"
	"github.com/docqa/docqa-go/internal/pipeline"
	"github.com/docqa/docqa-go/internal/prompt"
	"github.com/docqa/docqa-go/internal/rag"
	"github.com/docqa/docqa-go/internal/registry"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request. Uploads
	// of large PDFs need headroom here.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response. Must
	// cover the full generation round trip.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// MaxUploadBytes caps the size of an uploaded document (default: 32 MiB).
	MaxUploadBytes int64
	// Namespace is the default namespace used when a request omits one.
	Namespace string
	// HistoryDepth is the number of prior turns replayed per chat request.
	HistoryDepth int
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
}

// ragService is the interface the handlers call into the pipeline through.
// *pipeline.Service satisfies it; tests inject a fake.
type ragService interface {
	Ingest(ctx context.Context, pages []chunker.Page, fileName, namespace string) (pipeline.IngestResult, error)
	Ask(ctx context.Context, query, namespace string, history []prompt.Turn) (pipeline.Answer, error)
	ListDocuments(ctx context.Context, namespace string) ([]registry.Record, error)
	DeleteDocument(ctx context.Context, namespace, documentID string) (pipeline.DeleteResult, error)
	DeleteAllDocuments(ctx context.Context, namespace string) (pipeline.DeleteResult, error)
	Stats(ctx context.Context, namespace string) (registry.Stats, error)
	Resync(ctx context.Context, namespace string, force bool) error
}

// Server is the HTTP server that exposes the document QA pipeline.
type Server struct {
	// svc is the pipeline facade handling all document and chat operations.
	svc ragService
	// history persists conversation turns per namespace. May be nil, in
	// which case each chat request stands alone.
	history history.Store
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus instruments owned by this server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// chatRequest is the JSON body for POST /api/chat.
type chatRequest struct {
	// Message is the user's question.
	Message string `json:"message" validate:"required"`
	// Namespace selects the document namespace. Empty uses the server default.
	Namespace string `json:"namespace" validate:"omitempty,max=128"`
}

// chatResponse is the JSON response for POST /api/chat.
type chatResponse struct {
	// Answer is the generated answer text.
	Answer string `json:"answer"`
	// Sources lists the retrieved chunks the answer was grounded on, in
	// rank order.
	Sources []sourceRef `json:"sources"`
}

// sourceRef describes one retrieved chunk in a chat response.
type sourceRef struct {
	// Source is the originating file name.
	Source string `json:"source"`
	// Page is the 1-based page the chunk came from.
	Page int `json:"page"`
	// Score is the normalized similarity score in [0,1].
	Score float32 `json:"score"`
}

// ingestResponse is the JSON response for POST /api/documents.
type ingestResponse struct {
	// DocumentID is the identifier assigned to the document.
	DocumentID string `json:"documentId"`
	// FileName is the uploaded file's name.
	FileName string `json:"fileName"`
	// Chunks is the number of chunks indexed.
	Chunks int `json:"chunks"`
	// Pages is the document's page count.
	Pages int `json:"pages"`
}

// documentInfo is one entry in the GET /api/documents response.
type documentInfo struct {
	// DocumentID is the document identifier.
	DocumentID string `json:"documentId"`
	// FileName is the original file name.
	FileName string `json:"fileName"`
	// Chunks is the stored chunk count.
	Chunks int `json:"chunks"`
	// Pages is the page count.
	Pages int `json:"pages"`
	// Status is the processing state: processing, completed, failed.
	Status string `json:"status"`
	// UploadedAt is the RFC 3339 upload timestamp.
	UploadedAt string `json:"uploadedAt"`
	// Preview is the leading excerpt of the document's first chunk.
	Preview string `json:"preview,omitempty"`
}

// deleteResponse is the JSON response for DELETE /api/documents[/{id}].
type deleteResponse struct {
	// Deleted is true when the registry record(s) were removed.
	Deleted bool `json:"deleted"`
	// VectorsDeleted is false when the vector index deletion failed after the
	// registry deletion succeeded; a later resync cleans up the orphans.
	VectorsDeleted bool `json:"vectorsDeleted"`
}

// statsResponse is the JSON response for GET /api/stats.
type statsResponse struct {
	// TotalDocuments is the number of registered documents.
	TotalDocuments int `json:"totalDocuments"`
	// TotalChunks is the sum of stored chunk counts.
	TotalChunks int `json:"totalChunks"`
	// TotalPages is the sum of page counts.
	TotalPages int `json:"totalPages"`
	// AverageChunksPerDocument is TotalChunks / TotalDocuments (0 when empty).
	AverageChunksPerDocument float64 `json:"averageChunksPerDocument"`
}

// errorResponse is the JSON error body returned by all handlers.
type errorResponse struct {
	// Error is the human-readable failure description.
	Error string `json:"error"`
}

// maps RetrievedMatch slices to the response shape.
func toSourceRefs(matches []rag.RetrievedMatch) []sourceRef {
	refs := make([]sourceRef, 0, len(matches))
	for _, m := range matches {
		refs = append(refs, sourceRef{Source: m.Source, Page: m.Page, Score: m.Score})
	}
	return refs
}
