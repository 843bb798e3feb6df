// Package registry is the authoritative metadata store for uploaded
// documents: one record per document with its owner namespace, chunk count,
// page count, and processing status. Records are persisted in a local SQLite
// database and kept eventually consistent with the vector index through an
// explicit resync protocol.
//
// The registry, not the vector index, answers "what documents exist". Its
// core invariant — a record's TotalChunks equals the number of vector records
// stored under that document — can transiently break (a vector deletion that
// fails after the registry row is already gone) and is restored only by
// Resync, never assumed.
package registry

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver

	"github.com/docqa/docqa-go/internal/logging"
)

// Status is the lifecycle state of a document record.
type Status string

const (
	// StatusProcessing marks a document whose ingest is still running.
	StatusProcessing Status = "processing"
	// StatusCompleted marks a fully ingested document.
	StatusCompleted Status = "completed"
	// StatusFailed marks a document whose ingest aborted.
	StatusFailed Status = "failed"
)

// Record is the registry entry for one uploaded document.
type Record struct {
	// DocumentID is the unique identifier assigned at ingest.
	DocumentID string
	// Namespace is the isolation key owning this document.
	Namespace string
	// FileName is the uploaded file's name, shown in catalog listings.
	FileName string
	// TotalChunks is the number of vector records this document produced.
	TotalChunks int
	// Pages is the document's page count.
	Pages int
	// Status is the ingest lifecycle state.
	Status Status
	// UploadedAt is when the document was registered.
	UploadedAt time.Time
	// Preview is a short excerpt of the document's opening text.
	Preview string
}

// Stats is the aggregate view of a namespace's documents.
type Stats struct {
	// TotalDocuments is the number of registered documents.
	TotalDocuments int
	// TotalChunks is the sum of chunk counts across documents.
	TotalChunks int
	// TotalPages is the sum of page counts across documents.
	TotalPages int
	// AverageChunksPerDocument is TotalChunks / TotalDocuments, 0 when empty.
	AverageChunksPerDocument float64
}

// InconsistencyError is raised by Resync when the registry and the vector
// index cannot be reconciled.
type InconsistencyError struct {
	// Namespace is the namespace that failed to reconcile.
	Namespace string
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *InconsistencyError) Error() string {
	return fmt.Sprintf("registry: namespace %q could not be reconciled: %v", e.Namespace, e.Err)
}

// Unwrap returns the underlying cause for errors.Is / errors.As chains.
func (e *InconsistencyError) Unwrap() error { return e.Err }

// VectorCatalog is the slice of the vector index the registry depends on:
// enumeration for resync and per-document deletion. *rag.QdrantIndex
// satisfies it; tests inject a fake.
type VectorCatalog interface {
	// ListDocumentIDs returns the distinct document IDs stored in the
	// namespace with their record counts.
	ListDocumentIDs(ctx context.Context, namespace string) (map[string]int, error)

	// DeleteByDocument removes every record of the document from the namespace.
	DeleteByDocument(ctx context.Context, namespace, documentID string) error

	// DeleteAll removes every record in the namespace.
	DeleteAll(ctx context.Context, namespace string) error
}

// namespaceState serializes mutations for one namespace and carries its
// explicit staleness cache. Resync skips work inside the sync interval
// unless forced — the window is a parameter, not an implicit wall-clock gate
// buried in a read path.
type namespaceState struct {
	// mu serializes register/delete/resync for this namespace.
	mu sync.Mutex
	// lastSyncedAt is when the namespace last completed a resync.
	lastSyncedAt time.Time
}

// Registry is the SQLite-backed document registry. All mutations for one
// namespace are serialized; operations on different namespaces proceed
// independently.
type Registry struct {
	// db is the underlying database connection pool.
	db *sql.DB

	// vectors is the vector index used for deletion and resync.
	vectors VectorCatalog

	// syncInterval is the staleness window for non-forced resyncs.
	syncInterval time.Duration

	// mu protects the namespaces map.
	mu sync.Mutex
	// namespaces maps namespace to its serialization state.
	namespaces map[string]*namespaceState
}

// Config holds the settings for opening a Registry.
type Config struct {
	// DBPath is the SQLite database path. Use ":memory:" in tests.
	DBPath string
	// Vectors is the vector index handle used for deletion and resync.
	Vectors VectorCatalog
	// SyncInterval is the staleness window for non-forced resyncs.
	// Defaults to 5 minutes if zero.
	SyncInterval time.Duration
}

// Open opens (or creates) a Registry at the given path and runs the schema
// migration.
func Open(cfg *Config) (*Registry, error) {
	if cfg.Vectors == nil {
		return nil, fmt.Errorf("registry: vector catalog must not be nil")
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 5 * time.Minute
	}

	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := cfg.DBPath + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("registry: open %s: %w", cfg.DBPath, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	r := &Registry{
		db:           db,
		vectors:      cfg.Vectors,
		syncInterval: cfg.SyncInterval,
		namespaces:   make(map[string]*namespaceState),
	}
	if err := r.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// migrate creates the schema if it does not already exist.
func (r *Registry) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
    document_id  TEXT    PRIMARY KEY,
    namespace    TEXT    NOT NULL,
    file_name    TEXT    NOT NULL,
    total_chunks INTEGER NOT NULL,
    pages        INTEGER NOT NULL,
    status       TEXT    NOT NULL CHECK(status IN ('processing','completed','failed')),
    uploaded_at  INTEGER NOT NULL,  -- Unix timestamp (seconds)
    preview      TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_documents_namespace_uploaded
    ON documents (namespace, uploaded_at);
`
	if _, err := r.db.Exec(ddl); err != nil {
		return fmt.Errorf("registry: migrate: %w", err)
	}
	return nil
}

// state returns the serialization state for a namespace, creating it if needed.
func (r *Registry) state(namespace string) *namespaceState {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.namespaces[namespace]
	if !ok {
		st = &namespaceState{}
		r.namespaces[namespace] = st
	}
	return st
}

// Register inserts or updates a record by DocumentID. Re-registering an
// existing document updates its status and counts in place, which lets an
// interrupted ingest resume without duplicating catalog entries.
func (r *Registry) Register(ctx context.Context, rec Record) error {
	st := r.state(rec.Namespace)
	st.mu.Lock()
	defer st.mu.Unlock()

	const q = `
INSERT INTO documents (document_id, namespace, file_name, total_chunks, pages, status, uploaded_at, preview)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (document_id) DO UPDATE SET
    file_name    = excluded.file_name,
    total_chunks = excluded.total_chunks,
    pages        = excluded.pages,
    status       = excluded.status,
    preview      = excluded.preview`

	uploadedAt := rec.UploadedAt
	if uploadedAt.IsZero() {
		uploadedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, q,
		rec.DocumentID, rec.Namespace, rec.FileName, rec.TotalChunks,
		rec.Pages, string(rec.Status), uploadedAt.Unix(), rec.Preview,
	)
	if err != nil {
		return fmt.Errorf("registry: register %s: %w", rec.DocumentID, err)
	}
	return nil
}

// List returns the namespace's records ordered by upload time descending,
// with document ID as the tie-break so the order is stable.
func (r *Registry) List(ctx context.Context, namespace string) ([]Record, error) {
	const q = `
SELECT document_id, namespace, file_name, total_chunks, pages, status, uploaded_at, preview
FROM   documents
WHERE  namespace = ?
ORDER  BY uploaded_at DESC, document_id DESC`

	rows, err := r.db.QueryContext(ctx, q, namespace)
	if err != nil {
		return nil, fmt.Errorf("registry: list: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var status string
		var ts int64
		if err := rows.Scan(&rec.DocumentID, &rec.Namespace, &rec.FileName,
			&rec.TotalChunks, &rec.Pages, &status, &ts, &rec.Preview); err != nil {
			return nil, fmt.Errorf("registry: list scan: %w", err)
		}
		rec.Status = Status(status)
		rec.UploadedAt = time.Unix(ts, 0)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: list rows: %w", err)
	}
	return records, nil
}

// Get returns the record for a document ID, or sql.ErrNoRows if absent.
func (r *Registry) Get(ctx context.Context, documentID string) (Record, error) {
	const q = `
SELECT document_id, namespace, file_name, total_chunks, pages, status, uploaded_at, preview
FROM   documents
WHERE  document_id = ?`

	var rec Record
	var status string
	var ts int64
	err := r.db.QueryRowContext(ctx, q, documentID).Scan(
		&rec.DocumentID, &rec.Namespace, &rec.FileName,
		&rec.TotalChunks, &rec.Pages, &status, &ts, &rec.Preview)
	if err != nil {
		return Record{}, fmt.Errorf("registry: get %s: %w", documentID, err)
	}
	rec.Status = Status(status)
	rec.UploadedAt = time.Unix(ts, 0)
	return rec, nil
}

// Delete removes the registry record first, then instructs the vector index
// to drop the document's records. The ordering is deliberate: the registry is
// what users see, so a deleted document must vanish from listings even when
// the vector deletion subsequently fails. A failed vector deletion is logged
// and reported via the returned flag — the orphaned vectors are purged by the
// next forced Resync.
func (r *Registry) Delete(ctx context.Context, namespace, documentID string) (vectorsDeleted bool, err error) {
	st := r.state(namespace)
	st.mu.Lock()
	defer st.mu.Unlock()

	res, err := r.db.ExecContext(ctx,
		`DELETE FROM documents WHERE document_id = ? AND namespace = ?`, documentID, namespace)
	if err != nil {
		return false, fmt.Errorf("registry: delete %s: %w", documentID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, fmt.Errorf("registry: delete %s: %w", documentID, sql.ErrNoRows)
	}

	if err := r.vectors.DeleteByDocument(ctx, namespace, documentID); err != nil {
		logging.FromContext(ctx).Warn("vector deletion failed after registry delete — orphaned vectors remain until resync",
			slog.String("namespace", namespace),
			slog.String("document_id", documentID),
			slog.Any("error", err),
		)
		return false, nil
	}
	return true, nil
}

// DeleteAll removes every record in the namespace, then clears the namespace
// in the vector index, with the same ordering and partial-success semantics
// as Delete.
func (r *Registry) DeleteAll(ctx context.Context, namespace string) (vectorsDeleted bool, err error) {
	st := r.state(namespace)
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM documents WHERE namespace = ?`, namespace); err != nil {
		return false, fmt.Errorf("registry: delete all: %w", err)
	}

	if err := r.vectors.DeleteAll(ctx, namespace); err != nil {
		logging.FromContext(ctx).Warn("vector clear failed after registry clear — orphaned vectors remain until resync",
			slog.String("namespace", namespace),
			slog.Any("error", err),
		)
		return false, nil
	}
	return true, nil
}

// Resync reconciles the registry with the vector index for one namespace:
//
//   - completed records whose document no longer has vectors are dropped
//   - completed records whose chunk count drifted are corrected
//   - vector documents with no registry record (orphans of a failed deletion)
//     are removed from the index
//
// Records still in processing state are left alone — their ingest owns them.
// Resync is idempotent; concurrent calls duplicate work but cannot corrupt
// state because mutations are serialized per namespace. A non-forced call
// inside the sync interval is a no-op.
func (r *Registry) Resync(ctx context.Context, namespace string, force bool) error {
	st := r.state(namespace)
	st.mu.Lock()
	defer st.mu.Unlock()

	if !force && time.Since(st.lastSyncedAt) < r.syncInterval {
		return nil
	}

	counts, err := r.vectors.ListDocumentIDs(ctx, namespace)
	if err != nil {
		return &InconsistencyError{Namespace: namespace, Err: fmt.Errorf("listing vector documents: %w", err)}
	}

	records, err := r.List(ctx, namespace)
	if err != nil {
		return &InconsistencyError{Namespace: namespace, Err: err}
	}

	log := logging.FromContext(ctx)
	known := make(map[string]bool, len(records))

	for _, rec := range records {
		known[rec.DocumentID] = true
		if rec.Status == StatusProcessing {
			continue
		}

		stored, ok := counts[rec.DocumentID]
		switch {
		case !ok:
			// The vectors vanished out of band; the record must not keep
			// claiming a document that can no longer be retrieved.
			if _, err := r.db.ExecContext(ctx,
				`DELETE FROM documents WHERE document_id = ?`, rec.DocumentID); err != nil {
				return &InconsistencyError{Namespace: namespace, Err: fmt.Errorf("dropping stale record %s: %w", rec.DocumentID, err)}
			}
			log.Info("resync dropped registry record with no vectors",
				slog.String("namespace", namespace),
				slog.String("document_id", rec.DocumentID),
			)

		case stored != rec.TotalChunks:
			if _, err := r.db.ExecContext(ctx,
				`UPDATE documents SET total_chunks = ? WHERE document_id = ?`, stored, rec.DocumentID); err != nil {
				return &InconsistencyError{Namespace: namespace, Err: fmt.Errorf("correcting chunk count for %s: %w", rec.DocumentID, err)}
			}
			log.Info("resync corrected chunk count",
				slog.String("namespace", namespace),
				slog.String("document_id", rec.DocumentID),
				slog.Int("was", rec.TotalChunks),
				slog.Int("now", stored),
			)
		}
	}

	// Purge orphaned vectors: documents present in the index but absent from
	// the registry. These are left behind when a vector deletion fails after
	// its registry deletion already succeeded.
	for docID := range counts {
		if known[docID] {
			continue
		}
		if err := r.vectors.DeleteByDocument(ctx, namespace, docID); err != nil {
			return &InconsistencyError{Namespace: namespace, Err: fmt.Errorf("purging orphaned vectors for %s: %w", docID, err)}
		}
		log.Info("resync purged orphaned vectors",
			slog.String("namespace", namespace),
			slog.String("document_id", docID),
		)
	}

	st.lastSyncedAt = time.Now()
	return nil
}

// LastSyncedAt returns when the namespace last completed a resync.
// The zero time means it never has.
func (r *Registry) LastSyncedAt(namespace string) time.Time {
	st := r.state(namespace)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.lastSyncedAt
}

// Stats aggregates the namespace's records. Pure aggregation over List.
func (r *Registry) Stats(ctx context.Context, namespace string) (Stats, error) {
	records, err := r.List(ctx, namespace)
	if err != nil {
		return Stats{}, err
	}

	var s Stats
	s.TotalDocuments = len(records)
	for _, rec := range records {
		s.TotalChunks += rec.TotalChunks
		s.TotalPages += rec.Pages
	}
	if s.TotalDocuments > 0 {
		s.AverageChunksPerDocument = float64(s.TotalChunks) / float64(s.TotalDocuments)
	}
	return s, nil
}

// Close releases the database connection pool.
func (r *Registry) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("registry: close: %w", err)
	}
	return nil
}
