package rag

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// Payload field names used for every stored vector record.
const (
	payloadDocumentID = "document_id"
	payloadChunkIndex = "chunk_index"
	payloadPage       = "page"
	payloadText       = "text"
	payloadSource     = "source"
	payloadNamespace  = "namespace"
)

// scrollBatchSize is the page size used when enumerating records for resync.
const scrollBatchSize = 1024

// QdrantConfig holds connection parameters for a Qdrant vector index.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use. All namespaces share
	// one collection; isolation is enforced by a payload filter.
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this
	// collection. It is fixed for the lifetime of the collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantIndex implements VectorIndex backed by a Qdrant instance.
type QdrantIndex struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this index.
	cfg *QdrantConfig
}

// NewQdrantIndex creates a QdrantIndex, ensuring the target collection
// exists (creating it if necessary), and returns a ready-to-use VectorIndex.
func NewQdrantIndex(ctx context.Context, cfg *QdrantConfig) (*QdrantIndex, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, &IndexError{Op: "connect", Err: err}
	}

	idx := &QdrantIndex{client: client, cfg: cfg}
	if err := idx.ensureCollection(ctx); err != nil {
		return nil, err
	}

	return idx, nil
}

// ensureCollection creates the Qdrant collection if it does not already exist.
func (s *QdrantIndex) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return &IndexError{Op: "collection check", Err: err}
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return &IndexError{Op: fmt.Sprintf("create collection %q", s.cfg.Collection), Err: err}
	}

	return nil
}

// Upsert stores or overwrites the given records. Idempotent by record ID:
// re-ingesting a document with the same chunk IDs replaces its vectors.
func (s *QdrantIndex) Upsert(ctx context.Context, namespace string, records []VectorRecord) error {
	points := make([]*qdrant.PointStruct, 0, len(records))
	for _, rec := range records {
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(rec.ID),
			Vectors: qdrant.NewVectors(rec.Values...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadDocumentID: rec.Metadata.DocumentID,
				payloadChunkIndex: int64(rec.Metadata.ChunkIndex),
				payloadPage:       int64(rec.Metadata.Page),
				payloadText:       rec.Metadata.Text,
				payloadSource:     rec.Metadata.Source,
				payloadNamespace:  namespace,
			}),
		})
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Points:         points,
	})
	if err != nil {
		return &IndexError{Op: "upsert", Err: err}
	}

	return nil
}

// Query performs a cosine similarity search restricted to the namespace and
// returns the top-k results ordered by descending score. An empty namespace
// yields an empty slice.
func (s *QdrantIndex) Query(ctx context.Context, namespace string, vector []float32, topK int) ([]RetrievedMatch, error) {
	limit := uint64(topK)
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(vector...),
		Filter:         namespaceFilter(namespace),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, &IndexError{Op: "query", Err: err}
	}

	matches := make([]RetrievedMatch, 0, len(results))
	for _, r := range results {
		m := RetrievedMatch{
			ID:    r.Id.GetUuid(),
			Score: clampScore(r.Score),
		}
		if p := r.Payload; p != nil {
			if v, ok := p[payloadText]; ok {
				m.Text = v.GetStringValue()
			}
			if v, ok := p[payloadSource]; ok {
				m.Source = v.GetStringValue()
			}
			if v, ok := p[payloadPage]; ok {
				m.Page = int(v.GetIntegerValue())
			}
		}
		matches = append(matches, m)
	}

	return matches, nil
}

// DeleteByIDs removes the records with the given IDs from the namespace.
func (s *QdrantIndex) DeleteByIDs(ctx context.Context, namespace string, ids []string) error {
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(id))
	}

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
	})
	if err != nil {
		return &IndexError{Op: "delete by ids", Err: err}
	}

	return nil
}

// DeleteByDocument removes every record of the given document within the
// namespace, using a payload filter delete.
func (s *QdrantIndex) DeleteByDocument(ctx context.Context, namespace, documentID string) error {
	filter := namespaceFilter(namespace)
	filter.Must = append(filter.Must, qdrant.NewMatch(payloadDocumentID, documentID))

	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points:         qdrant.NewPointsSelectorFilter(filter),
	})
	if err != nil {
		return &IndexError{Op: "delete by document", Err: err}
	}

	return nil
}

// DeleteAll removes every record in the namespace. Other namespaces in the
// same collection are untouched.
func (s *QdrantIndex) DeleteAll(ctx context.Context, namespace string) error {
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Points:         qdrant.NewPointsSelectorFilter(namespaceFilter(namespace)),
	})
	if err != nil {
		return &IndexError{Op: "delete all", Err: err}
	}

	return nil
}

// ListDocumentIDs scrolls the namespace and returns each distinct document ID
// with its stored record count. Qdrant's scroll offset is inclusive, so a
// seen-set guards against double counting across pages.
func (s *QdrantIndex) ListDocumentIDs(ctx context.Context, namespace string) (map[string]int, error) {
	counts := make(map[string]int)
	seen := make(map[string]bool)

	limit := uint32(scrollBatchSize)
	var offset *qdrant.PointId

	for {
		points, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.cfg.Collection,
			Filter:         namespaceFilter(namespace),
			Limit:          &limit,
			Offset:         offset,
			WithPayload:    qdrant.NewWithPayloadInclude(payloadDocumentID),
		})
		if err != nil {
			return nil, &IndexError{Op: "scroll", Err: err}
		}
		if len(points) == 0 {
			return counts, nil
		}

		for _, pt := range points {
			id := pt.Id.GetUuid()
			if seen[id] {
				continue
			}
			seen[id] = true
			if v, ok := pt.Payload[payloadDocumentID]; ok {
				counts[v.GetStringValue()]++
			}
		}

		if len(points) < scrollBatchSize {
			return counts, nil
		}
		offset = points[len(points)-1].Id
	}
}

// Ping checks reachability via the native Qdrant health RPC, satisfying the
// server's readiness probe interface.
func (s *QdrantIndex) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return &IndexError{Op: "health check", Err: err}
	}
	return nil
}

// Name returns the dependency label used in readiness responses.
func (s *QdrantIndex) Name() string { return "qdrant" }

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantIndex) Close() error {
	return s.client.Close()
}

// namespaceFilter builds the payload filter isolating one namespace.
func namespaceFilter(namespace string) *qdrant.Filter {
	return &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch(payloadNamespace, namespace),
		},
	}
}

// clampScore bounds a backend similarity score to [0, 1]. Cosine similarity
// can be negative for opposed vectors; downstream rendering assumes a
// percentage-friendly range.
func clampScore(score float32) float32 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
