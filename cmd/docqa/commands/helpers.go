package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docqa/docqa-go/internal/embedder"
	"github.com/docqa/docqa-go/internal/generator"
	"github.com/docqa/docqa-go/internal/pipeline"
	"github.com/docqa/docqa-go/internal/provider"
	"github.com/docqa/docqa-go/internal/rag"
	"github.com/docqa/docqa-go/internal/registry"
)

// services bundles the long-lived handles a command needs, with a single
// close function releasing them in reverse construction order.
type services struct {
	// pipeline is the RAG orchestration facade.
	pipeline *pipeline.Service
	// index is the Qdrant handle, exposed for readiness probes.
	index *rag.QdrantIndex
	// embedder is the embedding client, exposed for readiness probes.
	embedder rag.Embedder
	// close releases the index and registry connections.
	close func()
}

// buildServices constructs the full pipeline stack from the resolved config:
// embedder, Qdrant index, registry, chat model, generator.
func buildServices(ctx context.Context, log *slog.Logger) (*services, error) {
	embCfg := &embedder.Config{
		Provider:   cfg.Embedding.Provider,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		APIKey:     cfg.Embedding.APIKey,
		Endpoint:   cfg.Embedding.Endpoint,
	}
	emb, err := embedder.New(embCfg)
	if err != nil {
		return nil, fmt.Errorf("embedder: %w", err)
	}
	log.Info("embedder initialised", slog.String("provider", cfg.Embedding.Provider))

	index, err := rag.NewQdrantIndex(ctx, &rag.QdrantConfig{
		Host:       cfg.Qdrant.Host,
		Port:       cfg.Qdrant.Port,
		Collection: cfg.Qdrant.Collection,
		VectorSize: embCfg.VectorSize(),
		APIKey:     cfg.Qdrant.APIKey,
		UseTLS:     cfg.Qdrant.TLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant at %s:%d: %w", cfg.Qdrant.Host, cfg.Qdrant.Port, err)
	}
	log.Info("vector index ready",
		slog.String("host", cfg.Qdrant.Host),
		slog.Int("port", cfg.Qdrant.Port),
		slog.String("collection", cfg.Qdrant.Collection),
	)

	syncInterval, err := cfg.SyncIntervalDuration()
	if err != nil {
		_ = index.Close()
		return nil, err
	}
	reg, err := registry.Open(&registry.Config{
		DBPath:       cfg.Registry.DBPath,
		Vectors:      index,
		SyncInterval: syncInterval,
	})
	if err != nil {
		_ = index.Close()
		return nil, fmt.Errorf("registry: %w", err)
	}

	chatModel, err := provider.New(ctx, &provider.Config{
		Backend:     provider.Backend(cfg.Model.Provider),
		Model:       cfg.Model.Name,
		BaseURL:     cfg.Model.BaseURL,
		APIKey:      cfg.Model.APIKey,
		MaxTokens:   cfg.Model.MaxTokens,
		Temperature: cfg.Model.Temperature,
	})
	if err != nil {
		_ = reg.Close()
		_ = index.Close()
		return nil, fmt.Errorf("model provider: %w", err)
	}
	log.Info("model provider initialised",
		slog.String("provider", cfg.Model.Provider),
		slog.String("model", cfg.Model.Name),
	)

	svc, err := pipeline.New(&pipeline.Config{
		Embedder:         emb,
		Index:            index,
		Registry:         reg,
		Generator:        generator.New(chatModel),
		ChunkSize:        cfg.Chunking.Size,
		ChunkOverlap:     cfg.Chunking.Overlap,
		TopK:             cfg.Chunking.TopK,
		MaxContextTokens: cfg.Chunking.MaxContextTokens,
	})
	if err != nil {
		_ = reg.Close()
		_ = index.Close()
		return nil, err
	}

	return &services{
		pipeline: svc,
		index:    index,
		embedder: emb,
		close: func() {
			_ = reg.Close()
			_ = index.Close()
		},
	}, nil
}
