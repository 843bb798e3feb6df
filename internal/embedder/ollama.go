// Package embedder provides implementations of the rag.Embedder interface for
// converting text into dense vector embeddings. Each implementation talks to
// a different backend (Ollama, OpenAI, Azure OpenAI) via plain HTTP — no
// additional SDK dependencies are required.
//
// One invariant spans the whole system: the ingest path and the query path
// must embed with the identical model. Swapping the model makes every
// previously indexed vector incomparable to new query vectors; there is no
// partial re-embedding, the index must be rebuilt.
package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// OllamaEmbedder implements rag.Embedder using the Ollama /api/embed endpoint.
// It is safe for concurrent use. No API key is required — Ollama runs locally.
type OllamaEmbedder struct {
	// host is the Ollama server base URL (e.g. "http://localhost:11434").
	host string
	// model is the embedding model name (e.g. "nomic-embed-text").
	model string
	// client is the shared HTTP client with a sensible timeout.
	client *http.Client
}

// OllamaConfig holds the settings for constructing an OllamaEmbedder.
type OllamaConfig struct {
	// Host is the Ollama server base URL (e.g. "http://localhost:11434").
	Host string
	// Model is the embedding model name (e.g. "nomic-embed-text").
	Model string
}

// NewOllamaEmbedder constructs an OllamaEmbedder from the given config.
func NewOllamaEmbedder(cfg *OllamaConfig) *OllamaEmbedder {
	return &OllamaEmbedder{
		host:   cfg.Host,
		model:  cfg.Model,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

// ollamaEmbedRequest is the JSON body sent to the Ollama /api/embed endpoint.
type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// ollamaEmbedResponse is the JSON body returned from the Ollama /api/embed endpoint.
type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Embed converts a batch of texts into their corresponding embeddings.
// The returned slice is parallel to the input slice.
func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	payload, err := json.Marshal(ollamaEmbedRequest{
		Model: e.model,
		Input: texts,
	})
	if err != nil {
		return nil, &ServiceError{Backend: "ollama", Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.host+"/api/embed", bytes.NewReader(payload))
	if err != nil {
		return nil, &ServiceError{Backend: "ollama", Err: fmt.Errorf("create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &ServiceError{Backend: "ollama", Err: err}
	}
	defer resp.Body.Close()

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, &ServiceError{Backend: "ollama", Err: fmt.Errorf("decode response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		cause := errors.New("request rejected")
		if result.Error != "" {
			cause = errors.New(result.Error)
		}
		return nil, &ServiceError{Backend: "ollama", StatusCode: resp.StatusCode, Err: cause}
	}

	if len(result.Embeddings) != len(texts) {
		return nil, &ServiceError{Backend: "ollama", Err: fmt.Errorf("expected %d embeddings, got %d", len(texts), len(result.Embeddings))}
	}

	return result.Embeddings, nil
}

// Ping probes the Ollama server root endpoint, satisfying the server's
// readiness probe interface without consuming model resources.
func (e *OllamaEmbedder) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.host+"/", nil)
	if err != nil {
		return &ServiceError{Backend: "ollama", Err: err}
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return &ServiceError{Backend: "ollama", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &ServiceError{Backend: "ollama", StatusCode: resp.StatusCode, Err: errors.New("unexpected status")}
	}
	return nil
}

// Name returns the dependency label used in readiness responses.
func (e *OllamaEmbedder) Name() string { return "ollama-embedder" }
