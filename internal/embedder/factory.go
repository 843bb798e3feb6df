package embedder

import (
	"fmt"

	"github.com/docqa/docqa-go/internal/rag"
)

// Default embedding models per backend.
const (
	defaultOllamaModel = "nomic-embed-text"
	defaultOpenAIModel = "text-embedding-3-small"

	// defaultOllamaDimensions is the output dimension of nomic-embed-text.
	// Other Ollama models may differ — override via config.
	defaultOllamaDimensions = 768
	// defaultOpenAIDimensions is the output dimension of text-embedding-3-small.
	defaultOpenAIDimensions = 1536
)

// Config holds the resolved embedding settings, typically produced by the
// config package (defaults → YAML → env).
type Config struct {
	// Provider selects the backend: ollama, openai, azure.
	Provider string
	// Model is the embedding model name. Empty selects the backend default.
	Model string
	// Dimensions overrides the embedding vector size (0 = backend default).
	Dimensions int
	// APIKey authenticates openai/azure backends.
	APIKey string
	// Endpoint is the API base URL. Empty selects the backend default.
	Endpoint string
	// AzureAPIVersion is the Azure OpenAI API version (azure only).
	AzureAPIVersion string
}

// VectorSize returns the effective embedding vector size for the config.
// Callers that pre-configure the vector index (collection creation) should
// use this rather than hardcoding a value.
func (c *Config) VectorSize() uint64 {
	if c.Dimensions > 0 {
		return uint64(c.Dimensions)
	}
	if c.Provider == "ollama" || c.Provider == "" {
		return defaultOllamaDimensions
	}
	return defaultOpenAIDimensions
}

// New constructs a rag.Embedder for the configured backend. The returned
// embedder serves both the ingest and the query path — construct it once and
// share the handle.
func New(cfg *Config) (rag.Embedder, error) {
	provider := cfg.Provider
	if provider == "" {
		provider = "ollama"
	}

	switch provider {
	case "ollama":
		host := cfg.Endpoint
		if host == "" {
			host = "http://localhost:11434"
		}
		model := cfg.Model
		if model == "" {
			model = defaultOllamaModel
		}
		return NewOllamaEmbedder(&OllamaConfig{Host: host, Model: model}), nil

	case "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embedder: openai requires an API key")
		}
		baseURL := cfg.Endpoint
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		model := cfg.Model
		if model == "" {
			model = defaultOpenAIModel
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    baseURL,
			APIKey:     cfg.APIKey,
			Model:      model,
			Dimensions: cfg.Dimensions,
		}), nil

	case "azure":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embedder: azure requires an API key")
		}
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("embedder: azure requires an endpoint")
		}
		apiVersion := cfg.AzureAPIVersion
		if apiVersion == "" {
			apiVersion = "2025-04-01-preview"
		}
		model := cfg.Model
		if model == "" {
			model = defaultOpenAIModel
		}
		return NewOpenAIEmbedder(&OpenAIConfig{
			BaseURL:    cfg.Endpoint + "/openai",
			APIKey:     cfg.APIKey,
			Model:      model,
			Dimensions: cfg.Dimensions,
			Azure:      true,
			APIVersion: apiVersion,
		}), nil

	default:
		return nil, fmt.Errorf("embedder: unknown backend %q — valid values: ollama, openai, azure", provider)
	}
}
