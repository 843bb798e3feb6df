// Package config provides YAML-based configuration for docqa.
// Configuration is loaded with a layered precedence: defaults → YAML file →
// env vars. Environment variables always win, so container deployments can
// override any file-provided value.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. DOCQA_CONFIG environment variable
//  3. ~/.docqa/config.yaml
//  4. ./docqa.yaml
//
// If no file is found the system runs entirely from env vars and defaults.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration structure. Field names use yaml tags
// that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Model configures the LLM chat model provider.
	Model ModelConfig `yaml:"model"`

	// Embedding configures the embedding provider.
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Qdrant configures the vector index connection.
	Qdrant QdrantConfig `yaml:"qdrant"`

	// Registry configures the document registry.
	Registry RegistryConfig `yaml:"registry"`

	// Chunking configures text splitting and retrieval.
	Chunking ChunkingConfig `yaml:"chunking"`

	// History configures conversation history persistence.
	History HistoryConfig `yaml:"history"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`
}

// ModelConfig holds LLM chat model settings.
type ModelConfig struct {
	// Provider selects the backend: ollama, openai.
	Provider string `yaml:"provider"`
	// Name is the model name (e.g. "llama3", "gpt-4o").
	Name string `yaml:"name"`
	// BaseURL overrides the default API endpoint.
	BaseURL string `yaml:"base_url"`
	// APIKey authenticates the provider. Prefer env var MODEL_API_KEY.
	APIKey string `yaml:"api_key"`
	// MaxTokens caps the response length.
	MaxTokens int `yaml:"max_tokens"`
	// Temperature controls response randomness (0.0–1.0).
	Temperature float32 `yaml:"temperature"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the embedding backend: ollama, openai, azure.
	Provider string `yaml:"provider"`
	// Model is the embedding model name.
	Model string `yaml:"model"`
	// Dimensions overrides the embedding vector size.
	Dimensions int `yaml:"dimensions"`
	// APIKey is the embedding API key. Prefer env var EMBEDDING_API_KEY.
	APIKey string `yaml:"api_key"`
	// Endpoint is the embedding API endpoint.
	Endpoint string `yaml:"endpoint"`
}

// QdrantConfig holds vector index settings.
type QdrantConfig struct {
	// Host is the Qdrant server hostname.
	Host string `yaml:"host"`
	// Port is the Qdrant gRPC port.
	Port int `yaml:"port"`
	// Collection is the Qdrant collection name.
	Collection string `yaml:"collection"`
	// APIKey is the Qdrant API key. Prefer env var QDRANT_API_KEY.
	APIKey string `yaml:"api_key"`
	// TLS enables TLS for the Qdrant connection.
	TLS bool `yaml:"tls"`
}

// RegistryConfig holds document registry settings.
type RegistryConfig struct {
	// DBPath is the registry SQLite database path.
	DBPath string `yaml:"db_path"`
	// SyncInterval is the staleness window for non-forced resyncs
	// (Go duration string, e.g. "5m").
	SyncInterval string `yaml:"sync_interval"`
}

// ChunkingConfig holds text splitting and retrieval settings.
type ChunkingConfig struct {
	// Size is the maximum characters per chunk.
	Size int `yaml:"size"`
	// Overlap is the characters shared between consecutive chunks.
	Overlap int `yaml:"overlap"`
	// TopK is the number of matches retrieved per question.
	TopK int `yaml:"top_k"`
	// MaxContextTokens caps the assembled context size.
	MaxContextTokens int `yaml:"max_context_tokens"`
}

// HistoryConfig holds conversation history settings.
type HistoryConfig struct {
	// DBPath is the history SQLite database path. Set to "disabled" to disable.
	DBPath string `yaml:"db_path"`
	// Depth is the number of prior turns replayed per question.
	Depth int `yaml:"depth"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var DOCQA_API_KEY.
	APIKey string `yaml:"api_key"`
	// RateLimit is the sustained per-client request rate (requests/second).
	RateLimit float64 `yaml:"rate_limit"`
	// RateBurst is the maximum instantaneous burst per client.
	RateBurst int `yaml:"rate_burst"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// Load resolves the configuration: defaults, then the YAML file (if any),
// then env var overrides. It returns the resolved config and the path of the
// file that was loaded ("" when running file-less).
func Load(explicitPath string, log *slog.Logger) (*Config, string, error) {
	cfg := defaults()

	path := resolveConfigPath(explicitPath)
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, "", fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, "", fmt.Errorf("config: parse %s: %w", path, err)
		}
		log.Info("config: loaded YAML config", slog.String("path", path))
	}

	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, "", err
	}

	return cfg, path, nil
}

// SyncIntervalDuration parses the registry sync interval, defaulting to 5m.
func (c *Config) SyncIntervalDuration() (time.Duration, error) {
	if c.Registry.SyncInterval == "" {
		return 5 * time.Minute, nil
	}
	d, err := time.ParseDuration(c.Registry.SyncInterval)
	if err != nil {
		return 0, fmt.Errorf("config: registry.sync_interval: %w", err)
	}
	return d, nil
}

// defaults returns the built-in configuration.
func defaults() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:    "ollama",
			Name:        "llama3",
			MaxTokens:   2048,
			Temperature: 0.2,
		},
		Embedding: EmbeddingConfig{
			Provider: "ollama",
		},
		Qdrant: QdrantConfig{
			Host:       "localhost",
			Port:       6334,
			Collection: "docqa",
		},
		Registry: RegistryConfig{
			DBPath:       "docqa-registry.db",
			SyncInterval: "5m",
		},
		Chunking: ChunkingConfig{
			Size:    1000,
			Overlap: 200,
			TopK:    5,
		},
		History: HistoryConfig{
			DBPath: "docqa-history.db",
			Depth:  10,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// applyEnv overrides config fields from environment variables.
// Env vars always take precedence over YAML values.
func applyEnv(cfg *Config) {
	setStr(&cfg.Model.Provider, "MODEL_PROVIDER")
	setStr(&cfg.Model.Name, "MODEL_NAME")
	setStr(&cfg.Model.BaseURL, "MODEL_BASE_URL")
	setStr(&cfg.Model.APIKey, "MODEL_API_KEY")
	setInt(&cfg.Model.MaxTokens, "MODEL_MAX_TOKENS")
	setFloat32(&cfg.Model.Temperature, "MODEL_TEMPERATURE")

	setStr(&cfg.Embedding.Provider, "EMBEDDING_PROVIDER")
	setStr(&cfg.Embedding.Model, "EMBEDDING_MODEL")
	setInt(&cfg.Embedding.Dimensions, "EMBEDDING_DIMENSIONS")
	setStr(&cfg.Embedding.APIKey, "EMBEDDING_API_KEY")
	setStr(&cfg.Embedding.Endpoint, "EMBEDDING_ENDPOINT")

	setStr(&cfg.Qdrant.Host, "QDRANT_HOST")
	setInt(&cfg.Qdrant.Port, "QDRANT_PORT")
	setStr(&cfg.Qdrant.Collection, "QDRANT_COLLECTION")
	setStr(&cfg.Qdrant.APIKey, "QDRANT_API_KEY")
	setBool(&cfg.Qdrant.TLS, "QDRANT_TLS")

	setStr(&cfg.Registry.DBPath, "DOCQA_REGISTRY_DB")
	setStr(&cfg.Registry.SyncInterval, "DOCQA_SYNC_INTERVAL")

	setInt(&cfg.Chunking.Size, "CHUNK_SIZE")
	setInt(&cfg.Chunking.Overlap, "CHUNK_OVERLAP")
	setInt(&cfg.Chunking.TopK, "RETRIEVAL_TOP_K")
	setInt(&cfg.Chunking.MaxContextTokens, "MAX_CONTEXT_TOKENS")

	setStr(&cfg.History.DBPath, "DOCQA_HISTORY_DB")
	setInt(&cfg.History.Depth, "HISTORY_DEPTH")

	setStr(&cfg.Server.Host, "SERVER_HOST")
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStr(&cfg.Server.APIKey, "DOCQA_API_KEY")
	setFloat64(&cfg.Server.RateLimit, "RATE_LIMIT")
	setInt(&cfg.Server.RateBurst, "RATE_BURST")

	setStr(&cfg.Logging.Level, "LOG_LEVEL")
	setStr(&cfg.Logging.Format, "LOG_FORMAT")
}

// validate rejects configurations that would fail later in confusing ways.
func validate(cfg *Config) error {
	if cfg.Chunking.Overlap >= cfg.Chunking.Size {
		return fmt.Errorf("config: chunking.overlap (%d) must be smaller than chunking.size (%d)",
			cfg.Chunking.Overlap, cfg.Chunking.Size)
	}
	if _, err := cfg.SyncIntervalDuration(); err != nil {
		return err
	}
	return nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("DOCQA_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".docqa", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("docqa.yaml"); err == nil {
		return "docqa.yaml"
	}

	return ""
}

// setStr overrides dst when the env var is set and non-empty.
func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setInt overrides dst when the env var parses as an integer.
func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			*dst = i
		}
	}
}

// setBool overrides dst when the env var parses as a boolean.
func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// setFloat32 overrides dst when the env var parses as a float.
func setFloat32(dst *float32, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			*dst = float32(f)
		}
	}
}

// setFloat64 overrides dst when the env var parses as a float.
func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
