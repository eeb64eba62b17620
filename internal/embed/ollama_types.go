package embed

import (
	"time"

	ragerrors "github.com/Aman-CERP/ragscraper/internal/errors"
)

const (
	DefaultOllamaHost  = "http://localhost:11434"
	DefaultOllamaModel = "all-minilm"

	// OllamaPoolSize for the HTTP connection pool.
	OllamaPoolSize = 4
)

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	// Host is the Ollama API endpoint (default: http://localhost:11434).
	Host string

	// Model is the embedding model to use (default: all-minilm).
	Model string

	// Dimensions overrides auto-detection (0 = ask the model on first use).
	Dimensions int

	// BatchSize for batch embedding requests (default: 32).
	BatchSize int

	// Timeout for a single API request (default: 30s).
	Timeout time.Duration

	// Retry controls backoff for transient failures.
	Retry ragerrors.RetryConfig

	// BreakerFailures opens the circuit after this many consecutive failed
	// requests (default: 5).
	BreakerFailures int

	// SkipHealthCheck skips the initial model lookup (for testing).
	SkipHealthCheck bool
}

// DefaultOllamaConfig returns defaults for a local Ollama.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:            DefaultOllamaHost,
		Model:           DefaultOllamaModel,
		BatchSize:       DefaultBatchSize,
		Timeout:         DefaultTimeout,
		Retry:           ragerrors.DefaultRetryConfig(),
		BreakerFailures: 5,
	}
}

// ollamaEmbedRequest is the /api/embed request.
type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"` // string or []string
}

// ollamaEmbedResponse is the /api/embed response.
type ollamaEmbedResponse struct {
	Model      string      `json:"model"`
	Embeddings [][]float64 `json:"embeddings"`
}

// ollamaTagsResponse is the /api/tags response.
type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}
