// Package embed turns text into L2-normalised embedding vectors.
//
// Every Embedder returns vectors of a fixed dimension with unit length, so
// callers may treat inner product as cosine similarity.
package embed

import (
	"context"
	"math"
	"time"
)

const (
	// MaxBatchSize caps a single EmbedBatch request.
	MaxBatchSize = 256

	// DefaultBatchSize matches the rebuild batch size of the indexing job.
	DefaultBatchSize = 32

	// DefaultTimeout bounds one embedding HTTP request.
	DefaultTimeout = 30 * time.Second

	// DefaultDimensions is the output size of all-MiniLM-L6-v2, the model
	// the pipeline was sized for.
	DefaultDimensions = 384
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for several texts, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available checks if the embedder can serve requests.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

// normalizeVector scales v to unit length. Zero vectors are returned as-is.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	normalized := make([]float32, len(v))
	for i, val := range v {
		normalized[i] = float32(float64(val) / magnitude)
	}
	return normalized
}
