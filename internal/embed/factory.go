package embed

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ProviderType represents an embedding provider.
type ProviderType string

const (
	// ProviderOllama uses Ollama's HTTP API.
	ProviderOllama ProviderType = "ollama"

	// ProviderStatic uses hash-based embeddings (offline, deterministic).
	ProviderStatic ProviderType = "static"
)

// String returns the string representation of ProviderType.
func (p ProviderType) String() string {
	return string(p)
}

// ParseProvider converts a string to ProviderType, defaulting to Ollama.
func ParseProvider(s string) ProviderType {
	if strings.EqualFold(s, string(ProviderStatic)) {
		return ProviderStatic
	}
	return ProviderOllama
}

// Options selects and tunes an embedder.
type Options struct {
	Provider   ProviderType
	Model      string
	Dimensions int
	Host       string
	BatchSize  int
	Timeout    time.Duration

	// CacheSize > 0 wraps the embedder in a CachedEmbedder.
	CacheSize int
}

// NewEmbedder creates the embedder described by opts. There is no silent
// fallback: if Ollama is selected and unreachable the error is returned,
// since vectors from two providers must never share one index.
func NewEmbedder(ctx context.Context, opts Options) (Embedder, error) {
	var (
		embedder Embedder
		err      error
	)

	switch opts.Provider {
	case ProviderStatic:
		embedder = NewStaticEmbedder(opts.Dimensions)
	case ProviderOllama, "":
		cfg := DefaultOllamaConfig()
		if opts.Host != "" {
			cfg.Host = opts.Host
		}
		if opts.Model != "" {
			cfg.Model = opts.Model
		}
		if opts.BatchSize > 0 {
			cfg.BatchSize = opts.BatchSize
		}
		if opts.Timeout > 0 {
			cfg.Timeout = opts.Timeout
		}
		// Dimensions is left to detection; a configured value that
		// disagrees with the model would poison the index.
		embedder, err = NewOllamaEmbedder(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("ollama unavailable: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", opts.Provider)
	}

	if opts.CacheSize > 0 {
		embedder = NewCachedEmbedder(embedder, opts.CacheSize)
	}
	return embedder, nil
}

// Provider reports which backend produces e's vectors, looking through
// the cache wrapper.
func Provider(e Embedder) ProviderType {
	if c, ok := e.(*CachedEmbedder); ok {
		e = c.Inner()
	}
	if _, ok := e.(*StaticEmbedder); ok {
		return ProviderStatic
	}
	return ProviderOllama
}
