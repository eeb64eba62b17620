package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	ragerrors "github.com/Aman-CERP/ragscraper/internal/errors"
)

// OllamaEmbedder generates embeddings using Ollama's HTTP API.
type OllamaEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    OllamaConfig
	breaker   *ragerrors.CircuitBreaker

	mu        sync.RWMutex
	modelName string
	dims      int
	closed    bool
}

var _ Embedder = (*OllamaEmbedder)(nil)

// NewOllamaEmbedder creates an Ollama embedder. Unless SkipHealthCheck is
// set it verifies the model is installed and detects its dimension.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	def := DefaultOllamaConfig()
	if cfg.Host == "" {
		cfg.Host = def.Host
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = def.Model
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.BatchSize > MaxBatchSize {
		cfg.BatchSize = MaxBatchSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = def.Retry
	}
	if cfg.BreakerFailures <= 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}

	// No client-level timeout: each request gets its own context deadline.
	transport := &http.Transport{
		MaxIdleConns:        OllamaPoolSize,
		MaxIdleConnsPerHost: OllamaPoolSize,
		IdleConnTimeout:     30 * time.Second,
	}

	e := &OllamaEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		breaker:   ragerrors.NewCircuitBreaker("ollama", ragerrors.WithMaxFailures(cfg.BreakerFailures)),
		modelName: cfg.Model,
		dims:      cfg.Dimensions,
	}

	if !cfg.SkipHealthCheck {
		name, err := e.findModel(ctx)
		if err != nil {
			transport.CloseIdleConnections()
			return nil, err
		}
		e.modelName = name

		if e.dims == 0 {
			vecs, err := e.embedWithRetry(ctx, []string{"dimension detection"})
			if err != nil {
				transport.CloseIdleConnections()
				return nil, fmt.Errorf("failed to detect embedding dimensions: %w", err)
			}
			e.dims = len(vecs[0])
		}
	}

	if e.dims == 0 {
		e.dims = DefaultDimensions
	}
	return e, nil
}

// findModel resolves the configured model against the installed ones,
// accepting a bare name for a tagged install ("all-minilm" -> "all-minilm:latest").
func (e *OllamaEmbedder) findModel(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return "", ragerrors.Unavailable("ollama", err).
			WithSuggestion("start Ollama with 'ollama serve' or set embeddings.provider: static")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", ragerrors.Unavailable("ollama", fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return "", fmt.Errorf("failed to decode model list: %w", err)
	}

	want := strings.ToLower(e.config.Model)
	wantBase, _, _ := strings.Cut(want, ":")
	for _, m := range tags.Models {
		name := strings.ToLower(m.Name)
		base, _, _ := strings.Cut(name, ":")
		if name == want || base == want || (base == wantBase && !strings.Contains(want, ":")) {
			return m.Name, nil
		}
	}

	return "", ragerrors.New(ragerrors.ErrCodeEmbeddingFailed,
		fmt.Sprintf("embedding model %q is not installed", e.config.Model), nil).
		WithSuggestion("run 'ollama pull " + e.config.Model + "'")
}

// Embed generates the embedding for a single text.
// Empty or whitespace-only text yields a zero vector without a request.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return make([]float32, e.Dimensions()), nil
	}

	vecs, err := e.embedWithRetry(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in requests of at most BatchSize inputs.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}

	results := make([][]float32, len(texts))
	var (
		pending []string
		slots   []int
	)
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			results[i] = make([]float32, e.Dimensions())
			continue
		}
		pending = append(pending, text)
		slots = append(slots, i)
	}

	for start := 0; start < len(pending); start += e.config.BatchSize {
		end := min(start+e.config.BatchSize, len(pending))

		vecs, err := e.embedWithRetry(ctx, pending[start:end])
		if err != nil {
			return nil, fmt.Errorf("failed to embed batch %d-%d: %w", start, end, err)
		}
		for j, v := range vecs {
			results[slots[start+j]] = v
		}
	}
	return results, nil
}

func (e *OllamaEmbedder) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	return ragerrors.RetryWithResult(ctx, e.config.Retry, func() ([][]float32, error) {
		var out [][]float32
		err := e.breaker.Execute(func() error {
			var err error
			out, err = e.doEmbed(ctx, texts)
			return err
		})
		if err != nil {
			slog.Debug("embedding_attempt_failed",
				slog.Int("texts", len(texts)),
				slog.String("breaker", e.breaker.State().String()),
				slog.String("error", err.Error()))
		}
		return out, err
	})
}

func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	var input any = texts
	if len(texts) == 1 {
		input = texts[0]
	}
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.ModelName(), Input: input})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ragerrors.New(ragerrors.ErrCodeNetworkTimeout, "ollama request timed out", err)
		}
		return nil, ragerrors.Unavailable("ollama", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		cause := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
		if resp.StatusCode >= 500 {
			return nil, ragerrors.Unavailable("ollama", cause)
		}
		return nil, ragerrors.New(ragerrors.ErrCodeEmbeddingFailed, "ollama rejected embedding request", cause)
	}

	var result ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, ragerrors.Newf(ragerrors.ErrCodeEmbeddingFailed,
			"ollama returned %d embeddings for %d inputs", len(result.Embeddings), len(texts))
	}

	want := e.Dimensions()
	out := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		if want > 0 && len(emb) != want {
			return nil, ragerrors.DimensionMismatch(want, len(emb))
		}
		v := make([]float32, len(emb))
		for j, x := range emb {
			v[j] = float32(x)
		}
		out[i] = normalizeVector(v)
	}
	return out, nil
}

func (e *OllamaEmbedder) checkOpen() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return fmt.Errorf("embedder is closed")
	}
	return nil
}

// Dimensions returns the embedding dimension.
func (e *OllamaEmbedder) Dimensions() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dims
}

// ModelName returns the resolved model name.
func (e *OllamaEmbedder) ModelName() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.modelName
}

// Available reports whether Ollama answers and the breaker is not open.
func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	if e.checkOpen() != nil || e.breaker.State() == ragerrors.StateOpen {
		return false
	}
	_, err := e.findModel(ctx)
	return err == nil
}

// Close releases idle connections.
func (e *OllamaEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}
