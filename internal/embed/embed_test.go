package embed

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ragerrors "github.com/Aman-CERP/ragscraper/internal/errors"
)

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func TestStaticEmbedder_UnitLengthAndDeterministic(t *testing.T) {
	// Given: a static embedder
	e := NewStaticEmbedder(64)
	ctx := context.Background()

	// When: embedding the same text twice
	a, err := e.Embed(ctx, "Go channels and goroutines")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "Go channels and goroutines")
	require.NoError(t, err)

	// Then: vectors are identical, unit length, of the configured dimension
	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, norm(a), 1e-5)
	assert.Equal(t, "static-64", e.ModelName())
}

func TestStaticEmbedder_SharedVocabularyScoresHigher(t *testing.T) {
	e := NewStaticEmbedder(DefaultDimensions)
	ctx := context.Background()

	q, _ := e.Embed(ctx, "vector database search")
	near, _ := e.Embed(ctx, "searching a vector database quickly")
	far, _ := e.Embed(ctx, "banana bread recipe with walnuts")

	assert.Greater(t, dot(q, near), dot(q, far))
}

func TestStaticEmbedder_EmptyTextIsZeroVector(t *testing.T) {
	e := NewStaticEmbedder(8)
	v, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 8), v)
}

func TestStaticEmbedder_ClosedRejects(t *testing.T) {
	e := NewStaticEmbedder(8)
	require.NoError(t, e.Close())
	_, err := e.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}

// countingEmbedder counts inner calls to prove cache hits.
type countingEmbedder struct {
	*StaticEmbedder
	calls atomic.Int32
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	return c.StaticEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls.Add(int32(len(texts)))
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedder_ServesRepeatsFromCache(t *testing.T) {
	// Given: a cached wrapper over a counting embedder
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder(16)}
	c := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	// When: embedding one text twice and then a batch containing it
	first, err := c.Embed(ctx, "hello world")
	require.NoError(t, err)
	second, err := c.Embed(ctx, "hello world")
	require.NoError(t, err)
	batch, err := c.EmbedBatch(ctx, []string{"hello world", "new text"})
	require.NoError(t, err)

	// Then: only the first call and the new batch text reach the model
	assert.Equal(t, first, second)
	assert.Equal(t, first, batch[0])
	assert.Equal(t, int32(2), inner.calls.Load())
	assert.Equal(t, 2, c.Len())
}

// fakeOllama serves /api/tags and /api/embed.
func fakeOllama(t *testing.T, dims int, failFirst int32) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var embedCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"models": []map[string]string{{"name": "all-minilm:latest"}},
			})
		case "/api/embed":
			n := embedCalls.Add(1)
			if n <= failFirst {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			var req ollamaEmbedRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			count := 1
			if in, ok := req.Input.([]any); ok {
				count = len(in)
			}
			embs := make([][]float64, count)
			for i := range embs {
				embs[i] = make([]float64, dims)
				embs[i][i%dims] = 3
				embs[i][(i+1)%dims] = 4
			}
			_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Model: req.Model, Embeddings: embs})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &embedCalls
}

func fastRetry() ragerrors.RetryConfig {
	cfg := ragerrors.DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = time.Millisecond
	return cfg
}

func TestOllamaEmbedder_ResolvesModelAndDetectsDimensions(t *testing.T) {
	// Given: an Ollama with all-minilm:latest installed
	srv, _ := fakeOllama(t, 6, 0)

	// When: creating the embedder with a bare model name
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL, Model: "all-minilm", Retry: fastRetry()})
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	// Then: the tagged model is resolved and the dimension detected
	assert.Equal(t, "all-minilm:latest", e.ModelName())
	assert.Equal(t, 6, e.Dimensions())

	v, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, norm(v), 1e-6)
	assert.InDelta(t, 0.6, v[0], 1e-6)
}

func TestOllamaEmbedder_BatchSplitsRequests(t *testing.T) {
	srv, calls := fakeOllama(t, 4, 0)
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Model: "all-minilm", Dimensions: 4, BatchSize: 2, Retry: fastRetry(), SkipHealthCheck: true,
	})
	require.NoError(t, err)

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "", "b", "c"})
	require.NoError(t, err)

	require.Len(t, vecs, 4)
	assert.Equal(t, make([]float32, 4), vecs[1])
	assert.Equal(t, int32(2), calls.Load())
}

func TestOllamaEmbedder_RetriesTransientFailures(t *testing.T) {
	srv, calls := fakeOllama(t, 4, 2)
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Model: "all-minilm", Dimensions: 4, Retry: fastRetry(), SkipHealthCheck: true,
	})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestOllamaEmbedder_UnreachableIsUpstreamUnavailable(t *testing.T) {
	// Given: a server that is already gone
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	// When: creating the embedder
	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: url, Retry: fastRetry()})

	// Then: the failure is classified as upstream unavailability
	require.Error(t, err)
	assert.True(t, errors.Is(err, ragerrors.ErrUpstreamUnavailable))
}

func TestOllamaEmbedder_DimensionChangeRejected(t *testing.T) {
	srv, _ := fakeOllama(t, 8, 0)
	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host: srv.URL, Model: "all-minilm", Dimensions: 4, Retry: fastRetry(), SkipHealthCheck: true,
	})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "hello")
	assert.True(t, errors.Is(err, ragerrors.ErrDimensionMismatch))
}

func TestNewEmbedder_StaticWithCache(t *testing.T) {
	e, err := NewEmbedder(context.Background(), Options{Provider: ProviderStatic, Dimensions: 32, CacheSize: 5})
	require.NoError(t, err)

	cached, ok := e.(*CachedEmbedder)
	require.True(t, ok)
	assert.IsType(t, &StaticEmbedder{}, cached.Inner())
	assert.Equal(t, 32, e.Dimensions())
	assert.Equal(t, ProviderStatic, Provider(e))
	assert.Equal(t, ProviderStatic, ParseProvider("STATIC"))
	assert.Equal(t, ProviderOllama, ParseProvider("anything"))
}
