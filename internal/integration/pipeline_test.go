package integration

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/ragscraper/internal/crawler"
	"github.com/Aman-CERP/ragscraper/internal/embed"
	"github.com/Aman-CERP/ragscraper/internal/index"
	"github.com/Aman-CERP/ragscraper/internal/logging"
	"github.com/Aman-CERP/ragscraper/internal/pipeline"
	"github.com/Aman-CERP/ragscraper/internal/query"
	"github.com/Aman-CERP/ragscraper/internal/queue"
	"github.com/Aman-CERP/ragscraper/internal/store"
	"github.com/Aman-CERP/ragscraper/internal/ui"
)

// Integration Tests - these run every stage against real queues, a real
// document store and a persisted index, then query the result.

const dims = 64

func docsSite(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		switch r.URL.Path {
		case "/":
			_, _ = fmt.Fprint(w, `<html><body><nav>menu</nav><p>Welcome to the handbook.</p><a href="/install">install</a></body></html>`)
		case "/install":
			_, _ = fmt.Fprint(w, `<html><body><p>Install the agent with the package manager.</p></body></html>`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestIntegration_SeedToSearch(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	dir := t.TempDir()
	site := docsSite(t)
	embedder := embed.NewStaticEmbedder(dims)

	// Given: a durable queue, a document store and a writer index
	broker, err := queue.Open(ctx, queue.Options{
		Backend:      queue.BackendSQLite,
		Path:         filepath.Join(dir, "queue.db"),
		PollInterval: 10 * time.Millisecond,
		Logger:       logging.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = broker.Close() })

	docs, err := store.Open(ctx, store.Options{
		Path:   filepath.Join(dir, "documents.db"),
		Logger: logging.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })

	indexDir := filepath.Join(dir, "index")
	writer, err := index.Open(indexDir, index.WithWriter(), index.WithLogger(logging.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = writer.Close() })
	writer.Load()

	// And: one seed on the crawl queue
	published, err := pipeline.PublishSeeds(ctx, broker, "urls", []string{site.URL + "/"}, logging.Discard())
	require.NoError(t, err)
	require.Equal(t, 1, published)

	// When: all three stages run until both pages are indexed
	c := crawler.New(crawler.Config{MaxDepth: 1, Workers: 2, SameHost: true, Logger: logging.Discard()})
	stages := []struct {
		name   string
		queue  string
		handle pipeline.Handler
	}{
		{"crawl", "urls", pipeline.NewCrawlStage(c, docs, "clean_tasks", logging.Discard()).Handle},
		{"clean", "clean_tasks", pipeline.NewCleanStage(docs, "rag_vectors", logging.Discard()).Handle},
		{"embed", "rag_vectors", pipeline.NewEmbedStage(embedder, writer, logging.Discard()).Handle},
	}

	runCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for _, s := range stages {
		r := pipeline.NewRunner(broker, pipeline.RunnerOptions{Stage: s.name, Logger: logging.Discard()})
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Run(runCtx, s.queue, s.handle))
		}()
	}
	require.Eventually(t, func() bool { return writer.Count() == 2 }, 20*time.Second, 20*time.Millisecond)
	stop()
	wg.Wait()

	// Then: the store holds both pages in raw and clean form
	counts, err := docs.Counts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Raw)
	assert.Equal(t, 2, counts.Clean)

	// And: every queue has drained
	for _, q := range []string{"urls", "clean_tasks", "rag_vectors"} {
		depth, err := broker.Depth(ctx, q)
		require.NoError(t, err)
		assert.Zero(t, depth, q)
	}

	// And: a reader over the persisted index answers queries
	reader, err := index.Open(indexDir, index.WithLogger(logging.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = reader.Close() })

	svc := query.New(reader, docs, embedder, query.DefaultConfig(), logging.Discard())
	reloaded, err := svc.ReloadIndex(ctx)
	require.NoError(t, err)
	assert.True(t, reloaded.Loaded)
	assert.Equal(t, 2, reloaded.VectorCount)

	installID := store.DocumentID(site.URL + "/install")
	clean, err := docs.GetClean(ctx, installID)
	require.NoError(t, err)
	assert.NotContains(t, clean.Text, "<p>")

	resp, err := svc.Search(ctx, clean.Text, 1)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, installID, resp.Results[0].ID)
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-4)

	health, err := svc.Health(ctx)
	require.NoError(t, err)
	assert.True(t, health.IndexLoaded)
	assert.Equal(t, 2, health.RawCount)
	assert.Equal(t, 2, health.CleanCount)
}

func TestIntegration_RebuildMatchesIncrementalIndex(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	// Given: clean documents and an index built one add at a time
	ctx := context.Background()
	dir := t.TempDir()
	embedder := embed.NewStaticEmbedder(dims)
	docs, err := store.Open(ctx, store.Options{Path: filepath.Join(dir, "documents.db"), Logger: logging.Discard()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = docs.Close() })

	texts := map[string]string{
		"a": "channels carry values between goroutines",
		"b": "the borrow checker enforces ownership",
		"c": "list comprehensions build lists",
	}
	for id, text := range texts {
		require.NoError(t, docs.PutClean(ctx, &store.CleanDocument{ID: id, URL: "https://example.com/" + id, Text: text, CleanedAt: time.Now()}))
	}

	incremental, err := index.Open(filepath.Join(dir, "incremental"), index.WithWriter(), index.WithLogger(logging.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = incremental.Close() })
	incremental.Load()
	stage := pipeline.NewEmbedStage(embedder, incremental, logging.Discard())
	for id, text := range texts {
		task, err := pipeline.NewEmbedTask("rag_vectors", pipeline.EmbedPayload{DocID: id, Text: text})
		require.NoError(t, err)
		_, err = stage.Handle(ctx, task)
		require.NoError(t, err)
	}

	// When: a second index is rebuilt from the clean collection
	rebuilt, err := index.Open(filepath.Join(dir, "rebuilt"), index.WithWriter(), index.WithLogger(logging.Discard()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rebuilt.Close() })
	rebuilt.Load()
	rb, err := pipeline.NewRebuilder(pipeline.RebuilderDependencies{
		Renderer: ui.NewPlainRenderer(ui.NewConfig(io.Discard)),
		Source:   docs,
		Index:    rebuilt,
		Embedder: embedder,
		Logger:   logging.Discard(),
	})
	require.NoError(t, err)
	res, err := rb.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Vectors)

	// Then: both rank the same document first for every query
	for _, text := range texts {
		vec, err := embedder.Embed(ctx, text)
		require.NoError(t, err)
		want, err := incremental.Search(ctx, vec, 1)
		require.NoError(t, err)
		got, err := rebuilt.Search(ctx, vec, 1)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, want[0].ID, got[0].ID)
	}
}
