package query

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/ragscraper/internal/embed"
	ragerrors "github.com/Aman-CERP/ragscraper/internal/errors"
	"github.com/Aman-CERP/ragscraper/internal/index"
	"github.com/Aman-CERP/ragscraper/internal/logging"
	"github.com/Aman-CERP/ragscraper/internal/store"
)

// fakeIndex returns fixed hits and records the requested k.
type fakeIndex struct {
	hits  []index.Result
	count int
	dir   string
	k     int
	loads int
}

func (f *fakeIndex) Search(_ context.Context, _ []float32, k int) ([]index.Result, error) {
	f.k = k
	return f.hits[:min(k, len(f.hits))], nil
}

func (f *fakeIndex) Load() index.LoadReport {
	f.loads++
	return index.LoadReport{State: f.State(), Vectors: f.count}
}

func (f *fakeIndex) State() index.State {
	if f.count == 0 {
		return index.StateEmpty
	}
	return index.StatePopulated
}

func (f *fakeIndex) Count() int  { return f.count }
func (f *fakeIndex) Dir() string { return f.dir }

func openTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.Open(context.Background(), store.Options{
		Path:   filepath.Join(t.TempDir(), "documents.db"),
		Logger: logging.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func putClean(t *testing.T, s *store.SQLiteStore, id, text string) {
	t.Helper()
	require.NoError(t, s.PutClean(context.Background(), &store.CleanDocument{
		ID:        id,
		URL:       "https://example.com/" + id,
		Text:      text,
		CleanedAt: time.Now(),
	}))
}

func newService(ix VectorIndex, docs Documents) *Service {
	return New(ix, docs, embed.NewStaticEmbedder(8), Config{}, logging.Discard())
}

func TestNew_AppliesDefaults(t *testing.T) {
	s := New(&fakeIndex{}, nil, nil, Config{MaxK: 3}, nil)

	cfg := s.Config()
	assert.Equal(t, 1000, cfg.MaxContextChars)
	assert.Equal(t, 3, cfg.MaxK)
	assert.Equal(t, 3, cfg.DefaultK)
	assert.Equal(t, 2, cfg.MinQueryLength)
}

func TestSearch_PreservesIndexOrderAndSkipsMissing(t *testing.T) {
	// Given: three hits, one of which has no clean document
	docs := openTestStore(t)
	putClean(t, docs, "b", "beta text")
	putClean(t, docs, "a", "alpha text")
	ix := &fakeIndex{count: 3, hits: []index.Result{
		{ID: "b", Score: 0.9, Row: 1},
		{ID: "gone", Score: 0.8, Row: 2},
		{ID: "a", Score: 0.7, Row: 0},
	}}
	s := newService(ix, docs)

	// When: searching with k=3
	resp, err := s.Search(context.Background(), "what is alpha", 3)

	// Then: results keep index order without the missing document
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "b", resp.Results[0].ID)
	assert.Equal(t, "a", resp.Results[1].ID)
	assert.Equal(t, float32(0.9), resp.Results[0].Score)
	assert.Equal(t, "https://example.com/b", resp.Results[0].URL)
	assert.Equal(t, 2, resp.TotalMatches)
	assert.Equal(t, 3, ix.k)
}

func TestSearch_Validation(t *testing.T) {
	s := newService(&fakeIndex{count: 1, hits: []index.Result{{ID: "a"}}}, openTestStore(t))

	tests := []struct {
		name  string
		query string
		k     int
	}{
		{"query too short", "a", 5},
		{"whitespace only", "   ", 5},
		{"k zero", "hello", 0},
		{"k above max", "hello", 21},
		{"k negative", "hello", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Search(context.Background(), tt.query, tt.k)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ragerrors.ErrInvalidInput), "got %v", err)
		})
	}
}

func TestSearch_BoundaryValuesAccepted(t *testing.T) {
	s := newService(&fakeIndex{count: 1, hits: []index.Result{{ID: "a"}}}, openTestStore(t))

	_, err := s.Search(context.Background(), "ab", 1)
	assert.NoError(t, err)
	_, err = s.Search(context.Background(), "ab", 20)
	assert.NoError(t, err)
}

func TestSearch_EmptyIndex(t *testing.T) {
	// Given: an index with no vectors
	s := newService(&fakeIndex{}, openTestStore(t))

	// When: searching
	_, err := s.Search(context.Background(), "anything", 5)

	// Then: the error says the index is empty
	require.Error(t, err)
	assert.True(t, errors.Is(err, ragerrors.ErrEmptyIndex))
}

func TestAnswer_TruncatesAndJoinsContexts(t *testing.T) {
	// Given: two retrieved documents of 1500 characters
	docs := openTestStore(t)
	putClean(t, docs, "x", strings.Repeat("x", 1500))
	putClean(t, docs, "y", strings.Repeat("y", 1500))
	ix := &fakeIndex{count: 2, hits: []index.Result{{ID: "x", Row: 0}, {ID: "y", Row: 1}}}
	s := New(ix, docs, embed.NewStaticEmbedder(8), Config{MaxContextChars: 100}, logging.Discard())

	// When: answering
	resp, err := s.Answer(context.Background(), "letters", 2)

	// Then: the answer holds both contexts truncated to 100 characters
	require.NoError(t, err)
	want := "Based on 2 relevant sources:\n\n" +
		strings.Repeat("x", 100) + "\n\n---\n\n" + strings.Repeat("y", 100)
	assert.Equal(t, want, resp.Answer)
	assert.Equal(t, 2, resp.ContextCount)
}

func TestAnswer_TruncatesByCharacter(t *testing.T) {
	docs := openTestStore(t)
	putClean(t, docs, "u", strings.Repeat("é", 10))
	s := New(&fakeIndex{count: 1, hits: []index.Result{{ID: "u"}}}, docs,
		embed.NewStaticEmbedder(8), Config{MaxContextChars: 3}, logging.Discard())

	resp, err := s.Answer(context.Background(), "accents", 1)

	require.NoError(t, err)
	assert.Equal(t, "Based on 1 relevant sources:\n\néé"+"é", resp.Answer)
}

func TestAnswer_NothingRetrieved(t *testing.T) {
	// Given: hits whose documents are all missing
	s := newService(&fakeIndex{count: 1, hits: []index.Result{{ID: "gone"}}}, openTestStore(t))

	// When: answering
	resp, err := s.Answer(context.Background(), "anything", 5)

	// Then: the fixed sentinel is returned
	require.NoError(t, err)
	assert.Equal(t, NoAnswer, resp.Answer)
	assert.Zero(t, resp.ContextCount)
}

func TestAnswer_EmptyIndex(t *testing.T) {
	s := newService(&fakeIndex{}, openTestStore(t))

	_, err := s.Answer(context.Background(), "anything", 5)

	assert.True(t, errors.Is(err, ragerrors.ErrEmptyIndex))
}

func TestAssembleAnswer(t *testing.T) {
	assert.Equal(t, NoAnswer, AssembleAnswer(nil))
	assert.Equal(t, "Based on 1 relevant sources:\n\nonly", AssembleAnswer([]string{"only"}))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab", truncate("abc", 2))
	assert.Equal(t, "", truncate("abc", 0))
	assert.Equal(t, "日本", truncate("日本語", 2))
}

func TestHealth(t *testing.T) {
	docs := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, docs.PutRaw(ctx, &store.RawDocument{ID: "r", URL: "https://example.com/", HTML: []byte("<p>hi</p>"), FetchedAt: time.Now()}))
	putClean(t, docs, "r", "hi")
	s := newService(&fakeIndex{count: 1}, docs)

	h, err := s.Health(ctx)

	require.NoError(t, err)
	assert.Equal(t, &HealthResponse{Status: "healthy", IndexLoaded: true, VectorCount: 1, RawCount: 1, CleanCount: 1}, h)
}

func TestListLimits(t *testing.T) {
	docs := openTestStore(t)
	putClean(t, docs, "a", "one")
	putClean(t, docs, "b", "two")
	s := newService(&fakeIndex{}, docs)
	ctx := context.Background()

	got, err := s.ListClean(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)

	_, err = s.ListClean(ctx, 0)
	assert.True(t, errors.Is(err, ragerrors.ErrInvalidInput))
	_, err = s.ListRaw(ctx, 101)
	assert.True(t, errors.Is(err, ragerrors.ErrInvalidInput))

	raw, err := s.ListRaw(ctx, 100)
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestDocument(t *testing.T) {
	docs := openTestStore(t)
	putClean(t, docs, "a", "alpha")
	s := newService(&fakeIndex{}, docs)

	doc, err := s.Document(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "alpha", doc.Text)

	_, err = s.Document(context.Background(), "missing")
	assert.True(t, errors.Is(err, ragerrors.ErrDocumentNotFound))
}

func TestService_EndToEndWithPersistedIndex(t *testing.T) {
	// Given: a writer index holding two documents, and a separate reader
	ctx := context.Background()
	dir := t.TempDir()
	docs := openTestStore(t)
	emb := embed.NewStaticEmbedder(16)
	texts := map[string]string{
		"go":   "goroutines and channels",
		"rust": "ownership and borrowing",
	}

	writer, err := index.Open(dir, index.WithWriter(), index.WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer func() { _ = writer.Close() }()
	writer.Load()
	for _, id := range []string{"go", "rust"} {
		putClean(t, docs, id, texts[id])
		vec, err := emb.Embed(ctx, texts[id])
		require.NoError(t, err)
		_, err = writer.Add(ctx, id, vec)
		require.NoError(t, err)
	}

	reader, err := index.Open(dir, index.WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()
	s := New(reader, docs, emb, Config{}, logging.Discard())

	// When: the reader reloads and searches for one document's text
	reload, err := s.ReloadIndex(ctx)
	require.NoError(t, err)
	resp, err := s.Search(ctx, "ownership and borrowing", 1)

	// Then: the reload sees both vectors and the matching document ranks first
	require.NoError(t, err)
	assert.True(t, reload.Loaded)
	assert.Equal(t, 2, reload.VectorCount)
	assert.Equal(t, "Index reloaded with 2 vectors", reload.Message)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "rust", resp.Results[0].ID)
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-5)
}

func TestReloadIndex_Empty(t *testing.T) {
	ix := &fakeIndex{}
	s := newService(ix, openTestStore(t))

	resp, err := s.ReloadIndex(context.Background())

	require.NoError(t, err)
	assert.False(t, resp.Loaded)
	assert.Zero(t, resp.VectorCount)
	assert.Equal(t, "Index is empty", resp.Message)
	assert.Equal(t, 1, ix.loads)
}

func TestReloadIndex_CancelledContext(t *testing.T) {
	ix := &fakeIndex{}
	s := newService(ix, openTestStore(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.ReloadIndex(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, ix.loads)
}

func TestWatchIndex_ReloadsOnMetadataReplace(t *testing.T) {
	// Given: a reader service watching a fresh index directory
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	dir := filepath.Join(t.TempDir(), "index")
	docs := openTestStore(t)
	emb := embed.NewStaticEmbedder(8)

	reader, err := index.Open(dir, index.WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer func() { _ = reader.Close() }()
	s := New(reader, docs, emb, Config{}, logging.Discard())
	w, err := s.WatchIndex(ctx, 20*time.Millisecond)
	require.NoError(t, err)
	defer func() { _ = w.Stop() }()

	// When: a writer persists a vector
	writer, err := index.Open(dir, index.WithWriter(), index.WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer func() { _ = writer.Close() }()
	writer.Load()
	vec, err := emb.Embed(ctx, "hello world")
	require.NoError(t, err)
	_, err = writer.Add(ctx, "doc", vec)
	require.NoError(t, err)

	// Then: the reader picks it up without an explicit reload
	assert.Eventually(t, func() bool { return reader.Count() == 1 }, 5*time.Second, 20*time.Millisecond)
}
