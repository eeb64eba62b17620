// Package query serves semantic search and context assembly over the
// vector index and the clean document collection.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Aman-CERP/ragscraper/internal/embed"
	ragerrors "github.com/Aman-CERP/ragscraper/internal/errors"
	"github.com/Aman-CERP/ragscraper/internal/index"
	"github.com/Aman-CERP/ragscraper/internal/store"
)

const (
	// NoAnswer is returned by Answer when nothing relevant was retrieved.
	NoAnswer = "No relevant information found in the knowledge base."

	contextSeparator = "\n\n---\n\n"

	// MaxListLimit caps document listings.
	MaxListLimit = 100
)

// VectorIndex is the read side of the index used by the service.
type VectorIndex interface {
	Search(ctx context.Context, query []float32, k int) ([]index.Result, error)
	Load() index.LoadReport
	State() index.State
	Count() int
	Dir() string
}

// Documents is the document store as seen by the service.
type Documents interface {
	GetCleanMany(ctx context.Context, ids []string) (map[string]*store.CleanDocument, error)
	Counts(ctx context.Context) (store.Counts, error)
	ListRaw(ctx context.Context, limit int) ([]store.RawSummary, error)
	ListClean(ctx context.Context, limit int) ([]store.CleanDocument, error)
}

// Config bounds queries and answers.
type Config struct {
	// MaxContextChars truncates each context in Answer, in characters.
	MaxContextChars int
	DefaultK        int
	MaxK            int
	MinQueryLength  int
}

// DefaultConfig returns the default query bounds.
func DefaultConfig() Config {
	return Config{MaxContextChars: 1000, DefaultK: 5, MaxK: 20, MinQueryLength: 2}
}

// SearchResult is one retrieved document.
type SearchResult struct {
	ID    string  `json:"id"`
	URL   string  `json:"url"`
	Text  string  `json:"text"`
	Score float32 `json:"score"`
}

// SearchResponse is the result of Search.
type SearchResponse struct {
	Query        string         `json:"query"`
	K            int            `json:"k"`
	Results      []SearchResult `json:"results"`
	TotalMatches int            `json:"total_matches"`
	Took         time.Duration  `json:"processing_time"`
}

// AnswerResponse is the result of Answer.
type AnswerResponse struct {
	Query        string        `json:"query"`
	Answer       string        `json:"answer"`
	ContextCount int           `json:"ctx_count"`
	Took         time.Duration `json:"processing_time"`
}

// ReloadResponse is the result of ReloadIndex.
type ReloadResponse struct {
	Loaded      bool   `json:"loaded"`
	VectorCount int    `json:"vector_count"`
	Message     string `json:"message"`

	Report index.LoadReport `json:"-"`
}

// HealthResponse is the result of Health.
type HealthResponse struct {
	Status      string `json:"status"`
	IndexLoaded bool   `json:"vector_index_loaded"`
	VectorCount int    `json:"vector_count"`
	RawCount    int    `json:"raw_documents"`
	CleanCount  int    `json:"clean_documents"`
}

// Service answers queries. It is safe for concurrent use.
type Service struct {
	index    VectorIndex
	docs     Documents
	embedder embed.Embedder
	cfg      Config
	logger   *slog.Logger
}

// New creates a Service. Zero fields of cfg take their defaults.
func New(ix VectorIndex, docs Documents, embedder embed.Embedder, cfg Config, logger *slog.Logger) *Service {
	def := DefaultConfig()
	if cfg.MaxContextChars <= 0 {
		cfg.MaxContextChars = def.MaxContextChars
	}
	if cfg.MaxK <= 0 {
		cfg.MaxK = def.MaxK
	}
	if cfg.DefaultK <= 0 || cfg.DefaultK > cfg.MaxK {
		cfg.DefaultK = min(def.DefaultK, cfg.MaxK)
	}
	if cfg.MinQueryLength <= 0 {
		cfg.MinQueryLength = def.MinQueryLength
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{index: ix, docs: docs, embedder: embedder, cfg: cfg, logger: logger}
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// Search embeds query and returns the k most similar documents in index
// order. Hits whose document is missing from the store are skipped.
func (s *Service) Search(ctx context.Context, query string, k int) (*SearchResponse, error) {
	start := time.Now()
	results, err := s.retrieve(ctx, query, k)
	if err != nil {
		return nil, err
	}
	took := time.Since(start)
	s.logger.Info("search_complete",
		slog.Int("k", k),
		slog.Int("results", len(results)),
		slog.Int64("duration_ms", took.Milliseconds()))

	return &SearchResponse{
		Query:        query,
		K:            k,
		Results:      results,
		TotalMatches: len(results),
		Took:         took,
	}, nil
}

// Answer retrieves like Search and joins the truncated texts, in retrieval
// order, under a header naming the number of sources. With nothing
// retrieved it returns NoAnswer and a zero count.
func (s *Service) Answer(ctx context.Context, query string, k int) (*AnswerResponse, error) {
	start := time.Now()
	results, err := s.retrieve(ctx, query, k)
	if err != nil {
		return nil, err
	}

	contexts := make([]string, 0, len(results))
	for _, r := range results {
		contexts = append(contexts, truncate(r.Text, s.cfg.MaxContextChars))
	}

	return &AnswerResponse{
		Query:        query,
		Answer:       AssembleAnswer(contexts),
		ContextCount: len(contexts),
		Took:         time.Since(start),
	}, nil
}

// AssembleAnswer formats contexts into the deterministic answer text.
func AssembleAnswer(contexts []string) string {
	if len(contexts) == 0 {
		return NoAnswer
	}
	return fmt.Sprintf("Based on %d relevant sources:\n\n", len(contexts)) +
		strings.Join(contexts, contextSeparator)
}

// ReloadIndex re-reads the persisted index.
func (s *Service) ReloadIndex(ctx context.Context) (*ReloadResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	report := s.index.Load()

	resp := &ReloadResponse{
		Loaded:      report.State == index.StatePopulated,
		VectorCount: report.Vectors,
		Report:      report,
	}
	switch {
	case report.Inconsistent:
		resp.Message = "Index not loaded: " + report.Reason
	case resp.Loaded:
		resp.Message = fmt.Sprintf("Index reloaded with %d vectors", report.Vectors)
	default:
		resp.Message = "Index is empty"
	}
	return resp, nil
}

// Health reports index and store counts.
func (s *Service) Health(ctx context.Context) (*HealthResponse, error) {
	counts, err := s.docs.Counts(ctx)
	if err != nil {
		return nil, err
	}
	return &HealthResponse{
		Status:      "healthy",
		IndexLoaded: s.index.State() == index.StatePopulated,
		VectorCount: s.index.Count(),
		RawCount:    counts.Raw,
		CleanCount:  counts.Clean,
	}, nil
}

// ListRaw lists raw pages, newest first, without their bodies.
func (s *Service) ListRaw(ctx context.Context, limit int) ([]store.RawSummary, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	return s.docs.ListRaw(ctx, limit)
}

// ListClean lists clean documents in insertion order.
func (s *Service) ListClean(ctx context.Context, limit int) ([]store.CleanDocument, error) {
	if err := checkLimit(limit); err != nil {
		return nil, err
	}
	return s.docs.ListClean(ctx, limit)
}

// Document returns one clean document.
func (s *Service) Document(ctx context.Context, id string) (*store.CleanDocument, error) {
	docs, err := s.docs.GetCleanMany(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	doc, ok := docs[id]
	if !ok {
		return nil, ragerrors.New(ragerrors.ErrCodeDocumentNotFound, "document not found", nil).
			WithDetail("id", id)
	}
	return doc, nil
}

func (s *Service) retrieve(ctx context.Context, query string, k int) ([]SearchResult, error) {
	if err := s.validate(query, k); err != nil {
		return nil, err
	}
	if s.index.Count() == 0 {
		return nil, ragerrors.New(ragerrors.ErrCodeIndexEmpty, "vector index is empty", nil).
			WithSuggestion("wait for the embed stage to index documents, or run 'ragscraper rebuild'")
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	hits, err := s.index.Search(ctx, vec, k)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	docs, err := s.docs.GetCleanMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		doc, ok := docs[h.ID]
		if !ok {
			s.logger.Warn("search_document_missing", slog.String("doc_id", h.ID), slog.Int("row", h.Row))
			continue
		}
		results = append(results, SearchResult{ID: doc.ID, URL: doc.URL, Text: doc.Text, Score: h.Score})
	}
	return results, nil
}

func (s *Service) validate(query string, k int) error {
	if n := utf8.RuneCountInString(strings.TrimSpace(query)); n < s.cfg.MinQueryLength {
		return ragerrors.ValidationError(
			fmt.Sprintf("query must be at least %d characters", s.cfg.MinQueryLength), nil).
			WithDetail("length", fmt.Sprint(n))
	}
	if k < 1 || k > s.cfg.MaxK {
		return ragerrors.ValidationError(fmt.Sprintf("k must be between 1 and %d, got %d", s.cfg.MaxK, k), nil)
	}
	return nil
}

func checkLimit(limit int) error {
	if limit < 1 || limit > MaxListLimit {
		return ragerrors.ValidationError(fmt.Sprintf("limit must be between 1 and %d, got %d", MaxListLimit, limit), nil)
	}
	return nil
}

// truncate keeps the first n characters of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
