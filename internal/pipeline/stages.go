package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Aman-CERP/ragscraper/internal/cleaner"
	"github.com/Aman-CERP/ragscraper/internal/crawler"
	"github.com/Aman-CERP/ragscraper/internal/embed"
	ragerrors "github.com/Aman-CERP/ragscraper/internal/errors"
	"github.com/Aman-CERP/ragscraper/internal/store"
)

// Fetcher crawls from a seed URL.
type Fetcher interface {
	Crawl(ctx context.Context, seed string, visit crawler.VisitFunc) (crawler.Result, error)
}

// RawWriter stores fetched pages.
type RawWriter interface {
	PutRaw(ctx context.Context, doc *store.RawDocument) error
}

// CrawlStage fetches a seed URL and the pages below it, stores each page
// in the raw collection and forwards one clean task per stored page.
type CrawlStage struct {
	fetcher    Fetcher
	raw        RawWriter
	cleanQueue string
	logger     *slog.Logger
}

// NewCrawlStage creates the crawl dispatch stage.
func NewCrawlStage(fetcher Fetcher, raw RawWriter, cleanQueue string, logger *slog.Logger) *CrawlStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &CrawlStage{fetcher: fetcher, raw: raw, cleanQueue: cleanQueue, logger: logger}
}

// Handle implements Handler. The payload is a URL.
func (s *CrawlStage) Handle(ctx context.Context, t Task) ([]Task, error) {
	seed, err := textPayload(t, "url")
	if err != nil {
		return nil, err
	}

	var (
		mu       sync.Mutex
		forwards []Task
	)
	res, err := s.fetcher.Crawl(ctx, seed, func(ctx context.Context, page crawler.Page) error {
		id := store.DocumentID(page.URL)
		if err := s.raw.PutRaw(ctx, &store.RawDocument{
			ID:        id,
			URL:       page.URL,
			HTML:      page.HTML,
			FetchedAt: page.FetchedAt,
		}); err != nil {
			return err
		}
		mu.Lock()
		forwards = append(forwards, Task{Queue: s.cleanQueue, Body: []byte(id)})
		mu.Unlock()
		return nil
	})
	if err != nil {
		if !ragerrors.IsRetryable(err) && ragerrors.GetCode(err) == ragerrors.ErrCodeFetchFailed {
			// A page that answers 404 today will answer 404 on redelivery too.
			s.logger.Warn("crawl_seed_failed", slog.String("url", seed), ragerrors.LogAttr(err))
			return nil, nil
		}
		return nil, err
	}

	s.logger.Info("crawl_stored",
		slog.String("url", seed),
		slog.Int("pages", res.Pages),
		slog.Int("skipped", res.Skipped),
		slog.Int("failed", res.Failed))
	return forwards, nil
}

// CleanStore is what the clean stage reads and writes.
type CleanStore interface {
	GetRaw(ctx context.Context, id string) (*store.RawDocument, error)
	PutClean(ctx context.Context, doc *store.CleanDocument) error
}

// CleanStage extracts text from a stored page, saves it to the clean
// collection and forwards one embed task.
type CleanStage struct {
	docs       CleanStore
	embedQueue string
	logger     *slog.Logger
	now        func() time.Time
}

// NewCleanStage creates the clean stage.
func NewCleanStage(docs CleanStore, embedQueue string, logger *slog.Logger) *CleanStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanStage{docs: docs, embedQueue: embedQueue, logger: logger, now: time.Now}
}

// Handle implements Handler. The payload is a document identifier.
func (s *CleanStage) Handle(ctx context.Context, t Task) ([]Task, error) {
	id, err := textPayload(t, "document id")
	if err != nil {
		return nil, err
	}

	raw, err := s.docs.GetRaw(ctx, id)
	if err != nil {
		return nil, err
	}

	doc := &store.CleanDocument{
		ID:        raw.ID,
		URL:       raw.URL,
		Text:      cleaner.Clean(raw.HTML),
		CleanedAt: s.now().UTC(),
	}
	if err := s.docs.PutClean(ctx, doc); err != nil {
		return nil, err
	}
	s.logger.Debug("clean_stored", slog.String("doc_id", id), slog.Int("chars", len(doc.Text)))

	next, err := NewEmbedTask(s.embedQueue, EmbedPayload{DocID: doc.ID, Text: doc.Text, URL: doc.URL})
	if err != nil {
		return nil, err
	}
	return []Task{next}, nil
}

// VectorIndex is the writable index the embed stage adds to.
type VectorIndex interface {
	Contains(id string) bool
	Add(ctx context.Context, id string, vector []float32) (bool, error)
}

// EmbedStage embeds a document's text and adds it to the index.
type EmbedStage struct {
	embedder embed.Embedder
	index    VectorIndex
	logger   *slog.Logger
}

// NewEmbedStage creates the embed stage.
func NewEmbedStage(embedder embed.Embedder, index VectorIndex, logger *slog.Logger) *EmbedStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &EmbedStage{embedder: embedder, index: index, logger: logger}
}

// Handle implements Handler. The payload is an EmbedPayload.
func (s *EmbedStage) Handle(ctx context.Context, t Task) ([]Task, error) {
	p, err := DecodeEmbedPayload(t.Body)
	if err != nil {
		return nil, err
	}

	if s.index.Contains(p.DocID) {
		s.logger.Debug("embed_skip_indexed", slog.String("doc_id", p.DocID))
		return nil, nil
	}
	if strings.TrimSpace(p.Text) == "" {
		s.logger.Warn("embed_skip_empty", slog.String("doc_id", p.DocID), slog.String("url", p.URL))
		return nil, nil
	}

	vec, err := s.embedder.Embed(ctx, p.Text)
	if err != nil {
		return nil, fmt.Errorf("embed %s: %w", p.DocID, err)
	}
	added, err := s.index.Add(ctx, p.DocID, vec)
	if err != nil {
		return nil, err
	}
	if added {
		s.logger.Debug("index_vector_added", slog.String("doc_id", p.DocID))
	}
	return nil, nil
}
