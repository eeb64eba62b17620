package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Aman-CERP/ragscraper/internal/config"
	"github.com/Aman-CERP/ragscraper/internal/embed"
	"github.com/Aman-CERP/ragscraper/internal/index"
	"github.com/Aman-CERP/ragscraper/internal/query"
	"github.com/Aman-CERP/ragscraper/internal/queue"
	"github.com/Aman-CERP/ragscraper/internal/store"
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func openStore(ctx context.Context, c *config.Config) (*store.SQLiteStore, error) {
	return store.Open(ctx, store.Options{
		Driver:      c.Store.Driver,
		Path:        c.StorePath(),
		Compression: store.Compression(c.Store.Compression),
		CacheMB:     c.Store.CacheMB,
		Logger:      logger,
	})
}

func openBroker(ctx context.Context, c *config.Config) (queue.Broker, error) {
	return queue.Open(ctx, queue.Options{
		Backend:      c.Broker.Backend,
		URL:          c.Broker.URL,
		Path:         c.QueuePath(),
		Prefetch:     c.Broker.Prefetch,
		LeaseTimeout: c.Broker.LeaseTimeout,
		PollInterval: c.Broker.PollInterval,
		Logger:       logger,
	})
}

func newEmbedder(ctx context.Context, c *config.Config) (embed.Embedder, error) {
	e, err := embed.NewEmbedder(ctx, embed.Options{
		Provider:   embed.ParseProvider(c.Embeddings.Provider),
		Model:      c.Embeddings.Model,
		Dimensions: c.Embeddings.Dimensions,
		Host:       c.Embeddings.OllamaHost,
		BatchSize:  c.Embeddings.BatchSize,
		Timeout:    c.Embeddings.Timeout,
		CacheSize:  c.Embeddings.CacheSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return e, nil
}

// openWriterIndex opens the index as its single writer and loads it.
func openWriterIndex(c *config.Config, model string) (*index.Index, error) {
	ix, err := index.Open(c.IndexDir(),
		index.WithWriter(),
		index.WithLogger(logger),
		index.WithModel(model))
	if err != nil {
		return nil, err
	}
	ix.Load()
	return ix, nil
}

// openReaderIndex opens the index read-only and loads it.
func openReaderIndex(c *config.Config) (*index.Index, index.LoadReport, error) {
	ix, err := index.Open(c.IndexDir(), index.WithLogger(logger))
	if err != nil {
		return nil, index.LoadReport{}, err
	}
	return ix, ix.Load(), nil
}

// queryEnv bundles what the query commands need.
type queryEnv struct {
	service  *query.Service
	index    *index.Index
	store    *store.SQLiteStore
	embedder embed.Embedder
}

func (e *queryEnv) Close() {
	if e.embedder != nil {
		_ = e.embedder.Close()
	}
	if e.store != nil {
		_ = e.store.Close()
	}
	if e.index != nil {
		_ = e.index.Close()
	}
}

func openQueryEnv(ctx context.Context, c *config.Config) (*queryEnv, error) {
	env := &queryEnv{}

	st, err := openStore(ctx, c)
	if err != nil {
		return nil, err
	}
	env.store = st

	ix, report, err := openReaderIndex(c)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.index = ix
	if report.Inconsistent {
		logger.Warn("index_inconsistent", "reason", report.Reason)
	}

	emb, err := newEmbedder(ctx, c)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.embedder = emb

	env.service = query.New(ix, st, emb, query.Config{
		MaxContextChars: c.Query.MaxContextChars,
		DefaultK:        c.Query.DefaultK,
		MaxK:            c.Query.MaxK,
		MinQueryLength:  c.Query.MinQueryLength,
	}, logger)
	return env, nil
}
