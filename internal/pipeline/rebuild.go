package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Aman-CERP/ragscraper/internal/embed"
	"github.com/Aman-CERP/ragscraper/internal/store"
	"github.com/Aman-CERP/ragscraper/internal/ui"
)

// RebuildSource iterates the clean collection.
type RebuildSource interface {
	Counts(ctx context.Context) (store.Counts, error)
	EachClean(ctx context.Context, fn func(*store.CleanDocument) error) error
}

// RebuildTarget is the index a rebuild replaces.
type RebuildTarget interface {
	Rebuild(ctx context.Context, ids []string, vectors [][]float32) error
}

// RebuilderDependencies are the injected collaborators of a Rebuilder.
type RebuilderDependencies struct {
	// Renderer shows progress (required).
	Renderer ui.Renderer
	Source   RebuildSource
	Embedder embed.Embedder
	Index    RebuildTarget
	Logger   *slog.Logger
	// BatchSize is the number of texts per embedding request.
	BatchSize int
}

// RebuildResult is the outcome of a rebuild.
type RebuildResult struct {
	Documents int
	Vectors   int
	Skipped   int
	Duration  time.Duration
}

// Rebuilder re-embeds the whole clean collection and swaps it in as the
// new index.
type Rebuilder struct {
	renderer  ui.Renderer
	source    RebuildSource
	embedder  embed.Embedder
	index     RebuildTarget
	logger    *slog.Logger
	batchSize int
}

// NewRebuilder validates deps and creates a Rebuilder.
func NewRebuilder(deps RebuilderDependencies) (*Rebuilder, error) {
	if deps.Renderer == nil {
		return nil, fmt.Errorf("renderer is required")
	}
	if deps.Source == nil {
		return nil, fmt.Errorf("document source is required")
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if deps.Index == nil {
		return nil, fmt.Errorf("index is required")
	}

	batch := deps.BatchSize
	if batch <= 0 {
		batch = embed.DefaultBatchSize
	}
	batch = min(batch, embed.MaxBatchSize)

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Rebuilder{
		renderer:  deps.Renderer,
		source:    deps.Source,
		embedder:  deps.Embedder,
		index:     deps.Index,
		logger:    logger,
		batchSize: batch,
	}, nil
}

type rebuildDoc struct {
	id   string
	text string
}

// Run performs the rebuild. The index is untouched unless every document
// was embedded and the new artifacts were persisted.
func (r *Rebuilder) Run(ctx context.Context) (*RebuildResult, error) {
	start := time.Now()
	var timing ui.StageTimings

	// Stage 1: load documents
	loadStart := time.Now()
	docs, skipped, err := r.load(ctx)
	if err != nil {
		return nil, err
	}
	timing.Load = time.Since(loadStart)

	// Stage 2: embed
	embedStart := time.Now()
	vectors, err := r.embed(ctx, docs)
	if err != nil {
		return nil, err
	}
	timing.Embed = time.Since(embedStart)

	// Stage 3: persist and swap
	indexStart := time.Now()
	r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageIndexing, Message: "Writing index..."})
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.id
	}
	if err := r.index.Rebuild(ctx, ids, vectors); err != nil {
		return nil, fmt.Errorf("failed to write index: %w", err)
	}
	timing.Index = time.Since(indexStart)

	duration := time.Since(start)
	r.renderer.Complete(ui.CompletionStats{
		Documents: len(docs) + skipped,
		Vectors:   len(vectors),
		Skipped:   skipped,
		Duration:  duration,
		Warnings:  skipped,
		Stages:    timing,
		Embedder: ui.EmbedderInfo{
			Backend:    embed.Provider(r.embedder).String(),
			Model:      r.embedder.ModelName(),
			Dimensions: r.embedder.Dimensions(),
		},
	})

	perSec := 0.0
	if timing.Embed.Seconds() > 0 {
		perSec = float64(len(vectors)) / timing.Embed.Seconds()
	}
	r.logger.Info("rebuild_complete",
		slog.Int("documents", len(docs)+skipped),
		slog.Int("vectors", len(vectors)),
		slog.Int("skipped", skipped),
		slog.Int64("duration_total_ms", duration.Milliseconds()),
		slog.Int64("duration_load_ms", timing.Load.Milliseconds()),
		slog.Int64("duration_embed_ms", timing.Embed.Milliseconds()),
		slog.Int64("duration_index_ms", timing.Index.Milliseconds()),
		slog.String("embedder_model", r.embedder.ModelName()),
		slog.Float64("vectors_per_sec", perSec))

	return &RebuildResult{
		Documents: len(docs) + skipped,
		Vectors:   len(vectors),
		Skipped:   skipped,
		Duration:  duration,
	}, nil
}

// load reads the clean collection in insertion order, dropping documents
// without text.
func (r *Rebuilder) load(ctx context.Context) ([]rebuildDoc, int, error) {
	counts, err := r.source.Counts(ctx)
	if err != nil {
		return nil, 0, err
	}
	r.renderer.UpdateProgress(ui.ProgressEvent{
		Stage:   ui.StageLoading,
		Total:   counts.Clean,
		Message: "Reading clean documents...",
	})

	docs := make([]rebuildDoc, 0, counts.Clean)
	skipped := 0
	err = r.source.EachClean(ctx, func(d *store.CleanDocument) error {
		if strings.TrimSpace(d.Text) == "" {
			skipped++
			r.renderer.AddError(ui.ErrorEvent{DocID: d.ID, Err: fmt.Errorf("no text extracted from %s", d.URL), IsWarn: true})
			return nil
		}
		docs = append(docs, rebuildDoc{id: d.ID, text: d.Text})
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read clean documents: %w", err)
	}
	r.logger.Info("rebuild_loaded", slog.Int("documents", len(docs)), slog.Int("skipped", skipped))
	return docs, skipped, nil
}

func (r *Rebuilder) embed(ctx context.Context, docs []rebuildDoc) ([][]float32, error) {
	total := len(docs)
	vectors := make([][]float32, 0, total)
	r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageEmbedding, Total: total})

	for i := 0; i < total; i += r.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(i+r.batchSize, total)
		texts := make([]string, 0, end-i)
		for _, d := range docs[i:end] {
			texts = append(texts, d.text)
		}

		batch, err := r.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			r.renderer.AddError(ui.ErrorEvent{DocID: docs[i].id, Err: err})
			return nil, fmt.Errorf("failed to embed batch at %d: %w", i, err)
		}
		if len(batch) != len(texts) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(batch), len(texts))
		}
		vectors = append(vectors, batch...)

		r.renderer.UpdateProgress(ui.ProgressEvent{
			Stage:      ui.StageEmbedding,
			Current:    end,
			Total:      total,
			CurrentDoc: docs[end-1].id,
		})
	}
	return vectors, nil
}
