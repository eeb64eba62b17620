package ui

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// PlainRenderer writes one line per update, for CI and pipes.
type PlainRenderer struct {
	mu     sync.Mutex
	out    io.Writer
	errors []ErrorEvent

	// every throttles per-document lines during long stages.
	every int
}

// NewPlainRenderer creates a plain text renderer.
func NewPlainRenderer(cfg Config) *PlainRenderer {
	return &PlainRenderer{out: cfg.Output, every: 1}
}

// Start implements Renderer.
func (r *PlainRenderer) Start(ctx context.Context) error {
	return nil
}

// UpdateProgress implements Renderer.
func (r *PlainRenderer) UpdateProgress(event ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	msg := event.Message
	if msg == "" {
		msg = event.CurrentDoc
	}

	if event.Total > 0 {
		if r.every > 1 && event.Current%r.every != 0 && event.Current != event.Total {
			return
		}
		_, _ = fmt.Fprintf(r.out, "[%s] %d/%d - %s\n", event.Stage.Icon(), event.Current, event.Total, msg)
	} else if msg != "" {
		_, _ = fmt.Fprintf(r.out, "[%s] %s\n", event.Stage.Icon(), msg)
	}
}

// AddError implements Renderer.
func (r *PlainRenderer) AddError(event ErrorEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errors = append(r.errors, event)

	prefix := "ERROR"
	if event.IsWarn {
		prefix = "WARN"
	}
	if event.DocID != "" {
		_, _ = fmt.Fprintf(r.out, "%s: %s: %v\n", prefix, event.DocID, event.Err)
	} else {
		_, _ = fmt.Fprintf(r.out, "%s: %v\n", prefix, event.Err)
	}
}

// Complete implements Renderer.
func (r *PlainRenderer) Complete(stats CompletionStats) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, _ = fmt.Fprintf(r.out, "Complete: %d documents, %d vectors indexed in %s",
		stats.Documents, stats.Vectors, stats.Duration.Round(100*time.Millisecond))
	if stats.Skipped > 0 {
		_, _ = fmt.Fprintf(r.out, ", %d skipped", stats.Skipped)
	}
	if stats.Errors > 0 || stats.Warnings > 0 {
		_, _ = fmt.Fprintf(r.out, " (%d errors, %d warnings)", stats.Errors, stats.Warnings)
	}
	_, _ = fmt.Fprintln(r.out)

	if stats.Stages.Embed > 0 {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintln(r.out, "Stage Breakdown:")
		_, _ = fmt.Fprintf(r.out, "  Load:  %s\n", stats.Stages.Load.Round(100*time.Millisecond))
		rate := 0.0
		if secs := stats.Stages.Embed.Seconds(); secs > 0 {
			rate = float64(stats.Vectors) / secs
		}
		_, _ = fmt.Fprintf(r.out, "  Embed: %s (%d vectors @ %.1f/sec)\n",
			stats.Stages.Embed.Round(100*time.Millisecond), stats.Vectors, rate)
		_, _ = fmt.Fprintf(r.out, "  Index: %s\n", stats.Stages.Index.Round(100*time.Millisecond))
	}

	if stats.Embedder.Backend != "" {
		_, _ = fmt.Fprintln(r.out)
		_, _ = fmt.Fprintf(r.out, "Backend: %s (%s, %d dims)\n",
			stats.Embedder.Backend, stats.Embedder.Model, stats.Embedder.Dimensions)
	}
}

// Stop implements Renderer.
func (r *PlainRenderer) Stop() error {
	return nil
}

// Errors returns the errors and warnings seen so far.
func (r *PlainRenderer) Errors() []ErrorEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ErrorEvent(nil), r.errors...)
}

// SetEvery prints only every nth progress line of a stage (plus the last).
func (r *PlainRenderer) SetEvery(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.every = max(n, 1)
}
