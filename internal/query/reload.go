package query

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/Aman-CERP/ragscraper/internal/index"
	"github.com/Aman-CERP/ragscraper/internal/watcher"
)

// WatchIndex reloads the index whenever the writer replaces its metadata
// artifact, until ctx is cancelled. It returns once watching has begun.
func (s *Service) WatchIndex(ctx context.Context, debounce time.Duration) (*watcher.DirWatcher, error) {
	dir := s.index.Dir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	w := watcher.New(watcher.Options{
		DebounceWindow: debounce,
		Files:          []string{index.MetadataFile},
	}, s.logger)
	if err := w.Start(ctx, dir); err != nil {
		return nil, err
	}

	go func() {
		for {
			select {
			case _, ok := <-w.Events():
				if !ok {
					return
				}
				resp, err := s.ReloadIndex(ctx)
				if err != nil {
					return
				}
				s.logger.Info("index_auto_reloaded",
					slog.Bool("loaded", resp.Loaded),
					slog.Int("vectors", resp.VectorCount))
			case err, ok := <-w.Errors():
				if !ok {
					return
				}
				s.logger.Warn("index_watch_error", slog.String("error", err.Error()))
			}
		}
	}()

	s.logger.Info("index_watch_started", slog.String("dir", dir), slog.String("mode", w.WatcherType()))
	return w, nil
}
