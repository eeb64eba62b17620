package pipeline

import (
	"context"
	"log/slog"

	"github.com/Aman-CERP/ragscraper/internal/crawler"
	"github.com/Aman-CERP/ragscraper/internal/queue"
)

// PublishSeeds enqueues each valid seed URL on the crawl queue and returns
// how many were published. Invalid URLs are logged and skipped.
func PublishSeeds(ctx context.Context, broker queue.Broker, queueName string, seeds []string, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	n := 0
	for _, s := range seeds {
		u, err := crawler.Canonicalize(s)
		if err != nil {
			logger.Warn("seed_invalid", slog.String("url", s), slog.String("error", err.Error()))
			continue
		}
		if err := broker.Publish(ctx, queueName, []byte(u)); err != nil {
			return n, err
		}
		n++
	}
	logger.Info("seeds_published", slog.String("queue", queueName), slog.Int("count", n))
	return n, nil
}
