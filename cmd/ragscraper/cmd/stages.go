package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ragscraper/internal/crawler"
	"github.com/Aman-CERP/ragscraper/internal/embed"
	"github.com/Aman-CERP/ragscraper/internal/pipeline"
	"github.com/Aman-CERP/ragscraper/internal/queue"
)

// stageFlags are shared by the worker commands.
type stageFlags struct {
	backoff time.Duration
}

func (f *stageFlags) register(cmd *cobra.Command) {
	cmd.Flags().DurationVar(&f.backoff, "backoff", time.Second, "Wait before requeueing a failed task")
}

// runStage consumes queueName with handle until interrupted.
func runStage(parent context.Context, stage, queueName string, flags stageFlags, handle pipeline.Handler, broker queue.Broker) error {
	ctx, stop := signalContext(parent)
	defer stop()

	runner := pipeline.NewRunner(broker, pipeline.RunnerOptions{
		Stage:          stage,
		FailureBackoff: flags.backoff,
		Logger:         logger,
	})
	err := runner.Run(ctx, queueName, handle)

	stats := runner.Stats()
	logger.Info("stage_summary",
		slog.String("stage", stage),
		slog.Int64("processed", stats.Processed),
		slog.Int64("failed", stats.Failed),
		slog.Int64("forwarded", stats.Forwarded),
		slog.Int64("dropped", stats.Dropped))
	return err
}

func newCrawlCmd() *cobra.Command {
	var flags stageFlags
	var depth int

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run a crawl worker",
		Long: `Consume seed URLs from the crawl queue, fetch every page reachable
within the depth limit, store the raw HTML and queue each page for cleaning.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if cmd.Flags().Changed("depth") {
				cfg.Crawl.MaxDepth = depth
			}

			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			broker, err := openBroker(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = broker.Close() }()

			c := crawler.New(crawler.Config{
				MaxDepth:  cfg.Crawl.MaxDepth,
				MaxPages:  cfg.Crawl.MaxPages,
				Workers:   cfg.Crawl.Workers,
				Delay:     cfg.Crawl.Delay,
				Timeout:   cfg.Crawl.Timeout,
				UserAgent: cfg.Crawl.UserAgent,
				SameHost:  cfg.Crawl.SameHost,
				Logger:    logger,
			})
			stage := pipeline.NewCrawlStage(c, st, cfg.Queues.Clean, logger)
			return runStage(ctx, "crawl", cfg.Queues.Crawl, flags, stage.Handle, broker)
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVar(&depth, "depth", 2, "Link hops to follow from each seed")

	return cmd
}

func newCleanCmd() *cobra.Command {
	var flags stageFlags

	cmd := &cobra.Command{
		Use:   "clean",
		Short: "Run a clean worker",
		Long: `Consume document ids from the clean queue, extract plain text from
the stored HTML and queue the text for embedding.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			broker, err := openBroker(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = broker.Close() }()

			stage := pipeline.NewCleanStage(st, cfg.Queues.Embed, logger)
			return runStage(ctx, "clean", cfg.Queues.Clean, flags, stage.Handle, broker)
		},
	}

	flags.register(cmd)
	return cmd
}

func newEmbedCmd() *cobra.Command {
	var flags stageFlags

	cmd := &cobra.Command{
		Use:   "embed",
		Short: "Run the embed worker",
		Long: `Consume embed tasks, embed each document's text and append it to
the vector index. Only one embed worker (or rebuild) may hold an index
at a time.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			emb, err := newEmbedder(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = emb.Close() }()

			ix, err := openWriterIndex(cfg, emb.ModelName())
			if err != nil {
				return err
			}
			defer func() { _ = ix.Close() }()
			if d := ix.Dimension(); d > 0 && d != emb.Dimensions() {
				return fmt.Errorf("index holds %d-dimensional vectors but %s produces %d; run 'ragscraper rebuild'",
					d, emb.ModelName(), emb.Dimensions())
			}

			broker, err := openBroker(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = broker.Close() }()

			logger.Info("embed_worker_ready",
				slog.String("provider", embed.Provider(emb).String()),
				slog.String("model", emb.ModelName()),
				slog.Int("vectors", ix.Count()))

			stage := pipeline.NewEmbedStage(emb, ix, logger)
			return runStage(ctx, "embed", cfg.Queues.Embed, flags, stage.Handle, broker)
		},
	}

	flags.register(cmd)
	return cmd
}
