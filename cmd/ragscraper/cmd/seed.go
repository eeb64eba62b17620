package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ragscraper/internal/crawler"
	"github.com/Aman-CERP/ragscraper/internal/pipeline"
)

func newSeedCmd() *cobra.Command {
	var seedFile string

	cmd := &cobra.Command{
		Use:   "seed [url...]",
		Short: "Publish seed URLs to the crawl queue",
		Long: `Publish seed URLs to the crawl queue.

URLs are taken from the arguments, or else from the seed file
(one URL per line, blank lines and # comments ignored).

Examples:
  ragscraper seed https://go.dev/doc/
  ragscraper seed --file sites.txt`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), cmd, args, seedFile)
		},
	}

	cmd.Flags().StringVarP(&seedFile, "file", "f", "", "Seed file (default from config, sites.txt)")

	return cmd
}

func runSeed(ctx context.Context, cmd *cobra.Command, args []string, seedFile string) error {
	seeds := args
	if len(seeds) == 0 {
		if seedFile == "" {
			seedFile = cfg.Crawl.SeedFile
		}
		f, err := os.Open(seedFile)
		if err != nil {
			return fmt.Errorf("failed to open seed file: %w", err)
		}
		defer func() { _ = f.Close() }()
		seeds, err = crawler.ReadSeeds(f)
		if err != nil {
			return err
		}
	}
	if len(seeds) == 0 {
		return fmt.Errorf("no seed URLs given")
	}

	broker, err := openBroker(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = broker.Close() }()

	n, err := pipeline.PublishSeeds(ctx, broker, cfg.Queues.Crawl, seeds, logger)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Published %d of %d seeds to %q\n", n, len(seeds), cfg.Queues.Crawl)
	return nil
}
