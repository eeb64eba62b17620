package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ragscraper/internal/config"
	"github.com/Aman-CERP/ragscraper/internal/index"
	"github.com/Aman-CERP/ragscraper/internal/queue"
	"github.com/Aman-CERP/ragscraper/internal/ui"
)

func newStatusCmd() *cobra.Command {
	var jsonOutput bool
	var repair bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pipeline, index and store health",
		Long: `Display information about the pipeline including:
  - Raw and clean document counts and storage size
  - Vector index state, size and drift from the clean collection
  - Queue depths
  - Embedder availability

With --repair, clean documents missing from the index are queued for
cleaning and embedding again.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput, repair)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().BoolVar(&repair, "repair", false, "Re-queue clean documents missing from the index")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput, repair bool) error {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	ix, report, err := openReaderIndex(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = ix.Close() }()

	counts, err := st.Counts(ctx)
	if err != nil {
		return err
	}

	info := ui.StatusInfo{
		RawDocuments:   counts.Raw,
		CleanDocuments: counts.Clean,
		IndexState:     report.State.String(),
		Vectors:        report.Vectors,
		Dimension:      report.Dimension,
		IndexModel:     report.Model,
		StoreSize:      st.SizeOnDisk(),
		Broker:         cfg.Broker.Backend,
		EmbedderType:   cfg.Embeddings.Provider,
		EmbedderModel:  cfg.Embeddings.Model,
	}
	if report.Inconsistent {
		info.IndexState = "inconsistent"
		info.IndexProblem = report.Reason
	}
	info.IndexSize, info.IndexUpdated = indexFiles(cfg.IndexDir())

	checker := index.NewConsistencyChecker(st, ix, logger)
	result, err := checker.Check(ctx)
	if err != nil {
		return err
	}
	for _, issue := range result.Inconsistencies {
		switch issue.Type {
		case index.InconsistencyMissing:
			info.Missing++
		case index.InconsistencyOrphan:
			info.Orphans++
		}
	}

	broker, err := openBroker(ctx, cfg)
	if err != nil {
		logger.Warn("status_broker_unavailable", "error", err.Error())
	} else {
		defer func() { _ = broker.Close() }()
		info.QueueDepths = queueDepths(ctx, broker, cfg)
	}

	info.EmbedderStatus = "offline"
	if emb, err := newEmbedder(ctx, cfg); err == nil {
		if emb.Available(ctx) {
			info.EmbedderStatus = "ready"
		}
		info.EmbedderModel = emb.ModelName()
		_ = emb.Close()
	}

	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), ui.DetectNoColor())
	if jsonOutput {
		err = renderer.RenderJSON(info)
	} else {
		err = renderer.Render(info)
	}
	if err != nil || !repair {
		return err
	}

	if broker == nil {
		return fmt.Errorf("cannot repair without a broker")
	}
	queued, err := checker.Repair(ctx, result, func(ctx context.Context, docID string) error {
		return broker.Publish(ctx, cfg.Queues.Clean, []byte(docID))
	})
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(cmd.ErrOrStderr(), "Re-queued %d documents for embedding\n", queued)
	return err
}

// indexFiles returns the artifact size and last metadata write.
func indexFiles(dir string) (int64, time.Time) {
	var size int64
	var updated time.Time
	for _, name := range []string{index.MatrixFile, index.MetadataFile} {
		fi, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			continue
		}
		size += fi.Size()
		if name == index.MetadataFile {
			updated = fi.ModTime()
		}
	}
	return size, updated
}

func queueDepths(ctx context.Context, broker queue.Broker, c *config.Config) map[string]int {
	depths := make(map[string]int, 3)
	for _, name := range []string{c.Queues.Crawl, c.Queues.Clean, c.Queues.Embed} {
		n, err := broker.Depth(ctx, name)
		if err != nil {
			logger.Warn("status_queue_depth_failed", "queue", name, "error", err.Error())
			continue
		}
		depths[name] = n
	}
	return depths
}
