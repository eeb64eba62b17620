package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ragscraper/internal/pipeline"
	"github.com/Aman-CERP/ragscraper/internal/ui"
)

func newRebuildCmd() *cobra.Command {
	var plain bool

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Rebuild the vector index from the clean collection",
		Long: `Re-embed every clean document and replace the vector index.

The existing index keeps serving until the new one is persisted. Use this
after changing the embedding model, or to drop orphaned vectors. Stop the
embed worker first: rebuild needs the index writer lock.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return runRebuild(ctx, cmd, plain)
		},
	}

	cmd.Flags().BoolVar(&plain, "plain", false, "Plain progress output instead of the interactive display")

	return cmd
}

func runRebuild(ctx context.Context, cmd *cobra.Command, plain bool) error {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

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

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(plain),
		ui.WithNoColor(ui.DetectNoColor())))
	if err := renderer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start progress display: %w", err)
	}
	defer func() { _ = renderer.Stop() }()

	rebuilder, err := pipeline.NewRebuilder(pipeline.RebuilderDependencies{
		Renderer:  renderer,
		Source:    st,
		Embedder:  emb,
		Index:     ix,
		Logger:    logger,
		BatchSize: cfg.Embeddings.BatchSize,
	})
	if err != nil {
		return err
	}

	_, err = rebuilder.Run(ctx)
	return err
}
