package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ragscraper/internal/mcp"
)

func newServeCmd() *cobra.Command {
	var noWatch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the query API as an MCP server over stdio",
		Long: `Serve the search, answer, reload_index and health tools over the
Model Context Protocol on stdin/stdout.

Unless --no-watch is given (or query.auto_reload is false), the server
reloads the index whenever the embed worker persists new vectors.

stdout carries JSON-RPC only; logs go to ~/.ragscraper/logs/serve.log
and stderr.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signalContext(cmd.Context())
			defer stop()

			env, err := openQueryEnv(ctx, cfg)
			if err != nil {
				return err
			}
			defer env.Close()

			if cfg.Query.AutoReload && !noWatch {
				w, err := env.service.WatchIndex(ctx, cfg.Query.ReloadDebounce)
				if err != nil {
					logger.Warn("index_watch_unavailable", slog.String("error", err.Error()))
				} else {
					defer func() { _ = w.Stop() }()
				}
			}

			server, err := mcp.NewServer(env.service, cfg.Query.DefaultK, logger)
			if err != nil {
				return err
			}
			return server.Serve(ctx)
		},
	}

	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not reload the index when it changes on disk")

	return cmd
}
