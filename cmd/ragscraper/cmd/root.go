// Package cmd provides the CLI commands for ragscraper.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ragscraper/internal/config"
	ragerrors "github.com/Aman-CERP/ragscraper/internal/errors"
	"github.com/Aman-CERP/ragscraper/internal/logging"
	"github.com/Aman-CERP/ragscraper/pkg/version"
)

// Global flags
var (
	configPath string
	debugMode  bool
)

// Set by the persistent pre-run hook for every subcommand.
var (
	cfg            *config.Config
	logger         = logging.Discard()
	loggingCleanup func()
)

// NewRootCmd creates the root command for the ragscraper CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ragscraper",
		Short: "Crawl, clean and embed web pages into a searchable vector index",
		Long: `ragscraper runs a queue-driven indexing pipeline over web pages:

  seed     publish seed URLs to the crawl queue
  crawl    fetch pages and store raw HTML
  clean    extract plain text from raw HTML
  embed    embed clean text into the vector index

and answers semantic queries over the result from the CLI or as an
MCP server. Each stage is a long-running worker; run as many crawl and
clean workers as you like, but only one embed worker per index.`,
		Version:           version.Version,
		SilenceErrors:     true,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(*cobra.Command, []string) {
			if loggingCleanup != nil {
				loggingCleanup()
				loggingCleanup = nil
			}
		},
	}
	cmd.SetVersionTemplate("ragscraper version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ./ragscraper.yaml)")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.ragscraper/logs/")

	cmd.AddCommand(newSeedCmd())
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newCleanCmd())
	cmd.AddCommand(newEmbedCmd())
	cmd.AddCommand(newRebuildCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newAnswerCmd())
	cmd.AddCommand(newReloadCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// setup loads configuration and builds the logger for the running command.
// Records go to ~/.ragscraper/logs/<command>.log and, for workers, stderr.
func setup(cmd *cobra.Command, _ []string) error {
	if cmd.Name() == "version" {
		return nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}
	loaded, err := config.Load(configPath, wd)
	if err != nil {
		return err
	}
	cfg = loaded

	logCfg := logging.DefaultConfig(cmd.Name())
	logCfg.Level = cfg.Logging.Level
	logCfg.Format = cfg.Logging.Format
	logCfg.MaxSizeMB = cfg.Logging.MaxSizeMB
	logCfg.MaxFiles = cfg.Logging.MaxFiles
	logCfg.WriteToStderr = isWorker(cmd.Name()) || debugMode
	if debugMode {
		logCfg.Level = "debug"
	}

	l, cleanup, err := logging.Setup(logCfg)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	logger = l
	loggingCleanup = cleanup
	slog.SetDefault(l)
	return nil
}

func isWorker(name string) bool {
	switch name {
	case "crawl", "clean", "embed", "serve":
		return true
	}
	return false
}

// Execute runs the root command.
func Execute() error {
	err := NewRootCmd().Execute()
	if err != nil {
		_, _ = fmt.Fprint(os.Stderr, ragerrors.FormatForCLI(err))
	}
	return err
}
