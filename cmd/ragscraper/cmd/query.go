package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/ragscraper/internal/query"
	"github.com/Aman-CERP/ragscraper/internal/ui"
)

const snippetChars = 200

type queryFlags struct {
	k          int
	jsonOutput bool
}

func (f *queryFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.k, "k", "k", 0, "Number of documents to retrieve (default from config)")
	cmd.Flags().BoolVar(&f.jsonOutput, "json", false, "Output as JSON")
}

func (f *queryFlags) resolveK() int {
	if f.k == 0 {
		return cfg.Query.DefaultK
	}
	return f.k
}

func newSearchCmd() *cobra.Command {
	var flags queryFlags

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Semantic search over indexed pages",
		Long: `Embed the query and list the most similar clean documents.

Examples:
  ragscraper search "how do goroutines work"
  ragscraper search "install the agent" -k 10 --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openQueryEnv(ctx, cfg)
			if err != nil {
				return err
			}
			defer env.Close()

			resp, err := env.service.Search(ctx, strings.Join(args, " "), flags.resolveK())
			if err != nil {
				return err
			}
			if flags.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			printSearch(cmd.OutOrStdout(), resp)
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}

func printSearch(w io.Writer, resp *query.SearchResponse) {
	if len(resp.Results) == 0 {
		_, _ = fmt.Fprintln(w, "No results.")
		return
	}
	styles := ui.GetStyles(ui.DetectNoColor())
	for i, r := range resp.Results {
		_, _ = fmt.Fprintf(w, "%d. %s %s\n", i+1, styles.Header.Render(r.URL), styles.Label.Render(fmt.Sprintf("(%.3f)", r.Score)))
		_, _ = fmt.Fprintf(w, "   %s\n\n", snippet(r.Text, snippetChars))
	}
	_, _ = fmt.Fprintf(w, "%d results in %s\n", resp.TotalMatches, resp.Took.Round(time.Millisecond))
}

// snippet shortens text to n characters on a word boundary.
func snippet(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	cut := string(runes[:n])
	if i := strings.LastIndexByte(cut, ' '); i > n/2 {
		cut = cut[:i]
	}
	return cut + "…"
}

func newAnswerCmd() *cobra.Command {
	var flags queryFlags

	cmd := &cobra.Command{
		Use:   "answer <question>",
		Short: "Assemble grounding context for a question",
		Long: `Retrieve the most relevant documents and print their text, each
truncated to query.max_context_chars, under a header naming the number
of sources.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			env, err := openQueryEnv(ctx, cfg)
			if err != nil {
				return err
			}
			defer env.Close()

			resp, err := env.service.Answer(ctx, strings.Join(args, " "), flags.resolveK())
			if err != nil {
				return err
			}
			if flags.jsonOutput {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), resp.Answer)
			return err
		},
	}

	flags.register(cmd)
	return cmd
}

func newReloadCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Load the persisted index and report what it holds",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			env, err := openQueryEnv(ctx, cfg)
			if err != nil {
				return err
			}
			defer env.Close()

			resp, err := env.service.ReloadIndex(ctx)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), resp)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
			return err
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
