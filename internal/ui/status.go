package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
)

// StatusInfo is the system-wide report printed by `ragscraper status`.
type StatusInfo struct {
	RawDocuments   int `json:"raw_documents"`
	CleanDocuments int `json:"clean_documents"`

	IndexState   string    `json:"index_state"`
	Vectors      int       `json:"vectors"`
	Dimension    int       `json:"dimension"`
	IndexModel   string    `json:"index_model,omitempty"`
	IndexUpdated time.Time `json:"index_updated,omitempty"`
	// IndexProblem explains an inconsistent persisted index.
	IndexProblem string `json:"index_problem,omitempty"`

	// Missing and Orphans come from the consistency check.
	Missing int `json:"missing"`
	Orphans int `json:"orphans"`

	StoreSize int64 `json:"store_size"`
	IndexSize int64 `json:"index_size"`

	Broker      string         `json:"broker"`
	QueueDepths map[string]int `json:"queue_depths,omitempty"`

	EmbedderType   string `json:"embedder_type"`
	EmbedderStatus string `json:"embedder_status"` // "ready", "offline"
	EmbedderModel  string `json:"embedder_model,omitempty"`
}

// StatusRenderer prints StatusInfo.
type StatusRenderer struct {
	out    io.Writer
	styles Styles
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, styles: GetStyles(noColor)}
}

// Render writes the human-readable report.
func (r *StatusRenderer) Render(info StatusInfo) error {
	_, _ = fmt.Fprintf(r.out, "%s\n\n", r.styles.Header.Render("ragscraper status"))

	_, _ = fmt.Fprintln(r.out, "  Documents:")
	_, _ = fmt.Fprintf(r.out, "    Raw:     %s\n", humanize.Comma(int64(info.RawDocuments)))
	_, _ = fmt.Fprintf(r.out, "    Clean:   %s\n", humanize.Comma(int64(info.CleanDocuments)))
	_, _ = fmt.Fprintf(r.out, "    Storage: %s\n", humanize.Bytes(uint64(max(info.StoreSize, 0))))
	_, _ = fmt.Fprintln(r.out)

	_, _ = fmt.Fprintln(r.out, "  Index:")
	_, _ = fmt.Fprintf(r.out, "    State:   %s\n", r.renderState(info.IndexState))
	_, _ = fmt.Fprintf(r.out, "    Vectors: %s", humanize.Comma(int64(info.Vectors)))
	if info.Dimension > 0 {
		_, _ = fmt.Fprintf(r.out, " × %d", info.Dimension)
	}
	_, _ = fmt.Fprintln(r.out)
	if info.IndexModel != "" {
		_, _ = fmt.Fprintf(r.out, "    Model:   %s\n", info.IndexModel)
	}
	if !info.IndexUpdated.IsZero() {
		_, _ = fmt.Fprintf(r.out, "    Updated: %s\n", humanize.Time(info.IndexUpdated))
	}
	_, _ = fmt.Fprintf(r.out, "    Size:    %s\n", humanize.Bytes(uint64(max(info.IndexSize, 0))))
	if info.IndexProblem != "" {
		_, _ = fmt.Fprintf(r.out, "    Problem: %s\n", r.styles.Error.Render(info.IndexProblem))
	}
	if info.Missing > 0 || info.Orphans > 0 {
		_, _ = fmt.Fprintf(r.out, "    Drift:   %s\n", r.styles.Warning.Render(
			fmt.Sprintf("%d missing, %d orphaned", info.Missing, info.Orphans)))
	}
	_, _ = fmt.Fprintln(r.out)

	if len(info.QueueDepths) > 0 {
		_, _ = fmt.Fprintf(r.out, "  Queues (%s):\n", info.Broker)
		names := make([]string, 0, len(info.QueueDepths))
		for name := range info.QueueDepths {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			_, _ = fmt.Fprintf(r.out, "    %-12s %s\n", name+":", humanize.Comma(int64(info.QueueDepths[name])))
		}
		_, _ = fmt.Fprintln(r.out)
	}

	_, _ = fmt.Fprintln(r.out, "  Embedder:")
	_, _ = fmt.Fprintf(r.out, "    Type:   %s\n", info.EmbedderType)
	_, _ = fmt.Fprintf(r.out, "    Status: %s\n", r.renderState(info.EmbedderStatus))
	if info.EmbedderModel != "" {
		_, _ = fmt.Fprintf(r.out, "    Model:  %s\n", info.EmbedderModel)
	}
	return nil
}

// RenderJSON writes the report as indented JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(info)
}

func (r *StatusRenderer) renderState(state string) string {
	switch state {
	case "ready", "populated":
		return r.styles.Success.Render(state)
	case "offline", "empty":
		return r.styles.Warning.Render(state)
	case "error", "inconsistent":
		return r.styles.Error.Render(state)
	default:
		return state
	}
}
