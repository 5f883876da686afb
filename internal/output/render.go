// Package output renders query results for humans and machines. Plain
// JSON with --json or a pipe; styled text on a TTY.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	llmcerr "github.com/vmlinuzx/llmc-sub012/internal/errors"
	"github.com/vmlinuzx/llmc-sub012/internal/query"
	"github.com/vmlinuzx/llmc-sub012/internal/route"
	"github.com/vmlinuzx/llmc-sub012/internal/store"
)

var (
	pathStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	symbolStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	scoreStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	summaryStyle = lipgloss.NewStyle().Italic(true)
)

// Renderer writes results to one destination in one mode.
type Renderer struct {
	w     io.Writer
	json  bool
	color bool
}

// NewRenderer picks the mode: forceJSON wins, otherwise styled text on
// a TTY and plain text elsewhere.
func NewRenderer(w io.Writer, forceJSON bool) *Renderer {
	color := false
	if f, ok := w.(*os.File); ok {
		color = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Renderer{w: w, json: forceJSON, color: color}
}

func (r *Renderer) style(s lipgloss.Style, text string) string {
	if !r.color {
		return text
	}
	return s.Render(text)
}

// JSON emits any payload as indented JSON.
func (r *Renderer) JSON(v any) error {
	enc := json.NewEncoder(r.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Error renders a structured error, remediation included.
func (r *Renderer) Error(err error) {
	if r.json {
		var structured *llmcerr.Error
		if !llmcerr.As(err, &structured) {
			structured = llmcerr.Wrap(llmcerr.KindInternal, err.Error(), nil)
		}
		_, _ = r.w.Write(append(structured.JSON(), '\n'))
		return
	}
	var structured *llmcerr.Error
	if llmcerr.As(err, &structured) {
		fmt.Fprintf(r.w, "%s %s\n", r.style(errorStyle, "error:"), structured.Message)
		if structured.Remediation != "" {
			fmt.Fprintf(r.w, "  %s\n", r.style(dimStyle, structured.Remediation))
		}
		return
	}
	fmt.Fprintf(r.w, "%s %v\n", r.style(errorStyle, "error:"), err)
}

// Search renders a search response.
func (r *Renderer) Search(resp *query.SearchResponse) error {
	if r.json {
		return r.JSON(resp)
	}
	if resp.Freshness == route.FreshnessStale {
		fmt.Fprintln(r.w, r.style(warnStyle, "note: index lags the working tree; results may be stale"))
	}
	if len(resp.Results) == 0 {
		fmt.Fprintln(r.w, r.style(dimStyle, "no results"))
		return nil
	}
	for i, res := range resp.Results {
		loc := fmt.Sprintf("%s:%d-%d", res.Path, res.StartLine, res.EndLine)
		fmt.Fprintf(r.w, "%2d. %s", i+1, r.style(pathStyle, loc))
		if res.Symbol != "" {
			fmt.Fprintf(r.w, "  %s", r.style(symbolStyle, res.Symbol))
		}
		fmt.Fprintf(r.w, "  %s\n", r.style(scoreStyle, fmt.Sprintf("%.3f", res.Score)))
		if res.Summary != "" {
			fmt.Fprintf(r.w, "    %s\n", r.style(summaryStyle, res.Summary))
		} else if res.Snippet != "" {
			for _, line := range strings.Split(res.Snippet, "\n") {
				fmt.Fprintf(r.w, "    %s\n", r.style(dimStyle, line))
			}
		}
	}
	fmt.Fprintf(r.w, "%s\n", r.style(dimStyle,
		fmt.Sprintf("source: %s, index: %s, freshness: %s", resp.Source, resp.Profile, resp.Freshness)))
	return nil
}

// WhereUsed renders usage sites.
func (r *Renderer) WhereUsed(resp *query.WhereUsedResponse) error {
	if r.json {
		return r.JSON(resp)
	}
	fmt.Fprintf(r.w, "%s %s\n", r.style(headerStyle, resp.Symbol.ID),
		r.style(dimStyle, resp.Symbol.PathRef))
	if len(resp.Usages) == 0 {
		fmt.Fprintln(r.w, r.style(dimStyle, "  no usages recorded"))
		return nil
	}
	for _, u := range resp.Usages {
		fmt.Fprintf(r.w, "  %s %s %s\n",
			r.style(dimStyle, u.EdgeType),
			r.style(symbolStyle, u.Entity.ID),
			r.style(dimStyle, u.Entity.PathRef))
	}
	return nil
}

// Lineage renders a dependency slice.
func (r *Renderer) Lineage(resp *query.LineageResponse) error {
	if r.json {
		return r.JSON(resp)
	}
	fmt.Fprintf(r.w, "%s (%s, depth %d)\n",
		r.style(headerStyle, resp.Slice.Seed.ID), resp.Direction, resp.Depth)
	for _, n := range resp.Slice.Nodes {
		indent := strings.Repeat("  ", n.Depth)
		fmt.Fprintf(r.w, "%s%s %s %s\n", indent,
			r.style(dimStyle, n.EdgeType),
			r.style(symbolStyle, n.Entity.ID),
			r.style(dimStyle, n.Entity.PathRef))
	}
	return nil
}

// Stats renders the counters.
func (r *Renderer) Stats(stats *store.Stats) error {
	if r.json {
		return r.JSON(stats)
	}
	fmt.Fprintf(r.w, "files:               %d\n", stats.Files)
	fmt.Fprintf(r.w, "spans:               %d\n", stats.Spans)
	fmt.Fprintf(r.w, "enrichments:         %d\n", stats.Enrichments)
	for profile, n := range stats.Embeddings {
		fmt.Fprintf(r.w, "embeddings[%s]:    %d\n", profile, n)
	}
	fmt.Fprintf(r.w, "pending enrichments: %d\n", stats.PendingEnrichments)
	fmt.Fprintf(r.w, "pending embeddings:  %d\n", stats.PendingEmbeddings)
	fmt.Fprintf(r.w, "orphan enrichments:  %d\n", stats.OrphanEnrichments)
	fmt.Fprintf(r.w, "graph entities:      %d\n", stats.Entities)
	fmt.Fprintf(r.w, "graph relations:     %d\n", stats.Relations)
	return nil
}

// Health renders the health snapshot.
func (r *Renderer) Health(h *store.Health) error {
	if r.json {
		return r.JSON(h)
	}
	status := string(h.Status)
	switch h.Status {
	case store.StateReady:
		status = r.style(symbolStyle, status)
	case store.StateWarn:
		status = r.style(warnStyle, status)
	case store.StateError:
		status = r.style(errorStyle, status)
	}
	fmt.Fprintf(r.w, "status: %s\n", status)
	for _, issue := range h.Issues {
		fmt.Fprintf(r.w, "  %s %s\n", r.style(warnStyle, "!"), issue)
	}
	for _, f := range h.TopPendingFiles {
		fmt.Fprintf(r.w, "  pending: %s\n", r.style(dimStyle, f))
	}
	return nil
}

// Status renders the index status record.
func (r *Renderer) Status(resp *query.StatusResponse) error {
	if r.json {
		return r.JSON(resp)
	}
	st := resp.Status
	fmt.Fprintf(r.w, "state:     %s\n", st.State)
	fmt.Fprintf(r.w, "freshness: %s\n", resp.Freshness)
	if !st.LastIndexedAt.IsZero() && st.LastIndexedAt.Unix() > 0 {
		fmt.Fprintf(r.w, "indexed:   %s\n", st.LastIndexedAt.Format("2006-01-02 15:04:05"))
	}
	if st.LastIndexedCommit != "" {
		fmt.Fprintf(r.w, "commit:    %s\n", st.LastIndexedCommit)
	}
	if st.LastError != "" {
		fmt.Fprintf(r.w, "%s %s\n", r.style(errorStyle, "last error:"), st.LastError)
	}
	return nil
}
