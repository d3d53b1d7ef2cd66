package aiop

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/fakeyudi/aiop/internal/canonical"
	"github.com/fakeyudi/aiop/internal/config"
	"github.com/fakeyudi/aiop/internal/evidence"
	"github.com/fakeyudi/aiop/internal/session"
)

// Markdown sentinels carrying the lossless payload.
const (
	versionSentinel = "<!-- aiop-version: 1 -->"
	dataPrefix      = "<!-- aiop-data: "
	dataSuffix      = " -->"
)

// Renderer serializes a Document to bytes.
type Renderer interface {
	Render(doc *Document) ([]byte, error)
}

// RendererFor returns the renderer for a configured format.
func RendererFor(f config.Format) Renderer {
	if f == config.FormatMarkdown {
		return &MarkdownRenderer{}
	}
	return &JSONRenderer{}
}

// Extension returns the core file extension for a format.
func Extension(f config.Format) string {
	if f == config.FormatMarkdown {
		return ".md"
	}
	return ".json"
}

// JSONRenderer renders a Document as canonical, indented JSON.
type JSONRenderer struct{}

func (r *JSONRenderer) Render(doc *Document) ([]byte, error) {
	out, err := canonical.MarshalIndent(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}
	return out, nil
}

// MarkdownRenderer renders a Document as Markdown for people, with the
// canonical JSON embedded as a base64 payload so it parses back losslessly.
type MarkdownRenderer struct{}

func (r *MarkdownRenderer) Render(doc *Document) ([]byte, error) {
	payload, err := canonical.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal report: %w", err)
	}

	var sb strings.Builder
	sb.WriteString(versionSentinel + "\n")
	fmt.Fprintf(&sb, "%s%s%s\n\n", dataPrefix, base64.StdEncoding.EncodeToString(payload), dataSuffix)

	sb.WriteString("# AIOP Run Report\n\n")

	// ## Run
	sb.WriteString("## Run\n\n")
	fmt.Fprintf(&sb, "- Session: %s\n", doc.Run.SessionID)
	fmt.Fprintf(&sb, "- Status: %s\n", doc.Run.Status)
	if doc.Run.StartedAt != "" {
		fmt.Fprintf(&sb, "- Started: %s\n", doc.Run.StartedAt)
	}
	if doc.Run.CompletedAt != "" {
		fmt.Fprintf(&sb, "- Completed: %s\n", doc.Run.CompletedAt)
	}
	fmt.Fprintf(&sb, "- Duration: %s\n", FormatDuration(doc.Run.DurationMS))
	fmt.Fprintf(&sb, "- Pipeline: %s\n", pipelineLabel(doc.Pipeline))
	sb.WriteString("\n")

	// ## Narrative
	sb.WriteString("## Narrative\n\n")
	sb.WriteString(doc.Narrative.Summary + "\n\n")
	for _, h := range doc.Narrative.Highlights {
		fmt.Fprintf(&sb, "- %s\n", h)
	}
	sb.WriteString("\n")

	// ## Pipeline
	sb.WriteString("## Pipeline\n\n")
	if len(doc.Semantic.Components) == 0 {
		sb.WriteString("_No components recorded._\n")
	} else {
		fmt.Fprintf(&sb, "Components: %s\n", strings.Join(doc.Semantic.Components, ", "))
	}
	if len(doc.Semantic.Steps) > 0 {
		sb.WriteString("\n")
		rows := make([]table.Row, 0, len(doc.Semantic.Steps))
		for _, st := range doc.Semantic.Steps {
			rows = append(rows, table.Row{st.ID, st.Component, strings.Join(st.Needs, ", ")})
		}
		sb.WriteString(markdownTable(table.Row{"Step", "Component", "Needs"}, rows))
	}
	sb.WriteString("\n")

	// ## Evidence
	sb.WriteString("## Evidence\n\n")
	writeTimeline(&sb, doc.Evidence.Timeline)
	writeMetrics(&sb, doc.Evidence.Metrics)
	writeErrors(&sb, doc.Evidence.Errors)
	writeArtifacts(&sb, doc.Evidence.Artifacts)

	// ## Metadata
	writeMetadata(&sb, doc.Metadata)

	return []byte(sb.String()), nil
}

func pipelineLabel(p Pipeline) string {
	name := p.Name
	if name == "" {
		name = "(unnamed)"
	}
	hash := p.ManifestHash
	if len(hash) > 12 {
		hash = hash[:12]
	}
	return fmt.Sprintf("%s (%s)", name, hash)
}

func writeTimeline(sb *strings.Builder, t evidence.Timeline) {
	sb.WriteString("### Timeline\n\n")
	switch {
	case t.Annexed:
		fmt.Fprintf(sb, "_Showing %d of %d events; %d records in `%s`._\n\n", len(t.Items), t.TotalCount, t.AnnexedCount, t.AnnexFile)
	case t.Truncated:
		fmt.Fprintf(sb, "_Truncated: %d events dropped._\n\n", t.DroppedEvents)
	}
	if len(t.Items) == 0 {
		sb.WriteString("_No events._\n\n")
		return
	}
	for _, e := range t.Items {
		line := fmt.Sprintf("- `%s` %s", orDash(e.Timestamp), e.Name)
		if e.StepID != "" {
			line += " (" + e.StepID + ")"
		}
		sb.WriteString(line + "\n")
	}
	sb.WriteString("\n")
}

func writeMetrics(sb *strings.Builder, m evidence.Metrics) {
	sb.WriteString("### Metrics\n\n")
	switch {
	case m.AnnexFile != "":
		fmt.Fprintf(sb, "_Aggregates only; every sample in `%s`._\n\n", m.AnnexFile)
	case m.Truncated:
		fmt.Fprintf(sb, "_Truncated: %d series reduced to aggregates._\n\n", m.DroppedSeries)
	}
	var rows []table.Row
	for _, st := range m.Steps {
		for _, a := range st.Metrics {
			rows = append(rows, table.Row{st.StepID, a.Name, a.Count, a.Sum, a.Last.String(), a.Unit})
		}
	}
	if len(rows) == 0 {
		sb.WriteString("_No metrics._\n\n")
		return
	}
	sb.WriteString(markdownTable(table.Row{"Step", "Metric", "Count", "Sum", "Last", "Unit"}, rows))
	sb.WriteString("\n")
}

func writeErrors(sb *strings.Builder, errs []session.Event) {
	sb.WriteString("### Errors\n\n")
	if len(errs) == 0 {
		sb.WriteString("_No errors._\n\n")
		return
	}
	for _, e := range errs {
		line := fmt.Sprintf("- `%s` %s", orDash(e.Timestamp), e.Name)
		if e.StepID != "" {
			line += " (" + e.StepID + ")"
		}
		if msg := errorMessage(e.Extra); msg != "" {
			line += ": " + msg
		}
		sb.WriteString(line + "\n")
	}
	sb.WriteString("\n")
}

func writeArtifacts(sb *strings.Builder, arts []evidence.Artifact) {
	sb.WriteString("### Artifacts\n\n")
	if len(arts) == 0 {
		sb.WriteString("_No artifacts._\n\n")
		return
	}
	rows := make([]table.Row, 0, len(arts))
	for _, a := range arts {
		rows = append(rows, table.Row{a.Name, a.Kind, a.Size})
	}
	sb.WriteString(markdownTable(table.Row{"Name", "Kind", "Size"}, rows))
	sb.WriteString("\n")
}

func writeMetadata(sb *strings.Builder, md Metadata) {
	sb.WriteString("## Metadata\n\n")
	fmt.Fprintf(sb, "- Format: %s\n", md.AIOPFormat)
	fmt.Fprintf(sb, "- Generated: %s\n", md.GeneratedAt)
	fmt.Fprintf(sb, "- Size: %d bytes\n", md.SizeBytes)
	fmt.Fprintf(sb, "- Truncated: %t\n", md.Truncated)
	sb.WriteString("\n")

	keys := make([]string, 0, len(md.ConfigEffective))
	for k := range md.ConfigEffective {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([]table.Row, 0, len(keys))
	for _, k := range keys {
		e := md.ConfigEffective[k]
		rows = append(rows, table.Row{k, fmt.Sprint(e.Value), string(e.Source)})
	}
	if len(rows) > 0 {
		sb.WriteString("### Configuration\n\n")
		sb.WriteString(markdownTable(table.Row{"Key", "Value", "Source"}, rows))
		sb.WriteString("\n")
	}

	if md.Annex != nil {
		sb.WriteString("### Annex\n\n")
		rows := make([]table.Row, 0, len(md.Annex.Files))
		for _, f := range md.Annex.Files {
			rows = append(rows, table.Row{f.Name, f.RecordCount, f.ByteSize})
		}
		sb.WriteString(markdownTable(table.Row{"File", "Records", "Bytes"}, rows))
		sb.WriteString("\n")
	}
}

func markdownTable(header table.Row, rows []table.Row) string {
	tw := table.NewWriter()
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	return tw.RenderMarkdown() + "\n"
}

func errorMessage(extra map[string]any) string {
	for _, k := range []string{"error", "message", "msg"} {
		if s, ok := extra[k].(string); ok && s != "" {
			return strings.ReplaceAll(s, "\n", " ")
		}
	}
	return ""
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
