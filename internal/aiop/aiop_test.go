package aiop

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/fakeyudi/aiop/internal/annex"
	"github.com/fakeyudi/aiop/internal/canonical"
	"github.com/fakeyudi/aiop/internal/config"
	"github.com/fakeyudi/aiop/internal/evidence"
	"github.com/fakeyudi/aiop/internal/session"
)

type fataler interface {
	Helper()
	Fatal(args ...any)
}

func mustConfig(t fataler, values map[string]string) *config.Resolved {
	t.Helper()
	r, err := config.Merge(config.Layer{Source: config.SourceCLI, Values: values})
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func sampleDoc(t fataler, schema string) *Document {
	events := []session.Event{
		{Timestamp: "2024-05-01T10:00:00Z", Name: "run_start", SessionID: "run_7"},
		{Timestamp: "2024-05-01T10:00:01Z", Name: "step_start", StepID: "extract"},
		{Timestamp: "2024-05-01T10:00:02Z", Name: "step_failed", StepID: "extract",
			Extra: map[string]any{"error": "connection refused | retrying", "attempt": json.Number("3")}},
		{Timestamp: "2024-05-01T10:00:04Z", Name: "run_end", Extra: map[string]any{"status": "failed"}},
	}
	metrics := []session.Metric{
		{StepID: "extract", Name: "rows_read", Value: "42", Unit: "rows"},
		{StepID: "extract", Name: "duration_ms", Value: "1.5"},
	}
	manifest := &session.Manifest{
		Present: true,
		Name:    "orders_etl",
		Hash:    "sha256:" + strings.Repeat("0f", 32),
		Steps: []session.Step{
			{ID: "extract", Component: "mysql.extractor"},
			{ID: "load", Component: "supabase.writer", Needs: []string{"extract"}},
		},
	}
	ev := evidence.Assemble(evidence.Input{
		Events:       events,
		Metrics:      metrics,
		Artifacts:    []session.ArtifactFile{{Path: "manifest.yaml", Size: 120}, {Path: "cfg/extract.json", Size: 33}},
		ManifestPath: "manifest.yaml",
	}, evidence.Options{Density: config.DensityMedium, TopK: 10})
	return Build(Input{
		Run:      evidence.DeriveRun(events, "dir"),
		Manifest: manifest,
		Evidence: ev,
		Config:   mustConfig(t, map[string]string{"schema_mode": schema}),
	})
}

func TestBuildIdentityAndRun(t *testing.T) {
	doc := sampleDoc(t, "summary")
	if doc.ID != "osiris://run/@run_7" || doc.Type != "AIOP" {
		t.Fatalf("identity = %s %s", doc.ID, doc.Type)
	}
	if doc.Run.Status != evidence.StatusFailed || *doc.Run.DurationMS != 4000 {
		t.Fatalf("run = %+v", doc.Run)
	}
	if doc.Pipeline.ManifestHash != strings.Repeat("0f", 32) || doc.Pipeline.StepCount != 2 {
		t.Fatalf("pipeline = %+v", doc.Pipeline)
	}
	if doc.Metadata.GeneratedAt != "2024-05-01T10:00:04Z" {
		t.Fatalf("generated_at = %s", doc.Metadata.GeneratedAt)
	}
	if len(doc.Semantic.Steps) != 0 || len(doc.Semantic.Components) != 2 {
		t.Fatalf("summary semantic = %+v", doc.Semantic)
	}
	if full := sampleDoc(t, "full"); len(full.Semantic.Steps) != 2 {
		t.Fatalf("full semantic = %+v", full.Semantic)
	}
}

func TestGeneratedAtWithoutTimestamps(t *testing.T) {
	doc := Build(Input{Config: mustConfig(t, nil)})
	if doc.Metadata.GeneratedAt != epoch {
		t.Fatalf("generated_at = %s", doc.Metadata.GeneratedAt)
	}
	if doc.Pipeline.ManifestHash == "" {
		t.Fatal("empty manifest hash")
	}
}

func TestFinalizeSettlesSize(t *testing.T) {
	for _, r := range []Renderer{&JSONRenderer{}, &MarkdownRenderer{}} {
		doc := sampleDoc(t, "full")
		out, err := Finalize(doc, r)
		if err != nil {
			t.Fatal(err)
		}
		if doc.Metadata.SizeBytes != len(out) {
			t.Fatalf("%T: size_bytes %d, len %d", r, doc.Metadata.SizeBytes, len(out))
		}
		if !bytes.Contains(out, []byte(strconv.Itoa(len(out)))) {
			t.Fatalf("%T: rendered size missing", r)
		}
	}
}

// A measurement pass that marks the timeline truncated must not leave the
// metadata flag raised once the timeline is restored.
func TestFinalizeRecomputesTruncated(t *testing.T) {
	doc := sampleDoc(t, "summary")
	saved := doc.Evidence.Timeline
	doc.Evidence.Timeline.Truncated = true
	if _, err := Finalize(doc, &JSONRenderer{}); err != nil {
		t.Fatal(err)
	}
	if !doc.Metadata.Truncated {
		t.Fatal("truncated timeline not reflected in metadata")
	}

	doc.Evidence.Timeline = saved
	out, err := Finalize(doc, &JSONRenderer{})
	if err != nil {
		t.Fatal(err)
	}
	if doc.Metadata.Truncated || !bytes.Contains(out, []byte(`"truncated": false`)) {
		t.Fatal("metadata.truncated latched after the timeline was restored")
	}

	doc.Metadata.OverBudget = true
	if _, err := Finalize(doc, &JSONRenderer{}); err != nil {
		t.Fatal(err)
	}
	if !doc.Metadata.Truncated {
		t.Fatal("over-budget core not marked truncated")
	}
}

func TestJSONRendererIsCanonical(t *testing.T) {
	doc := sampleDoc(t, "summary")
	out, err := Finalize(doc, &JSONRenderer{})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasSuffix(out, []byte("}\n")) || !bytes.HasPrefix(out, []byte("{\n  \"@context\"")) {
		t.Fatalf("unexpected framing:\n%s", out[:40])
	}
	if !bytes.Contains(out, []byte(`"last": 1.5`)) {
		t.Fatal("metric number text not preserved")
	}
	again, _ := canonical.MarshalIndent(json.RawMessage(out))
	if !bytes.Equal(out, again) {
		t.Fatal("output is not a canonical fixed point")
	}
}

// An empty session still yields a readable Markdown report.
func TestMarkdownForEmptySession(t *testing.T) {
	ev := evidence.Assemble(evidence.Input{}, evidence.Options{Density: config.DensityMedium})
	doc := Build(Input{Run: evidence.DeriveRun(nil, "empty"), Evidence: ev, Config: mustConfig(t, nil)})
	out, err := Finalize(doc, &MarkdownRenderer{})
	if err != nil {
		t.Fatal(err)
	}
	md := string(out)
	for _, want := range []string{"Status: partial", "## Run", "## Evidence", "## Metadata", "_No events._", "_No metrics._"} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestMarkdownSections(t *testing.T) {
	doc := sampleDoc(t, "full")
	doc.Metadata.Annex = &annex.Manifest{Compress: "gzip", Files: []annex.Entry{{Name: "timeline.ndjson.gz", RecordCount: 4, ByteSize: 99}}}
	out, err := (&MarkdownRenderer{}).Render(doc)
	if err != nil {
		t.Fatal(err)
	}
	md := string(out)
	for _, want := range []string{
		"# AIOP Run Report",
		"- Status: failed",
		"- Duration: 4s",
		"- Pipeline: orders_etl (0f0f0f0f0f0f)",
		"### Timeline", "### Metrics", "### Errors", "### Artifacts",
		"| rows_read |",
		"step_failed (extract): connection refused",
		"### Configuration",
		"timeline.ndjson.gz",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for _, r := range []Renderer{&JSONRenderer{}, &MarkdownRenderer{}} {
		doc := sampleDoc(t, "full")
		out, err := Finalize(doc, r)
		if err != nil {
			t.Fatal(err)
		}
		parsed, err := ParserFor(out).Parse(out)
		if err != nil {
			t.Fatalf("%T: %v", r, err)
		}
		want, _ := canonical.MarshalIndent(doc)
		got, _ := canonical.MarshalIndent(parsed)
		if !bytes.Equal(want, got) {
			t.Fatalf("%T: round trip differs\nwant %s\ngot  %s", r, want, got)
		}
	}
}

func TestMarkdownParserRejectsPlainMarkdown(t *testing.T) {
	for _, in := range []string{
		"# Notes\n\n- item\n",
		versionSentinel + "\n# no payload\n",
		versionSentinel + "\n" + dataPrefix + "!!!" + dataSuffix + "\n",
	} {
		if _, err := (&MarkdownParser{}).Parse([]byte(in)); !errors.Is(err, ErrNotReport) {
			t.Errorf("Parse(%q) err = %v", in, err)
		}
	}
}

func TestJSONParserRejectsOtherDocuments(t *testing.T) {
	if _, err := (&JSONParser{}).Parse([]byte(`{"@type":"Bundle"}`)); !errors.Is(err, ErrNotReport) {
		t.Fatalf("err = %v", err)
	}
}

// Property 5: rendering is deterministic for both formats.
func TestRenderDeterminism(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 30).Draw(rt, "events")
		var events []session.Event
		for i := 0; i < n; i++ {
			events = append(events, session.Event{
				Timestamp: fmt.Sprintf("2024-01-01T00:00:%02dZ", i),
				Name:      rapid.SampledFrom([]string{"run_start", "step_start", "io_error", "rows"}).Draw(rt, "name"),
				Extra:     map[string]any{"k" + strconv.Itoa(i%3): rapid.StringMatching(`[a-z<>&]{0,8}`).Draw(rt, "v")},
			})
		}
		format := rapid.SampledFrom([]config.Format{config.FormatJSON, config.FormatMarkdown}).Draw(rt, "format")
		render := func() []byte {
			ev := evidence.Assemble(evidence.Input{Events: events}, evidence.Options{Density: config.DensityHigh})
			doc := Build(Input{Run: evidence.DeriveRun(events, "s"), Evidence: ev, Config: mustConfig(rt, nil)})
			out, err := Finalize(doc, RendererFor(format))
			if err != nil {
				rt.Fatal(err)
			}
			return out
		}
		if a, b := render(), render(); !bytes.Equal(a, b) {
			rt.Fatalf("non-deterministic %s output", format)
		}
	})
}
