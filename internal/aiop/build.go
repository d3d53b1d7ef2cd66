package aiop

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fakeyudi/aiop/internal/config"
	"github.com/fakeyudi/aiop/internal/evidence"
	"github.com/fakeyudi/aiop/internal/session"
)

// epoch is the generation time of a report whose run carries no timestamps.
const epoch = "1970-01-01T00:00:00Z"

// Input is everything a report is built from.
type Input struct {
	Run      evidence.RunFacts
	Manifest *session.Manifest
	Evidence evidence.Evidence
	Config   *config.Resolved
}

// Build assembles a report. The result is a pure function of its input:
// generated_at is taken from the run itself, not the wall clock.
func Build(in Input) *Document {
	m := in.Manifest
	if m == nil {
		m = &session.Manifest{}
	}
	doc := &Document{
		Context: Context,
		Type:    Type,
		ID:      RunIDScheme + in.Run.SessionID,
		Run: Run{
			SessionID:   in.Run.SessionID,
			Status:      in.Run.Status,
			StartedAt:   in.Run.StartedAt,
			CompletedAt: in.Run.CompletedAt,
			DurationMS:  in.Run.DurationMS,
		},
		Pipeline: Pipeline{
			Name:         m.Name,
			ManifestHash: evidence.ManifestHash(m.Hash),
			StepCount:    len(m.Steps),
		},
		Semantic: buildSemantic(m, in.Config.SchemaMode),
		Evidence: in.Evidence,
		Metadata: Metadata{
			AIOPFormat:      FormatV1,
			GeneratedAt:     generatedAt(in.Run),
			ConfigEffective: in.Config.Effective(),
		},
	}
	doc.Narrative = buildNarrative(doc)
	return doc
}

func generatedAt(r evidence.RunFacts) string {
	for _, ts := range []string{r.CompletedAt, r.StartedAt} {
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			return t.UTC().Format(time.RFC3339Nano)
		}
	}
	return epoch
}

func buildSemantic(m *session.Manifest, mode config.SchemaMode) Semantic {
	sem := Semantic{Mode: string(mode), Components: []string{}}
	seen := map[string]bool{}
	for _, st := range m.Steps {
		if st.Component != "" && !seen[st.Component] {
			seen[st.Component] = true
			sem.Components = append(sem.Components, st.Component)
		}
		if mode == config.SchemaFull {
			sem.Steps = append(sem.Steps, SemanticStep{ID: st.ID, Component: st.Component, Needs: st.Needs})
		}
	}
	sort.Strings(sem.Components)
	return sem
}

func buildNarrative(doc *Document) Narrative {
	name := doc.Pipeline.Name
	if name == "" {
		name = "unnamed pipeline"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Run %s of %s %s", doc.Run.SessionID, name, doc.Run.Status)
	if doc.Run.DurationMS != nil {
		fmt.Fprintf(&sb, " after %s", FormatDuration(doc.Run.DurationMS))
	}
	sb.WriteString(".")

	ev := &doc.Evidence
	highlights := []string{
		fmt.Sprintf("%d timeline events", ev.Timeline.TotalCount),
		fmt.Sprintf("%d errors", len(ev.Errors)),
		fmt.Sprintf("%d metric series", ev.Metrics.TotalSeries),
		fmt.Sprintf("%d artifacts", len(ev.Artifacts)),
	}
	if doc.Pipeline.StepCount > 0 {
		highlights = append(highlights, fmt.Sprintf("%d pipeline steps", doc.Pipeline.StepCount))
	}
	if len(ev.Errors) > 0 {
		first := ev.Errors[0]
		h := "first error: " + first.Name
		if first.StepID != "" {
			h += " in step " + first.StepID
		}
		highlights = append(highlights, h)
	}
	return Narrative{Summary: sb.String(), Highlights: highlights}
}

// FormatDuration renders a millisecond duration for people.
func FormatDuration(ms *int64) string {
	if ms == nil {
		return "unknown"
	}
	return (time.Duration(*ms) * time.Millisecond).String()
}

// Finalize renders doc with r, settling metadata.size_bytes on the length of
// the rendered output. The truncated flag is recomputed on every call from
// the evidence layers and OverBudget.
func Finalize(doc *Document, r Renderer) ([]byte, error) {
	doc.Metadata.Truncated = doc.Evidence.Truncated() || doc.Metadata.OverBudget
	// Each pass can change the digit count at most once more.
	const maxPasses = 8
	var out []byte
	for i := 0; i < maxPasses; i++ {
		var err error
		out, err = r.Render(doc)
		if err != nil {
			return nil, err
		}
		if len(out) == doc.Metadata.SizeBytes {
			return out, nil
		}
		doc.Metadata.SizeBytes = len(out)
	}
	return nil, fmt.Errorf("size_bytes did not settle after %d passes", maxPasses)
}
