package budget

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/fakeyudi/aiop/internal/config"
	"github.com/fakeyudi/aiop/internal/evidence"
	"github.com/fakeyudi/aiop/internal/session"
)

// measureOf renders ev the way a report nests it: {"evidence": ev}.
func measureOf(ev *evidence.Evidence) Measure {
	return func() (int, error) {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(map[string]any{"doc": map[string]any{"evidence": ev}}); err != nil {
			return 0, err
		}
		return buf.Len(), nil
	}
}

func bigEvidence(events, metrics int) *evidence.Evidence {
	in := evidence.Input{}
	for i := 0; i < events; i++ {
		in.Events = append(in.Events, session.Event{
			Timestamp: fmt.Sprintf("2024-01-01T00:%02d:%02dZ", i/60%60, i%60),
			Name:      "rows_written",
			StepID:    "load",
			Extra:     map[string]any{"msg": strings.Repeat("x", 40)},
		})
	}
	for i := 0; i < metrics; i++ {
		in.Metrics = append(in.Metrics, session.Metric{
			StepID: fmt.Sprintf("step_%d", i%7),
			Name:   fmt.Sprintf("m_%d", i%13),
			Value:  json.Number(fmt.Sprint(i)),
		})
	}
	ev := evidence.Assemble(in, evidence.Options{Density: config.DensityHigh, TopK: 100})
	return &ev
}

func TestFitWithinBudgetIsUntouched(t *testing.T) {
	ev := bigEvidence(5, 5)
	res, err := Fit(ev, 1<<20, measureOf(ev))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Fits || len(res.Applied) != 0 || ev.Timeline.Tagged() {
		t.Fatalf("res = %+v, timeline tagged = %v", res, ev.Timeline.Tagged())
	}
}

// A large session under a small ceiling is truncated and fits.
func TestFitTruncatesTimeline(t *testing.T) {
	ev := bigEvidence(500, 0)
	res, err := Fit(ev, 5000, measureOf(ev))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Fits || res.Size > 5000 {
		t.Fatalf("res = %+v", res)
	}
	if !ev.Timeline.Truncated || ev.Timeline.DroppedEvents == 0 {
		t.Fatalf("timeline = %+v", ev.Timeline)
	}
	if ev.Timeline.DroppedEvents+len(ev.Timeline.Items) != 500 {
		t.Fatalf("dropped %d + kept %d != 500", ev.Timeline.DroppedEvents, len(ev.Timeline.Items))
	}
	if len(ev.Timeline.Items) == 0 {
		t.Fatal("expected a non-empty head")
	}
}

func TestFitFallsThroughToMetrics(t *testing.T) {
	ev := bigEvidence(10, 2000)
	res, err := Fit(ev, 3000, measureOf(ev))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Applied) != 2 || res.Applied[1] != StepMetricsAggregates {
		t.Fatalf("applied = %v", res.Applied)
	}
	if !ev.Metrics.AggregatesOnly || !ev.Metrics.Truncated {
		t.Fatalf("metrics = %+v", ev.Metrics)
	}
	if !ev.Truncated() {
		t.Fatal("evidence not marked truncated")
	}
}

func TestFitKeepsMostDegradedForm(t *testing.T) {
	ev := bigEvidence(50, 50)
	res, err := Fit(ev, 10, measureOf(ev))
	if err != nil {
		t.Fatal(err)
	}
	if res.Fits || len(res.Applied) != len(Sequence) {
		t.Fatalf("res = %+v", res)
	}
	if len(ev.Timeline.Items) != 0 || !ev.Metrics.AggregatesOnly {
		t.Fatalf("evidence not fully degraded: %+v", ev.Metrics)
	}
}

func TestAnnexedTimelineHeadIsNotTruncated(t *testing.T) {
	ev := bigEvidence(300, 0)
	ev.Timeline.Annex("timeline.ndjson", 300, 300)
	res, err := Fit(ev, 4000, measureOf(ev))
	if err != nil {
		t.Fatal(err)
	}
	if !res.Fits || ev.Timeline.Truncated || ev.Timeline.TotalCount != 300 {
		t.Fatalf("res = %+v timeline = %+v", res, ev.Timeline)
	}
}

// Property 3: after Fit the report is within budget, or every step has been
// applied; whenever events were dropped from a core timeline it says so.
func TestSizeInvariant(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		events := rapid.IntRange(0, 200).Draw(rt, "events")
		metrics := rapid.IntRange(0, 200).Draw(rt, "metrics")
		max := rapid.IntRange(1, 40000).Draw(rt, "max")
		ev := bigEvidence(events, metrics)
		measure := measureOf(ev)

		res, err := Fit(ev, max, measure)
		if err != nil {
			rt.Fatal(err)
		}
		size, _ := measure()
		if size != res.Size {
			rt.Fatalf("reported size %d, measured %d", res.Size, size)
		}
		if res.Fits && size > max {
			rt.Fatalf("fits but %d > %d", size, max)
		}
		if !res.Fits && len(res.Applied) != len(Sequence) {
			rt.Fatalf("gave up after %v", res.Applied)
		}
		if len(ev.Timeline.Items) < events && !ev.Timeline.Truncated {
			rt.Fatalf("dropped events without a marker")
		}
	})
}
