// Package budget keeps a report under its byte ceiling by applying an
// ordered sequence of degradation steps to the evidence layers.
package budget

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fakeyudi/aiop/internal/evidence"
	"github.com/fakeyudi/aiop/internal/session"
)

// Step is one degradation applied to the evidence.
type Step string

const (
	// StepTimelineHead keeps only the head of the timeline.
	StepTimelineHead Step = "timeline-head"
	// StepMetricsAggregates drops metric series and keeps per-step aggregates.
	StepMetricsAggregates Step = "metrics-aggregates"
)

// Sequence is the order steps are applied in. Errors and artifacts are
// never degraded.
var Sequence = []Step{StepTimelineHead, StepMetricsAggregates}

// ItemDepth is the nesting depth of a timeline item inside a rendered
// report: document, evidence, timeline object, items array.
const ItemDepth = 4

// Measure returns the rendered size of the whole report in bytes.
type Measure func() (int, error)

// Result describes what Fit did.
type Result struct {
	Size    int
	Applied []Step
	Fits    bool
}

// Fit measures the report and, while it exceeds maxBytes, applies the next
// step of Sequence to ev and measures again. When every step has been
// applied the most degraded form is kept and Fits is false.
func Fit(ev *evidence.Evidence, maxBytes int, measure Measure) (Result, error) {
	size, err := measure()
	if err != nil {
		return Result{}, err
	}
	res := Result{Size: size, Fits: size <= maxBytes}
	for _, step := range Sequence {
		if res.Fits {
			break
		}
		switch step {
		case StepTimelineHead:
			size, err = fitTimeline(&ev.Timeline, maxBytes, size, measure)
		case StepMetricsAggregates:
			ev.Metrics.Degrade(ev.Metrics.AnnexFile)
			size, err = measure()
		}
		if err != nil {
			return Result{}, fmt.Errorf("apply %s: %w", step, err)
		}
		res.Applied = append(res.Applied, step)
		res.Size = size
		res.Fits = size <= maxBytes
	}
	return res, nil
}

// fitTimeline keeps the longest head that fits. The head length is chosen
// in one pass from the encoded size of each item against the space left
// once the timeline is emptied; a second pass corrects an underestimate.
func fitTimeline(t *evidence.Timeline, maxBytes, size int, measure Measure) (int, error) {
	items := t.Items
	if len(items) == 0 {
		return size, nil
	}

	// Baseline: the tagged wrapper with no items.
	saved := *t
	t.Items = nil
	if !t.Annexed {
		t.Truncated = true
		t.DroppedEvents = saved.DroppedEvents + len(items)
	}
	base, err := measure()
	*t = saved
	if err != nil {
		return 0, err
	}

	sizes, err := itemSizes(items)
	if err != nil {
		return 0, err
	}
	avail := maxBytes - base - arrayOverhead
	n := headLen(sizes, avail)
	t.Head(n)
	size, err = measure()
	if err != nil || size <= maxBytes || n == 0 {
		return size, err
	}

	// Second pass: drop at least the measured excess from the head.
	used := 0
	for _, s := range sizes[:n] {
		used += s
	}
	n = headLen(sizes[:n], used-(size-maxBytes))
	t.Head(n)
	return measure()
}

// arrayOverhead is what a non-empty items array adds over "[]": the opening
// newline and the closing line.
var arrayOverhead = 1 + 1 + len(indent(ItemDepth-1))

func headLen(sizes []int, avail int) int {
	used := 0
	for i, s := range sizes {
		if used+s > avail {
			return i
		}
		used += s
	}
	return len(sizes)
}

// itemSizes returns the indented size of each item as it appears in the
// items array, including its leading indentation and trailing ",\n".
func itemSizes(items []session.Event) ([]int, error) {
	prefix := indent(ItemDepth)
	sizes := make([]int, len(items))
	for i, it := range items {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent(prefix, "  ")
		if err := enc.Encode(it); err != nil {
			return nil, err
		}
		// Encode appends a newline; count it as the separator with the comma.
		sizes[i] = len(prefix) + buf.Len() + 1
	}
	return sizes, nil
}

func indent(depth int) string {
	return strings.Repeat("  ", depth)
}
