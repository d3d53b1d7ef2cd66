package annex

import (
	"github.com/fakeyudi/aiop/internal/evidence"
	"github.com/fakeyudi/aiop/internal/session"
)

// Apply writes the full timeline, every metric sample and the error events
// to side files, then reduces ev to its core view: the timeline head and
// per-step metric aggregates, each referencing its side file. The errors
// layer stays complete in the core.
func Apply(w *Writer, ev *evidence.Evidence, events []session.Event, metrics []session.Metric) (*Manifest, error) {
	tl, err := w.Write(StreamTimeline, EventRecords(events))
	if err != nil {
		return nil, err
	}
	ms, err := w.Write(StreamMetrics, SampleRecords(metrics))
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(StreamErrors, EventRecords(ev.Errors)); err != nil {
		return nil, err
	}

	ev.Timeline.Annex(tl.Name, tl.RecordCount, HeadItems)
	ev.Metrics.Degrade(ms.Name)
	return w.Manifest(), nil
}

// EventRecords converts events to encodable records.
func EventRecords(events []session.Event) []any {
	out := make([]any, len(events))
	for i, e := range events {
		out[i] = e.Record()
	}
	return out
}

// SampleRecords flattens metrics into one record per sample.
func SampleRecords(metrics []session.Metric) []any {
	var out []any
	for _, m := range metrics {
		step := m.StepID
		if step == "" {
			step = evidence.RunStep
		}
		for _, s := range m.Samples() {
			rec := map[string]any{
				"step_id": step,
				"metric":  s.Name,
				"value":   s.Value,
			}
			if m.Timestamp != "" {
				rec["ts"] = m.Timestamp
			}
			if s.Unit != "" {
				rec["unit"] = s.Unit
			}
			out = append(out, rec)
		}
	}
	return out
}
