// Package evidence groups redacted session records into the four evidence
// layers of a report: timeline, metrics, errors and artifacts.
package evidence

import (
	"bytes"
	"encoding/json"

	"github.com/fakeyudi/aiop/internal/session"
)

// Evidence is the assembled, pre-budget evidence document.
type Evidence struct {
	Timeline  Timeline        `json:"timeline"`
	Metrics   Metrics         `json:"metrics"`
	Errors    []session.Event `json:"errors"`
	Artifacts []Artifact      `json:"artifacts"`
}

// Timeline is either a plain ordered event list or, once reduced to a head
// subset, a tagged object. Truncated means events were dropped from the
// report; Annexed means the full list lives in an annex file.
//
// TotalCount is the number of events that passed the density filter under
// either policy. AnnexedCount is the number of records in the annex file,
// which holds every event regardless of density.
type Timeline struct {
	Items         []session.Event
	Truncated     bool
	DroppedEvents int
	Annexed       bool
	AnnexFile     string
	AnnexedCount  int
	TotalCount    int
}

// Tagged reports whether the timeline serializes as an object.
func (t Timeline) Tagged() bool {
	return t.Truncated || t.Annexed
}

type timelineObject struct {
	Truncated     bool            `json:"truncated,omitempty"`
	DroppedEvents *int            `json:"dropped_events,omitempty"`
	Annexed       bool            `json:"annexed,omitempty"`
	AnnexFile     string          `json:"annex_file,omitempty"`
	AnnexedCount  *int            `json:"annexed_count,omitempty"`
	TotalCount    int             `json:"total_count"`
	Items         []session.Event `json:"items"`
}

func (t Timeline) MarshalJSON() ([]byte, error) {
	items := t.Items
	if items == nil {
		items = []session.Event{}
	}
	if !t.Tagged() {
		return json.Marshal(items)
	}
	obj := timelineObject{
		Truncated:  t.Truncated,
		Annexed:    t.Annexed,
		AnnexFile:  t.AnnexFile,
		TotalCount: t.TotalCount,
		Items:      items,
	}
	if t.Truncated {
		dropped := t.DroppedEvents
		obj.DroppedEvents = &dropped
	}
	if t.Annexed {
		annexed := t.AnnexedCount
		obj.AnnexedCount = &annexed
	}
	return json.Marshal(obj)
}

// UnmarshalJSON accepts both the plain and the tagged form.
func (t *Timeline) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		*t = Timeline{}
		if err := json.Unmarshal(trimmed, &t.Items); err != nil {
			return err
		}
		t.TotalCount = len(t.Items)
		return nil
	}
	var obj timelineObject
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return err
	}
	*t = Timeline{
		Items:      obj.Items,
		Truncated:  obj.Truncated,
		Annexed:    obj.Annexed,
		AnnexFile:  obj.AnnexFile,
		TotalCount: obj.TotalCount,
	}
	if obj.DroppedEvents != nil {
		t.DroppedEvents = *obj.DroppedEvents
	}
	if obj.AnnexedCount != nil {
		t.AnnexedCount = *obj.AnnexedCount
	}
	return nil
}

// Metrics holds per-step aggregates plus the ranked series. After
// degradation only Steps remain and AggregatesOnly is set.
type Metrics struct {
	Steps          []StepAggregate `json:"steps"`
	Series         []Series        `json:"series,omitempty"`
	Summarized     []SeriesCount   `json:"summarized,omitempty"`
	TotalSeries    int             `json:"total_series"`
	AggregatesOnly bool            `json:"aggregates_only,omitempty"`
	Truncated      bool            `json:"truncated,omitempty"`
	DroppedSeries  int             `json:"dropped_series,omitempty"`
	AnnexFile      string          `json:"annex_file,omitempty"`
}

// StepAggregate groups the aggregates of one step.
type StepAggregate struct {
	StepID  string      `json:"step_id"`
	Metrics []Aggregate `json:"metrics"`
}

// Aggregate summarizes one metric series.
type Aggregate struct {
	Name  string      `json:"name"`
	Count int         `json:"count"`
	Sum   float64     `json:"sum"`
	Last  json.Number `json:"last"`
	Unit  string      `json:"unit,omitempty"`
}

// Series is a top-ranked series with its sample values in file order.
type Series struct {
	StepID string        `json:"step_id"`
	Name   string        `json:"name"`
	Count  int           `json:"count"`
	Values []json.Number `json:"values"`
}

// SeriesCount is a lower-ranked series reduced to its sample count.
type SeriesCount struct {
	StepID string `json:"step_id"`
	Name   string `json:"name"`
	Count  int    `json:"count"`
}

// Artifact is one file from the session's artifacts directory.
type Artifact struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
	Size int64  `json:"size_bytes"`
}

// Head keeps the first n items. Dropped items are counted as truncated
// unless the timeline is annexed, in which case they remain in the annex.
func (t *Timeline) Head(n int) {
	if n < 0 {
		n = 0
	}
	if n >= len(t.Items) {
		return
	}
	dropped := len(t.Items) - n
	t.Items = t.Items[:n:n]
	if t.Annexed {
		return
	}
	t.Truncated = true
	t.DroppedEvents += dropped
}

// Annex records that records events were written to file and keeps only
// the first head items in the report.
func (t *Timeline) Annex(file string, records, head int) {
	t.Annexed = true
	t.AnnexFile = file
	t.AnnexedCount = records
	if t.TotalCount < len(t.Items) {
		t.TotalCount = len(t.Items)
	}
	t.Head(head)
}

// Truncated reports whether any layer dropped data from the report.
func (e *Evidence) Truncated() bool {
	return e.Timeline.Truncated || e.Metrics.Truncated
}
