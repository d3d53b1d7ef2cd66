package session

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Event is one line of events.jsonl. The fixed fields are lifted out of the
// record; everything else is kept verbatim in Extra so new producer fields
// survive the round trip.
type Event struct {
	Timestamp string
	Name      string
	StepID    string
	SessionID string
	Extra     map[string]any
}

var (
	tsKeys      = []string{"ts", "timestamp"}
	eventKeys   = []string{"event", "event_name", "type"}
	stepKeys    = []string{"step_id", "step"}
	sessionKeys = []string{"session", "session_id"}
)

// EventFromRecord lifts the known fields out of a decoded JSON object.
// rec is consumed: the remaining keys become Extra.
func EventFromRecord(rec map[string]any) Event {
	e := Event{
		Timestamp: take(rec, tsKeys),
		Name:      take(rec, eventKeys),
		StepID:    take(rec, stepKeys),
		SessionID: take(rec, sessionKeys),
	}
	if len(rec) > 0 {
		e.Extra = rec
	}
	return e
}

// Record returns the event as a single JSON object using canonical key names.
func (e Event) Record() map[string]any {
	out := make(map[string]any, len(e.Extra)+4)
	for k, v := range e.Extra {
		out[k] = v
	}
	putNonEmpty(out, "ts", e.Timestamp)
	putNonEmpty(out, "event", e.Name)
	putNonEmpty(out, "step_id", e.StepID)
	putNonEmpty(out, "session", e.SessionID)
	return out
}

// MarshalJSON encodes the merged record; keys come out sorted.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Record())
}

func (e *Event) UnmarshalJSON(data []byte) error {
	rec, err := decodeObject(data)
	if err != nil {
		return err
	}
	*e = EventFromRecord(rec)
	return nil
}

// Metric is one line of metrics.jsonl.
type Metric struct {
	Timestamp string
	StepID    string
	Name      string
	Value     json.Number // empty when the record carries no "value"
	Unit      string
	Extra     map[string]any
}

// Sample is a single named numeric observation extracted from a Metric.
type Sample struct {
	Name  string
	Value json.Number
	Unit  string
}

// metricMetaKeys are never treated as named values even when numeric.
var metricMetaKeys = map[string]struct{}{
	"session": {}, "session_id": {}, "tags": {}, "seq": {}, "pid": {},
}

// MetricFromRecord lifts the known fields out of a decoded JSON object.
func MetricFromRecord(rec map[string]any) Metric {
	m := Metric{
		Timestamp: take(rec, tsKeys),
		StepID:    take(rec, stepKeys),
		Name:      take(rec, []string{"metric", "name"}),
		Unit:      take(rec, []string{"unit"}),
	}
	if n, ok := rec["value"].(json.Number); ok {
		m.Value = n
		delete(rec, "value")
	}
	if m.StepID == "" {
		if tags, ok := rec["tags"].(map[string]any); ok {
			if s, ok := tags["step"].(string); ok {
				m.StepID = s
			}
		}
	}
	if len(rec) > 0 {
		m.Extra = rec
	}
	return m
}

// Samples returns the observations carried by the record: the metric/value
// pair first, then every other top-level numeric field in key order.
func (m Metric) Samples() []Sample {
	var out []Sample
	if m.Name != "" && m.Value != "" {
		out = append(out, Sample{Name: m.Name, Value: m.Value, Unit: m.Unit})
	}
	keys := make([]string, 0, len(m.Extra))
	for k, v := range m.Extra {
		if _, meta := metricMetaKeys[k]; meta {
			continue
		}
		if _, ok := v.(json.Number); ok {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, Sample{Name: k, Value: m.Extra[k].(json.Number)})
	}
	return out
}

// Record returns the metric as a single JSON object using canonical key names.
func (m Metric) Record() map[string]any {
	out := make(map[string]any, len(m.Extra)+5)
	for k, v := range m.Extra {
		out[k] = v
	}
	putNonEmpty(out, "ts", m.Timestamp)
	putNonEmpty(out, "step_id", m.StepID)
	putNonEmpty(out, "metric", m.Name)
	putNonEmpty(out, "unit", m.Unit)
	if m.Value != "" {
		out["value"] = m.Value
	}
	return out
}

func (m Metric) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.Record())
}

func (m *Metric) UnmarshalJSON(data []byte) error {
	rec, err := decodeObject(data)
	if err != nil {
		return err
	}
	*m = MetricFromRecord(rec)
	return nil
}

// take removes the first present key among names and returns its value as a
// string. Non-string scalars (numeric timestamps) keep their JSON text.
func take(rec map[string]any, names []string) string {
	for _, k := range names {
		v, ok := rec[k]
		if !ok {
			continue
		}
		switch s := v.(type) {
		case string:
			delete(rec, k)
			return s
		case json.Number:
			delete(rec, k)
			return s.String()
		}
	}
	return ""
}

func putNonEmpty(m map[string]any, k, v string) {
	if v != "" {
		m[k] = v
	}
}

// decodeObject decodes a single JSON object, keeping numbers as json.Number.
func decodeObject(data []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var rec map[string]any
	if err := dec.Decode(&rec); err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, errNotObject
	}
	if dec.More() {
		return nil, errTrailingData
	}
	return rec, nil
}
