package evidence

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/fakeyudi/aiop/internal/session"
)

type seriesKey struct {
	step, name string
}

type seriesAcc struct {
	key    seriesKey
	count  int
	sum    float64
	last   json.Number
	unit   string
	values []json.Number
}

func buildMetrics(metrics []session.Metric, topK int) Metrics {
	accs := map[seriesKey]*seriesAcc{}
	for _, m := range metrics {
		step := m.StepID
		if step == "" {
			step = RunStep
		}
		for _, s := range m.Samples() {
			k := seriesKey{step: step, name: s.Name}
			acc, ok := accs[k]
			if !ok {
				acc = &seriesAcc{key: k}
				accs[k] = acc
			}
			acc.count++
			if f, err := s.Value.Float64(); err == nil && !math.IsInf(acc.sum+f, 0) {
				acc.sum += f
			}
			acc.last = s.Value
			if acc.unit == "" {
				acc.unit = s.Unit
			}
			acc.values = append(acc.values, s.Value)
		}
	}

	all := make([]*seriesAcc, 0, len(accs))
	for _, acc := range accs {
		all = append(all, acc)
	}

	// Aggregates: by step, then name.
	sort.Slice(all, func(i, j int) bool {
		if all[i].key.step != all[j].key.step {
			return all[i].key.step < all[j].key.step
		}
		return all[i].key.name < all[j].key.name
	})
	out := Metrics{Steps: []StepAggregate{}, TotalSeries: len(all)}
	for _, acc := range all {
		agg := Aggregate{Name: acc.key.name, Count: acc.count, Sum: acc.sum, Last: acc.last, Unit: acc.unit}
		n := len(out.Steps)
		if n == 0 || out.Steps[n-1].StepID != acc.key.step {
			out.Steps = append(out.Steps, StepAggregate{StepID: acc.key.step})
			n++
		}
		out.Steps[n-1].Metrics = append(out.Steps[n-1].Metrics, agg)
	}

	// Series: by sample count desc, ties broken by step then name.
	sort.SliceStable(all, func(i, j int) bool {
		return all[i].count > all[j].count
	})
	for i, acc := range all {
		if i < topK {
			out.Series = append(out.Series, Series{
				StepID: acc.key.step,
				Name:   acc.key.name,
				Count:  acc.count,
				Values: acc.values,
			})
			continue
		}
		out.Summarized = append(out.Summarized, SeriesCount{
			StepID: acc.key.step,
			Name:   acc.key.name,
			Count:  acc.count,
		})
	}
	return out
}

// Degrade reduces m to its per-step aggregates. Dropped series are counted
// and, when annexFile is set, referenced there instead of being marked
// truncated.
func (m *Metrics) Degrade(annexFile string) {
	dropped := len(m.Series) + len(m.Summarized)
	m.Series = nil
	m.Summarized = nil
	m.AggregatesOnly = true
	if annexFile != "" {
		m.AnnexFile = annexFile
		return
	}
	if dropped > 0 {
		m.Truncated = true
		m.DroppedSeries += dropped
	}
}
