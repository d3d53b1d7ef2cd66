// Package collector reads the streams of a session and passes every record
// through the redactor before it is handed on.
package collector

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/fakeyudi/aiop/internal/redact"
	"github.com/fakeyudi/aiop/internal/session"
)

// Collector gathers one stream of a session.
type Collector interface {
	// Collect reads its stream and returns the redacted records.
	// Non-fatal issues are returned in Result.Warnings.
	Collect(ctx context.Context, sess *session.Session) (Result, error)
}

// Result holds the redacted output of one or more collectors.
type Result struct {
	Events    []session.Event        // populated by EventCollector
	Metrics   []session.Metric       // populated by MetricCollector
	Manifest  *session.Manifest      // populated by ArtifactCollector
	Artifacts []session.ArtifactFile // populated by ArtifactCollector
	Warnings  []string
}

// Default returns the event, metric and artifact collectors sharing r.
func Default(r *redact.Redactor) []Collector {
	return []Collector{
		&EventCollector{Redactor: r},
		&MetricCollector{Redactor: r},
		&ArtifactCollector{Redactor: r},
	}
}

// CollectAll runs the collectors concurrently and merges their results in
// the order the collectors were given, so the merged result does not depend
// on scheduling. The first error cancels the remaining collectors.
func CollectAll(ctx context.Context, sess *session.Session, collectors ...Collector) (Result, error) {
	results := make([]Result, len(collectors))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range collectors {
		i, c := i, c
		g.Go(func() error {
			res, err := c.Collect(gctx, sess)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	var merged Result
	for _, res := range results {
		merged.Events = append(merged.Events, res.Events...)
		merged.Metrics = append(merged.Metrics, res.Metrics...)
		merged.Artifacts = append(merged.Artifacts, res.Artifacts...)
		if res.Manifest != nil {
			merged.Manifest = res.Manifest
		}
		merged.Warnings = append(merged.Warnings, res.Warnings...)
	}
	return merged, nil
}

// EventCollector reads events.jsonl.
type EventCollector struct {
	Redactor *redact.Redactor
}

func (c *EventCollector) Collect(ctx context.Context, sess *session.Session) (Result, error) {
	var res Result
	unnamed := 0
	err := sess.Events.Each(func(_ int, rec map[string]any) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := session.EventFromRecord(c.Redactor.Map(rec))
		if e.Name == "" {
			unnamed++
		}
		res.Events = append(res.Events, e)
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if unnamed > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %d events without a name", session.EventsFile, unnamed))
	}
	return res, nil
}

// MetricCollector reads metrics.jsonl.
type MetricCollector struct {
	Redactor *redact.Redactor
}

func (c *MetricCollector) Collect(ctx context.Context, sess *session.Session) (Result, error) {
	var res Result
	empty := 0
	err := sess.Metrics.Each(func(_ int, rec map[string]any) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		m := session.MetricFromRecord(c.Redactor.Map(rec))
		if len(m.Samples()) == 0 {
			empty++
			return nil
		}
		res.Metrics = append(res.Metrics, m)
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	if empty > 0 {
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %d records without a numeric value", session.MetricsFile, empty))
	}
	return res, nil
}

// ArtifactCollector reads the manifest and lists the artifacts directory.
type ArtifactCollector struct {
	Redactor *redact.Redactor
}

func (c *ArtifactCollector) Collect(ctx context.Context, sess *session.Session) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	var res Result
	m, err := sess.Manifest()
	if err != nil {
		return Result{}, err
	}
	if !m.Present {
		res.Warnings = append(res.Warnings, "no pipeline manifest in "+session.ArtifactsDir)
	}
	res.Manifest = c.redactManifest(m)

	files, err := sess.ArtifactFiles()
	if err != nil {
		return Result{}, err
	}
	for _, f := range files {
		f.Path = c.Redactor.String(f.Path)
		res.Artifacts = append(res.Artifacts, f)
	}
	return res, nil
}

func (c *ArtifactCollector) redactManifest(m *session.Manifest) *session.Manifest {
	out := *m
	out.Name = c.Redactor.String(m.Name)
	out.Steps = make([]session.Step, len(m.Steps))
	for i, st := range m.Steps {
		st.ID = c.Redactor.String(st.ID)
		st.Component = c.Redactor.String(st.Component)
		needs := make([]string, len(st.Needs))
		for j, n := range st.Needs {
			needs[j] = c.Redactor.String(n)
		}
		st.Needs = needs
		out.Steps[i] = st
	}
	return &out
}
