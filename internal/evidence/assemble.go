package evidence

import (
	"path"
	"sort"
	"strings"

	"github.com/fakeyudi/aiop/internal/config"
	"github.com/fakeyudi/aiop/internal/session"
)

// RunStep is the step id used for metrics recorded outside any step.
const RunStep = "_run"

// Input is the redacted material the layers are built from.
type Input struct {
	Events       []session.Event
	Metrics      []session.Metric
	Artifacts    []session.ArtifactFile
	ManifestPath string // artifact-relative path of the manifest, if any
}

// Options control layer construction.
type Options struct {
	Density config.Density
	TopK    int
}

// Assemble builds the four evidence layers. It never drops an error event
// and never reorders events.
func Assemble(in Input, opts Options) Evidence {
	return Evidence{
		Timeline:  buildTimeline(in.Events, opts.Density),
		Metrics:   buildMetrics(in.Metrics, opts.TopK),
		Errors:    buildErrors(in.Events),
		Artifacts: buildArtifacts(in.Artifacts, in.ManifestPath),
	}
}

func buildTimeline(events []session.Event, density config.Density) Timeline {
	items := make([]session.Event, 0, len(events))
	for _, e := range events {
		if KeepAt(e, density) {
			items = append(items, e)
		}
	}
	return Timeline{Items: items, TotalCount: len(items)}
}

// KeepAt reports whether e belongs in a timeline of the given density.
// Error events are kept at every density.
func KeepAt(e session.Event, density config.Density) bool {
	if IsError(e) {
		return true
	}
	switch density {
	case config.DensityLow:
		return IsBoundary(e)
	case config.DensityHigh:
		return true
	default:
		return !IsNoise(e)
	}
}

var boundarySteps = map[string]struct{}{
	"step_start":     {},
	"step_complete":  {},
	"step_completed": {},
	"step_end":       {},
	"step_failed":    {},
}

// IsBoundary reports whether e marks the start or end of a run, pipeline or step.
func IsBoundary(e session.Event) bool {
	name := strings.ToLower(e.Name)
	if strings.HasPrefix(name, "run_") || strings.HasPrefix(name, "pipeline_") {
		return true
	}
	_, ok := boundarySteps[name]
	return ok
}

var noiseWords = []string{"debug", "trace", "heartbeat", "progress"}

// IsNoise reports whether e is a high-frequency diagnostic event.
func IsNoise(e session.Event) bool {
	name := strings.ToLower(e.Name)
	for _, w := range noiseWords {
		if strings.Contains(name, w) {
			return true
		}
	}
	return false
}

// IsError reports whether e records a failure.
func IsError(e session.Event) bool {
	name := strings.ToLower(e.Name)
	if strings.Contains(name, "error") || strings.Contains(name, "fail") {
		return true
	}
	if level, _ := e.Extra["level"].(string); strings.EqualFold(level, "error") {
		return true
	}
	status, _ := e.Extra["status"].(string)
	return isFailedStatus(status)
}

func isFailedStatus(s string) bool {
	s = strings.ToLower(s)
	return s == "failed" || s == "error"
}

func buildErrors(events []session.Event) []session.Event {
	out := []session.Event{}
	for _, e := range events {
		if IsError(e) {
			out = append(out, e)
		}
	}
	return out
}

func buildArtifacts(files []session.ArtifactFile, manifestPath string) []Artifact {
	out := make([]Artifact, 0, len(files))
	for _, f := range files {
		out = append(out, Artifact{
			Name: f.Path,
			Kind: artifactKind(f.Path, manifestPath),
			Size: f.Size,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func artifactKind(name, manifestPath string) string {
	if manifestPath != "" && name == manifestPath {
		return "manifest"
	}
	if strings.HasPrefix(name, "cfg/") {
		return "config"
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	case ".log":
		return "log"
	case ".sql":
		return "sql"
	default:
		return "file"
	}
}
