// Package aiop defines the AI-Operation Package report and renders it as
// canonical JSON or Markdown.
package aiop

import (
	"github.com/fakeyudi/aiop/internal/annex"
	"github.com/fakeyudi/aiop/internal/config"
	"github.com/fakeyudi/aiop/internal/evidence"
)

// Identity and version constants of the report format.
const (
	Context     = "https://osiris.dev/schemas/aiop/v1"
	Type        = "AIOP"
	FormatV1    = "1.0"
	RunIDScheme = "osiris://run/@"
)

// Document is the complete report for one run.
type Document struct {
	Context   string            `json:"@context"`
	Type      string            `json:"@type"`
	ID        string            `json:"@id"`
	Run       Run               `json:"run"`
	Pipeline  Pipeline          `json:"pipeline"`
	Narrative Narrative         `json:"narrative"`
	Semantic  Semantic          `json:"semantic"`
	Evidence  evidence.Evidence `json:"evidence"`
	Metadata  Metadata          `json:"metadata"`
}

// Run identifies the run and its outcome.
type Run struct {
	SessionID   string `json:"session_id"`
	Status      string `json:"status"`
	StartedAt   string `json:"started_at,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
	DurationMS  *int64 `json:"duration_ms"`
}

// Pipeline identifies the compiled pipeline that ran.
type Pipeline struct {
	Name         string `json:"name"`
	ManifestHash string `json:"manifest_hash"`
	StepCount    int    `json:"step_count"`
}

// Narrative is a short prose account of the run.
type Narrative struct {
	Summary    string   `json:"summary"`
	Highlights []string `json:"highlights"`
}

// Semantic describes the pipeline structure. Summary mode lists the
// components used; full mode adds every step and its dependencies.
type Semantic struct {
	Mode       string         `json:"mode"`
	Components []string       `json:"components"`
	Steps      []SemanticStep `json:"steps,omitempty"`
}

// SemanticStep is one pipeline step in full schema mode.
type SemanticStep struct {
	ID        string   `json:"id"`
	Component string   `json:"component,omitempty"`
	Needs     []string `json:"needs,omitempty"`
}

// Metadata describes the report itself.
type Metadata struct {
	AIOPFormat      string                      `json:"aiop_format"`
	GeneratedAt     string                      `json:"generated_at"`
	SizeBytes       int                         `json:"size_bytes"`
	Truncated       bool                        `json:"truncated"`
	ConfigEffective map[string]config.Effective `json:"config_effective"`
	Annex           *annex.Manifest             `json:"annex,omitempty"`

	// OverBudget records that the core still exceeds max_core_bytes after
	// every budget step ran.
	OverBudget bool `json:"-"`
}
