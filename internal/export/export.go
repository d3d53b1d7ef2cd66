// Package export runs one session through the whole pipeline: collect,
// assemble, annex, fit to budget, verify, write and index.
package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fakeyudi/aiop/internal/aiop"
	"github.com/fakeyudi/aiop/internal/annex"
	"github.com/fakeyudi/aiop/internal/atomicfile"
	"github.com/fakeyudi/aiop/internal/budget"
	"github.com/fakeyudi/aiop/internal/collector"
	"github.com/fakeyudi/aiop/internal/config"
	"github.com/fakeyudi/aiop/internal/evidence"
	"github.com/fakeyudi/aiop/internal/index"
	"github.com/fakeyudi/aiop/internal/redact"
	"github.com/fakeyudi/aiop/internal/session"
)

// CoreBaseName is the file name of the core report inside a run directory.
const CoreBaseName = "aiop"

// Options configure one export.
type Options struct {
	SessionDir string
	Config     *config.Resolved
	// OutputPath overrides <output_dir>/<session_id>/aiop.<ext>.
	OutputPath string
	Observer   Observer
	Redactor   *redact.Redactor
}

// Result describes a completed export.
type Result struct {
	SessionID string
	Status    string
	CorePath  string
	Size      int
	Truncated bool
	Fits      bool
	Applied   []budget.Step
	Annex     *annex.Manifest
	Warnings  []string
	Pruned    []index.Record
}

// Run exports one session. A report that had to be truncated is still
// written and indexed; the caller tells from Result.Truncated.
func Run(ctx context.Context, opts Options) (res *Result, err error) {
	obs := opts.Observer
	if obs == nil {
		obs = NopObserver{}
	}
	defer func() { obs.Finished(res, err) }()

	cfg := opts.Config
	if cfg == nil {
		if cfg, err = config.Merge(); err != nil {
			return nil, err
		}
	}
	red := opts.Redactor
	if red == nil {
		red = redact.New()
	}

	obs.Stage(StageOpen)
	sess, err := session.Open(opts.SessionDir)
	if err != nil {
		return nil, err
	}

	obs.Stage(StageCollect)
	col, err := collector.CollectAll(ctx, sess, collector.Default(red)...)
	if err != nil {
		return nil, err
	}
	for _, w := range col.Warnings {
		obs.Warning(w)
	}

	obs.Stage(StageAssemble)
	facts := evidence.DeriveRun(col.Events, sess.ID)
	ev := evidence.Assemble(evidence.Input{
		Events:       col.Events,
		Metrics:      col.Metrics,
		Artifacts:    col.Artifacts,
		ManifestPath: manifestPath(sess, col.Manifest),
	}, evidence.Options{Density: cfg.TimelineDensity, TopK: cfg.MetricsTopK})
	doc := aiop.Build(aiop.Input{Run: facts, Manifest: col.Manifest, Evidence: ev, Config: cfg})

	corePath := opts.OutputPath
	if corePath == "" {
		corePath = filepath.Join(cfg.OutputDir, runDirName(facts.SessionID, sess.ID), CoreBaseName+aiop.Extension(cfg.Format))
	}
	if abs, err := filepath.Abs(corePath); err == nil {
		corePath = abs
	}
	runDir := filepath.Dir(corePath)

	if cfg.Policy == config.PolicyAnnex {
		obs.Stage(StageAnnex)
		dir := cfg.AnnexDir
		if dir == "" {
			dir = filepath.Join(runDir, "annex")
		}
		w := &annex.Writer{Dir: dir, Compress: cfg.Compress, Check: red.Verify}
		m, err := annex.Apply(w, &doc.Evidence, col.Events, col.Metrics)
		if err != nil {
			return nil, err
		}
		doc.Metadata.Annex = m
	}

	obs.Stage(StageBudget)
	renderer := aiop.RendererFor(cfg.Format)
	fit, err := budget.Fit(&doc.Evidence, cfg.MaxCoreBytes, func() (int, error) {
		out, err := aiop.Finalize(doc, renderer)
		return len(out), err
	})
	if err != nil {
		return nil, fmt.Errorf("fit report to budget: %w", err)
	}
	doc.Metadata.OverBudget = !fit.Fits

	obs.Stage(StageVerify)
	if err := verify(red, doc); err != nil {
		return nil, err
	}

	obs.Stage(StageWrite)
	out, err := aiop.Finalize(doc, renderer)
	if err != nil {
		return nil, err
	}
	if err := atomicfile.WriteFile(corePath, out, 0o644); err != nil {
		return nil, fmt.Errorf("write report: %w", err)
	}

	res = &Result{
		SessionID: facts.SessionID,
		Status:    facts.Status,
		CorePath:  corePath,
		Size:      len(out),
		Truncated: doc.Metadata.Truncated,
		Fits:      fit.Fits,
		Applied:   fit.Applied,
		Annex:     doc.Metadata.Annex,
		Warnings:  col.Warnings,
	}

	obs.Stage(StageIndex)
	mgr := &index.Manager{Dir: IndexDir(cfg), RunsRoot: cfg.OutputDir, KeepRuns: cfg.KeepRuns}
	res.Pruned, err = mgr.Record(index.Record{
		SessionID:    facts.SessionID,
		ManifestHash: doc.Pipeline.ManifestHash,
		PipelineName: doc.Pipeline.Name,
		Status:       facts.Status,
		CorePath:     corePath,
		Timestamp:    doc.Metadata.GeneratedAt,
	})
	if err != nil {
		return res, fmt.Errorf("record run in index: %w", err)
	}
	return res, nil
}

// IndexDir is the run index directory for cfg: index_dir, or index under
// the output directory.
func IndexDir(cfg *config.Resolved) string {
	if cfg.IndexDir != "" {
		return cfg.IndexDir
	}
	return filepath.Join(cfg.OutputDir, "index")
}

// verify checks the decoded report for any secret the redactor would mask.
func verify(red *redact.Redactor, doc *aiop.Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return err
	}
	return red.Verify(generic)
}

func manifestPath(sess *session.Session, m *session.Manifest) string {
	if m == nil || !m.Present {
		return ""
	}
	rel, err := filepath.Rel(filepath.Join(sess.Dir, session.ArtifactsDir), m.Path)
	if err != nil {
		return ""
	}
	return filepath.ToSlash(rel)
}

// runDirName returns id when it is usable as a single path element.
func runDirName(id, fallback string) string {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fallback
	}
	return id
}

// Exit codes of the export command.
const (
	ExitOK        = 0
	ExitFailure   = 1
	ExitNotFound  = 2
	ExitConfig    = 3
	ExitTruncated = 4
	ExitParse     = 5
	ExitRedaction = 6
)

// ExitCode maps the outcome of Run to a process exit code.
func ExitCode(err error, res *Result) int {
	var (
		cfgErr   *config.Error
		cfgParse *config.ParseError
		parseErr *session.ParseError
	)
	switch {
	case err == nil:
		if res != nil && res.Truncated {
			return ExitTruncated
		}
		return ExitOK
	case errors.Is(err, session.ErrSessionNotFound):
		return ExitNotFound
	case errors.As(err, &cfgErr), errors.As(err, &cfgParse):
		return ExitConfig
	case errors.As(err, &parseErr):
		return ExitParse
	case errors.Is(err, redact.ErrRedactionFailure):
		return ExitRedaction
	default:
		return ExitFailure
	}
}
