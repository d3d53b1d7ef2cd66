// Package index keeps the append-only run index: one line per export in
// runs.jsonl and in a per-pipeline file, with retention of old runs.
package index

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/fakeyudi/aiop/internal/atomicfile"
	"github.com/fakeyudi/aiop/internal/digest"
)

// On-disk layout under the index directory.
const (
	RunsFile      = "runs.jsonl"
	ByPipelineDir = "by_pipeline"
	LockFile      = ".lock"
	LatestLink    = "latest"
	LatestFile    = "latest.txt"
)

// ErrNoRuns is returned by Latest when nothing has been recorded.
var ErrNoRuns = errors.New("no runs recorded")

// Record is one line of the index.
type Record struct {
	SessionID    string `json:"session_id"`
	ManifestHash string `json:"manifest_hash"`
	PipelineName string `json:"pipeline_name"`
	Status       string `json:"status"`
	CorePath     string `json:"core_path"`
	Timestamp    string `json:"timestamp"`
}

// RunDir is the directory holding the record's core report.
func (r Record) RunDir() string {
	return filepath.Dir(r.CorePath)
}

// Manager reads and writes an index directory.
type Manager struct {
	Dir string
	// RunsRoot is the output root that holds run directories. Retention
	// never removes a directory outside it.
	RunsRoot string
	// KeepRuns is how many runs to keep per pipeline; 0 keeps all.
	KeepRuns int
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// Slug returns the file-system name used for a pipeline.
func Slug(pipeline string) string {
	s := strings.Trim(slugRe.ReplaceAllString(strings.ToLower(pipeline), "-"), "-")
	if s == "" {
		return "unnamed"
	}
	return s
}

func (m *Manager) pipelinePath(pipeline string) string {
	return filepath.Join(m.Dir, ByPipelineDir, Slug(pipeline)+".jsonl")
}

// Record appends rec to the run index and to its pipeline's index, points
// latest at its run directory and applies retention. It returns the records
// removed by retention.
func (m *Manager) Record(rec Record) ([]Record, error) {
	rec.ManifestHash = digest.Normalize(rec.ManifestHash)
	line, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	line = append(line, '\n')

	if err := os.MkdirAll(filepath.Join(m.Dir, ByPipelineDir), 0o755); err != nil {
		return nil, fmt.Errorf("create index directory: %w", err)
	}
	unlock, err := lock(filepath.Join(m.Dir, LockFile))
	if err != nil {
		return nil, err
	}
	defer unlock()

	for _, path := range []string{filepath.Join(m.Dir, RunsFile), m.pipelinePath(rec.PipelineName)} {
		if err := appendLine(path, line); err != nil {
			return nil, err
		}
	}
	if err := m.pointLatest(rec.RunDir()); err != nil {
		return nil, err
	}
	return m.retain(rec.PipelineName)
}

func appendLine(path string, line []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open index: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("append %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	return f.Close()
}

// pointLatest replaces the latest symlink atomically. Where symlinks are
// unavailable the target is written to latest.txt instead.
func (m *Manager) pointLatest(runDir string) error {
	target := runDir
	if abs, err := filepath.Abs(runDir); err == nil {
		target = abs
	}
	link := filepath.Join(m.Dir, LatestLink)
	tmp := fmt.Sprintf("%s.%d.tmp", link, os.Getpid())
	_ = os.Remove(tmp)
	if err := os.Symlink(target, tmp); err == nil {
		if err := os.Rename(tmp, link); err == nil {
			return nil
		}
		_ = os.Remove(tmp)
	}
	return atomicfile.WriteFile(filepath.Join(m.Dir, LatestFile), []byte(target+"\n"), 0o644)
}

// Runs returns the records of one pipeline, or of every pipeline when
// pipeline is empty, oldest first.
func (m *Manager) Runs(pipeline string) ([]Record, error) {
	path := filepath.Join(m.Dir, RunsFile)
	if pipeline != "" {
		path = m.pipelinePath(pipeline)
	}
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(lines))
	for _, l := range lines {
		if l.rec != nil {
			out = append(out, *l.rec)
		}
	}
	return out, nil
}

// Latest returns the most recently recorded run.
func (m *Manager) Latest() (Record, error) {
	runs, err := m.Runs("")
	if err != nil {
		return Record{}, err
	}
	if len(runs) == 0 {
		return Record{}, ErrNoRuns
	}
	return runs[len(runs)-1], nil
}

// line is one raw index line and its decoded record, nil when the line
// does not decode.
type line struct {
	raw []byte
	rec *Record
}

func readLines(path string) ([]line, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read index: %w", err)
	}
	var out []line
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		raw := append([]byte(nil), sc.Bytes()...)
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		l := line{raw: raw}
		var rec Record
		if err := json.Unmarshal(raw, &rec); err == nil {
			l.rec = &rec
		}
		out = append(out, l)
	}
	return out, sc.Err()
}

func writeLines(path string, lines []line) error {
	var buf bytes.Buffer
	for _, l := range lines {
		buf.Write(l.raw)
		buf.WriteByte('\n')
	}
	return atomicfile.WriteFile(path, buf.Bytes(), 0o644)
}
