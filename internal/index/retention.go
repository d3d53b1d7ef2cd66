package index

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// retain drops the oldest runs of pipeline beyond KeepRuns. Runs are
// counted by run directory, so re-exports of one session count once. The
// index files are rewritten before any directory is removed, and a
// directory is only removed when it lies inside RunsRoot.
func (m *Manager) retain(pipeline string) ([]Record, error) {
	if m.KeepRuns <= 0 {
		return nil, nil
	}
	pipePath := m.pipelinePath(pipeline)
	lines, err := readLines(pipePath)
	if err != nil {
		return nil, err
	}

	// Newest run directories first, by last appearance.
	var order []string
	seen := map[string]bool{}
	for i := len(lines) - 1; i >= 0; i-- {
		if lines[i].rec == nil {
			continue
		}
		dir := lines[i].rec.RunDir()
		if !seen[dir] {
			seen[dir] = true
			order = append(order, dir)
		}
	}
	if len(order) <= m.KeepRuns {
		return nil, nil
	}
	drop := map[string]bool{}
	for _, dir := range order[m.KeepRuns:] {
		drop[dir] = true
	}

	var pruned []Record
	keep := func(l line) bool {
		return l.rec == nil || !drop[l.rec.RunDir()] || Slug(l.rec.PipelineName) != Slug(pipeline)
	}
	kept, removed := partition(lines, keep)
	for _, l := range removed {
		pruned = append(pruned, *l.rec)
	}
	if err := writeLines(pipePath, kept); err != nil {
		return nil, fmt.Errorf("rewrite %s: %w", pipePath, err)
	}

	runsPath := filepath.Join(m.Dir, RunsFile)
	all, err := readLines(runsPath)
	if err != nil {
		return nil, err
	}
	allKept, _ := partition(all, keep)
	if err := writeLines(runsPath, allKept); err != nil {
		return nil, fmt.Errorf("rewrite %s: %w", runsPath, err)
	}

	for _, dir := range order[m.KeepRuns:] {
		if err := m.removeRunDir(dir); err != nil {
			return pruned, err
		}
	}
	return pruned, nil
}

func partition(lines []line, keep func(line) bool) (kept, removed []line) {
	for _, l := range lines {
		if keep(l) {
			kept = append(kept, l)
		} else {
			removed = append(removed, l)
		}
	}
	return kept, removed
}

// removeRunDir removes dir if it is a strict descendant of RunsRoot.
func (m *Manager) removeRunDir(dir string) error {
	if m.RunsRoot == "" {
		return nil
	}
	root, err := filepath.Abs(m.RunsRoot)
	if err != nil {
		return err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return err
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil
	}
	if err := os.RemoveAll(abs); err != nil {
		return fmt.Errorf("remove run %s: %w", abs, err)
	}
	return nil
}
