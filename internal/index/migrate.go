package index

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fakeyudi/aiop/internal/atomicfile"
	"github.com/fakeyudi/aiop/internal/canonical"
	"github.com/fakeyudi/aiop/internal/digest"
)

// BackupSuffix is appended to an index file's name for its pre-migration copy.
const BackupSuffix = ".bak"

// FileReport describes the migration of one index file.
type FileReport struct {
	Path     string
	Lines    int
	Modified int
	Skipped  int // lines that do not decode and were left alone
}

// Report is the outcome of Migrate.
type Report struct {
	DryRun   bool
	Files    []FileReport
	Modified int
}

// Migrate rewrites every *.jsonl file under dir so manifest_hash values are
// bare hex. Lines that need no change keep their exact bytes. Each changed
// file is first copied to <name>.bak. With dryRun nothing is written.
// Running Migrate again reports no modifications.
func Migrate(dir string, dryRun bool) (*Report, error) {
	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && strings.HasSuffix(path, ".jsonl") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan index: %w", err)
	}
	sort.Strings(paths)

	if !dryRun {
		unlock, err := lock(filepath.Join(dir, LockFile))
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	rep := &Report{DryRun: dryRun}
	for _, path := range paths {
		fr, err := migrateFile(path, dryRun)
		if err != nil {
			return rep, err
		}
		rep.Files = append(rep.Files, fr)
		rep.Modified += fr.Modified
	}
	return rep, nil
}

func migrateFile(path string, dryRun bool) (FileReport, error) {
	fr := FileReport{Path: path}
	original, err := os.ReadFile(path)
	if err != nil {
		return fr, fmt.Errorf("read %s: %w", path, err)
	}
	lines, err := readLines(path)
	if err != nil {
		return fr, err
	}
	fr.Lines = len(lines)
	for i, l := range lines {
		raw, changed, ok := migrateLine(l.raw)
		if !ok {
			fr.Skipped++
			continue
		}
		if changed {
			lines[i].raw = raw
			fr.Modified++
		}
	}
	if fr.Modified == 0 || dryRun {
		return fr, nil
	}
	if err := atomicfile.WriteFile(path+BackupSuffix, original, 0o644); err != nil {
		return fr, fmt.Errorf("back up %s: %w", path, err)
	}
	if err := writeLines(path, lines); err != nil {
		return fr, fmt.Errorf("rewrite %s: %w", path, err)
	}
	return fr, nil
}

// migrateLine returns the line with its manifest_hash normalized. Only the
// quoted hash literal is replaced so the rest of the line keeps its bytes.
func migrateLine(raw []byte) ([]byte, bool, bool) {
	var rec map[string]any
	if err := json.Unmarshal(raw, &rec); err != nil {
		return raw, false, false
	}
	h, ok := rec["manifest_hash"].(string)
	if !ok || !digest.IsLegacy(h) {
		return raw, false, true
	}
	norm := digest.Normalize(h)
	oldLit, _ := json.Marshal(h)
	newLit, _ := json.Marshal(norm)
	if s := string(raw); strings.Count(s, string(oldLit)) == 1 {
		return []byte(strings.Replace(s, string(oldLit), string(newLit), 1)), true, true
	}
	rec["manifest_hash"] = norm
	out, err := canonical.Marshal(rec)
	if err != nil {
		return raw, false, false
	}
	return out, true, true
}
