// Package session reads the on-disk logs of one pipeline run. A session
// directory is produced by the runner and is never modified here.
package session

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// On-disk layout of a session directory.
const (
	EventsFile   = "events.jsonl"
	MetricsFile  = "metrics.jsonl"
	ArtifactsDir = "artifacts"
)

// manifestNames are tried in order inside ArtifactsDir.
var manifestNames = []string{"manifest.yaml", "manifest.yml", "manifest.json"}

// ErrSessionNotFound is returned by Open when the session directory is missing.
var ErrSessionNotFound = errors.New("session not found")

var (
	errNotObject    = errors.New("record is not a JSON object")
	errTrailingData = errors.New("unexpected data after JSON object")
)

// ParseError reports a malformed record with its file and 1-based line.
type ParseError struct {
	Path string
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("parse %s line %d: %v", e.Path, e.Line, e.Err)
	}
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// Session is an opened session directory.
type Session struct {
	ID      string
	Dir     string
	Events  *Stream
	Metrics *Stream
}

// Open validates dir and returns a Session whose streams are read lazily.
// The session ID is the directory's base name.
func Open(dir string) (*Session, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, dir)
		}
		return nil, fmt.Errorf("stat session directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrSessionNotFound, dir)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	return &Session{
		ID:      filepath.Base(abs),
		Dir:     dir,
		Events:  &Stream{path: filepath.Join(dir, EventsFile)},
		Metrics: &Stream{path: filepath.Join(dir, MetricsFile)},
	}, nil
}

// ArtifactFile is one regular file found under the artifacts directory.
type ArtifactFile struct {
	Path string // slash-separated, relative to the artifacts directory
	Size int64
}

// ArtifactFiles lists every regular file under artifacts/ in lexical order.
// A missing artifacts directory yields an empty list.
func (s *Session) ArtifactFiles() ([]ArtifactFile, error) {
	root := filepath.Join(s.Dir, ArtifactsDir)
	var files []ArtifactFile
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, os.ErrNotExist) && path == root {
				return filepath.SkipDir
			}
			return walkErr
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, ArtifactFile{Path: filepath.ToSlash(rel), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	return files, nil
}

// Stream is a restartable view over one newline-delimited JSON file. Every
// iteration re-opens the file and decodes one line at a time, so a stream
// never holds more than one record in memory.
type Stream struct {
	path string
}

// NewStream returns a stream over path.
func NewStream(path string) *Stream {
	return &Stream{path: path}
}

// Path returns the file backing the stream.
func (s *Stream) Path() string { return s.path }

// Each calls fn with every record in file order. Blank lines are skipped. A
// missing file is an empty stream. Iteration stops at the first error from
// decoding (as *ParseError) or from fn.
func (s *Stream) Each(fn func(line int, rec map[string]any) error) error {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()

	scanner := newScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		rec, err := decodeObject(raw)
		if err != nil {
			return &ParseError{Path: s.path, Line: line, Err: err}
		}
		if err := fn(line, rec); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return &ParseError{Path: s.path, Line: line + 1, Err: err}
	}
	return nil
}

// EachEvent decodes every record as an Event.
func (s *Stream) EachEvent(fn func(Event) error) error {
	return s.Each(func(_ int, rec map[string]any) error {
		return fn(EventFromRecord(rec))
	})
}

// EachMetric decodes every record as a Metric.
func (s *Stream) EachMetric(fn func(Metric) error) error {
	return s.Each(func(_ int, rec map[string]any) error {
		return fn(MetricFromRecord(rec))
	})
}

func newScanner(f *os.File) *bufio.Scanner {
	scanner := bufio.NewScanner(f)
	// Producers may log large payloads on a single line.
	const maxCapacity = 8 * 1024 * 1024
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, maxCapacity)
	return scanner
}
