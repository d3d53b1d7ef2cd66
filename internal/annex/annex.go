// Package annex spills full-fidelity evidence streams to NDJSON side files
// next to the core report.
package annex

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/fakeyudi/aiop/internal/atomicfile"
	"github.com/fakeyudi/aiop/internal/canonical"
	"github.com/fakeyudi/aiop/internal/config"
)

// Stream names written under the annex policy, in manifest order.
const (
	StreamTimeline = "timeline"
	StreamMetrics  = "metrics"
	StreamErrors   = "errors"
)

// HeadItems is how many timeline events the core report keeps when the
// full timeline is annexed.
const HeadItems = 50

// Entry describes one written side file.
type Entry struct {
	Name        string `json:"name"`
	RecordCount int    `json:"record_count"`
	ByteSize    int64  `json:"byte_size"`
}

// Manifest is the annex block of the report metadata.
type Manifest struct {
	Compress string  `json:"compress"`
	Files    []Entry `json:"files"`
}

// Writer writes side files into Dir.
type Writer struct {
	Dir      string
	Compress config.Compression
	// Check, when set, is called with every record before it is written;
	// an error aborts the write.
	Check   func(rec any) error
	entries []Entry
}

// FileName returns the side file name for a stream.
func FileName(stream string, c config.Compression) string {
	name := stream + ".ndjson"
	if c == config.CompressGzip {
		name += ".gz"
	}
	return name
}

// Write encodes records as canonical JSON, one per line, into the side file
// for stream and records its entry. Identical records produce identical
// bytes, compressed or not.
func (w *Writer) Write(stream string, records []any) (Entry, error) {
	name := FileName(stream, w.Compress)
	path := filepath.Join(w.Dir, name)
	var written int64
	err := atomicfile.Write(path, 0o644, func(f io.Writer) error {
		cw := &countingWriter{w: f}
		var dst io.Writer = cw
		var zw *gzip.Writer
		if w.Compress == config.CompressGzip {
			// The zero header carries no name or modification time.
			zw = gzip.NewWriter(cw)
			dst = zw
		}
		bw := bufio.NewWriter(dst)
		for i, rec := range records {
			if w.Check != nil {
				if err := w.Check(rec); err != nil {
					return fmt.Errorf("%s record %d: %w", stream, i, err)
				}
			}
			line, err := canonical.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encode %s record %d: %w", stream, i, err)
			}
			bw.Write(line)
			bw.WriteByte('\n')
		}
		if err := bw.Flush(); err != nil {
			return err
		}
		if zw != nil {
			if err := zw.Close(); err != nil {
				return err
			}
		}
		written = cw.n
		return nil
	})
	if err != nil {
		return Entry{}, fmt.Errorf("write annex %s: %w", name, err)
	}
	e := Entry{Name: name, RecordCount: len(records), ByteSize: written}
	w.entries = append(w.entries, e)
	return e, nil
}

// Manifest returns the entries written so far in write order.
func (w *Writer) Manifest() *Manifest {
	files := make([]Entry, len(w.entries))
	copy(files, w.entries)
	return &Manifest{Compress: string(w.Compress), Files: files}
}

// Open returns a reader over the decompressed content of a side file.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &gzipFile{Reader: zr, f: f}, nil
}

type gzipFile struct {
	*gzip.Reader
	f *os.File
}

func (g *gzipFile) Close() error {
	err := g.Reader.Close()
	if cerr := g.f.Close(); err == nil {
		err = cerr
	}
	return err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
