// Package records implements the Records Manager: raw JSONL writer,
// endpoint-dispatch parser, reservoir-based aggregator, and CSV/JSON
// exporter.
//
// The raw writer is grounded on internal/telemetry/emitter.go's Emitter
// (buffered bufio.Writer over an os.File, batched writes, flush-on-
// close), adapted from operation-log lines to RequestRecord lines. Every
// record is written — unlike the teacher's tier-shedding telemetry
// queue, the raw-records stream here must never drop a record, per the
// records_written = completed+failed invariant.
package records

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/ai-benchmarks/aiperf/internal/aiperf/model"
)

// Writer appends every RequestRecord it is given to a JSONL file,
// flushing in batches.
type Writer struct {
	mu     sync.Mutex
	file   *os.File
	buf    *bufio.Writer
	count  atomic.Int64
	errors atomic.Int64
}

// NewWriter opens (creating it and its parent directory if necessary)
// path for append.
func NewWriter(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	return &Writer{file: f, buf: bufio.NewWriterSize(f, 64*1024)}, nil
}

// NewWriterFile wraps an already-open file, primarily for tests.
func NewWriterFile(f *os.File) *Writer {
	return &Writer{file: f, buf: bufio.NewWriterSize(f, 64*1024)}
}

// NewDiscardWriter builds a Writer that counts but never persists
// records, used when the artifact directory cannot be opened so
// ingestion keeps running instead of panicking on a nil buffer.
func NewDiscardWriter() *Writer {
	return &Writer{buf: bufio.NewWriter(discardWriter{})}
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// Write appends one record and its trailing newline.
func (w *Writer) Write(r model.RequestRecord) error {
	line, err := json.Marshal(r)
	if err != nil {
		w.errors.Add(1)
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.buf.Write(line); err != nil {
		w.errors.Add(1)
		return err
	}
	if err := w.buf.WriteByte('\n'); err != nil {
		w.errors.Add(1)
		return err
	}
	w.count.Add(1)
	return nil
}

// WriteBatch writes every record in rs, flushing once at the end.
func (w *Writer) WriteBatch(rs []model.RequestRecord) error {
	for _, r := range rs {
		if err := w.Write(r); err != nil {
			return err
		}
	}
	return w.Flush()
}

// Flush pushes buffered bytes to the underlying file.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Flush()
}

// Close flushes and closes the underlying file, if any.
func (w *Writer) Close() error {
	err := w.Flush()
	if w.file == nil {
		return err
	}
	if closeErr := w.file.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Count reports how many records have been written.
func (w *Writer) Count() int64 { return w.count.Load() }
