package records

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ai-benchmarks/aiperf/internal/aiperf/model"
)

func TestWriterWritesJSONLAndCounts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}

	if err := w.Write(model.RequestRecord{OpID: "op-1"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Write(model.RequestRecord{OpID: "op-2"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if w.Count() != 2 {
		t.Fatalf("expected Count() == 2, got %d", w.Count())
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open written file: %v", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var lines int
	for scanner.Scan() {
		var rec model.RequestRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			t.Fatalf("unmarshal line: %v", err)
		}
		lines++
	}
	if lines != 2 {
		t.Fatalf("expected 2 lines on disk, got %d", lines)
	}
}

func TestWriteBatchFlushesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.jsonl")
	w, err := NewWriter(path)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	defer w.Close()

	records := []model.RequestRecord{{OpID: "a"}, {OpID: "b"}, {OpID: "c"}}
	if err := w.WriteBatch(records); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}
	if w.Count() != 3 {
		t.Fatalf("expected Count() == 3, got %d", w.Count())
	}
}

func TestDiscardWriterNeverPersistsButCounts(t *testing.T) {
	w := NewDiscardWriter()
	if err := w.Write(model.RequestRecord{OpID: "x"}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if w.Count() != 1 {
		t.Fatalf("expected Count() == 1, got %d", w.Count())
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close on a fileless writer should not error: %v", err)
	}
}
