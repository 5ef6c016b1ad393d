package records

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ai-benchmarks/aiperf/internal/aiperf/model"
)

func fixtureAggregator() *Aggregator {
	a := NewAggregator()
	a.Add(model.ParsedResponseRecord{Phase: model.PhaseProfiling, E2ENS: 100})
	a.Add(model.ParsedResponseRecord{Phase: model.PhaseProfiling, E2ENS: 200})
	return a
}

func fixtureResults() ProfileResults {
	return ProfileResults{
		StartNS:      1000,
		EndNS:        2000,
		Completed:    2,
		Errors:       1,
		WasCancelled: false,
		ErrorsByType: map[string]int64{"timeout": 1},
	}
}

func splitSections(t *testing.T, path string) (metricsRows, systemRows [][]string) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	parts := strings.SplitN(string(data), "\n\n", 2)
	if len(parts) != 2 {
		t.Fatalf("expected a blank-line-separated two-section CSV, got: %q", string(data))
	}
	metricsRows, err = csv.NewReader(strings.NewReader(parts[0])).ReadAll()
	if err != nil {
		t.Fatalf("read metrics section: %v", err)
	}
	systemRows, err = csv.NewReader(strings.NewReader(parts[1])).ReadAll()
	if err != nil {
		t.Fatalf("read system section: %v", err)
	}
	return metricsRows, systemRows
}

func TestExportCSVWritesHeaderAndRows(t *testing.T) {
	e := NewExporter(fixtureAggregator())
	path := filepath.Join(t.TempDir(), "out.csv")
	if err := e.ExportCSV(path, []model.Phase{model.PhaseProfiling}, fixtureResults()); err != nil {
		t.Fatalf("ExportCSV: %v", err)
	}

	metricsRows, systemRows := splitSections(t, path)
	if len(metricsRows) != 2 {
		t.Fatalf("expected header + 1 data row, got %d rows", len(metricsRows))
	}
	if metricsRows[0][0] != "metric" {
		t.Fatalf("unexpected header: %v", metricsRows[0])
	}
	if metricsRows[1][0] != "request_latency" || metricsRows[1][1] != string(model.PhaseProfiling) {
		t.Fatalf("unexpected data row: %v", metricsRows[1])
	}

	if systemRows[0][0] != "metric" || systemRows[0][1] != "value" {
		t.Fatalf("unexpected system header: %v", systemRows[0])
	}
	found := map[string]string{}
	for _, row := range systemRows[1:] {
		found[row[0]] = row[1]
	}
	if found["completed"] != "2" || found["errors"] != "1" || found["was_cancelled"] != "false" {
		t.Fatalf("unexpected system rows: %v", found)
	}
	if found["errors_by_type.timeout"] != "1" {
		t.Fatalf("expected errors_by_type.timeout row, got: %v", found)
	}
}

func TestExportJSONWritesParsableObject(t *testing.T) {
	e := NewExporter(fixtureAggregator())
	path := filepath.Join(t.TempDir(), "out.json")
	configEcho := map[string]any{"concurrency": 4}
	if err := e.ExportJSON(path, []model.Phase{model.PhaseProfiling}, fixtureResults(), configEcho); err != nil {
		t.Fatalf("ExportJSON: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var out jsonExport
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.Metrics) != 1 || out.Metrics[0].Metric != "request_latency" {
		t.Fatalf("unexpected metrics: %+v", out.Metrics)
	}
	if out.Metrics[0].Count != 2 {
		t.Fatalf("expected count 2, got %d", out.Metrics[0].Count)
	}
	if out.Completed != 2 || out.Errors != 1 || out.WasCancelled {
		t.Fatalf("unexpected summary fields: %+v", out)
	}
	if out.StartNS != 1000 || out.EndNS != 2000 {
		t.Fatalf("unexpected timestamps: %+v", out)
	}
	if out.ErrorsByType["timeout"] != 1 {
		t.Fatalf("expected errors_by_type.timeout=1, got %+v", out.ErrorsByType)
	}
	if out.Config == nil {
		t.Fatalf("expected config echo to be present")
	}
}

func TestExportCSVEmptyPhaseProducesHeaderOnly(t *testing.T) {
	e := NewExporter(NewAggregator())
	path := filepath.Join(t.TempDir(), "empty.csv")
	if err := e.ExportCSV(path, []model.Phase{model.PhaseWarmup}, ProfileResults{}); err != nil {
		t.Fatalf("ExportCSV: %v", err)
	}

	metricsRows, _ := splitSections(t, path)
	if len(metricsRows) != 1 {
		t.Fatalf("expected only the header row, got %d", len(metricsRows))
	}
}
