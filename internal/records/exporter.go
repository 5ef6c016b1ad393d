package records

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"sort"
	"strconv"

	"github.com/ai-benchmarks/aiperf/internal/aiperf/model"
)

// Exporter writes the aggregator's final summary as
// profile_export_aiperf.csv and profile_export_aiperf.json, the two
// persisted artifacts named in §6. CSV uses encoding/csv (RFC 4180
// escaping) rather than a third-party CSV library: no repo in the
// reference pack imports one, so the standard library is the idiomatic
// choice here, not an avoided dependency.
type Exporter struct {
	aggregator *Aggregator
}

// NewExporter builds an Exporter over agg.
func NewExporter(agg *Aggregator) *Exporter {
	return &Exporter{aggregator: agg}
}

var csvColumns = []string{"metric", "phase", "count", "avg", "min", "max", "p50", "p90", "p95", "p99", "std"}

var systemCSVColumns = []string{"metric", "value"}

// ExportCSV writes two sections separated by a blank line, per §6: a
// per-request metrics section with avg/min/max/p50/p90/p95/p99/std
// columns, and a system-level section of single-value profiling-run
// metrics drawn from results.
func (e *Exporter) ExportCSV(path string, phases []model.Phase, results ProfileResults) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(csvColumns); err != nil {
		return err
	}
	for _, phase := range phases {
		for _, metric := range e.aggregator.MetricNames(phase) {
			s := e.aggregator.Stats(phase, metric)
			row := []string{
				metric,
				string(phase),
				strconv.FormatInt(s.Count, 10),
				strconv.FormatFloat(s.Avg, 'f', 4, 64),
				strconv.FormatInt(s.Min, 10),
				strconv.FormatInt(s.Max, 10),
				strconv.FormatInt(s.P50, 10),
				strconv.FormatInt(s.P90, 10),
				strconv.FormatInt(s.P95, 10),
				strconv.FormatInt(s.P99, 10),
				strconv.FormatFloat(s.Std, 'f', 4, 64),
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	if _, err := f.WriteString("\n"); err != nil {
		return err
	}

	sys := csv.NewWriter(f)
	if err := sys.Write(systemCSVColumns); err != nil {
		return err
	}
	for _, row := range systemRows(results) {
		if err := sys.Write(row); err != nil {
			return err
		}
	}
	sys.Flush()
	return sys.Error()
}

// systemRows flattens ProfileResults' single-value fields into
// metric,value CSV rows: the fixed rows in a fixed order, then one
// errors_by_type row per category, sorted by category for deterministic
// output.
func systemRows(results ProfileResults) [][]string {
	rows := [][]string{
		{"start_ns", strconv.FormatInt(results.StartNS, 10)},
		{"end_ns", strconv.FormatInt(results.EndNS, 10)},
		{"duration_ns", strconv.FormatInt(results.EndNS-results.StartNS, 10)},
		{"completed", strconv.FormatInt(results.Completed, 10)},
		{"errors", strconv.FormatInt(results.Errors, 10)},
		{"was_cancelled", strconv.FormatBool(results.WasCancelled)},
	}
	categories := make([]string, 0, len(results.ErrorsByType))
	for cat := range results.ErrorsByType {
		categories = append(categories, cat)
	}
	sort.Strings(categories)
	for _, cat := range categories {
		rows = append(rows, []string{"errors_by_type." + cat, strconv.FormatInt(results.ErrorsByType[cat], 10)})
	}
	return rows
}

// jsonMetric mirrors one CSV row for the JSON export.
type jsonMetric struct {
	Metric string  `json:"metric"`
	Phase  string  `json:"phase"`
	Count  int64   `json:"count"`
	Avg    float64 `json:"avg"`
	Min    int64   `json:"min"`
	Max    int64   `json:"max"`
	P50    int64   `json:"p50"`
	P90    int64   `json:"p90"`
	P95    int64   `json:"p95"`
	P99    int64   `json:"p99"`
	Std    float64 `json:"std"`
}

// jsonExport is the document profile_export_aiperf.json holds: the
// per-metric percentile rows alongside the input-config echo and the
// wall-clock/error/cancellation summary §6 requires.
type jsonExport struct {
	Config       any              `json:"config,omitempty"`
	Metrics      []jsonMetric     `json:"metrics"`
	StartNS      int64            `json:"start_ns"`
	EndNS        int64            `json:"end_ns"`
	Completed    int64            `json:"completed"`
	Errors       int64            `json:"errors"`
	WasCancelled bool             `json:"was_cancelled"`
	ErrorsByType map[string]int64 `json:"errors_by_type,omitempty"`
}

// ExportJSON writes the same per-metric rows as ExportCSV's first
// section, wrapped with the config echo and ProfileResults summary §6
// requires. It deliberately omits results.Records: the file is a summary
// artifact, not a raw-record dump (raw_records/ already holds those).
func (e *Exporter) ExportJSON(path string, phases []model.Phase, results ProfileResults, configEcho any) error {
	var metrics []jsonMetric
	for _, phase := range phases {
		for _, metric := range e.aggregator.MetricNames(phase) {
			s := e.aggregator.Stats(phase, metric)
			metrics = append(metrics, jsonMetric{
				Metric: metric, Phase: string(phase), Count: s.Count, Avg: s.Avg,
				Min: s.Min, Max: s.Max, P50: s.P50, P90: s.P90, P95: s.P95, P99: s.P99, Std: s.Std,
			})
		}
	}
	out := jsonExport{
		Config:       configEcho,
		Metrics:      metrics,
		StartNS:      results.StartNS,
		EndNS:        results.EndNS,
		Completed:    results.Completed,
		Errors:       results.Errors,
		WasCancelled: results.WasCancelled,
		ErrorsByType: results.ErrorsByType,
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
