package records

import "github.com/ai-benchmarks/aiperf/internal/aiperf/model"

// ProfileResults is the final summary of one profiling-phase run, built by
// the Records Manager once the Controller reports CreditsComplete and
// handed to the Exporter alongside the aggregator's per-metric stats.
type ProfileResults struct {
	Records      []model.ParsedResponseRecord `json:"records,omitempty"`
	StartNS      int64                        `json:"start_ns"`
	EndNS        int64                        `json:"end_ns"`
	Completed    int64                        `json:"completed"`
	Errors       int64                        `json:"errors"`
	WasCancelled bool                         `json:"was_cancelled"`
	ErrorsByType map[string]int64             `json:"errors_by_type,omitempty"`
}
