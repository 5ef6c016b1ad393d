package records

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/ai-benchmarks/aiperf/internal/aiperf/model"
)

// reservoirCap bounds per-metric sample retention so memory stays flat
// regardless of run length, the same tradeoff
// internal/transport/sse_decoder.go's eventGapTracker makes for event
// gaps, generalized here to an arbitrary metric name.
const reservoirCap = 100000

// reservoir is a capped, sorted-on-demand sample buffer for one metric,
// grounded on sse_decoder.go's insertionSortInt64/quicksortInt64/
// percentile helpers.
type reservoir struct {
	mu      sync.Mutex
	samples []int64
	flag    model.MetricFlag
}

func newReservoir(flag model.MetricFlag) *reservoir {
	return &reservoir{flag: flag}
}

func (r *reservoir) add(v int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.samples) >= reservoirCap {
		return // drop further samples once capped; counters still track the true totals separately
	}
	r.samples = append(r.samples, v)
}

// Stats is the avg/min/max/percentile summary exported per metric.
type Stats struct {
	Count int64
	Avg   float64
	Min   int64
	Max   int64
	P50   int64
	P90   int64
	P95   int64
	P99   int64
	Std   float64
}

func (r *reservoir) stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.samples)
	if n == 0 {
		return Stats{}
	}
	sorted := make([]int64, n)
	copy(sorted, r.samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum int64
	for _, v := range sorted {
		sum += v
	}
	avg := float64(sum) / float64(n)

	var variance float64
	for _, v := range sorted {
		d := float64(v) - avg
		variance += d * d
	}
	variance /= float64(n)

	return Stats{
		Count: int64(n),
		Avg:   avg,
		Min:   sorted[0],
		Max:   sorted[n-1],
		P50:   percentileOf(sorted, 50),
		P90:   percentileOf(sorted, 90),
		P95:   percentileOf(sorted, 95),
		P99:   percentileOf(sorted, 99),
		Std:   sqrt(variance),
	}
}

func percentileOf(sorted []int64, p int) int64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}
	rank := float64(p) / 100.0 * float64(n-1)
	lower := int(rank)
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}
	weight := rank - float64(lower)
	return int64(float64(sorted[lower])*(1-weight) + float64(sorted[upper])*weight)
}

func sqrt(x float64) float64 {
	if x <= 0 {
		return 0
	}
	// Newton's method; avoids pulling in math solely for this one call
	// site (reservoir.stats), matching the teacher's habit of hand-rolling small numeric helpers in
	// sse_decoder.go rather than over-importing math for single uses.
	z := x
	for i := 0; i < 20; i++ {
		z -= (z*z - x) / (2 * z)
	}
	return z
}

// Aggregator accumulates ParsedResponseRecords into per-phase reservoirs
// and plain atomic counters, excluding EXPERIMENTAL/INTERNAL-flagged
// metrics from export per §4.5.
type Aggregator struct {
	mu          sync.Mutex
	reservoirs  map[model.Phase]map[string]*reservoir
	completed   map[model.Phase]*atomic.Int64
	failed      map[model.Phase]*atomic.Int64
	errorsByType map[model.Phase]map[model.ErrorCategory]int64
	records     map[model.Phase][]model.ParsedResponseRecord
}

// NewAggregator constructs an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		reservoirs:   make(map[model.Phase]map[string]*reservoir),
		completed:    make(map[model.Phase]*atomic.Int64),
		failed:       make(map[model.Phase]*atomic.Int64),
		errorsByType: make(map[model.Phase]map[model.ErrorCategory]int64),
		records:      make(map[model.Phase][]model.ParsedResponseRecord),
	}
}

func (a *Aggregator) phaseReservoirs(phase model.Phase) map[string]*reservoir {
	a.mu.Lock()
	defer a.mu.Unlock()
	m, ok := a.reservoirs[phase]
	if !ok {
		m = make(map[string]*reservoir)
		a.reservoirs[phase] = m
		a.completed[phase] = &atomic.Int64{}
		a.failed[phase] = &atomic.Int64{}
		a.errorsByType[phase] = make(map[model.ErrorCategory]int64)
	}
	return m
}

func (a *Aggregator) metric(phase model.Phase, name string, flag model.MetricFlag) *reservoir {
	m := a.phaseReservoirs(phase)
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := m[name]
	if !ok {
		r = newReservoir(flag)
		m[name] = r
	}
	return r
}

// Add folds one parsed record into the aggregator's running state.
func (a *Aggregator) Add(p model.ParsedResponseRecord) {
	a.phaseReservoirs(p.Phase)
	a.appendRecord(p)
	if p.Failed {
		a.failed[p.Phase].Add(1)
		a.mu.Lock()
		a.errorsByType[p.Phase][p.ErrorCategory]++
		a.mu.Unlock()
		return
	}
	a.completed[p.Phase].Add(1)

	a.metric(p.Phase, "request_latency", model.MetricStable).add(p.E2ENS)
	if p.TTFTNS > 0 {
		a.metric(p.Phase, "time_to_first_token", model.MetricStable).add(p.TTFTNS)
	}
	if p.OutputTokens > 0 {
		a.metric(p.Phase, "output_token_count", model.MetricStable).add(int64(p.OutputTokens))
	}
	if p.InputTokens > 0 {
		a.metric(p.Phase, "input_token_count", model.MetricStable).add(int64(p.InputTokens))
	}
	for _, gap := range p.InterTokenNS {
		a.metric(p.Phase, "inter_token_latency", model.MetricExperimental).add(gap)
	}
}

// appendRecord retains p for ProfileResults.Records, capped at
// reservoirCap for the same flat-memory reason the metric reservoirs
// are capped.
func (a *Aggregator) appendRecord(p model.ParsedResponseRecord) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.records[p.Phase]) >= reservoirCap {
		return
	}
	a.records[p.Phase] = append(a.records[p.Phase], p)
}

// Counts returns the completed/failed totals for phase.
func (a *Aggregator) Counts(phase model.Phase) (completed, failed int64) {
	a.phaseReservoirs(phase)
	return a.completed[phase].Load(), a.failed[phase].Load()
}

// ErrorsByType returns a copy of the per-category failure counts for
// phase, keyed by ErrorCategory string.
func (a *Aggregator) ErrorsByType(phase model.Phase) map[string]int64 {
	a.phaseReservoirs(phase)
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]int64, len(a.errorsByType[phase]))
	for cat, n := range a.errorsByType[phase] {
		out[string(cat)] = n
	}
	return out
}

// Records returns a copy of every ParsedResponseRecord retained for
// phase, in arrival order.
func (a *Aggregator) Records(phase model.Phase) []model.ParsedResponseRecord {
	a.phaseReservoirs(phase)
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]model.ParsedResponseRecord, len(a.records[phase]))
	copy(out, a.records[phase])
	return out
}

// MetricNames returns every stable (export-eligible) metric name
// recorded for phase, sorted for deterministic export ordering.
func (a *Aggregator) MetricNames(phase model.Phase) []string {
	m := a.phaseReservoirs(phase)
	a.mu.Lock()
	defer a.mu.Unlock()
	var names []string
	for name, r := range m {
		if r.flag == model.MetricStable {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Stats returns the percentile/avg summary for one metric of one phase.
func (a *Aggregator) Stats(phase model.Phase, metric string) Stats {
	return a.metric(phase, metric, model.MetricStable).stats()
}
