package worker

import "math"

const maxWorkers = 32

// SizingInput carries the parameters the WorkerManager sizing formula
// needs.
type SizingInput struct {
	CPUCount          int
	ConcurrencyTarget int // 0 if the phase is not in concurrency mode
	MinWorkers        int // user-configured floor, 0 if unset
}

// Size computes the worker pool size per §4.4: base = max(1,
// ceil(cpu_count*0.75)-1), capped at 32; in concurrency mode further
// capped at concurrency+1; finally raised to the user-configured floor
// if higher. Corroborated in shape (not formula) by
// original_source/aiperf/workers/worker_manager.py's simpler
// cpu_count-1 baseline.
func Size(in SizingInput) int {
	base := int(math.Ceil(float64(in.CPUCount)*0.75)) - 1
	if base < 1 {
		base = 1
	}
	if base > maxWorkers {
		base = maxWorkers
	}
	if in.ConcurrencyTarget > 0 {
		concurrencyCap := in.ConcurrencyTarget + 1
		if concurrencyCap < base {
			base = concurrencyCap
		}
	}
	if in.MinWorkers > base {
		base = in.MinWorkers
	}
	return base
}
