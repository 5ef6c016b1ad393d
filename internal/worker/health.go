package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/ai-benchmarks/aiperf/internal/aiperf/model"
	"github.com/ai-benchmarks/aiperf/internal/bus"
)

const (
	// highLoadCPUThreshold and recoveryCPUThreshold give the status
	// derivation hysteresis its two bands, grounded on
	// internal/controlplane/scheduler/registry.go's 90%/80% saturation
	// hysteresis.
	highLoadCPUThreshold = 90.0
	recoveryCPUThreshold = 80.0
	highLoadRecoveryWindow = 15 * time.Second
	errorWindow            = 10 * time.Second
	staleHeartbeatWindow   = 30 * time.Second
)

// healthTracker accumulates the counters behind a Worker's periodic
// WorkerHealth report and its WorkerStatus derivation.
type healthTracker struct {
	inFlight       atomic.Int64
	tasksServiced  atomic.Int64
	mu             sync.Mutex
	recentFailures int
	lastFailureAt  time.Time
	lastHighLoadAt time.Time
	lastHeartbeat  time.Time
	proc           *process.Process
}

func (h *healthTracker) beginTask() { h.inFlight.Add(1) }
func (h *healthTracker) endTask()   { h.inFlight.Add(-1) }
func (h *healthTracker) taskServiced() { h.tasksServiced.Add(1) }

func (h *healthTracker) recordFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.recentFailures++
	h.lastFailureAt = time.Now()
}

// snapshot samples CPU via gopsutil (filling the gap the teacher's
// telemetry.Collector.captureHealth left as a deferred TODO) and derives
// a WorkerStatus from the ERROR > HIGH_LOAD > IDLE > HEALTHY ladder.
// It never reports STALE; DeriveRemoteStatus applies that override on
// the observer's side when the heartbeat itself is late.
func (h *healthTracker) snapshot(ctx context.Context, workerID string) model.WorkerHealth {
	cpuPct := h.sampleCPU(ctx)

	h.mu.Lock()
	now := time.Now()
	// Decay failures once they fall outside the error window so a single
	// past incident does not pin the worker at ERROR forever.
	if now.Sub(h.lastFailureAt) > errorWindow {
		h.recentFailures = 0
	}
	recentFailures := h.recentFailures
	lastFailureAt := h.lastFailureAt
	if cpuPct >= highLoadCPUThreshold {
		h.lastHighLoadAt = now
	}
	wasHighLoadRecently := !h.lastHighLoadAt.IsZero() && now.Sub(h.lastHighLoadAt) < highLoadRecoveryWindow
	h.lastHeartbeat = now
	h.mu.Unlock()

	status := deriveStatus(cpuPct, int(h.inFlight.Load()), recentFailures, wasHighLoadRecently)

	return model.WorkerHealth{
		WorkerID:       workerID,
		Timestamp:      now,
		CPUPercent:     cpuPct,
		InFlight:       int(h.inFlight.Load()),
		TasksServiced:  h.tasksServiced.Load(),
		RecentFailures: recentFailures,
		LastFailureAt:  lastFailureAt,
		Status:         status,
	}
}

// deriveStatus implements the ladder named in §3/§4.4: ERROR dominates
// HIGH_LOAD when a recent failure coincides with an elevated in-flight
// count; else HIGH_LOAD if over threshold or still within the recovery
// window; else IDLE with nothing in flight; else HEALTHY. STALE is
// applied separately by whoever observes a heartbeat gap, not here,
// since staleness is a property of the observer's clock, not the
// worker's own sample.
func deriveStatus(cpuPct float64, inFlight, recentFailures int, wasHighLoadRecently bool) model.WorkerStatus {
	if recentFailures > 0 && inFlight > 0 {
		return model.WorkerError
	}
	if cpuPct >= highLoadCPUThreshold || (wasHighLoadRecently && cpuPct >= recoveryCPUThreshold) {
		return model.WorkerHighLoad
	}
	if inFlight == 0 {
		return model.WorkerIdle
	}
	return model.WorkerHealthy
}

// DeriveRemoteStatus classifies a worker from the controller's point of
// view, applying the STALE override when the last heartbeat is older
// than staleHeartbeatWindow.
func DeriveRemoteStatus(h model.WorkerHealth, now time.Time) model.WorkerStatus {
	if now.Sub(h.Timestamp) > staleHeartbeatWindow {
		return model.WorkerStale
	}
	return h.Status
}

func (h *healthTracker) sampleCPU(ctx context.Context) float64 {
	h.mu.Lock()
	if h.proc == nil {
		if p, err := process.NewProcessWithContext(ctx, int32(currentPID())); err == nil {
			h.proc = p
		}
	}
	proc := h.proc
	h.mu.Unlock()

	if proc != nil {
		if pct, err := proc.PercentWithContext(ctx, 0); err == nil {
			return pct
		}
	}
	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		return pcts[0]
	}
	return 0
}

// healthLoop periodically publishes a WorkerHealth snapshot to the event
// bus, the Worker's half of the heartbeat contract the controller's
// HeartbeatMonitor analogue watches.
func (w *Worker) healthLoop(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := w.health.snapshot(ctx, w.id)
			w.deps.Events.Publish(bus.Message{
				Envelope: bus.NewEnvelope(bus.TypeWorkerHealth, w.id),
				Payload:  snap,
			})
		}
	}
}
